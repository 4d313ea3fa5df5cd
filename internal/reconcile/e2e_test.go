// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package reconcile

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/andrewkroh/access-manager/internal/github"
	"github.com/andrewkroh/access-manager/internal/githubtest"
	"github.com/andrewkroh/access-manager/internal/manifest"
	"github.com/andrewkroh/access-manager/internal/rest"
)

const testToken = "e2e-token"

func newEngine(t *testing.T, srv *githubtest.Server) *Engine {
	t.Helper()
	client := github.NewHTTPClient(testToken,
		github.WithBaseURL(srv.URL),
		github.WithLogger(discardLogger()),
		github.WithRESTOptions(rest.WithTimeout(5*time.Second)),
	)
	return New(client, discardLogger(), Options{})
}

func parse(t *testing.T, doc string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parsing manifest: %v", err)
	}
	return m
}

func TestEndToEnd_CreateTeam(t *testing.T) {
	srv := githubtest.NewServer(testToken)
	defer srv.Close()
	srv.AddOrg("org1", "userB")

	m := parse(t, `
organizations:
  - name: org1
    teams:
      - name: test-team-one
        repos:
          - {name: repoA, owner: org1, permission: maintain}
        members:
          - {login: userB, role: member}
`)

	engine := newEngine(t, srv)
	summary, err := engine.Apply(context.Background(), m)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if summary.TeamsCreated != 1 || summary.GrantsApplied != 1 || summary.MembersAdded != 1 {
		t.Errorf("summary: got %+v", *summary)
	}

	if names := srv.TeamNames("org1"); len(names) != 1 || names[0] != "test-team-one" {
		t.Fatalf("teams: got %v, want [test-team-one]", names)
	}
	if perm, ok := srv.TeamRepoPermission("org1", "test-team-one", "org1", "repoA"); !ok || perm != "maintain" {
		t.Errorf("repoA permission: got %q (present=%v), want maintain", perm, ok)
	}
	if role, ok := srv.TeamMemberRole("org1", "test-team-one", "userB"); !ok || role != "member" {
		t.Errorf("userB role: got %q (present=%v), want member", role, ok)
	}

	// A second run converges without creating anything.
	summary, err = engine.Apply(context.Background(), m)
	if err != nil {
		t.Fatalf("second Apply returned error: %v", err)
	}
	if summary.TeamsCreated != 0 || summary.TeamsExisting != 1 {
		t.Errorf("second summary: got %+v", *summary)
	}
	if n := srv.CountRequests(http.MethodPost, "/orgs/org1/teams"); n != 1 {
		t.Errorf("expected one team creation request, got %d", n)
	}
	if names := srv.TeamNames("org1"); len(names) != 1 {
		t.Errorf("teams after second run: got %v", names)
	}
	if perm, _ := srv.TeamRepoPermission("org1", "test-team-one", "org1", "repoA"); perm != "maintain" {
		t.Errorf("repoA permission after second run: got %q", perm)
	}
}

func TestEndToEnd_RemoveMembers(t *testing.T) {
	srv := githubtest.NewServer(testToken)
	defer srv.Close()
	srv.AddOrg("org1", "userA", "userB")
	one := srv.AddTeam("org1", "test-team-one")
	two := srv.AddTeam("org1", "test-team-two")
	srv.AddTeamMember("org1", one, "userB", "member")
	srv.AddTeamMember("org1", two, "userA", "member")

	m := parse(t, `
organizations:
  - name: org1
    teams:
      - name: test-team-one
        members:
          - {login: userB, remove: true}
          - {login: userA}
      - name: test-team-two
        members:
          - {login: userA, remove: true}
          - {login: userB}
`)

	summary, err := newEngine(t, srv).Apply(context.Background(), m)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if summary.TeamsCreated != 0 || summary.MembersRemoved != 2 || summary.MembersAdded != 2 {
		t.Errorf("summary: got %+v", *summary)
	}

	if _, ok := srv.TeamMemberRole("org1", one, "userB"); ok {
		t.Error("userB should have been removed from test-team-one")
	}
	if _, ok := srv.TeamMemberRole("org1", one, "userA"); !ok {
		t.Error("userA should be a member of test-team-one")
	}
	if _, ok := srv.TeamMemberRole("org1", two, "userA"); ok {
		t.Error("userA should have been removed from test-team-two")
	}
	if _, ok := srv.TeamMemberRole("org1", two, "userB"); !ok {
		t.Error("userB should be a member of test-team-two")
	}
}

func TestEndToEnd_MembershipUpsert(t *testing.T) {
	srv := githubtest.NewServer(testToken)
	defer srv.Close()
	srv.AddOrg("org1")
	engine := newEngine(t, srv)

	apply := func(role string) {
		t.Helper()
		m := &manifest.Manifest{Organizations: []manifest.Organization{{
			Name: "org1",
			Teams: []manifest.Team{{
				Name:    "core",
				Members: []manifest.Member{{Login: "alice", Role: role}},
			}},
		}}}
		if _, err := engine.Apply(context.Background(), m); err != nil {
			t.Fatalf("Apply returned error: %v", err)
		}
	}
	apply("member")
	apply("maintainer")
	apply("maintainer")

	if role, _ := srv.TeamMemberRole("org1", "core", "alice"); role != "maintainer" {
		t.Errorf("alice role: got %q, want maintainer", role)
	}
}

func TestEndToEnd_RepoGrantIdempotent(t *testing.T) {
	srv := githubtest.NewServer(testToken)
	defer srv.Close()
	srv.AddOrg("org1")
	slug := srv.AddTeam("org1", "core")

	m := parse(t, `
organizations:
  - name: org1
    teams:
      - name: core
        repos:
          - {name: r, owner: org1, permission: push}
`)
	engine := newEngine(t, srv)
	for range 2 {
		if _, err := engine.Apply(context.Background(), m); err != nil {
			t.Fatalf("Apply returned error: %v", err)
		}
	}
	if perm, _ := srv.TeamRepoPermission("org1", slug, "org1", "r"); perm != "push" {
		t.Errorf("permission: got %q, want push", perm)
	}
}
