// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const exampleManifest = `
organizations:
  - name: my-org
    teams:
      - name: Core Team
        repos:
          - name: widgets
            owner: my-org
            permission: maintain
          - name: gadgets
            owner: my-org
        members:
          - login: alice
            role: maintainer
          - login: bob
          - login: carol
            remove: true
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(exampleManifest))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(m.Organizations) != 1 || m.Organizations[0].Name != "my-org" {
		t.Fatalf("unexpected organizations: %+v", m.Organizations)
	}
	team := m.Organizations[0].Teams[0]
	if team.Name != "Core Team" || team.Remove {
		t.Errorf("unexpected team: %+v", team)
	}

	if got := team.Repos[0].Permission; got != "maintain" {
		t.Errorf("repos[0].permission: got %q, want maintain", got)
	}
	if got := team.Repos[1].Permission; got != DefaultPermission {
		t.Errorf("repos[1].permission: got %q, want default %q", got, DefaultPermission)
	}

	wantMembers := []Member{
		{Login: "alice", Role: "maintainer"},
		{Login: "bob", Role: DefaultRole},
		{Login: "carol", Role: DefaultRole, Remove: true},
	}
	if len(team.Members) != len(wantMembers) {
		t.Fatalf("members: got %d, want %d", len(team.Members), len(wantMembers))
	}
	for i, want := range wantMembers {
		if team.Members[i] != want {
			t.Errorf("members[%d]: got %+v, want %+v", i, team.Members[i], want)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	m, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(m.Organizations) != 0 {
		t.Errorf("expected no organizations, got %d", len(m.Organizations))
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte(`
organizations:
  - name: my-org
    teams:
      - name: core
        maintainers: [alice]
`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got: %v", err)
	}
	if !strings.Contains(err.Error(), "maintainers") {
		t.Errorf("error %q should name the unknown field", err)
	}
}

func TestParse_Syntax(t *testing.T) {
	_, err := Parse([]byte("organizations: [\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string // Substrings expected in the problems, in order.
	}{
		{
			name: "missing names",
			doc: `
organizations:
  - teams:
      - repos: [{permission: push}]
        members: [{role: member}]
`,
			want: []string{
				"organizations[0].name: required",
				"organizations[0].teams[0].name: required",
				"organizations[0].teams[0].repos[0].name: required",
				"organizations[0].teams[0].repos[0].owner: required",
				"organizations[0].teams[0].members[0].login: required",
			},
		},
		{
			name: "duplicate organization",
			doc: `
organizations:
  - name: a
  - name: a
`,
			want: []string{`organizations[1].name: duplicate organization "a"`},
		},
		{
			name: "duplicate team ignores case",
			doc: `
organizations:
  - name: a
    teams:
      - name: Core
      - name: core
`,
			want: []string{`organizations[0].teams[1].name: duplicate team "core"`},
		},
		{
			name: "duplicate member",
			doc: `
organizations:
  - name: a
    teams:
      - name: core
        members:
          - login: alice
          - login: alice
            remove: true
`,
			want: []string{`organizations[0].teams[0].members[1].login: duplicate member "alice"`},
		},
		{
			name: "bad enums",
			doc: `
organizations:
  - name: a
    teams:
      - name: core
        repos: [{name: r, owner: o, permission: write}]
        members: [{login: alice, role: owner}]
`,
			want: []string{
				`repos[0].permission: "write" is not one of`,
				`members[0].role: "owner" is not one of`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got: %v", err)
			}
			if len(verr.Problems) != len(tt.want) {
				t.Fatalf("problems: got %d %q, want %d", len(verr.Problems), verr.Problems, len(tt.want))
			}
			for i, want := range tt.want {
				if !strings.Contains(verr.Problems[i], want) {
					t.Errorf("problems[%d] = %q, want it to contain %q", i, verr.Problems[i], want)
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.yml")
	if err := os.WriteFile(path, []byte(exampleManifest), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := len(m.Organizations[0].Teams[0].Members); got != 3 {
		t.Errorf("members: got %d, want 3", got)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got: %v", err)
	}
}
