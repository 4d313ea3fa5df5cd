// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package manifest defines the declarative access manifest: organizations,
// their teams, the repository permissions granted to each team and the team
// members.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values applied to fields left empty in the document.
const (
	DefaultRole       = "member"
	DefaultPermission = "pull"
)

// ErrInvalid is matched by every error returned for a malformed manifest.
var ErrInvalid = errors.New("invalid manifest")

var (
	validRoles       = []string{"member", "maintainer"}
	validPermissions = []string{"pull", "triage", "push", "maintain", "admin"}
)

// Manifest is the desired access topology.
type Manifest struct {
	Organizations []Organization `yaml:"organizations" json:"organizations"`
}

// Organization lists the teams managed in one GitHub organization.
type Organization struct {
	Name  string `yaml:"name" json:"name"`
	Teams []Team `yaml:"teams" json:"teams"`
}

// Team is a team and the access it should have.
type Team struct {
	Name string `yaml:"name" json:"name"`

	// Remove is reserved. Teams are never deleted by the engine.
	Remove bool `yaml:"remove" json:"remove"`

	Repos   []RepoGrant `yaml:"repos" json:"repos"`
	Members []Member    `yaml:"members" json:"members"`
}

// Member is a user's desired membership in a team.
type Member struct {
	Login  string `yaml:"login" json:"login"`
	Role   string `yaml:"role" json:"role"`
	Remove bool   `yaml:"remove" json:"remove"`
}

// RepoGrant is the permission a team should hold on owner/name.
type RepoGrant struct {
	Name       string `yaml:"name" json:"name"`
	Owner      string `yaml:"owner" json:"owner"`
	Permission string `yaml:"permission" json:"permission"`
}

// ValidationError lists every problem found in a manifest.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid manifest: " + strings.Join(e.Problems, "; ")
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML manifest, applies defaults and validates it. Unknown
// fields are rejected. An empty document is a manifest with no organizations.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Problems: typeErr.Errors}
		}
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ApplyDefaults fills in the default member role and repository permission.
func (m *Manifest) ApplyDefaults() {
	for i := range m.Organizations {
		org := &m.Organizations[i]
		for j := range org.Teams {
			team := &org.Teams[j]
			for k := range team.Repos {
				if team.Repos[k].Permission == "" {
					team.Repos[k].Permission = DefaultPermission
				}
			}
			for k := range team.Members {
				if team.Members[k].Role == "" {
					team.Members[k].Role = DefaultRole
				}
			}
		}
	}
}

// Validate checks required fields, enumerated values and uniqueness. It
// returns a *ValidationError describing all problems, or nil.
func (m *Manifest) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	orgs := map[string]int{}
	for i, org := range m.Organizations {
		p := fmt.Sprintf("organizations[%d]", i)
		if org.Name == "" {
			add("%s.name: required", p)
		} else if prev, ok := orgs[org.Name]; ok {
			add("%s.name: duplicate organization %q (also organizations[%d])", p, org.Name, prev)
		} else {
			orgs[org.Name] = i
		}

		// GitHub team names are case-insensitive.
		teams := map[string]int{}
		for j, team := range org.Teams {
			tp := fmt.Sprintf("%s.teams[%d]", p, j)
			key := strings.ToLower(team.Name)
			if team.Name == "" {
				add("%s.name: required", tp)
			} else if prev, ok := teams[key]; ok {
				add("%s.name: duplicate team %q (also %s.teams[%d])", tp, team.Name, p, prev)
			} else {
				teams[key] = j
			}

			for k, repo := range team.Repos {
				rp := fmt.Sprintf("%s.repos[%d]", tp, k)
				if repo.Name == "" {
					add("%s.name: required", rp)
				}
				if repo.Owner == "" {
					add("%s.owner: required", rp)
				}
				if repo.Permission != "" && !slices.Contains(validPermissions, repo.Permission) {
					add("%s.permission: %q is not one of %s", rp, repo.Permission, strings.Join(validPermissions, ", "))
				}
			}

			logins := map[string]int{}
			for k, member := range team.Members {
				mp := fmt.Sprintf("%s.members[%d]", tp, k)
				if member.Login == "" {
					add("%s.login: required", mp)
				} else if prev, ok := logins[strings.ToLower(member.Login)]; ok {
					add("%s.login: duplicate member %q (also %s.members[%d])", mp, member.Login, tp, prev)
				} else {
					logins[strings.ToLower(member.Login)] = k
				}
				if member.Role != "" && !slices.Contains(validRoles, member.Role) {
					add("%s.role: %q is not one of %s", mp, member.Role, strings.Join(validRoles, ", "))
				}
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
