// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package github provides types and a client for the GitHub organization,
// team, membership and team repository endpoints.
package github

// Team roles accepted by the team membership endpoints.
const (
	RoleMember     = "member"
	RoleMaintainer = "maintainer"
)

// Team repository permissions, in increasing order of privilege.
const (
	PermissionPull     = "pull"
	PermissionTriage   = "triage"
	PermissionPush     = "push"
	PermissionMaintain = "maintain"
	PermissionAdmin    = "admin"
)

// Team privacy levels.
const (
	PrivacySecret = "secret"
	PrivacyClosed = "closed"
)

// User represents a GitHub account as listed by the members endpoints.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id,omitempty"`
}

// Team represents a GitHub team. The Slug is assigned by GitHub and is the
// identifier used by all team-scoped endpoints.
type Team struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Privacy     string `json:"privacy,omitempty"`
	ReposCount  int    `json:"repos_count,omitempty"`
}

// NewTeam holds the parameters for creating a team.
type NewTeam struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Privacy     string   `json:"privacy"`
	RepoNames   []string `json:"repo_names,omitempty"` // In "owner/repo" form.
}

// Membership represents a user's membership in a team.
type Membership struct {
	Role  string `json:"role"`
	State string `json:"state,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Repository represents a repository as listed for a team.
type Repository struct {
	ID          int64        `json:"id,omitempty"`
	Name        string       `json:"name"`
	FullName    string       `json:"full_name,omitempty"`
	Owner       User         `json:"owner"`
	Permissions *Permissions `json:"permissions,omitempty"`
	RoleName    string       `json:"role_name,omitempty"`
}

// Permissions reports which permission levels a team holds on a repository.
// Higher levels imply the lower ones.
type Permissions struct {
	Pull     bool `json:"pull"`
	Triage   bool `json:"triage"`
	Push     bool `json:"push"`
	Maintain bool `json:"maintain"`
	Admin    bool `json:"admin"`
}

// Highest returns the most privileged permission that is set, or "" if none.
func (p *Permissions) Highest() string {
	switch {
	case p == nil:
		return ""
	case p.Admin:
		return PermissionAdmin
	case p.Maintain:
		return PermissionMaintain
	case p.Push:
		return PermissionPush
	case p.Triage:
		return PermissionTriage
	case p.Pull:
		return PermissionPull
	default:
		return ""
	}
}
