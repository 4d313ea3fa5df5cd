// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package github

import (
	"context"
)

// Client is the set of remote operations needed to manage team access in an
// organization. Each method maps to exactly one GitHub endpoint (list
// operations may span several pages).
//
// Write operations have upsert or delete semantics on the GitHub side, except
// AddTeam, which fails when a team with the same name already exists.
type Client interface {
	// ListTeams lists the teams of an organization.
	ListTeams(ctx context.Context, org string) ([]Team, error)

	// ListMemberships lists the members of an organization.
	ListMemberships(ctx context.Context, org string) ([]User, error)

	// ListTeamMemberships lists the members of a team.
	ListTeamMemberships(ctx context.Context, org, teamSlug string) ([]User, error)

	// ListTeamRepositories lists the repositories a team has access to.
	ListTeamRepositories(ctx context.Context, org, teamSlug string) ([]Repository, error)

	// GetTeamMembership returns a user's membership (and role) in a team.
	GetTeamMembership(ctx context.Context, org, teamSlug, username string) (*Membership, error)

	// AddTeam creates a team.
	AddTeam(ctx context.Context, org string, team NewTeam) (*Team, error)

	// AddTeamRepositoryPermissions sets the team's permission on owner/repo.
	AddTeamRepositoryPermissions(ctx context.Context, org, teamSlug, repo, owner, permission string) error

	// AddTeamMembership adds a user to a team or updates their role.
	AddTeamMembership(ctx context.Context, org, teamSlug, username, role string) (*Membership, error)

	// RemoveTeamMembership removes a user from a team.
	RemoveTeamMembership(ctx context.Context, org, teamSlug, username string) error

	// RemoveTeam deletes a team.
	RemoveTeam(ctx context.Context, org, teamSlug string) error
}
