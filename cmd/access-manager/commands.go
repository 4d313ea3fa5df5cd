// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/andrewkroh/access-manager/internal/github"
	"github.com/andrewkroh/access-manager/internal/manifest"
	"github.com/andrewkroh/access-manager/internal/reconcile"
)

// ghCommand describes one "gh" subcommand. run returns the value printed as
// JSON on stdout; operations without a result return an empty object.
type ghCommand struct {
	use   string
	short string
	args  int
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, gh github.Client, fs *pflag.FlagSet, args []string) (any, error)
}

// done is printed by operations that have no result.
var done = struct{}{}

// ghCommands is the table of "gh" subcommands.
var ghCommands = []ghCommand{
	{
		use:   "list-teams <org>",
		short: "List the teams of an organization",
		args:  1,
		run: func(ctx context.Context, gh github.Client, _ *pflag.FlagSet, args []string) (any, error) {
			return gh.ListTeams(ctx, args[0])
		},
	},
	{
		use:   "list-memberships <org>",
		short: "List the members of an organization",
		args:  1,
		run: func(ctx context.Context, gh github.Client, _ *pflag.FlagSet, args []string) (any, error) {
			return gh.ListMemberships(ctx, args[0])
		},
	},
	{
		use:   "list-team-memberships <org> <team-slug>",
		short: "List the members of a team",
		args:  2,
		run: func(ctx context.Context, gh github.Client, _ *pflag.FlagSet, args []string) (any, error) {
			return gh.ListTeamMemberships(ctx, args[0], args[1])
		},
	},
	{
		use:   "list-team-repositories <org> <team-slug>",
		short: "List the repositories a team has access to",
		args:  2,
		run: func(ctx context.Context, gh github.Client, _ *pflag.FlagSet, args []string) (any, error) {
			return gh.ListTeamRepositories(ctx, args[0], args[1])
		},
	},
	{
		use:   "get-team-membership <org> <team-slug> <username>",
		short: "Show a user's membership in a team",
		args:  3,
		run: func(ctx context.Context, gh github.Client, _ *pflag.FlagSet, args []string) (any, error) {
			return gh.GetTeamMembership(ctx, args[0], args[1], args[2])
		},
	},
	{
		use:   "add-team <org> <name>",
		short: "Create a team",
		args:  2,
		flags: func(fs *pflag.FlagSet) {
			fs.String("description", "", "team description")
			fs.String("privacy", github.PrivacyClosed, "team privacy: secret or closed")
			fs.StringSlice("repo-names", nil, "repositories to add the team to, as owner/repo")
		},
		run: func(ctx context.Context, gh github.Client, fs *pflag.FlagSet, args []string) (any, error) {
			description, _ := fs.GetString("description")
			privacy, _ := fs.GetString("privacy")
			repoNames, _ := fs.GetStringSlice("repo-names")
			return gh.AddTeam(ctx, args[0], github.NewTeam{
				Name:        args[1],
				Description: description,
				Privacy:     privacy,
				RepoNames:   repoNames,
			})
		},
	},
	{
		use:   "add-team-repository-permissions <org> <team-slug> <repo> <owner>",
		short: "Grant a team a permission on a repository",
		args:  4,
		flags: func(fs *pflag.FlagSet) {
			fs.String("permission", github.PermissionPull, "permission: pull, triage, push, maintain or admin")
		},
		run: func(ctx context.Context, gh github.Client, fs *pflag.FlagSet, args []string) (any, error) {
			permission, _ := fs.GetString("permission")
			return done, gh.AddTeamRepositoryPermissions(ctx, args[0], args[1], args[2], args[3], permission)
		},
	},
	{
		use:   "add-team-membership <org> <team-slug> <username>",
		short: "Add a user to a team or change their role",
		args:  3,
		flags: func(fs *pflag.FlagSet) {
			fs.String("role", github.RoleMember, "role: member or maintainer")
		},
		run: func(ctx context.Context, gh github.Client, fs *pflag.FlagSet, args []string) (any, error) {
			role, _ := fs.GetString("role")
			return gh.AddTeamMembership(ctx, args[0], args[1], args[2], role)
		},
	},
	{
		use:   "remove-team-membership <org> <team-slug> <username>",
		short: "Remove a user from a team",
		args:  3,
		run: func(ctx context.Context, gh github.Client, _ *pflag.FlagSet, args []string) (any, error) {
			return done, gh.RemoveTeamMembership(ctx, args[0], args[1], args[2])
		},
	},
	{
		use:   "remove-team <org> <team-slug>",
		short: "Delete a team",
		args:  2,
		run: func(ctx context.Context, gh github.Client, _ *pflag.FlagSet, args []string) (any, error) {
			return done, gh.RemoveTeam(ctx, args[0], args[1])
		},
	},
}

func (a *app) newGHCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gh",
		Short: "Run GitHub team operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	for _, c := range ghCommands {
		cmd.AddCommand(a.newGHSubcommand(c))
	}
	cmd.AddCommand(a.newApplyManifestCmd())
	return cmd
}

func (a *app) newGHSubcommand(c ghCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   c.use,
		Short: c.short,
		Args:  cobra.ExactArgs(c.args),
		RunE: func(cmd *cobra.Command, args []string) error {
			gh, err := a.newClient()
			if err != nil {
				return err
			}
			result, err := c.run(cmd.Context(), gh, cmd.Flags(), args)
			if err != nil {
				return err
			}
			return a.printJSON(result)
		},
	}
	if c.flags != nil {
		c.flags(cmd.Flags())
	}
	return cmd
}

func (a *app) newApplyManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-manifest <path>",
		Short: "Apply an access manifest",
		Long: `Apply the teams, repository permissions and memberships described by the
manifest. Teams are created when missing, permissions are set, and members are
added or removed as listed. The manifest is validated before any change is
made.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			gh, err := a.newClient()
			if err != nil {
				return err
			}

			engine := reconcile.New(gh, a.log, reconcile.Options{
				ContinueOnExhausted: a.cfg.ContinueOnExhausted(),
			})
			summary, applyErr := engine.Apply(cmd.Context(), m)
			if err := a.printJSON(summary); err != nil {
				return err
			}
			return applyErr
		},
	}
}
