// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package reconcile converges the teams, team repository permissions and team
// memberships of GitHub organizations toward a manifest.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewkroh/access-manager/internal/github"
	"github.com/andrewkroh/access-manager/internal/manifest"
	"github.com/andrewkroh/access-manager/internal/rest"
)

// ErrTeamUnresolved is returned when a team neither exists nor could be
// created, so no slug is known for it.
var ErrTeamUnresolved = errors.New("team could not be resolved to a slug")

// Operation names used in logs and as the "operation" metric attribute.
const (
	opListTeams            = "list_teams"
	opAddTeam              = "add_team"
	opAddRepoPermission    = "add_team_repository_permissions"
	opAddTeamMembership    = "add_team_membership"
	opRemoveTeamMembership = "remove_team_membership"
)

// Operation results used as the "result" metric attribute.
const (
	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

// Options controls how the engine reacts to failures.
type Options struct {
	// ContinueOnExhausted makes the engine log and skip an operation whose
	// request timed out on every attempt, instead of aborting the run.
	ContinueOnExhausted bool
}

// Summary counts what an Apply did. It is returned even when Apply fails,
// and then reflects the progress made before the failure.
type Summary struct {
	Organizations  int `json:"organizations"`
	TeamsCreated   int `json:"teams_created"`
	TeamsExisting  int `json:"teams_existing"`
	GrantsApplied  int `json:"grants_applied"`
	MembersAdded   int `json:"members_added"`
	MembersRemoved int `json:"members_removed"`
	Skipped        int `json:"skipped"`
}

// Engine applies manifests through a github.Client.
type Engine struct {
	github github.Client
	log    *slog.Logger
	opts   Options

	tracer     trace.Tracer
	operations metric.Int64Counter
}

// New creates an Engine.
func New(client github.Client, log *slog.Logger, opts Options) *Engine {
	tracer := otel.Tracer("github.com/andrewkroh/access-manager/internal/reconcile")
	meter := otel.Meter("github.com/andrewkroh/access-manager/internal/reconcile")

	operations, _ := meter.Int64Counter("access_manager.reconcile.operations",
		metric.WithDescription("Number of remote operations issued while reconciling"),
	)

	return &Engine{
		github:     client,
		log:        log,
		opts:       opts,
		tracer:     tracer,
		operations: operations,
	}
}

// Apply reconciles every organization in m, in order. For each organization
// it lists the existing teams once, creates the teams that are missing, then
// for each team applies its repository grants followed by its member
// additions and removals.
//
// Remote resources not mentioned in m are left alone. The first error aborts
// the run; operations already applied are not rolled back.
func (e *Engine) Apply(ctx context.Context, m *manifest.Manifest) (*Summary, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.apply")
	defer span.End()

	summary := &Summary{}
	for _, org := range m.Organizations {
		if err := e.applyOrganization(ctx, org, summary); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.setSummaryAttributes(span, summary)

			e.log.ErrorContext(ctx, "Reconciliation aborted",
				slog.String("org", org.Name),
				slog.String("error", err.Error()),
			)
			return summary, err
		}
	}

	e.setSummaryAttributes(span, summary)
	e.log.InfoContext(ctx, "Reconciliation completed",
		slog.Int("organizations", summary.Organizations),
		slog.Int("teams_created", summary.TeamsCreated),
		slog.Int("teams_existing", summary.TeamsExisting),
		slog.Int("grants_applied", summary.GrantsApplied),
		slog.Int("members_added", summary.MembersAdded),
		slog.Int("members_removed", summary.MembersRemoved),
		slog.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (e *Engine) applyOrganization(ctx context.Context, org manifest.Organization, summary *Summary) error {
	ctx, span := e.tracer.Start(ctx, "reconcile.organization",
		trace.WithAttributes(attribute.String("github.org", org.Name)),
	)
	defer span.End()

	summary.Organizations++

	var remote []github.Team
	ok, err := e.step(ctx, opListTeams, summary, func(ctx context.Context) error {
		var err error
		remote, err = e.github.ListTeams(ctx, org.Name)
		return err
	}, slog.String("org", org.Name))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("listing teams of %s: %w", org.Name, err)
	}
	if !ok {
		// Without the index, creating teams could duplicate existing ones.
		return nil
	}

	index := newTeamIndex(remote)
	for _, team := range org.Teams {
		if err := e.applyTeam(ctx, org.Name, team, index, summary); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

func (e *Engine) applyTeam(ctx context.Context, org string, team manifest.Team, index teamIndex, summary *Summary) error {
	if team.Remove {
		e.log.WarnContext(ctx, "Team removal is not implemented, ignoring remove flag",
			slog.String("org", org),
			slog.String("team", team.Name),
		)
	}

	slug, ok, err := e.resolveTeam(ctx, org, team.Name, index, summary)
	if err != nil {
		return err
	}
	if !ok {
		e.log.WarnContext(ctx, "Skipping team repositories and members",
			slog.String("org", org),
			slog.String("team", team.Name),
		)
		return nil
	}

	for _, repo := range team.Repos {
		ok, err := e.step(ctx, opAddRepoPermission, summary, func(ctx context.Context) error {
			return e.github.AddTeamRepositoryPermissions(ctx, org, slug, repo.Name, repo.Owner, repo.Permission)
		}, slog.String("org", org), slog.String("team_slug", slug), slog.String("repo", repo.Owner+"/"+repo.Name))
		if err != nil {
			return fmt.Errorf("granting %s on %s/%s to %s: %w", repo.Permission, repo.Owner, repo.Name, slug, err)
		}
		if ok {
			summary.GrantsApplied++
		}
	}

	// A login marked for removal is never added, even if it is also listed
	// as a regular member.
	removed := make(map[string]bool)
	for _, member := range team.Members {
		if member.Remove {
			removed[strings.ToLower(member.Login)] = true
		}
	}

	for _, member := range team.Members {
		attrs := []slog.Attr{slog.String("org", org), slog.String("team_slug", slug), slog.String("username", member.Login)}

		if member.Remove {
			ok, err := e.step(ctx, opRemoveTeamMembership, summary, func(ctx context.Context) error {
				return e.github.RemoveTeamMembership(ctx, org, slug, member.Login)
			}, attrs...)
			if err != nil {
				return fmt.Errorf("removing %s from %s: %w", member.Login, slug, err)
			}
			if ok {
				summary.MembersRemoved++
			}
			continue
		}

		if removed[strings.ToLower(member.Login)] {
			e.log.WarnContext(ctx, "Member is marked for removal, not adding", attrsToAny(attrs)...)
			continue
		}

		ok, err := e.step(ctx, opAddTeamMembership, summary, func(ctx context.Context) error {
			_, err := e.github.AddTeamMembership(ctx, org, slug, member.Login, member.Role)
			return err
		}, attrs...)
		if err != nil {
			return fmt.Errorf("adding %s to %s: %w", member.Login, slug, err)
		}
		if ok {
			summary.MembersAdded++
		}
	}
	return nil
}

// resolveTeam returns the slug for name, creating the team when the index
// does not know it. It returns ok=false when the creation was skipped.
func (e *Engine) resolveTeam(ctx context.Context, org, name string, index teamIndex, summary *Summary) (slug string, ok bool, err error) {
	if existing, found := index.lookup(name); found {
		summary.TeamsExisting++
		e.log.DebugContext(ctx, "Team exists",
			slog.String("org", org),
			slog.String("team", name),
			slog.String("team_slug", existing.Slug),
		)
		if existing.Slug == "" {
			return "", false, fmt.Errorf("%w: %s/%s", ErrTeamUnresolved, org, name)
		}
		return existing.Slug, true, nil
	}

	var created *github.Team
	ok, err = e.step(ctx, opAddTeam, summary, func(ctx context.Context) error {
		var err error
		created, err = e.github.AddTeam(ctx, org, github.NewTeam{Name: name})
		return err
	}, slog.String("org", org), slog.String("team", name))
	if err != nil {
		return "", false, fmt.Errorf("creating team %s/%s: %w", org, name, err)
	}
	if !ok {
		return "", false, nil
	}
	if created == nil || created.Slug == "" {
		return "", false, fmt.Errorf("%w: %s/%s", ErrTeamUnresolved, org, name)
	}

	index.add(name, *created)
	summary.TeamsCreated++
	return created.Slug, true, nil
}

// step runs one remote operation and records its outcome. It returns
// ok=false with a nil error when the operation exhausted its retries and the
// engine is configured to continue.
func (e *Engine) step(ctx context.Context, op string, summary *Summary, fn func(context.Context) error, attrs ...slog.Attr) (ok bool, err error) {
	err = fn(ctx)
	switch {
	case err == nil:
		e.record(ctx, op, resultSuccess)
		return true, nil
	case e.opts.ContinueOnExhausted && errors.Is(err, rest.ErrRetriesExhausted):
		e.record(ctx, op, resultSkipped)
		summary.Skipped++
		attrs = append(attrs, slog.String("operation", op), slog.String("error", err.Error()))
		e.log.WarnContext(ctx, "Operation skipped, retries exhausted", attrsToAny(attrs)...)
		return false, nil
	default:
		e.record(ctx, op, resultError)
		return false, err
	}
}

func (e *Engine) record(ctx context.Context, op, result string) {
	e.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	))
}

func (e *Engine) setSummaryAttributes(span trace.Span, s *Summary) {
	span.SetAttributes(
		attribute.Int("reconcile.organizations", s.Organizations),
		attribute.Int("reconcile.teams_created", s.TeamsCreated),
		attribute.Int("reconcile.grants_applied", s.GrantsApplied),
		attribute.Int("reconcile.members_added", s.MembersAdded),
		attribute.Int("reconcile.members_removed", s.MembersRemoved),
		attribute.Int("reconcile.skipped", s.Skipped),
	)
}

// teamIndex maps team names to remote teams. GitHub compares team names
// without regard to case.
type teamIndex map[string]github.Team

func newTeamIndex(teams []github.Team) teamIndex {
	idx := make(teamIndex, len(teams))
	for _, t := range teams {
		idx.add(t.Name, t)
	}
	return idx
}

func (idx teamIndex) lookup(name string) (github.Team, bool) {
	t, ok := idx[strings.ToLower(name)]
	return t, ok
}

func (idx teamIndex) add(name string, t github.Team) {
	idx[strings.ToLower(name)] = t
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
