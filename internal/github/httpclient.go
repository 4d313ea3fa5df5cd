// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewkroh/access-manager/internal/rest"
)

const (
	DefaultBaseURL = "https://api.github.com"
	acceptHeader   = "application/vnd.github+json"
	apiVersion     = "2022-11-28"
	perPage        = "100"
	tracerName     = "github.com/andrewkroh/access-manager/internal/github"
)

// linkNextRE matches the "next" relation in a Link header value.
var linkNextRE = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// HTTPClient implements Client on top of the GitHub REST API. Every call goes
// through a rest.Client, so timeouts are retried with backoff.
type HTTPClient struct {
	rest *rest.Client
	log  *slog.Logger

	baseURL   string
	userAgent string
	restOpts  []rest.Option
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL sets the base URL for the GitHub API.
func WithBaseURL(url string) Option {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) {
		c.log = l
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *HTTPClient) {
		c.userAgent = ua
	}
}

// WithRESTOptions passes options (retry policy, timeouts, transport) to the
// underlying rest.Client.
func WithRESTOptions(opts ...rest.Option) Option {
	return func(c *HTTPClient) {
		c.restOpts = append(c.restOpts, opts...)
	}
}

// NewHTTPClient creates an HTTPClient that authenticates with the given
// bearer token. By default it uses https://api.github.com as the base URL
// and slog.Default() as the logger.
func NewHTTPClient(token string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:   DefaultBaseURL,
		userAgent: "access-manager",
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	restOpts := []rest.Option{
		rest.WithBaseURL(c.baseURL),
		rest.WithLogger(c.log),
		rest.WithHeader("Authorization", "Bearer "+token),
		rest.WithHeader("Accept", acceptHeader),
		rest.WithHeader("X-GitHub-Api-Version", apiVersion),
		rest.WithHeader("User-Agent", c.userAgent),
	}
	c.rest = rest.New(append(restOpts, c.restOpts...)...)
	return c
}

// tracer returns the OTel tracer for this package.
func (c *HTTPClient) tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// ListTeams lists the teams of an organization.
func (c *HTTPClient) ListTeams(ctx context.Context, org string) ([]Team, error) {
	return listAll[Team](ctx, c, "list_teams", "/orgs/"+esc(org)+"/teams")
}

// ListMemberships lists the members of an organization.
func (c *HTTPClient) ListMemberships(ctx context.Context, org string) ([]User, error) {
	return listAll[User](ctx, c, "list_memberships", "/orgs/"+esc(org)+"/members")
}

// ListTeamMemberships lists the members of a team.
func (c *HTTPClient) ListTeamMemberships(ctx context.Context, org, teamSlug string) ([]User, error) {
	return listAll[User](ctx, c, "list_team_memberships", teamPath(org, teamSlug)+"/members")
}

// ListTeamRepositories lists the repositories a team has access to.
func (c *HTTPClient) ListTeamRepositories(ctx context.Context, org, teamSlug string) ([]Repository, error) {
	return listAll[Repository](ctx, c, "list_team_repositories", teamPath(org, teamSlug)+"/repos")
}

// GetTeamMembership returns a user's membership in a team.
func (c *HTTPClient) GetTeamMembership(ctx context.Context, org, teamSlug, username string) (*Membership, error) {
	var m Membership
	req := rest.Request{Method: http.MethodGet, Path: teamPath(org, teamSlug) + "/memberships/" + esc(username)}
	if err := c.call(ctx, "get_team_membership", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AddTeam creates a team. An empty Privacy defaults to "closed".
func (c *HTTPClient) AddTeam(ctx context.Context, org string, team NewTeam) (*Team, error) {
	if team.Privacy == "" {
		team.Privacy = PrivacyClosed
	}
	var created Team
	req := rest.Request{Method: http.MethodPost, Path: "/orgs/" + esc(org) + "/teams", Body: team}
	if err := c.call(ctx, "add_team", req, &created); err != nil {
		return nil, err
	}
	c.log.InfoContext(ctx, "added team",
		slog.String("org", org),
		slog.String("team", team.Name),
		slog.String("slug", created.Slug),
	)
	return &created, nil
}

// AddTeamRepositoryPermissions sets the team's permission on owner/repo. An
// empty permission defaults to "pull".
func (c *HTTPClient) AddTeamRepositoryPermissions(ctx context.Context, org, teamSlug, repo, owner, permission string) error {
	if permission == "" {
		permission = PermissionPull
	}
	req := rest.Request{
		Method: http.MethodPut,
		Path:   teamPath(org, teamSlug) + "/repos/" + esc(owner) + "/" + esc(repo),
		Body:   map[string]string{"permission": permission},
	}
	if err := c.call(ctx, "add_team_repository_permissions", req, nil); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "set team repository permission",
		slog.String("org", org),
		slog.String("team_slug", teamSlug),
		slog.String("repo", owner+"/"+repo),
		slog.String("permission", permission),
	)
	return nil
}

// AddTeamMembership adds a user to a team or updates their role. An empty
// role defaults to "member".
func (c *HTTPClient) AddTeamMembership(ctx context.Context, org, teamSlug, username, role string) (*Membership, error) {
	if role == "" {
		role = RoleMember
	}
	var m Membership
	req := rest.Request{
		Method: http.MethodPut,
		Path:   teamPath(org, teamSlug) + "/memberships/" + esc(username),
		Body:   map[string]string{"role": role},
	}
	if err := c.call(ctx, "add_team_membership", req, &m); err != nil {
		return nil, err
	}
	c.log.InfoContext(ctx, "added team membership",
		slog.String("org", org),
		slog.String("team_slug", teamSlug),
		slog.String("username", username),
		slog.String("role", role),
	)
	return &m, nil
}

// RemoveTeamMembership removes a user from a team.
func (c *HTTPClient) RemoveTeamMembership(ctx context.Context, org, teamSlug, username string) error {
	req := rest.Request{Method: http.MethodDelete, Path: teamPath(org, teamSlug) + "/memberships/" + esc(username)}
	if err := c.call(ctx, "remove_team_membership", req, nil); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "removed team membership",
		slog.String("org", org),
		slog.String("team_slug", teamSlug),
		slog.String("username", username),
	)
	return nil
}

// RemoveTeam deletes a team.
func (c *HTTPClient) RemoveTeam(ctx context.Context, org, teamSlug string) error {
	req := rest.Request{Method: http.MethodDelete, Path: teamPath(org, teamSlug)}
	if err := c.call(ctx, "remove_team", req, nil); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "removed team", slog.String("org", org), slog.String("team_slug", teamSlug))
	return nil
}

// call performs a single request inside a span and decodes the body into out
// when out is non-nil.
func (c *HTTPClient) call(ctx context.Context, name string, req rest.Request, out any) error {
	ctx, span := c.tracer().Start(ctx, "github."+name)
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
	)

	resp, err := c.rest.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("github: %s: %w", name, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if out == nil {
		return nil
	}
	if err := decode(name, resp, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// listAll fetches every page of a list endpoint.
func listAll[T any](ctx context.Context, c *HTTPClient, name, path string) ([]T, error) {
	ctx, span := c.tracer().Start(ctx, "github."+name)
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", http.MethodGet),
		attribute.String("url.path", path),
	)

	all := []T{}
	next := path
	query := url.Values{"per_page": {perPage}}
	pages := 0

	for next != "" {
		resp, err := c.rest.Do(ctx, rest.Request{Method: http.MethodGet, Path: next, Query: query})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("github: %s: %w", name, err)
		}
		pages++
		// The next link already carries per_page and page.
		query = nil

		if resp.Empty() {
			break
		}
		var page []T
		if err := decode(name, resp, &page); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		all = append(all, page...)
		next = parseLinkNext(resp.Header.Get("Link"))
	}

	span.SetAttributes(attribute.Int("github.pages", pages))
	c.log.DebugContext(ctx, "listed",
		slog.String("operation", name),
		slog.String("path", path),
		slog.Int("count", len(all)),
		slog.Int("pages", pages),
	)
	return all, nil
}

// decode unmarshals the response body into out. When the body does not have
// the expected shape and the status was not 2xx, the status error is
// included in the returned error.
func decode(name string, resp *rest.Response, out any) error {
	err := resp.Decode(out)
	if err == nil {
		return nil
	}
	if statusErr := resp.StatusError(); statusErr != nil {
		return fmt.Errorf("github: %s: %w: %w", name, statusErr, err)
	}
	return fmt.Errorf("github: %s: decoding response: %w", name, err)
}

// parseLinkNext extracts the URL for the "next" relation from a Link header.
// Returns "" if no "next" relation is found.
func parseLinkNext(header string) string {
	if header == "" {
		return ""
	}
	matches := linkNextRE.FindStringSubmatch(header)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

func teamPath(org, teamSlug string) string {
	return "/orgs/" + esc(org) + "/teams/" + esc(teamSlug)
}

func esc(segment string) string {
	return url.PathEscape(segment)
}
