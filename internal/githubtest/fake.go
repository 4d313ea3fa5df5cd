// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package githubtest implements an in-memory fake of the GitHub REST
// endpoints used to manage teams, team memberships and team repository
// permissions. It is used by tests and by the mock-github command.
package githubtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// permissionRank orders repository permissions by privilege.
var permissionRank = map[string]int{
	"pull":     1,
	"triage":   2,
	"push":     3,
	"maintain": 4,
	"admin":    5,
}

var validRoles = map[string]bool{"member": true, "maintainer": true}

// Request is a request observed by the fake.
type Request struct {
	Method string
	Path   string
}

type member struct {
	login string
	role  string
}

type grant struct {
	owner      string
	repo       string
	permission string
}

type team struct {
	id          int64
	name        string
	slug        string
	description string
	privacy     string
	members     []member
	repos       []grant
}

type org struct {
	members []string
	teams   []*team
}

// Fake holds the state of the fake API. It is safe for concurrent use.
type Fake struct {
	token string

	// MaxPageSize caps per_page on list endpoints. Defaults to 100.
	MaxPageSize int

	mu       sync.Mutex
	orgs     map[string]*org
	nextID   int64
	requests []Request
	mux      *http.ServeMux
}

// New returns a Fake that accepts requests bearing the given token.
func New(token string) *Fake {
	f := &Fake{
		token:       token,
		MaxPageSize: 100,
		orgs:        make(map[string]*org),
		nextID:      1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/{org}/members", f.handleListOrgMembers)
	mux.HandleFunc("GET /orgs/{org}/teams", f.handleListTeams)
	mux.HandleFunc("POST /orgs/{org}/teams", f.handleCreateTeam)
	mux.HandleFunc("DELETE /orgs/{org}/teams/{slug}", f.handleDeleteTeam)
	mux.HandleFunc("GET /orgs/{org}/teams/{slug}/members", f.handleListTeamMembers)
	mux.HandleFunc("GET /orgs/{org}/teams/{slug}/memberships/{username}", f.handleGetMembership)
	mux.HandleFunc("PUT /orgs/{org}/teams/{slug}/memberships/{username}", f.handlePutMembership)
	mux.HandleFunc("DELETE /orgs/{org}/teams/{slug}/memberships/{username}", f.handleDeleteMembership)
	mux.HandleFunc("GET /orgs/{org}/teams/{slug}/repos", f.handleListTeamRepos)
	mux.HandleFunc("PUT /orgs/{org}/teams/{slug}/repos/{owner}/{repo}", f.handlePutTeamRepo)
	f.mux = mux
	return f
}

// Server is a Fake served over HTTP by an httptest.Server.
type Server struct {
	*httptest.Server
	*Fake
}

// NewServer starts a Server. Callers must Close it.
func NewServer(token string) *Server {
	f := New(token)
	return &Server{Server: httptest.NewServer(f), Fake: f}
}

// ServeHTTP implements http.Handler.
func (f *Fake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, Request{Method: r.Method, Path: r.URL.Path})
	f.mu.Unlock()

	if !f.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Bad credentials")
		return
	}
	f.mux.ServeHTTP(w, r)
}

// AddOrg creates an organization with the given members.
func (f *Fake) AddOrg(name string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orgs[name]
	if o == nil {
		o = &org{}
		f.orgs[name] = o
	}
	o.members = append(o.members, members...)
}

// AddTeam creates a team in an existing organization and returns its slug.
func (f *Fake) AddTeam(orgName, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orgs[orgName]
	if o == nil {
		panic("githubtest: unknown org " + orgName)
	}
	return f.createTeam(o, name, "", "closed").slug
}

// AddTeamMember adds a member to an existing team.
func (f *Fake) AddTeamMember(orgName, slug, login, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.team(orgName, slug)
	if t == nil {
		panic("githubtest: unknown team " + orgName + "/" + slug)
	}
	t.upsertMember(login, role)
}

// TeamNames returns the names of an organization's teams in creation order.
func (f *Fake) TeamNames(orgName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	if o := f.orgs[orgName]; o != nil {
		for _, t := range o.teams {
			names = append(names, t.name)
		}
	}
	return names
}

// TeamMemberRole returns the role of login in a team.
func (f *Fake) TeamMemberRole(orgName, slug, login string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t := f.team(orgName, slug); t != nil {
		for _, m := range t.members {
			if m.login == login {
				return m.role, true
			}
		}
	}
	return "", false
}

// TeamRepoPermission returns the permission a team holds on owner/repo.
func (f *Fake) TeamRepoPermission(orgName, slug, owner, repo string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t := f.team(orgName, slug); t != nil {
		for _, g := range t.repos {
			if g.owner == owner && g.repo == repo {
				return g.permission, true
			}
		}
	}
	return "", false
}

// Requests returns the requests received so far.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// CountRequests returns how many requests matched method and path.
func (f *Fake) CountRequests(method, path string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Slugify converts a team name to the slug GitHub would assign.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func (f *Fake) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == f.token
}

// team must be called with f.mu held.
func (f *Fake) team(orgName, slug string) *team {
	o := f.orgs[orgName]
	if o == nil {
		return nil
	}
	for _, t := range o.teams {
		if t.slug == slug {
			return t
		}
	}
	return nil
}

// createTeam must be called with f.mu held.
func (f *Fake) createTeam(o *org, name, description, privacy string) *team {
	t := &team{
		id:          f.nextID,
		name:        name,
		slug:        Slugify(name),
		description: description,
		privacy:     privacy,
	}
	f.nextID++
	o.teams = append(o.teams, t)
	return t
}

func (t *team) upsertMember(login, role string) {
	for i := range t.members {
		if t.members[i].login == login {
			t.members[i].role = role
			return
		}
	}
	t.members = append(t.members, member{login: login, role: role})
}

func (t *team) upsertRepo(owner, repo, permission string) {
	for i := range t.repos {
		if t.repos[i].owner == owner && t.repos[i].repo == repo {
			t.repos[i].permission = permission
			return
		}
	}
	t.repos = append(t.repos, grant{owner: owner, repo: repo, permission: permission})
}

func (t *team) json() map[string]any {
	return map[string]any{
		"id":          t.id,
		"name":        t.name,
		"slug":        t.slug,
		"description": t.description,
		"privacy":     t.privacy,
		"repos_count": len(t.repos),
	}
}

func (f *Fake) handleListOrgMembers(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	o := f.orgs[r.PathValue("org")]
	if o == nil {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	users := make([]any, 0, len(o.members))
	for i, login := range o.members {
		users = append(users, map[string]any{"login": login, "id": i + 1})
	}
	f.mu.Unlock()
	f.writePage(w, r, users)
}

func (f *Fake) handleListTeams(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	o := f.orgs[r.PathValue("org")]
	if o == nil {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	teams := make([]any, 0, len(o.teams))
	for _, t := range o.teams {
		teams = append(teams, t.json())
	}
	f.mu.Unlock()
	f.writePage(w, r, teams)
}

func (f *Fake) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Privacy     string   `json:"privacy"`
		RepoNames   []string `json:"repo_names"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	o := f.orgs[r.PathValue("org")]
	if o == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}
	for _, t := range o.teams {
		if strings.EqualFold(t.name, body.Name) || t.slug == Slugify(body.Name) {
			writeError(w, http.StatusUnprocessableEntity, "Validation Failed")
			return
		}
	}
	if body.Privacy == "" {
		body.Privacy = "secret"
	}

	t := f.createTeam(o, body.Name, body.Description, body.Privacy)
	for _, full := range body.RepoNames {
		owner, repo, ok := strings.Cut(full, "/")
		if !ok {
			continue
		}
		t.upsertRepo(owner, repo, "pull")
	}
	writeJSON(w, http.StatusCreated, t.json())
}

func (f *Fake) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o := f.orgs[r.PathValue("org")]
	if o == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	slug := r.PathValue("slug")
	for i, t := range o.teams {
		if t.slug == slug {
			o.teams = append(o.teams[:i], o.teams[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Not Found")
}

func (f *Fake) handleListTeamMembers(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		role = "all"
	}

	f.mu.Lock()
	t := f.team(r.PathValue("org"), r.PathValue("slug"))
	if t == nil {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	users := make([]any, 0, len(t.members))
	for i, m := range t.members {
		if role != "all" && m.role != role {
			continue
		}
		users = append(users, map[string]any{"login": m.login, "id": i + 1})
	}
	f.mu.Unlock()
	f.writePage(w, r, users)
}

func (f *Fake) handleGetMembership(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.team(r.PathValue("org"), r.PathValue("slug"))
	if t == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	username := r.PathValue("username")
	for _, m := range t.members {
		if m.login == username {
			writeJSON(w, http.StatusOK, membershipJSON(r, m))
			return
		}
	}
	writeError(w, http.StatusNotFound, "Not Found")
}

func (f *Fake) handlePutMembership(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	if body.Role == "" {
		body.Role = "member"
	}
	if !validRoles[body.Role] {
		writeError(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.team(r.PathValue("org"), r.PathValue("slug"))
	if t == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	m := member{login: r.PathValue("username"), role: body.Role}
	t.upsertMember(m.login, m.role)
	writeJSON(w, http.StatusOK, membershipJSON(r, m))
}

func (f *Fake) handleDeleteMembership(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.team(r.PathValue("org"), r.PathValue("slug"))
	if t == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	username := r.PathValue("username")
	for i, m := range t.members {
		if m.login == username {
			t.members = append(t.members[:i], t.members[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *Fake) handleListTeamRepos(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	t := f.team(r.PathValue("org"), r.PathValue("slug"))
	if t == nil {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	repos := make([]any, 0, len(t.repos))
	for i, g := range t.repos {
		rank := permissionRank[g.permission]
		repos = append(repos, map[string]any{
			"id":        i + 1,
			"name":      g.repo,
			"full_name": g.owner + "/" + g.repo,
			"owner":     map[string]any{"login": g.owner},
			"role_name": g.permission,
			"permissions": map[string]bool{
				"pull":     rank >= permissionRank["pull"],
				"triage":   rank >= permissionRank["triage"],
				"push":     rank >= permissionRank["push"],
				"maintain": rank >= permissionRank["maintain"],
				"admin":    rank >= permissionRank["admin"],
			},
		})
	}
	f.mu.Unlock()
	f.writePage(w, r, repos)
}

func (f *Fake) handlePutTeamRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Permission string `json:"permission"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Problems parsing JSON")
			return
		}
	}
	if body.Permission == "" {
		body.Permission = "push"
	}
	if _, ok := permissionRank[body.Permission]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.team(r.PathValue("org"), r.PathValue("slug"))
	if t == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	t.upsertRepo(r.PathValue("owner"), r.PathValue("repo"), body.Permission)
	w.WriteHeader(http.StatusNoContent)
}

// writePage writes one page of items and a Link header when more remain.
func (f *Fake) writePage(w http.ResponseWriter, r *http.Request, items []any) {
	size := 30
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		size = v
	}
	if f.MaxPageSize > 0 && size > f.MaxPageSize {
		size = f.MaxPageSize
	}
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}

	start := min((page-1)*size, len(items))
	end := min(start+size, len(items))
	if end < len(items) {
		next := fmt.Sprintf("http://%s%s?per_page=%d&page=%d", r.Host, r.URL.Path, size, page+1)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next))
	}
	writeJSON(w, http.StatusOK, items[start:end])
}

func membershipJSON(r *http.Request, m member) map[string]any {
	return map[string]any{
		"url":   fmt.Sprintf("http://%s%s", r.Host, r.URL.Path),
		"role":  m.role,
		"state": "active",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// sortedKeys is used to produce stable output in String.
func sortedKeys(m map[string]*org) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String summarizes the fake's state for test failure messages.
func (f *Fake) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, name := range sortedKeys(f.orgs) {
		fmt.Fprintf(&b, "org %s\n", name)
		for _, t := range f.orgs[name].teams {
			fmt.Fprintf(&b, "  team %s (%s) members=%v repos=%v\n", t.name, t.slug, t.members, t.repos)
		}
	}
	return b.String()
}
