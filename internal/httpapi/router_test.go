package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loupehq/loupe/internal/config"
	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/geoip"
	"github.com/loupehq/loupe/internal/repository"
	"github.com/loupehq/loupe/internal/service/auth"
	"github.com/loupehq/loupe/internal/service/ingest"
	"github.com/loupehq/loupe/internal/service/realtime"
	"github.com/loupehq/loupe/internal/service/site"
	"github.com/loupehq/loupe/internal/service/stats"
	"github.com/loupehq/loupe/internal/service/team"
	"github.com/loupehq/loupe/internal/ws"
)

// stubRepo implements every repository interface in memory.
type stubRepo struct {
	users       map[string]domain.User // keyed by email
	sites       map[string]domain.Site
	members     map[string]domain.TeamMember
	invitations map[string]domain.Invitation
	events      []domain.Event
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:       make(map[string]domain.User),
		sites:       make(map[string]domain.Site),
		members:     make(map[string]domain.TeamMember),
		invitations: make(map[string]domain.Invitation),
	}
}

func (s *stubRepo) CreateUser(ctx context.Context, user *domain.User) error {
	if _, ok := s.users[user.Email]; ok {
		return repository.ErrConflict
	}
	s.users[user.Email] = *user
	return nil
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if u, ok := s.users[email]; ok {
		user := u
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			user := u
			return &user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) CreateSite(ctx context.Context, st *domain.Site, owner *domain.TeamMember) error {
	for _, existing := range s.sites {
		if existing.Domain == st.Domain {
			return repository.ErrConflict
		}
	}
	s.sites[st.ID] = *st
	s.members[owner.ID] = *owner
	return nil
}

func (s *stubRepo) GetSiteByID(ctx context.Context, siteID string) (*domain.Site, error) {
	if st, ok := s.sites[siteID]; ok {
		out := st
		return &out, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) GetSiteByDomain(ctx context.Context, dom string) (*domain.Site, error) {
	for _, st := range s.sites {
		if st.Domain == dom {
			out := st
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) ListSitesByUser(ctx context.Context, userID string) ([]domain.Site, error) {
	out := make([]domain.Site, 0)
	for _, m := range s.members {
		if m.UserID == userID {
			if st, ok := s.sites[m.SiteID]; ok {
				out = append(out, st)
			}
		}
	}
	return out, nil
}

func (s *stubRepo) InsertEvent(ctx context.Context, event *domain.Event) error {
	s.events = append(s.events, *event)
	return nil
}

func (s *stubRepo) ListEventsSince(ctx context.Context, siteID string, since time.Time) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	for _, e := range s.events {
		if e.SiteID == siteID && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubRepo) CountActiveSessions(ctx context.Context, siteID string, since time.Time) (int, error) {
	sessions := make(map[string]struct{})
	for _, e := range s.events {
		if e.SiteID == siteID && !e.Timestamp.Before(since) {
			sessions[e.SessionID] = struct{}{}
		}
	}
	return len(sessions), nil
}

func (s *stubRepo) InsertMember(ctx context.Context, member *domain.TeamMember) error {
	s.members[member.ID] = *member
	return nil
}

func (s *stubRepo) GetMember(ctx context.Context, siteID, userID string) (*domain.TeamMember, error) {
	for _, m := range s.members {
		if m.SiteID == siteID && m.UserID == userID {
			member := m
			return &member, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) GetMemberByID(ctx context.Context, memberID string) (*domain.TeamMember, error) {
	if m, ok := s.members[memberID]; ok {
		member := m
		return &member, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) ListMembers(ctx context.Context, siteID string) ([]domain.TeamMember, error) {
	out := make([]domain.TeamMember, 0)
	for _, m := range s.members {
		if m.SiteID == siteID {
			for _, u := range s.users {
				if u.ID == m.UserID {
					m.Email = u.Email
				}
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubRepo) DeleteMember(ctx context.Context, memberID string) error {
	if _, ok := s.members[memberID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.members, memberID)
	return nil
}

func (s *stubRepo) CreateInvitation(ctx context.Context, invitation *domain.Invitation) error {
	s.invitations[invitation.ID] = *invitation
	return nil
}

func (s *stubRepo) GetInvitationByToken(ctx context.Context, token string) (*domain.Invitation, error) {
	for _, inv := range s.invitations {
		if inv.Token == token {
			invitation := inv
			return &invitation, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error) {
	if inv, ok := s.invitations[id]; ok {
		invitation := inv
		return &invitation, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) GetPendingInvitation(ctx context.Context, siteID, email string) (*domain.Invitation, error) {
	for _, inv := range s.invitations {
		if inv.SiteID == siteID && inv.Email == email && inv.Status == domain.InvitationPending {
			invitation := inv
			return &invitation, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) ListPendingInvitations(ctx context.Context, siteID string) ([]domain.Invitation, error) {
	out := make([]domain.Invitation, 0)
	for _, inv := range s.invitations {
		if inv.SiteID == siteID && inv.Status == domain.InvitationPending {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdateInvitationStatus(ctx context.Context, id, status string) error {
	inv, ok := s.invitations[id]
	if !ok || inv.Status != domain.InvitationPending {
		return repository.ErrNotFound
	}
	inv.Status = status
	s.invitations[id] = inv
	return nil
}

func (s *stubRepo) AcceptInvitation(ctx context.Context, invitation *domain.Invitation, member *domain.TeamMember) error {
	inv, ok := s.invitations[invitation.ID]
	if !ok || inv.Status != domain.InvitationPending {
		return repository.ErrNotFound
	}
	inv.Status = domain.InvitationAccepted
	s.invitations[invitation.ID] = inv
	s.members[member.ID] = *member
	return nil
}

func (s *stubRepo) DeleteInvitation(ctx context.Context, id string) error {
	if _, ok := s.invitations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.invitations, id)
	return nil
}

type noopResolver struct{}

func (noopResolver) Lookup(ctx context.Context, ip string) geoip.Location {
	return geoip.Location{City: geoip.Unknown, Country: geoip.Unknown}
}

func setupRouter(t *testing.T, repo *stubRepo) *Router {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		JWTSecret:       "router-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		ActiveWindow:    5 * time.Minute,
	}

	authSvc := auth.New(repo, log, cfg)
	siteSvc := site.New(repo, log)
	statsSvc := stats.New(repo, repo, log, cfg)
	teamSvc := team.New(repo, repo, repo, log, 7*24*time.Hour)
	realtimeSvc := realtime.New(statsSvc, ws.NewHub(), time.Hour, log)
	ingestSvc := ingest.New(repo, repo, noopResolver{}, realtimeSvc, log)

	router := NewRouter(log, authSvc, siteSvc, ingestSvc, statsSvc, teamSvc, realtimeSvc, NewMemoryRateLimiter(), "http://localhost:4000", nil)
	t.Cleanup(router.Close)
	return router
}

func signupUser(t *testing.T, router *Router, email string) string {
	t.Helper()
	body := `{"email":"` + email + `","password":"supersecret"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup failed with status %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return payload.Tokens.AccessToken
}

func createSite(t *testing.T, router *Router, token, dom string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sites", strings.NewReader(`{"domain":"`+dom+`"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("site creation failed with status %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Site domain.Site `json:"site"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode site response: %v", err)
	}
	return payload.Site.ID
}

func TestSignupLoginAndSiteLifecycle(t *testing.T) {
	repo := newStubRepo()
	router := setupRouter(t, repo)

	token := signupUser(t, router, "owner@example.com")
	siteID := createSite(t, router, token, "example.com")
	if siteID == "" {
		t.Fatal("expected site ID")
	}

	// Duplicate domain conflicts.
	req := httptest.NewRequest(http.MethodPost, "/api/sites", strings.NewReader(`{"domain":"example.com"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate domain, got %d", rr.Code)
	}

	// Listing returns the created site.
	req = httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 listing sites, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "example.com") {
		t.Fatalf("expected site in listing, got %s", rr.Body.String())
	}
}

func TestSitesRequireAuthentication(t *testing.T) {
	router := setupRouter(t, newStubRepo())

	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rr.Code)
	}
}

func TestTrackEndpoint(t *testing.T) {
	repo := newStubRepo()
	router := setupRouter(t, repo)
	token := signupUser(t, router, "owner@example.com")
	siteID := createSite(t, router, token, "example.com")

	post := func(body string, userAgent string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/track", strings.NewReader(body))
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	// Missing fields reject with 400.
	rr := post(`{"site_id":"`+siteID+`"}`, "Mozilla/5.0")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rr.Code)
	}

	// Unknown site rejects with 404.
	rr = post(`{"site_id":"missing","session_id":"s1","page":"/"}`, "Mozilla/5.0")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown site, got %d", rr.Code)
	}

	// Bot traffic succeeds without storing.
	rr = post(`{"site_id":"`+siteID+`","session_id":"s1","page":"/"}`, "Googlebot/2.1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for bot ping, got %d", rr.Code)
	}
	if len(repo.events) != 0 {
		t.Fatalf("expected no stored events for bot, got %d", len(repo.events))
	}

	// Real traffic stores an event.
	rr = post(`{"site_id":"`+siteID+`","session_id":"s1","page":"/pricing"}`, "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Safari/537.36")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected open CORS on track, got %q", got)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(repo.events))
	}
	if repo.events[0].Page != "/pricing" {
		t.Fatalf("unexpected stored event: %+v", repo.events[0])
	}

	// Preflight is answered without a body.
	req := httptest.NewRequest(http.MethodOptions, "/api/track", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rr.Code)
	}
}

func TestScriptEndpoint(t *testing.T) {
	repo := newStubRepo()
	router := setupRouter(t, repo)
	token := signupUser(t, router, "owner@example.com")
	siteID := createSite(t, router, token, "example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/script/"+siteID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/javascript" {
		t.Fatalf("unexpected content type: %q", got)
	}
	body := rr.Body.String()
	if !strings.Contains(body, siteID) {
		t.Fatal("expected site ID embedded in script")
	}
	if !strings.Contains(body, "http://localhost:4000/api/track") {
		t.Fatal("expected track endpoint embedded in script")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/script/unknown-site", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown site, got %d", rr.Code)
	}
}

func TestStatsEndpointEnforcesMembership(t *testing.T) {
	repo := newStubRepo()
	router := setupRouter(t, repo)
	ownerToken := signupUser(t, router, "owner@example.com")
	strangerToken := signupUser(t, router, "stranger@example.com")
	siteID := createSite(t, router, ownerToken, "example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/sites/"+siteID+"/stats?days=7", nil)
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for member, got %d: %s", rr.Code, rr.Body.String())
	}
	var snapshot domain.StatsSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.VisitorsByHour) != 24 {
		t.Fatalf("expected 24 hour buckets, got %d", len(snapshot.VisitorsByHour))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sites/"+siteID+"/stats", nil)
	req.Header.Set("Authorization", "Bearer "+strangerToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", rr.Code)
	}
}

func TestTeamInvitationFlow(t *testing.T) {
	repo := newStubRepo()
	router := setupRouter(t, repo)
	ownerToken := signupUser(t, router, "owner@example.com")
	inviteeToken := signupUser(t, router, "invitee@example.com")
	siteID := createSite(t, router, ownerToken, "example.com")

	// Owner invites.
	req := httptest.NewRequest(http.MethodPost, "/api/sites/"+siteID+"/team",
		strings.NewReader(`{"email":"invitee@example.com","role":"viewer"}`))
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for invite, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Invitation domain.Invitation `json:"invitation"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode invitation: %v", err)
	}

	// Invitee accepts by token.
	req = httptest.NewRequest(http.MethodPost, "/api/invitations/"+created.Invitation.Token+"/accept", nil)
	req.Header.Set("Authorization", "Bearer "+inviteeToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for accept, got %d: %s", rr.Code, rr.Body.String())
	}

	// Invitee now reads the team page.
	req = httptest.NewRequest(http.MethodGet, "/api/sites/"+siteID+"/team", nil)
	req.Header.Set("Authorization", "Bearer "+inviteeToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for team overview, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invitee@example.com") {
		t.Fatalf("expected invitee in member list, got %s", rr.Body.String())
	}

	// A viewer cannot invite.
	req = httptest.NewRequest(http.MethodPost, "/api/sites/"+siteID+"/team",
		strings.NewReader(`{"email":"third@example.com","role":"viewer"}`))
	req.Header.Set("Authorization", "Bearer "+inviteeToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer invite, got %d", rr.Code)
	}
}

func TestRemoveTeamMemberProtectsOwner(t *testing.T) {
	repo := newStubRepo()
	router := setupRouter(t, repo)
	ownerToken := signupUser(t, router, "owner@example.com")
	siteID := createSite(t, router, ownerToken, "example.com")

	var ownerMemberID string
	for id, m := range repo.members {
		if m.SiteID == siteID && m.Role == domain.RoleOwner {
			ownerMemberID = id
		}
	}
	if ownerMemberID == "" {
		t.Fatal("expected owner membership row")
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/sites/"+siteID+"/team/"+ownerMemberID, nil)
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 removing owner, got %d", rr.Code)
	}
	if _, ok := repo.members[ownerMemberID]; !ok {
		t.Fatal("owner membership must survive")
	}
}

func TestRateLimitHeadersAndExhaustion(t *testing.T) {
	router := setupRouter(t, newStubRepo())

	var last *httptest.ResponseRecorder
	for i := 0; i <= rateLimitSignup; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader(nil))
		req.RemoteAddr = "203.0.113.7:9000"
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhaustion, got %d", last.Code)
	}
	if got := last.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("unexpected limit header: %q", got)
	}
	if got := last.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header: %q", got)
	}
}

func TestHealthzReportsComponents(t *testing.T) {
	repo := newStubRepo()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{JWTSecret: "x", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour}
	authSvc := auth.New(repo, log, cfg)
	siteSvc := site.New(repo, log)
	statsSvc := stats.New(repo, repo, log, cfg)
	teamSvc := team.New(repo, repo, repo, log, time.Hour)
	realtimeSvc := realtime.New(statsSvc, ws.NewHub(), time.Hour, log)
	ingestSvc := ingest.New(repo, repo, noopResolver{}, nil, log)

	healthy := func(ctx context.Context) error { return nil }
	router := NewRouter(log, authSvc, siteSvc, ingestSvc, statsSvc, teamSvc, realtimeSvc, NewMemoryRateLimiter(), "http://localhost:4000", healthy)
	defer router.Close()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Status     string                       `json:"status"`
		Components map[string]map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
	if payload.Components["database"]["status"] != "up" {
		t.Fatalf("expected database up, got %+v", payload.Components)
	}
}
