package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loupehq/loupe/internal/repository"
	"github.com/loupehq/loupe/internal/service/auth"
	"github.com/loupehq/loupe/internal/service/ingest"
	"github.com/loupehq/loupe/internal/service/realtime"
	"github.com/loupehq/loupe/internal/service/site"
	"github.com/loupehq/loupe/internal/service/stats"
	"github.com/loupehq/loupe/internal/service/team"
	"github.com/loupehq/loupe/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	auth          auth.Service
	site          site.Service
	ingest        *ingest.Service
	stats         *stats.Service
	team          *team.Service
	realtime      *realtime.Service
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	publicBaseURL string
	dbHealth      func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	trackResults       *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitTrack     = 120
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitLive      = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, siteSvc site.Service, ingestSvc *ingest.Service, statsSvc *stats.Service, teamSvc *team.Service, realtimeSvc *realtime.Service, limiter RateLimiter, publicBaseURL string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		site:     siteSvc,
		ingest:   ingestSvc,
		stats:    statsSvc,
		team:     teamSvc,
		realtime: realtimeSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       limiter,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		dbHealth:      dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/auth/signup", r.audit("/api/auth/signup", r.withRateLimit("/api/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/api/auth/login", r.audit("/api/auth/login", r.withRateLimit("/api/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/track", r.audit("/api/track", r.withRateLimit("/api/track", rateLimitTrack, rateWindowDefault, rateLimitKeyIP, r.handleTrack)))
	r.mux.HandleFunc("/api/script/", r.audit("/api/script", r.handleScriptRoute))
	r.mux.HandleFunc("/api/sites", r.audit("/api/sites", r.handlerAuthRate("/api/sites", rateLimitUserWrite, rateWindowDefault, r.handleSites)))
	r.mux.HandleFunc("/api/sites/", r.audit("/api/sites/*", r.handleSiteSubroutes))
	r.mux.HandleFunc("/api/invitations/", r.audit("/api/invitations/*", r.handlerAuthRate("/api/invitations", rateLimitUserWrite, rateWindowDefault, r.handleInvitations)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
		},
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
		},
		"tokens": tokens,
	})
}

// handleTrack accepts visitor pings from third-party pages. It is the sole
// endpoint that hides internal failure from its caller: after the payload
// validates and the site resolves, every outcome reads {success:true}.
func (r *Router) handleTrack(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	switch req.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		r.methodNotAllowed(w)
		return
	}

	var in ingest.Input
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	in.IPAddress = clientIP(req)
	in.UserAgent = req.Header.Get("User-Agent")

	stored, err := r.ingest.Track(req.Context(), in)
	switch {
	case errors.Is(err, ingest.ErrMissingFields):
		r.recordTrackResult("rejected")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ingest.ErrSiteNotFound):
		r.recordTrackResult("rejected")
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		r.logger.Error("tracking pipeline failed", "error", err, "site_id", in.SiteID)
		r.recordTrackResult("error")
	case stored:
		r.recordTrackResult("stored")
	default:
		r.recordTrackResult("bot")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleScriptRoute(w http.ResponseWriter, req *http.Request) {
	siteID := strings.TrimPrefix(req.URL.Path, "/api/script/")
	if siteID == "" || strings.Contains(siteID, "/") {
		r.notFound(w)
		return
	}
	r.handleScript(w, req, siteID)
}

func (r *Router) handleSites(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for sites route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		sites, err := r.site.ListByUser(req.Context(), info.UserID)
		if err != nil {
			r.logger.Error("site listing failed", "error", err, "user_id", info.UserID)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
	case http.MethodPost:
		var payload struct {
			Domain   string `json:"domain"`
			Timezone string `json:"timezone"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.site.Create(req.Context(), info.UserID, payload.Domain, payload.Timezone)
		if err != nil {
			if errors.Is(err, site.ErrDomainTaken) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"site": created})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSiteSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/sites/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	siteID := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "stats":
		r.handlerAuthRate("/api/sites/stats", rateLimitUserRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleStats(w, req, siteID)
		})(w, req)
	case len(parts) == 2 && parts[1] == "team":
		r.handlerAuthRate("/api/sites/team", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleTeam(w, req, siteID)
		})(w, req)
	case len(parts) == 3 && parts[1] == "team" && parts[2] != "":
		memberID := parts[2]
		r.handlerAuthRate("/api/sites/team", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleTeamMember(w, req, siteID, memberID)
		})(w, req)
	case len(parts) == 2 && parts[1] == "live":
		r.handlerAuthRate("/api/sites/live", rateLimitLive, rateWindowRealtime, func(w http.ResponseWriter, req *http.Request) {
			r.handleLive(w, req, siteID)
		})(w, req)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request, siteID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if _, err := r.team.RequireMember(req.Context(), siteID, info.UserID); err != nil {
		r.writeTeamError(w, err)
		return
	}
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))
	snapshot, err := r.stats.Snapshot(req.Context(), siteID, days)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		r.logger.Error("stats aggregation failed", "error", err, "site_id", siteID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *Router) handleTeam(w http.ResponseWriter, req *http.Request, siteID string) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		overview, err := r.team.Overview(req.Context(), siteID, info.UserID)
		if err != nil {
			r.writeTeamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, overview)
	case http.MethodPost:
		var payload struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		invitation, err := r.team.Invite(req.Context(), siteID, info.UserID, payload.Email, payload.Role)
		if err != nil {
			r.writeTeamError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"invitation": invitation})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamMember(w http.ResponseWriter, req *http.Request, siteID, memberID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if err := r.team.RemoveMember(req.Context(), siteID, info.UserID, memberID); err != nil {
		r.writeTeamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleInvitations(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/invitations/")
	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 1 && parts[0] == "cancel":
		var payload struct {
			InvitationID string `json:"invitation_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil || payload.InvitationID == "" {
			writeError(w, http.StatusBadRequest, "invitation_id is required")
			return
		}
		if err := r.team.Cancel(req.Context(), payload.InvitationID, info.UserID); err != nil {
			r.writeTeamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case len(parts) == 2 && parts[0] != "" && parts[1] == "accept":
		if err := r.team.Accept(req.Context(), parts[0], info.UserID, info.Email); err != nil {
			r.writeTeamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		r.notFound(w)
	}
}

// handleLive streams active-user counts, over a websocket when the client
// requests an upgrade and over SSE otherwise.
func (r *Router) handleLive(w http.ResponseWriter, req *http.Request, siteID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if _, err := r.team.RequireMember(req.Context(), siteID, info.UserID); err != nil {
		r.writeTeamError(w, err)
		return
	}

	if websocket.IsWebSocketUpgrade(req) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Error("websocket upgrade failed", "error", err)
			return
		}
		client := ws.NewClient(conn, r.logger)
		r.realtime.Subscribe(req.Context(), siteID, client)
		go func() {
			defer func() {
				r.realtime.Unsubscribe(siteID, client)
				client.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.realtime.Subscribe(req.Context(), siteID, client)
	defer func() {
		r.realtime.Unsubscribe(siteID, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// writeTeamError maps team service errors to HTTP statuses. Unrecognized
// errors stay generic so storage details never reach API clients.
func (r *Router) writeTeamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, team.ErrNotMember), errors.Is(err, team.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		r.notFound(w)
	case errors.Is(err, team.ErrAlreadyMember), errors.Is(err, team.ErrInvitationExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, team.ErrInvalidInvitation), errors.Is(err, team.ErrInvitationExpired),
		errors.Is(err, team.ErrWrongEmail), errors.Is(err, team.ErrOwnerImmutable):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error("team operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if strings.HasPrefix(req.URL.Path, "/api/track") || strings.HasPrefix(req.URL.Path, "/api/script/") {
			actor = "visitor"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	if real := strings.TrimSpace(req.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
