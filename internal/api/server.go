// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/feedsim/internal/agents"
	"github.com/talgya/feedsim/internal/content"
	"github.com/talgya/feedsim/internal/engine"
	"github.com/talgya/feedsim/internal/persistence"
	"github.com/talgya/feedsim/internal/recommend"
)

// Server serves the simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB    // nil when persistence is disabled
	Guard    *persistence.Guard // nil when persistence is disabled
	Save     func() error       // Saves a snapshot now; nil disables POST /snapshot
	RunID    string
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	CORSOrigins    string         // Comma-separated extra allowed origins
	TrustedProxies []netip.Prefix // Sources whose X-Forwarded-For is believed
	RateLimit      float64
	RateBurst      int
}

// Handler builds the routed, rate-limited handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentRoutes)
	mux.HandleFunc("/api/v1/posts", s.handlePosts)
	mux.HandleFunc("/api/v1/post/", s.handlePost)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/recommendations/", s.handleRecommendations)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/pause", s.adminOnly(s.handlePause))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	var h http.Handler = mux
	if s.RateLimit > 0 {
		h = NewRateLimiter(s.RateLimit, s.RateBurst, s.TrustedProxies).Middleware(h)
	}
	return corsMiddleware(s.CORSOrigins, h)
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(origins string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through so the current setting can be read.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no FEEDSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tick := s.Sim.CurrentTick()
	posts, comments := s.Sim.Pool.Counts()

	status := map[string]any{
		"name":     "feedsim",
		"run_id":   s.RunID,
		"tick":     tick,
		"sim_time": engine.SimTime(tick),
		"time":     s.Sim.Clock().Now(tick),
		"speed":    s.Eng.Speed(),
		"paused":   s.Eng.Paused(),
		"agents":   len(s.Sim.Agents),
		"posts":    posts,
		"comments": comments,
	}
	if s.DB != nil {
		storage := map[string]any{"driver": s.DB.Driver(), "vectors": s.DB.Vectors()}
		if s.Guard != nil {
			storage["breaker"] = s.Guard.State()
		}
		status["storage"] = storage
	}
	writeJSON(w, status)
}

type agentSummary struct {
	ID       agents.AgentID   `json:"id"`
	Kind     agents.Kind      `json:"kind"`
	State    agents.StateKind `json:"state"`
	TopTags  []string         `json:"top_tags"`
	Created  int              `json:"created"`
	Progress float64          `json:"progress"`
}

// handleAgents lists agents, optionally filtered by ?kind= and ?state=.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, state := q.Get("kind"), q.Get("state")
	limit := queryInt(r, "limit", 100, 10000)

	result := make([]agentSummary, 0)
	for _, v := range s.Sim.AgentViews() {
		if kind != "" && v.Kind.String() != kind {
			continue
		}
		if state != "" && v.State.String() != state {
			continue
		}
		result = append(result, agentSummary{
			ID:       v.ID,
			Kind:     v.Kind,
			State:    v.State,
			TopTags:  v.TopTags,
			Created:  len(v.Created),
			Progress: v.Progress,
		})
		if len(result) == limit {
			break
		}
	}
	writeJSON(w, result)
}

// handleAgentRoutes dispatches /agent/:id and /agent/:id/recommendations.
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/agent/"), "/"), "/")
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}

	if len(parts) >= 2 && parts[1] == "recommendations" {
		s.writeRecommendations(w, r, agents.AgentID(id))
		return
	}

	view, ok := s.Sim.AgentView(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, view)
}

// handleRecommendations returns what the engine would show an agent right now.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/recommendations/"), "/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	s.writeRecommendations(w, r, agents.AgentID(id))
}

func (s *Server) writeRecommendations(w http.ResponseWriter, r *http.Request, id agents.AgentID) {
	recs, ok := s.Sim.RecommendationsFor(id, queryInt(r, "count", 10, 100))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, recs)
}

// handlePosts returns the most engaged posts.
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.TopPosts(queryInt(r, "limit", 20, 500)))
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/post/"), "/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid post id", http.StatusBadRequest)
		return
	}
	p, err := s.Sim.Post(content.ID(id))
	if errors.Is(err, recommend.ErrNotFound) {
		http.Error(w, "post not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, p)
}

// handleEvents returns recent events, newest first, optionally filtered by ?category=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	category := r.URL.Query().Get("category")
	if category == "" {
		writeJSON(w, s.Sim.RecentEvents(limit))
		return
	}

	filtered := make([]engine.Event, 0)
	for _, e := range s.Sim.RecentEvents(math.MaxInt) {
		if e.Category == category {
			filtered = append(filtered, e)
			if len(filtered) == limit {
				break
			}
		}
	}
	writeJSON(w, filtered)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

// handleRuns lists stored runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.Runs(queryInt(r, "limit", 20, 200))
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Paused bool `json:"paused"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		s.Eng.SetPaused(req.Paused)
		slog.Info("pause changed", "paused", req.Paused)
	}

	writeJSON(w, map[string]bool{"paused": s.Eng.Paused()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Save == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.Save(); err != nil {
		slog.Error("snapshot save failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, persistence.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "snapshot failed", status)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    s.Sim.CurrentTick(),
		"message": "snapshot saved",
	})
}

// queryInt reads a positive integer parameter, falling back to def when
// missing, malformed, or above max.
func queryInt(r *http.Request, name string, def, max int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Warn("encode response", "error", err)
	}
}
