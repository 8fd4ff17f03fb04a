// Package httpapi is the request/response boundary: it translates the five
// named actions of the JSON endpoint into matchmaker operations and maps
// domain errors onto HTTP status codes. All responses are JSON with
// permissive CORS headers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pairwave/rendezvous/internal/metrics"
	"github.com/pairwave/rendezvous/internal/profile"
	"github.com/pairwave/rendezvous/internal/ratelimit"
	"github.com/pairwave/rendezvous/internal/registry"
	"github.com/pairwave/rendezvous/internal/rendezvous"
	"github.com/rs/cors"
)

// Config holds the HTTP boundary settings.
type Config struct {
	ListenAddr string
	Debug      bool // expose the verbose GET snapshot (score/distance matrices)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		Debug:      false,
	}
}

// RateLimiter is the per-user throttle contract. *ratelimit.Limiter
// satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
}

// Server dispatches actions to the matchmaker.
type Server struct {
	svc     *rendezvous.Service
	cfg     Config
	limiter RateLimiter
}

// NewServer creates the action dispatcher for the given matchmaker.
func NewServer(svc *rendezvous.Service, cfg Config) *Server {
	return &Server{svc: svc, cfg: cfg}
}

// SetLimiter enables per-user rate limiting on join and send_signal. Without
// a limiter those actions are unthrottled.
func (s *Server) SetLimiter(l RateLimiter) {
	s.limiter = l
}

// Handler returns the fully wired HTTP handler: the action endpoint at /,
// plus /health and /metrics, all behind permissive CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type"},
		OptionsSuccessStatus: http.StatusOK,
	}).Handler(r)
}

// actionRequest is the POST body: one action plus its action-specific fields.
type actionRequest struct {
	Action           string          `json:"action"`
	UserID           string          `json:"userId"`
	Info             profile.Profile `json:"info"`
	Timezone         *int            `json:"timezone,omitempty"`
	PreferredMatchID string          `json:"preferredMatchId,omitempty"`
	MatchID          string          `json:"matchId,omitempty"`
	PartnerID        string          `json:"partnerId,omitempty"`
	Signal           *signalBody     `json:"signal,omitempty"`
}

// signalBody is the caller-defined handshake message inside a send_signal.
type signalBody struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		// CORS headers are already set by the middleware.
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.handleSnapshot(w, r)
	case http.MethodPost:
		s.handleAction(w, r)
	default:
		respondError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	verbose := s.cfg.Debug && r.URL.Query().Get("verbose") == "1"
	snap, err := s.svc.Snapshot(r.Context(), verbose)
	if err != nil {
		log.Printf("[httpapi] snapshot: %v", err)
		respondError(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ActionsTotal.WithLabelValues("invalid", "client_error").Inc()
		respondError(w, "malformed JSON body", http.StatusBadRequest)
		return
	}

	action := canonicalAction(req.Action)
	if action == "" {
		metrics.ActionsTotal.WithLabelValues("invalid", "client_error").Inc()
		respondError(w, "unknown action", http.StatusBadRequest)
		return
	}

	outcome := s.dispatch(w, r, action, req)
	metrics.ActionsTotal.WithLabelValues(action, outcome).Inc()
	metrics.ActionLatency.Observe(time.Since(started).Seconds())
}

// canonicalAction folds the documented action aliases onto one name, or
// returns "" for an unknown action.
func canonicalAction(action string) string {
	switch action {
	case "join", "instant_match":
		return "join"
	case "poll", "get_signals":
		return "poll"
	case "send_signal", "p2p_connected", "disconnect":
		return action
	}
	return ""
}

// dispatch runs one action and writes the response, returning the outcome
// label for metrics.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, action string, req actionRequest) string {
	ctx := r.Context()

	switch action {
	case "join":
		if outcome, limited := s.throttle(ctx, w, req.UserID, ratelimit.RuleJoin); limited {
			return outcome
		}
		res, err := s.svc.Join(ctx, rendezvous.JoinRequest{
			UserID:           req.UserID,
			Profile:          req.Info,
			TimezoneOffset:   req.Timezone,
			PreferredMatchID: req.PreferredMatchID,
		})
		if err != nil {
			return s.writeError(w, err)
		}
		if res.Status == rendezvous.StatusMatched {
			respondJSON(w, http.StatusOK, matchedResponse{
				Status:          res.Status,
				MatchID:         res.Match.MatchID,
				PartnerID:       res.Match.PartnerID,
				IsInitiator:     res.Match.Initiator,
				Score:           res.Match.Score,
				PartnerInfo:     res.Match.PartnerProfile,
				PartnerTimezone: res.Match.PartnerTimezone,
			})
			return "ok"
		}
		respondJSON(w, http.StatusOK, queuedResponse{
			Status:        res.Status,
			Position:      res.Position,
			EstimatedWait: int(res.EstimatedWait.Seconds()),
		})
		return "ok"

	case "poll":
		res, err := s.svc.Poll(ctx, req.UserID)
		if err != nil {
			return s.writeError(w, err)
		}
		respondJSON(w, http.StatusOK, pollResponse{
			Status:        res.Status,
			MatchID:       res.MatchID,
			PartnerID:     res.PartnerID,
			Signals:       emptyIfNil(res.Signals),
			Position:      res.Position,
			EstimatedWait: int(res.EstimatedWait.Seconds()),
		})
		return "ok"

	case "send_signal":
		if req.Signal == nil {
			respondError(w, "signal is required", http.StatusBadRequest)
			return "client_error"
		}
		if outcome, limited := s.throttle(ctx, w, req.UserID, ratelimit.RuleSignal); limited {
			return outcome
		}
		res, err := s.svc.SendSignal(ctx, req.UserID, req.MatchID, req.Signal.Kind, req.Signal.Payload)
		if err != nil {
			return s.writeError(w, err)
		}
		respondJSON(w, http.StatusOK, sentResponse{Status: res.Status, QueueLength: res.QueueLength})
		return "ok"

	case "p2p_connected":
		res, err := s.svc.PeerConnected(ctx, req.UserID, req.MatchID, req.PartnerID)
		if err != nil {
			return s.writeError(w, err)
		}
		respondJSON(w, http.StatusOK, removedResponse{Status: res.Status, Removed: res.Removed})
		return "ok"

	case "disconnect":
		res, err := s.svc.Disconnect(ctx, req.UserID)
		if err != nil {
			return s.writeError(w, err)
		}
		respondJSON(w, http.StatusOK, removedResponse{Status: res.Status, Removed: res.Removed})
		return "ok"
	}

	respondError(w, "unknown action", http.StatusBadRequest)
	return "client_error"
}

// throttle applies one rate limit rule when a limiter is configured. It
// reports whether the request was rejected, writing the 429 response itself.
func (s *Server) throttle(ctx context.Context, w http.ResponseWriter, userID string, rule ratelimit.Rule) (string, bool) {
	if s.limiter == nil || userID == "" {
		return "", false
	}
	allowed, err := s.limiter.Allow(ctx, userID, rule)
	if err != nil {
		// The limiter already failed open and logged; treat as allowed.
		return "", false
	}
	if allowed {
		return "", false
	}
	remaining := 0
	if left, err := s.limiter.Remaining(ctx, userID, rule); err == nil {
		remaining = left
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	respondError(w, "rate limit exceeded", http.StatusTooManyRequests)
	return "rate_limited", true
}

// writeError maps domain errors onto the HTTP taxonomy. Unexpected errors are
// logged and surfaced as an opaque 500; internal state never leaks.
func (s *Server) writeError(w http.ResponseWriter, err error) string {
	var verr *rendezvous.ValidationError
	var cerr *rendezvous.CapacityError

	switch {
	case errors.As(err, &verr):
		respondError(w, verr.Reason, http.StatusBadRequest)
		return "client_error"
	case errors.Is(err, rendezvous.ErrNotParticipant):
		respondError(w, "not a participant of this match", http.StatusForbidden)
		return "client_error"
	case errors.Is(err, rendezvous.ErrMatchNotFound):
		respondError(w, "match not found", http.StatusNotFound)
		return "client_error"
	case errors.As(err, &cerr):
		retry := int(cerr.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		respondJSON(w, http.StatusServiceUnavailable, capacityResponse{
			Error:      "waiting pool at capacity",
			RetryAfter: retry,
		})
		return "client_error"
	default:
		log.Printf("[httpapi] action failed: %v", err)
		respondError(w, "internal error", http.StatusInternalServerError)
		return "server_error"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Response shapes.

type matchedResponse struct {
	Status          string          `json:"status"`
	MatchID         string          `json:"matchId"`
	PartnerID       string          `json:"partnerId"`
	IsInitiator     bool            `json:"isInitiator"`
	Score           float64         `json:"score"`
	PartnerInfo     profile.Profile `json:"partnerInfo"`
	PartnerTimezone *int            `json:"partnerTimezone,omitempty"`
}

type queuedResponse struct {
	Status        string `json:"status"`
	Position      int    `json:"position"`
	EstimatedWait int    `json:"estimatedWait"` // seconds
}

type pollResponse struct {
	Status        string            `json:"status"`
	MatchID       string            `json:"matchId,omitempty"`
	PartnerID     string            `json:"partnerId,omitempty"`
	Signals       []registry.Signal `json:"signals"`
	Position      int               `json:"position,omitempty"`
	EstimatedWait int               `json:"estimatedWait,omitempty"` // seconds
}

type sentResponse struct {
	Status      string `json:"status"`
	QueueLength int    `json:"queueLength"`
}

type removedResponse struct {
	Status  string `json:"status"`
	Removed bool   `json:"removed"`
}

type capacityResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"` // seconds
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, errorResponse{Error: message})
}

func emptyIfNil(signals []registry.Signal) []registry.Signal {
	if signals == nil {
		return []registry.Signal{}
	}
	return signals
}
