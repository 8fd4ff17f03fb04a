package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pairwave/rendezvous/internal/pool"
	"github.com/pairwave/rendezvous/internal/ratelimit"
	"github.com/pairwave/rendezvous/internal/registry"
	"github.com/pairwave/rendezvous/internal/rendezvous"
	"github.com/pairwave/rendezvous/internal/scoring"
)

func newTestHandler(debug bool) http.Handler {
	svc := rendezvous.NewService(
		pool.NewMemoryStore(),
		registry.NewMemoryStore(),
		rendezvous.DefaultConfig(),
		scoring.DefaultConfig(),
	)
	cfg := DefaultConfig()
	cfg.Debug = debug
	return NewServer(svc, cfg).Handler()
}

func postAction(t *testing.T, handler http.Handler, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestOptionsPreflight(t *testing.T) {
	handler := newTestHandler(false)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(false)

	req := httptest.NewRequest(http.MethodPut, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestActionValidation(t *testing.T) {
	handler := newTestHandler(false)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing user id", map[string]interface{}{"action": "join"}},
		{"unknown action", map[string]interface{}{"action": "dance", "userId": "alice"}},
		{"send without signal", map[string]interface{}{"action": "send_signal", "userId": "alice", "matchId": "m1"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := postAction(t, handler, c.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if _, ok := decode(t, rec)["error"]; !ok {
				t.Error("error responses should carry a reason")
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	handler := newTestHandler(false)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestJoinPollSignalFlow(t *testing.T) {
	handler := newTestHandler(false)

	// First join queues.
	rec := postAction(t, handler, map[string]interface{}{
		"action":   "join",
		"userId":   "user-a",
		"timezone": 7,
		"info":     map[string]string{"gender": "male"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("A join status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "queued" || body["position"] != float64(1) {
		t.Fatalf("A join = %v, want queued position 1", body)
	}

	// Second join matches.
	rec = postAction(t, handler, map[string]interface{}{
		"action":   "join",
		"userId":   "user-b",
		"timezone": 8,
		"info":     map[string]string{"gender": "female"},
	})
	body = decode(t, rec)
	if body["status"] != "matched" || body["partnerId"] != "user-a" {
		t.Fatalf("B join = %v, want matched with user-a", body)
	}
	if body["isInitiator"] != false {
		t.Errorf("user-a sorts first, B must not initiate")
	}
	matchID := body["matchId"].(string)

	// B relays an offer.
	rec = postAction(t, handler, map[string]interface{}{
		"action":  "send_signal",
		"userId":  "user-b",
		"matchId": matchID,
		"signal":  map[string]interface{}{"kind": "offer", "payload": map[string]string{"sdp": "v=0"}},
	})
	body = decode(t, rec)
	if body["status"] != "sent" || body["queueLength"] != float64(1) {
		t.Fatalf("send = %v, want sent with queueLength 1", body)
	}

	// A polls and receives it.
	rec = postAction(t, handler, map[string]interface{}{"action": "poll", "userId": "user-a"})
	body = decode(t, rec)
	if body["status"] != "matched" {
		t.Fatalf("A poll = %v, want matched", body)
	}
	signals := body["signals"].([]interface{})
	if len(signals) != 1 {
		t.Fatalf("A received %d signals, want 1", len(signals))
	}

	// Second poll drains nothing.
	rec = postAction(t, handler, map[string]interface{}{"action": "get_signals", "userId": "user-a"})
	body = decode(t, rec)
	if len(body["signals"].([]interface{})) != 0 {
		t.Error("second poll should return an empty signal list")
	}

	// A confirms the direct connection; the match is freed.
	rec = postAction(t, handler, map[string]interface{}{
		"action":    "p2p_connected",
		"userId":    "user-a",
		"matchId":   matchID,
		"partnerId": "user-b",
	})
	body = decode(t, rec)
	if body["status"] != "p2p_connected" || body["removed"] != true {
		t.Fatalf("p2p_connected = %v", body)
	}

	rec = postAction(t, handler, map[string]interface{}{"action": "poll", "userId": "user-b"})
	if decode(t, rec)["status"] != "not_found" {
		t.Error("B should be not_found after the match is freed")
	}
}

func TestSendSignalErrors(t *testing.T) {
	handler := newTestHandler(false)

	postAction(t, handler, map[string]interface{}{"action": "join", "userId": "alice"})
	rec := postAction(t, handler, map[string]interface{}{"action": "join", "userId": "bob"})
	matchID := decode(t, rec)["matchId"].(string)

	rec = postAction(t, handler, map[string]interface{}{
		"action":  "send_signal",
		"userId":  "mallory",
		"matchId": matchID,
		"signal":  map[string]interface{}{"kind": "offer"},
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger send status = %d, want 403", rec.Code)
	}

	rec = postAction(t, handler, map[string]interface{}{
		"action":  "send_signal",
		"userId":  "alice",
		"matchId": "ghost",
		"signal":  map[string]interface{}{"kind": "offer"},
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing match status = %d, want 404", rec.Code)
	}
}

func TestDisconnectRelaysNotice(t *testing.T) {
	handler := newTestHandler(false)

	postAction(t, handler, map[string]interface{}{"action": "join", "userId": "alice"})
	postAction(t, handler, map[string]interface{}{"action": "join", "userId": "bob"})

	rec := postAction(t, handler, map[string]interface{}{"action": "disconnect", "userId": "alice"})
	body := decode(t, rec)
	if body["status"] != "disconnected" || body["removed"] != true {
		t.Fatalf("disconnect = %v", body)
	}

	rec = postAction(t, handler, map[string]interface{}{"action": "poll", "userId": "bob"})
	body = decode(t, rec)
	signals := body["signals"].([]interface{})
	if len(signals) != 1 {
		t.Fatalf("bob received %d signals, want the disconnect notice", len(signals))
	}
	notice := signals[0].(map[string]interface{})
	if notice["kind"] != "disconnect-notice" {
		t.Errorf("kind = %v, want disconnect-notice", notice["kind"])
	}
}

func TestSnapshot(t *testing.T) {
	handler := newTestHandler(true)

	postAction(t, handler, map[string]interface{}{"action": "join", "userId": "alice", "timezone": 1})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	body := decode(t, rec)
	if body["poolSize"] != float64(1) || body["activeMatches"] != float64(0) {
		t.Errorf("snapshot = %v", body)
	}
	if _, ok := body["users"]; ok {
		t.Error("plain snapshot should omit the per-user listing")
	}

	req = httptest.NewRequest(http.MethodGet, "/?verbose=1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	body = decode(t, rec)
	users, ok := body["users"].([]interface{})
	if !ok || len(users) != 1 {
		t.Fatalf("verbose snapshot users = %v, want 1 entry", body["users"])
	}
}

func TestSnapshotVerboseGatedByDebug(t *testing.T) {
	handler := newTestHandler(false)

	postAction(t, handler, map[string]interface{}{"action": "join", "userId": "alice"})

	req := httptest.NewRequest(http.MethodGet, "/?verbose=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if _, ok := decode(t, rec)["users"]; ok {
		t.Error("verbose data must not leak when debug mode is off")
	}
}

// stubLimiter rejects everything, reporting a fixed leftover quota.
type stubLimiter struct {
	allow     bool
	remaining int
}

func (s *stubLimiter) Allow(_ context.Context, _ string, _ ratelimit.Rule) (bool, error) {
	return s.allow, nil
}

func (s *stubLimiter) Remaining(_ context.Context, _ string, _ ratelimit.Rule) (int, error) {
	return s.remaining, nil
}

func TestRateLimitedJoin(t *testing.T) {
	svc := rendezvous.NewService(
		pool.NewMemoryStore(),
		registry.NewMemoryStore(),
		rendezvous.DefaultConfig(),
		scoring.DefaultConfig(),
	)
	server := NewServer(svc, DefaultConfig())
	server.SetLimiter(&stubLimiter{allow: false})
	handler := server.Handler()

	rec := postAction(t, handler, map[string]interface{}{"action": "join", "userId": "alice"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("throttled responses should carry Retry-After")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if _, ok := decode(t, rec)["error"]; !ok {
		t.Error("throttled responses should carry a reason")
	}

	// The throttled user never entered the pool.
	rec = postAction(t, handler, map[string]interface{}{"action": "poll", "userId": "alice"})
	if decode(t, rec)["status"] != "not_found" {
		t.Error("a throttled join must not enqueue the user")
	}
}

func TestRateLimiterAllowsThrough(t *testing.T) {
	svc := rendezvous.NewService(
		pool.NewMemoryStore(),
		registry.NewMemoryStore(),
		rendezvous.DefaultConfig(),
		scoring.DefaultConfig(),
	)
	server := NewServer(svc, DefaultConfig())
	server.SetLimiter(&stubLimiter{allow: true, remaining: 9})
	handler := server.Handler()

	rec := postAction(t, handler, map[string]interface{}{"action": "join", "userId": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if decode(t, rec)["status"] != "queued" {
		t.Error("an allowed join should proceed normally")
	}
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if decode(t, rec)["status"] != "healthy" {
		t.Errorf("body = %s", rec.Body.String())
	}
}
