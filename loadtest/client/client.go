// Package client provides a reusable load test client for the rendezvous
// server. Each Client simulates one anonymous user driving the JSON action
// endpoint: joining the pool, polling for signals, relaying handshake
// messages, and confirming or abandoning matches. Per-action latencies are
// tracked for reporting.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Signal kinds exchanged during a simulated WebRTC handshake.
const (
	KindOffer      = "offer"
	KindAnswer     = "answer"
	KindCandidate  = "candidate"
	KindDisconnect = "disconnect-notice"
)

// Statuses returned by the server.
const (
	StatusMatched      = "matched"
	StatusQueued       = "queued"
	StatusWaiting      = "waiting"
	StatusNotFound     = "not_found"
	StatusSent         = "sent"
	StatusP2PConnected = "p2p_connected"
	StatusDisconnected = "disconnected"
)

// Metrics tracks per-client performance data.
type Metrics struct {
	JoinLatency  time.Duration
	MatchLatency time.Duration // join sent until matched observed
	SignalsSent  int
	SignalsRecv  int
	PollCount    int
	Errors       int
}

// Signal is one relayed handshake message as returned by a poll.
type Signal struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
	SentAt   int64           `json:"sentAt"`
}

// Response is the union of all action response shapes. Fields not relevant
// to a given action are left at their zero values.
type Response struct {
	Status        string   `json:"status"`
	Error         string   `json:"error"`
	MatchID       string   `json:"matchId"`
	PartnerID     string   `json:"partnerId"`
	IsInitiator   bool     `json:"isInitiator"`
	Score         float64  `json:"score"`
	Position      int      `json:"position"`
	EstimatedWait int      `json:"estimatedWait"`
	QueueLength   int      `json:"queueLength"`
	Removed       bool     `json:"removed"`
	RetryAfter    int      `json:"retryAfter"`
	Signals       []Signal `json:"signals"`

	HTTPStatus int `json:"-"`
}

// Client simulates one user against the rendezvous action endpoint.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client

	mu      sync.Mutex
	metrics Metrics

	joinedAt time.Time
}

// New creates a load test client for the given user ID. No request is made
// until an action method is called.
func New(baseURL, userID string) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// UserID returns the identifier this client joins as.
func (c *Client) UserID() string {
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Join enters the waiting pool (or matches instantly). The timezone offset
// and profile fields let a test shape the compatibility landscape.
func (c *Client) Join(ctx context.Context, timezone int, gender, status string) (*Response, error) {
	body := map[string]interface{}{
		"action":   "join",
		"userId":   c.userID,
		"timezone": timezone,
		"info":     map[string]string{"gender": gender, "status": status},
	}

	start := time.Now()
	res, err := c.post(ctx, body)
	elapsed := time.Since(start)

	c.mu.Lock()
	c.metrics.JoinLatency = elapsed
	if err != nil {
		c.metrics.Errors++
	} else {
		c.joinedAt = start
		if res.Status == StatusMatched {
			c.metrics.MatchLatency = elapsed
		}
	}
	c.mu.Unlock()
	return res, err
}

// Poll fetches the client's current state and drains any pending signals.
func (c *Client) Poll(ctx context.Context) (*Response, error) {
	res, err := c.post(ctx, map[string]interface{}{
		"action": "poll",
		"userId": c.userID,
	})

	c.mu.Lock()
	c.metrics.PollCount++
	if err != nil {
		c.metrics.Errors++
	} else {
		c.metrics.SignalsRecv += len(res.Signals)
		if res.Status == StatusMatched && c.metrics.MatchLatency == 0 && !c.joinedAt.IsZero() {
			c.metrics.MatchLatency = time.Since(c.joinedAt)
		}
	}
	c.mu.Unlock()
	return res, err
}

// WaitForMatch polls until the server reports a match, the client falls out
// of the system, or the context expires.
func (c *Client) WaitForMatch(ctx context.Context, interval time.Duration) (*Response, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			res, err := c.Poll(ctx)
			if err != nil {
				return nil, err
			}
			switch res.Status {
			case StatusMatched:
				return res, nil
			case StatusNotFound:
				return res, fmt.Errorf("dropped from the pool before matching")
			}
		}
	}
}

// SendSignal relays one handshake message to the match partner.
func (c *Client) SendSignal(ctx context.Context, matchID, kind string, payload interface{}) (*Response, error) {
	res, err := c.post(ctx, map[string]interface{}{
		"action":  "send_signal",
		"userId":  c.userID,
		"matchId": matchID,
		"signal":  map[string]interface{}{"kind": kind, "payload": payload},
	})

	c.mu.Lock()
	if err != nil {
		c.metrics.Errors++
	} else {
		c.metrics.SignalsSent++
	}
	c.mu.Unlock()
	return res, err
}

// PeerConnected tells the server the direct connection is up, freeing the
// match record.
func (c *Client) PeerConnected(ctx context.Context, matchID, partnerID string) (*Response, error) {
	return c.post(ctx, map[string]interface{}{
		"action":    "p2p_connected",
		"userId":    c.userID,
		"matchId":   matchID,
		"partnerId": partnerID,
	})
}

// Disconnect withdraws the client from the pool and any active match.
func (c *Client) Disconnect(ctx context.Context) (*Response, error) {
	return c.post(ctx, map[string]interface{}{
		"action": "disconnect",
		"userId": c.userID,
	})
}

// post sends one action request and decodes the JSON response. Non-2xx
// statuses are returned as a Response with the error field populated, not as
// a Go error, so tests can assert on the taxonomy.
func (c *Client) post(ctx context.Context, body map[string]interface{}) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %q: %w", raw, err)
	}
	out.HTTPStatus = resp.StatusCode
	return &out, nil
}
