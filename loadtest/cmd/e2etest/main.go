// Package main implements a standalone end-to-end integration test for the
// rendezvous server. It validates the full user journey against a running
// instance: health check, join and instant match, signal relay with
// drain-once semantics, P2P confirmation, disconnect notices, and the error
// taxonomy.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pairwave/rendezvous/loadtest/client"
)

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Rendezvous server base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Rendezvous E2E Integration Test ===")
	fmt.Printf("Server: %s\n\n", *baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var results []scenarioResult
	results = append(results, scenarioHealthCheck(ctx, *baseURL))
	results = append(results, scenarioJoinQueues(ctx, *baseURL))
	results = append(results, scenarioMatchAndRelay(ctx, *baseURL)...)
	results = append(results, scenarioDisconnectNotice(ctx, *baseURL))
	results = append(results, scenarioErrorTaxonomy(ctx, *baseURL)...)

	fmt.Println("\n=== Results ===")
	failures := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(": %s", r.detail)
		}
		fmt.Println()
		if r.kind == resultFail {
			failures++
		}
	}

	if failures > 0 {
		fmt.Printf("\n%d scenario(s) failed.\n", failures)
		os.Exit(1)
	}
	fmt.Println("\nAll scenarios passed.")
}

func pass(name string) scenarioResult {
	return scenarioResult{name: name, kind: resultPass}
}

func fail(name, format string, args ...interface{}) scenarioResult {
	return scenarioResult{name: name, kind: resultFail, detail: fmt.Sprintf(format, args...)}
}

// scenarioHealthCheck verifies the /health endpoint responds.
func scenarioHealthCheck(ctx context.Context, baseURL string) scenarioResult {
	const name = "health check"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fail(name, "request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail(name, "server unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(name, "status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Status != "healthy" {
		return fail(name, "unexpected body %q", body)
	}
	return pass(name)
}

// scenarioJoinQueues verifies a lone user queues with position 1 and can
// withdraw cleanly.
func scenarioJoinQueues(ctx context.Context, baseURL string) scenarioResult {
	const name = "lone join queues"

	c := client.New(baseURL, fmt.Sprintf("e2e-lone-%d", time.Now().UnixNano()))
	defer c.Disconnect(context.Background())

	res, err := c.Join(ctx, 5, "", "")
	if err != nil {
		return fail(name, "join: %v", err)
	}
	// Another leftover user may already be waiting, in which case we match.
	if res.Status == client.StatusMatched {
		return scenarioResult{name: name, kind: resultInfo, detail: "matched a leftover user instead of queueing"}
	}
	if res.Status != client.StatusQueued || res.Position < 1 {
		return fail(name, "got %+v", res)
	}

	out, err := c.Disconnect(ctx)
	if err != nil || out.Status != client.StatusDisconnected {
		return fail(name, "disconnect: %v %+v", err, out)
	}
	return pass(name)
}

// scenarioMatchAndRelay walks two users through matching, relay, and P2P
// confirmation.
func scenarioMatchAndRelay(ctx context.Context, baseURL string) []scenarioResult {
	nonce := time.Now().UnixNano()
	a := client.New(baseURL, fmt.Sprintf("e2e-%d-a", nonce))
	b := client.New(baseURL, fmt.Sprintf("e2e-%d-b", nonce))
	defer a.Disconnect(context.Background())
	defer b.Disconnect(context.Background())

	var results []scenarioResult

	// Match formation.
	const matchName = "pair matches instantly"
	resA, err := a.Join(ctx, 3, "male", "online")
	if err != nil {
		return append(results, fail(matchName, "a join: %v", err))
	}
	resB, err := b.Join(ctx, 4, "female", "online")
	if err != nil {
		return append(results, fail(matchName, "b join: %v", err))
	}
	if resB.Status != client.StatusMatched {
		if resB, err = b.WaitForMatch(ctx, 200*time.Millisecond); err != nil {
			return append(results, fail(matchName, "b never matched: %v", err))
		}
	}
	if resA.Status != client.StatusMatched {
		if resA, err = a.WaitForMatch(ctx, 200*time.Millisecond); err != nil {
			return append(results, fail(matchName, "a never matched: %v", err))
		}
	}
	if resA.MatchID != resB.MatchID {
		// Under a busy server each may have matched a stranger; that is still
		// a valid outcome, just not the one this scenario can script.
		return append(results, scenarioResult{name: matchName, kind: resultInfo,
			detail: "users matched strangers on a busy server; skipping relay checks"})
	}
	if resA.IsInitiator == resB.IsInitiator {
		results = append(results, fail(matchName, "both sides report initiator=%v", resA.IsInitiator))
	} else {
		results = append(results, pass(matchName))
	}

	// Relay and drain-once.
	const relayName = "signal relay drains once"
	if _, err := a.SendSignal(ctx, resA.MatchID, client.KindOffer, map[string]string{"sdp": "v=0"}); err != nil {
		return append(results, fail(relayName, "send: %v", err))
	}
	poll, err := b.Poll(ctx)
	if err != nil {
		return append(results, fail(relayName, "poll: %v", err))
	}
	if len(poll.Signals) != 1 || poll.Signals[0].Kind != client.KindOffer {
		return append(results, fail(relayName, "first poll got %+v", poll.Signals))
	}
	again, err := b.Poll(ctx)
	if err != nil || len(again.Signals) != 0 {
		results = append(results, fail(relayName, "second poll should be empty, got %v (%v)", again, err))
	} else {
		results = append(results, pass(relayName))
	}

	// P2P confirmation frees the match.
	const p2pName = "p2p confirmation frees the match"
	conf, err := a.PeerConnected(ctx, resA.MatchID, resA.PartnerID)
	if err != nil || conf.Status != client.StatusP2PConnected || !conf.Removed {
		return append(results, fail(p2pName, "confirm: %v %+v", err, conf))
	}
	after, err := b.Poll(ctx)
	if err != nil || after.Status != client.StatusNotFound {
		results = append(results, fail(p2pName, "partner poll after free: %v %+v", err, after))
	} else {
		results = append(results, pass(p2pName))
	}

	return results
}

// scenarioDisconnectNotice verifies the partner of a disconnecting user sees
// a disconnect notice on its next poll.
func scenarioDisconnectNotice(ctx context.Context, baseURL string) scenarioResult {
	const name = "disconnect notice reaches partner"

	nonce := time.Now().UnixNano()
	a := client.New(baseURL, fmt.Sprintf("e2e-dc-%d-a", nonce))
	b := client.New(baseURL, fmt.Sprintf("e2e-dc-%d-b", nonce))
	defer b.Disconnect(context.Background())

	if _, err := a.Join(ctx, 1, "", ""); err != nil {
		return fail(name, "a join: %v", err)
	}
	resB, err := b.Join(ctx, 1, "", "")
	if err != nil {
		return fail(name, "b join: %v", err)
	}
	if resB.Status != client.StatusMatched {
		if resB, err = b.WaitForMatch(ctx, 200*time.Millisecond); err != nil {
			return fail(name, "b never matched: %v", err)
		}
	}

	if _, err := a.Disconnect(ctx); err != nil {
		return fail(name, "a disconnect: %v", err)
	}
	poll, err := b.Poll(ctx)
	if err != nil {
		return fail(name, "b poll: %v", err)
	}
	for _, sig := range poll.Signals {
		if sig.Kind == client.KindDisconnect {
			return pass(name)
		}
	}
	return fail(name, "no disconnect notice in %+v", poll.Signals)
}

// scenarioErrorTaxonomy verifies the documented error statuses.
func scenarioErrorTaxonomy(ctx context.Context, baseURL string) []scenarioResult {
	var results []scenarioResult

	c := client.New(baseURL, fmt.Sprintf("e2e-err-%d", time.Now().UnixNano()))

	const notFoundName = "unknown match yields 404"
	res, err := c.SendSignal(ctx, "no-such-match", client.KindOffer, nil)
	if err != nil {
		results = append(results, fail(notFoundName, "send: %v", err))
	} else if res.HTTPStatus != http.StatusNotFound {
		results = append(results, fail(notFoundName, "status %d", res.HTTPStatus))
	} else {
		results = append(results, pass(notFoundName))
	}

	const badName = "missing user id yields 400"
	anon := client.New(baseURL, "")
	res, err = anon.Poll(ctx)
	if err != nil {
		results = append(results, fail(badName, "poll: %v", err))
	} else if res.HTTPStatus != http.StatusBadRequest || res.Error == "" {
		results = append(results, fail(badName, "status %d error %q", res.HTTPStatus, res.Error))
	} else {
		results = append(results, pass(badName))
	}

	return results
}
