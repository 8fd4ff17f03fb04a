package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pairwave/rendezvous/loadtest/client"
	"github.com/pairwave/rendezvous/loadtest/stats"
)

// runMatch implements the matching flow load test. It drives pairs of
// simulated users through the full rendezvous lifecycle: both join, the
// second joiner matches instantly, they exchange an offer/answer/candidate
// handshake through the relay, and both confirm the direct connection. This
// measures match throughput and relay latency under concurrent load.
func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8080", "Rendezvous server base URL")
	pairs := fs.Int("pairs", 500, "Number of user pairs to match")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for pair launches")
	pollInterval := fs.Duration("poll-interval", 200*time.Millisecond, "Signal poll interval")
	pairTimeout := fs.Duration("pair-timeout", 30*time.Second, "Timeout for one pair's full handshake")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous pairs in flight")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Match test: %d pairs against %s (ramp=%s, pair-timeout=%s, concurrency=%d)\n",
		*pairs, *url, *rampUp, *pairTimeout, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	var completed atomic.Int64
	var failed atomic.Int64

	// Progress reporting while pairs run.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastDone := int64(0)
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				done := completed.Load()
				dt := now.Sub(lastTime).Seconds()
				fmt.Printf("  [match] pairs done: %d/%d  failed: %d  rate: %.1f pairs/s\n",
					done, *pairs, failed.Load(), float64(done-lastDone)/dt)
				lastDone = done
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	interval := *rampUp / time.Duration(*pairs)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	start := time.Now()
	rampTicker := time.NewTicker(interval)

	launched := 0
loop:
	for launched < *pairs {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break loop
		case <-rampTicker.C:
			launched++
			n := launched
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				pairCtx, cancel := context.WithTimeout(ctx, *pairTimeout)
				defer cancel()

				if err := runPair(pairCtx, *url, n, *pollInterval, collector); err != nil {
					failed.Add(1)
					collector.AddError()
					return
				}
				completed.Add(1)
			}()
		}
	}
	rampTicker.Stop()

	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	elapsed := time.Since(start)
	done := completed.Load()

	fmt.Printf("\n--- Match Results ---\n")
	fmt.Printf("Successful pairs:  %d / %d\n", done, *pairs)
	fmt.Printf("Failed pairs:      %d\n", failed.Load())
	fmt.Printf("Duration:          %s\n", elapsed.Round(time.Millisecond))
	if elapsed.Seconds() > 0 {
		fmt.Printf("Throughput:        %.1f pairs/s\n", float64(done)/elapsed.Seconds())
	}

	scraper.Stop()
	collector.Report()
}

// runPair walks one pair through join, handshake relay, and P2P confirmation.
// The pair is isolated from other pairs by joining back to back: the first
// user waits in the pool only until the second arrives.
func runPair(ctx context.Context, url string, n int, pollInterval time.Duration, collector *stats.Collector) error {
	a := client.New(url, fmt.Sprintf("pair-%d-a", n))
	b := client.New(url, fmt.Sprintf("pair-%d-b", n))
	defer a.Disconnect(context.Background())
	defer b.Disconnect(context.Background())

	resA, err := a.Join(ctx, n%24, "male", "")
	if err != nil {
		return fmt.Errorf("a join: %w", err)
	}
	collector.AddJoin(a.GetMetrics().JoinLatency)

	resB, err := b.Join(ctx, n%24, "female", "")
	if err != nil {
		return fmt.Errorf("b join: %w", err)
	}
	collector.AddJoin(b.GetMetrics().JoinLatency)

	// Under concurrent ramp-up either user may match a stranger from another
	// pair; the flow below only needs each user to know its own partner.
	if resA.Status != client.StatusMatched {
		if resA, err = a.WaitForMatch(ctx, pollInterval); err != nil {
			return fmt.Errorf("a wait: %w", err)
		}
	}
	if resB.Status != client.StatusMatched {
		if resB, err = b.WaitForMatch(ctx, pollInterval); err != nil {
			return fmt.Errorf("b wait: %w", err)
		}
	}
	collector.AddMatchLatency(a.GetMetrics().MatchLatency)
	collector.AddMatchLatency(b.GetMetrics().MatchLatency)

	// Simulated handshake: offer from A's side, answer plus one candidate back.
	if _, err := a.SendSignal(ctx, resA.MatchID, client.KindOffer, map[string]string{"sdp": "v=0"}); err != nil {
		return fmt.Errorf("a offer: %w", err)
	}
	if err := waitForSignal(ctx, b, pollInterval); err != nil {
		return fmt.Errorf("b recv offer: %w", err)
	}
	if _, err := b.SendSignal(ctx, resB.MatchID, client.KindAnswer, map[string]string{"sdp": "v=0"}); err != nil {
		return fmt.Errorf("b answer: %w", err)
	}
	if _, err := b.SendSignal(ctx, resB.MatchID, client.KindCandidate, map[string]string{"candidate": "udp"}); err != nil {
		return fmt.Errorf("b candidate: %w", err)
	}
	if err := waitForSignal(ctx, a, pollInterval); err != nil {
		return fmt.Errorf("a recv answer: %w", err)
	}

	if _, err := a.PeerConnected(ctx, resA.MatchID, resA.PartnerID); err != nil {
		return fmt.Errorf("a p2p: %w", err)
	}
	// The first confirmation frees the match; the partner's is idempotent.
	if _, err := b.PeerConnected(ctx, resB.MatchID, resB.PartnerID); err != nil {
		return fmt.Errorf("b p2p: %w", err)
	}
	return nil
}

// waitForSignal polls until at least one signal arrives or the context
// expires.
func waitForSignal(ctx context.Context, c *client.Client, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := c.Poll(ctx)
			if err != nil {
				return err
			}
			if len(res.Signals) > 0 {
				return nil
			}
		}
	}
}
