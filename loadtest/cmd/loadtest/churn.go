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

// runChurn implements the join/disconnect churn test. Simulated users join
// the pool at a steady rate, poll once for their queue position, and then
// disconnect. Because most users leave before a partner arrives, this keeps
// the pool turning over and exercises the request-driven sweeper and the
// waiting pool under sustained write pressure.
func runChurn(args []string) {
	fs := flag.NewFlagSet("churn", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8080", "Rendezvous server base URL")
	rate := fs.Int("rate", 100, "Users joining per second")
	duration := fs.Duration("duration", 30*time.Second, "Total churn duration")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous user lifecycles")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Churn test: %d users/s for %s against %s (concurrency=%d)\n",
		*rate, *duration, *url, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	interval := time.Second / time.Duration(*rate)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	var launched atomic.Int64
	var matchedEnRoute atomic.Int64

	// Progress reporting every 2 seconds.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastJoins := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				joins := collector.JoinCount()
				dt := now.Sub(lastTime).Seconds()
				fmt.Printf("  [churn] joins: %d  matched en route: %d  errors: %d  rate: %.1f/s\n",
					joins, matchedEnRoute.Load(), collector.ErrorCount(),
					float64(joins-lastJoins)/dt)
				lastJoins = joins
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	deadline := time.Now().Add(*duration)
	ticker := time.NewTicker(interval)

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted.")
			break loop
		case <-ticker.C:
			n := launched.Add(1)
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				c := client.New(*url, fmt.Sprintf("churn-%d", n))
				lifecycle, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()

				res, err := c.Join(lifecycle, int(n%24), "", "")
				if err != nil || res.HTTPStatus != 200 {
					collector.AddError()
					return
				}
				collector.AddJoin(c.GetMetrics().JoinLatency)
				if res.Status == client.StatusMatched {
					matchedEnRoute.Add(1)
				}

				if _, err := c.Poll(lifecycle); err != nil {
					collector.AddError()
				}
				if _, err := c.Disconnect(lifecycle); err != nil {
					collector.AddError()
				}
			}()
		}
	}

	ticker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	fmt.Printf("\nChurn complete: %d lifecycles, %d matched en route, %d errors\n",
		launched.Load(), matchedEnRoute.Load(), collector.ErrorCount())

	scraper.Stop()
	collector.Report()
}
