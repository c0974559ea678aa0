// Command loadgen drives a simulate-mode vault over HTTP: workers post deposit transfers
// to /ledger/transfers while a set of subscribers follow /audit/stream.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type transfer struct {
	Contract string `json:"contract"`
	From     string `json:"from"`
	To       string `json:"to"`
	Quantity string `json:"quantity"`
	Memo     string `json:"memo"`
}

type counters struct {
	deposits    int64
	rejected    int64
	requestErrs int64
	subscribed  int64
	streamErrs  int64
	events      int64
}

func main() {
	var (
		baseURL     string
		vault       string
		contract    string
		quantity    string
		accounts    string
		workers     int
		period      time.Duration
		subscribers int
		duration    time.Duration
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "vault API base URL")
	flag.StringVar(&vault, "vault", "svault", "vault account receiving deposits")
	flag.StringVar(&contract, "contract", "eosio.token", "token contract of the deposited currency")
	flag.StringVar(&quantity, "quantity", "1.0000 EOS", "quantity per deposit")
	flag.StringVar(&accounts, "accounts", "alice,bob", "comma separated depositor accounts")
	flag.IntVar(&workers, "workers", 4, "concurrent deposit workers")
	flag.DurationVar(&period, "period", 100*time.Millisecond, "pause between deposits of one worker")
	flag.IntVar(&subscribers, "subs", 10, "audit stream subscribers")
	flag.DurationVar(&duration, "dur", 30*time.Second, "test duration (0 for until interrupted)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	conns := workers + subscribers + 10
	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     conns,
			MaxIdleConns:        conns,
			MaxIdleConnsPerHost: conns,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	depositors := strings.Split(accounts, ",")
	var c counters
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < subscribers; i++ {
		g.Go(func() error {
			follow(ctx, client, baseURL+"/audit/stream", &c)
			return nil
		})
	}
	for i := 0; i < workers; i++ {
		from := strings.TrimSpace(depositors[i%len(depositors)])
		g.Go(func() error {
			deposit(ctx, logger, client, baseURL+"/ledger/transfers", transfer{
				Contract: contract, From: from, To: vault, Quantity: quantity,
			}, period, &c)
			return nil
		})
	}
	g.Go(func() error {
		report(ctx, logger, start, &c)
		return nil
	})
	_ = g.Wait()

	elapsed := time.Since(start)
	fmt.Printf("done: deposits=%d rejected=%d request_errs=%d subscribed=%d stream_errs=%d events=%d elapsed=%s deposits/s=%.2f\n",
		atomic.LoadInt64(&c.deposits),
		atomic.LoadInt64(&c.rejected),
		atomic.LoadInt64(&c.requestErrs),
		atomic.LoadInt64(&c.subscribed),
		atomic.LoadInt64(&c.streamErrs),
		atomic.LoadInt64(&c.events),
		elapsed.Truncate(time.Millisecond),
		float64(atomic.LoadInt64(&c.deposits))/elapsed.Seconds(),
	)
}

func deposit(ctx context.Context, logger *zap.Logger, client *http.Client, url string, t transfer, period time.Duration, c *counters) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t.Memo = uuid.NewString()
		body, _ := json.Marshal(t)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			atomic.AddInt64(&c.requestErrs, 1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Account", t.From)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddInt64(&c.requestErrs, 1)
			}
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			atomic.AddInt64(&c.rejected, 1)
			logger.Debug("deposit rejected", zap.String("from", t.From), zap.Int("status", resp.StatusCode))
			continue
		}
		atomic.AddInt64(&c.deposits, 1)
	}
}

func follow(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		atomic.AddInt64(&c.streamErrs, 1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddInt64(&c.streamErrs, 1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&c.streamErrs, 1)
		return
	}
	atomic.AddInt64(&c.subscribed, 1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddInt64(&c.streamErrs, 1)
			}
			return
		}
		if strings.HasPrefix(line, "id: ") {
			atomic.AddInt64(&c.events, 1)
		}
	}
}

func report(ctx context.Context, logger *zap.Logger, start time.Time, c *counters) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status",
				zap.Int64("deposits", atomic.LoadInt64(&c.deposits)),
				zap.Int64("rejected", atomic.LoadInt64(&c.rejected)),
				zap.Int64("request_errs", atomic.LoadInt64(&c.requestErrs)),
				zap.Int64("subscribed", atomic.LoadInt64(&c.subscribed)),
				zap.Int64("events", atomic.LoadInt64(&c.events)),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
		}
	}
}
