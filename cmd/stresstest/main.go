// Command stresstest fires concurrent transfers at a running server and checks
// that balances stay consistent.
//
// Two modes:
//
//	race   - distinct amounts that each fit the source balance on their own
//	         but no two fit together: exactly one may succeed.
//	replay - identical requests sharing one Idempotency-Key: one is processed,
//	         the rest are replayed or refused.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yashasviy/guarded-transfers-api/db"
	"github.com/yashasviy/guarded-transfers-api/middleware"
	"github.com/yashasviy/guarded-transfers-api/models"
	"github.com/yashasviy/guarded-transfers-api/store/postgres"
)

const (
	// DefaultURL is the target API endpoint
	DefaultURL = "http://localhost:8080/transfer"

	// DefaultConcurrency is the number of concurrent requests
	DefaultConcurrency = 50

	// DefaultAmount is the smallest amount sent, in minor units
	DefaultAmount = 100
)

type Config struct {
	URL                string
	DBURL              string
	Mode               string
	IdempotencyKey     string
	ConcurrentRequests int
	From               string
	To                 string
	Amount             int64
	SkipSetup          bool
}

// Results tracks the outcomes of all requests
type Results struct {
	Success      int32
	Replayed     int32
	Conflict     int32
	Insufficient int32
	RateLimited  int32
	Errors       int32
	Duration     time.Duration
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.URL, "url", DefaultURL, "API endpoint URL")
	flag.StringVar(&cfg.DBURL, "db", os.Getenv("DB_URL"), "Postgres URL used for setup and verification")
	flag.StringVar(&cfg.Mode, "mode", "race", "race or replay")
	flag.StringVar(&cfg.IdempotencyKey, "key", "stress-test-key-999", "Idempotency key for replay mode")
	flag.IntVar(&cfg.ConcurrentRequests, "concurrent", DefaultConcurrency, "Number of concurrent requests")
	flag.StringVar(&cfg.From, "from", "stress-src", "Sender account")
	flag.StringVar(&cfg.To, "to", "stress-dst", "Receiver account")
	flag.Int64Var(&cfg.Amount, "amount", DefaultAmount, "Base payment amount")
	flag.BoolVar(&cfg.SkipSetup, "skip-setup", false, "Skip database setup and verification")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Amount < int64(cfg.ConcurrentRequests) {
		cfg.Amount = int64(cfg.ConcurrentRequests)
	}
	initial := sourceBalance(cfg)

	ctx := context.Background()
	var conn *sql.DB
	if !cfg.SkipSetup {
		conn, err = postgres.Open(ctx, cfg.DBURL)
		if err != nil {
			logger.Fatal("database unavailable", zap.Error(err))
		}
		defer conn.Close()

		if err := db.Initialize(ctx, conn); err != nil {
			logger.Fatal("schema setup failed", zap.Error(err))
		}
		if err := db.Seed(ctx, conn, map[string]int64{cfg.From: initial, cfg.To: 0}); err != nil {
			logger.Fatal("account setup failed", zap.Error(err))
		}
		fmt.Println("Test accounts created successfully")
	}

	fmt.Printf("Endpoint:       %s\n", cfg.URL)
	fmt.Printf("Mode:           %s\n", cfg.Mode)
	fmt.Printf("Concurrency:    %d requests\n", cfg.ConcurrentRequests)
	fmt.Printf("Source balance: %d (%s -> %s)\n", initial, cfg.From, cfg.To)
	fmt.Println("---------------------------------------------------------------")

	results := run(ctx, cfg, logger)
	passed := report(cfg, results)

	if conn != nil {
		passed = verify(ctx, conn, cfg, initial, results) && passed
	}
	if !passed {
		os.Exit(1)
	}
}

// sourceBalance is large enough for any single request but not for two.
func sourceBalance(cfg Config) int64 {
	if cfg.Mode == "replay" {
		return cfg.Amount
	}
	return cfg.Amount + int64(cfg.ConcurrentRequests) - 1
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) Results {
	var (
		results Results
		start   = time.Now()
		client  = &http.Client{Timeout: 10 * time.Second}
	)

	fmt.Printf("\nLaunching %d concurrent requests...\n", cfg.ConcurrentRequests)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.ConcurrentRequests; i++ {
		amount := cfg.Amount
		if cfg.Mode != "replay" {
			amount += int64(i)
		}
		g.Go(func() error {
			execute(ctx, client, cfg, amount, &results, logger)
			return nil
		})
	}
	_ = g.Wait()

	results.Duration = time.Since(start)
	return results
}

func execute(ctx context.Context, client *http.Client, cfg Config, amount int64, results *Results, logger *zap.Logger) {
	payload, err := json.Marshal(models.TransferRequest{From: cfg.From, To: cfg.To, Amount: amount})
	if err != nil {
		logger.Error("marshal request", zap.Error(err))
		atomic.AddInt32(&results.Errors, 1)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		logger.Error("build request", zap.Error(err))
		atomic.AddInt32(&results.Errors, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Mode == "replay" {
		req.Header.Set(middleware.IdempotencyHeader, cfg.IdempotencyKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("http error", zap.Int64("amount", amount), zap.Error(err))
		atomic.AddInt32(&results.Errors, 1)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.Header.Get(middleware.ReplayHeader) == "true":
		atomic.AddInt32(&results.Replayed, 1)
	case resp.StatusCode == http.StatusOK:
		atomic.AddInt32(&results.Success, 1)
	case resp.StatusCode == http.StatusConflict:
		atomic.AddInt32(&results.Conflict, 1)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		atomic.AddInt32(&results.Insufficient, 1)
	case resp.StatusCode == http.StatusTooManyRequests:
		atomic.AddInt32(&results.RateLimited, 1)
	default:
		logger.Warn("unexpected status", zap.Int("status", resp.StatusCode), zap.Int64("amount", amount))
		atomic.AddInt32(&results.Errors, 1)
	}
}

// report prints the outcome counts and returns whether the run passed.
func report(cfg Config, r Results) bool {
	total := cfg.ConcurrentRequests
	fmt.Println("                    TEST RESULTS")
	fmt.Printf("Duration:                     %v\n", r.Duration)
	fmt.Printf("Requests per second:          %.2f\n", float64(total)/r.Duration.Seconds())
	fmt.Printf("[SUCCESS]      Processed:             %d\n", r.Success)
	fmt.Printf("[CACHED]       Replayed:              %d\n", r.Replayed)
	fmt.Printf("[BLOCKED]      Conflicts:             %d\n", r.Conflict)
	fmt.Printf("[DECLINED]     Insufficient balance:  %d\n", r.Insufficient)
	fmt.Printf("[RATE LIMITED] Duplicate fingerprint: %d\n", r.RateLimited)
	fmt.Printf("[ERROR]        Network/other:         %d\n", r.Errors)

	rejected := r.Replayed + r.Conflict + r.Insufficient + r.RateLimited
	if r.Success == 1 && rejected == int32(total)-1 && r.Errors == 0 {
		fmt.Println("TEST PASSED: exactly one transfer applied")
		return true
	}

	fmt.Println("TEST FAILED")
	if r.Success > 1 {
		fmt.Printf("  * CRITICAL: %d transfers applied, double spending detected\n", r.Success)
	}
	if r.Success == 0 {
		fmt.Println("  * No transfer applied")
	}
	if r.Errors > 0 {
		fmt.Printf("  * Network/unexpected errors: %d\n", r.Errors)
	}
	return false
}

// verify checks non-negativity and conservation against the database.
func verify(ctx context.Context, conn *sql.DB, cfg Config, initial int64, r Results) bool {
	var from, to int64
	q := "SELECT balance FROM balances WHERE account_no = $1"
	if err := conn.QueryRowContext(ctx, q, cfg.From).Scan(&from); err != nil {
		fmt.Printf("  * verify: %v\n", err)
		return false
	}
	if err := conn.QueryRowContext(ctx, q, cfg.To).Scan(&to); err != nil {
		fmt.Printf("  * verify: %v\n", err)
		return false
	}

	fmt.Printf("Final balances: %s=%d %s=%d\n", cfg.From, from, cfg.To, to)
	ok := true
	if from < 0 || to < 0 {
		fmt.Println("  * CRITICAL: negative balance")
		ok = false
	}
	if from+to != initial {
		fmt.Printf("  * CRITICAL: money not conserved (%d != %d)\n", from+to, initial)
		ok = false
	}
	if r.Success == 0 && to != 0 {
		fmt.Println("  * CRITICAL: credit without a reported success")
		ok = false
	}
	return ok
}
