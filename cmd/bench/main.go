// README: Lifecycle bench runner; drives escrow, dispatch, cancellation and settlement in-process and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench, err := NewRunner(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer bench.Close()
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "PASS":
			pass++
		case "FAIL":
			fail++
		case "SKIP":
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d store=%s\n", pass, fail, skipped, bench.store)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	DSN            string
	RedisAddr      string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("ERRAND_DB_DSN"), "Postgres DSN; empty runs against the in-memory store")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("ERRAND_REDIS_ADDR"), "Redis address for the pending index")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefaultBool("ERRAND_BENCH_APPLY_MIGRATION", false), "Apply migrations before running")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("ERRAND_BENCH_STRICT", false), "Fail on skipped cases")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("ERRAND_BENCH_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("ERRAND_BENCH_CONCURRENCY", 20), "Concurrent providers per race")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("ERRAND_BENCH_DURATION", 10*time.Second), "Duration for perf cases")
	flag.Parse()
	return cfg
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
