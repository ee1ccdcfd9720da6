package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gymdesk/internal/client"
	"gymdesk/internal/config"
	"gymdesk/internal/drill"
	"gymdesk/internal/logger"
)

func main() {
	var (
		baseURL     = flag.String("url", envOr("GYMDESK_DRILL_URL", "http://localhost:8080"), "gymdesk server URL")
		username    = flag.String("user", os.Getenv("GYMDESK_DRILL_USER"), "staff username")
		password    = flag.String("password", os.Getenv("GYMDESK_DRILL_PASSWORD"), "staff password")
		concurrency = flag.Int("concurrency", 50, "simultaneous requests per storm")
		members     = flag.Int("members", 10, "members in the churn experiment")
		cycles      = flag.Int("cycles", 5, "visits per member in the churn experiment")
		timeout     = flag.Duration("timeout", 2*time.Minute, "overall drill timeout")
	)
	flag.Parse()

	log, err := logger.New(config.LogConfig{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := client.New(*baseURL, nil)
	if _, err := c.Login(ctx, *username, *password); err != nil {
		log.Fatal("login failed", zap.Error(err))
	}

	engine := drill.NewEngine(log)
	engine.RegisterDefaults(drill.HTTPTarget{Client: c}, drill.Settings{
		Concurrency: *concurrency,
		Members:     *members,
		Cycles:      *cycles,
	})

	results, held := engine.RunAll(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)
	if !held {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
