// Package main runs the arbitrage edge service: the cached public API for
// opportunities and asset safety, the gated engine proxy, and the engine
// WebSocket feed that keeps the opportunity store warm.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"arb-edge/internal/aggregate"
	"arb-edge/internal/cache"
	"arb-edge/internal/engine"
	"arb-edge/internal/httpapi"
	"arb-edge/internal/observability"
	"arb-edge/internal/proxy"
	"arb-edge/internal/ratelimit"
	"arb-edge/internal/safety"
	"arb-edge/internal/storage"
	chstore "arb-edge/internal/storage/clickhouse"
	"arb-edge/internal/storage/memory"
	"arb-edge/internal/storage/migrations"
	pgstore "arb-edge/internal/storage/postgres"
)

type stores struct {
	opportunities storage.OpportunityStore
	assetSafety   storage.AssetSafetyStore
	history       storage.OpportunityHistoryStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen", envOr("LISTEN_ADDR", ":8080"), "API listen address")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	engineURL := flag.String("engine-url", os.Getenv("ENGINE_URL"), "Engine HTTP base URL")
	engineWSURL := flag.String("engine-ws-url", os.Getenv("ENGINE_WS_URL"), "Engine WebSocket feed URL (optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional, enables archival)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	proxyAllow := flag.String("proxy-allow", envOr("PROXY_ALLOW", ""), "Comma-separated path prefixes the engine proxy may forward")

	oppTTL := flag.Duration("opportunities-ttl", 5*time.Second, "Opportunities cache freshness window")
	oppSWR := flag.Duration("opportunities-swr", 30*time.Second, "Opportunities stale-while-revalidate window")
	safetyTTL := flag.Duration("safety-ttl", 5*time.Minute, "Safety cache freshness window")
	safetySWR := flag.Duration("safety-swr", 30*time.Minute, "Safety stale-while-revalidate window")

	oppRate := flag.Int("opportunities-rate", 60, "Opportunities requests per client per minute (0 disables)")
	safetyRate := flag.Int("safety-rate", 30, "Safety requests per client per minute (0 disables)")
	proxyRate := flag.Int("proxy-rate", 20, "Proxy requests per client per minute (0 disables)")

	retention := flag.Duration("opportunity-retention", 24*time.Hour, "Age after which persisted opportunities are deleted (0 disables)")
	retentionInterval := flag.Duration("retention-interval", time.Hour, "How often the retention sweep runs")

	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *engineURL == "" {
		logger.Fatal("--engine-url is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("")

	st, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatal("create stores", zap.Error(err))
	}
	defer cleanup()

	engineClient, err := engine.NewClient(*engineURL, nil)
	if err != nil {
		logger.Fatal("create engine client", zap.Error(err))
	}

	scorer := safety.NewScorer(engineClient, safety.ScorerOptions{
		Store:   st.assetSafety,
		Logger:  logger.Named("safety"),
		Metrics: metrics,
	})
	aggregator := aggregate.NewAggregator(scorer, logger.Named("aggregate"))

	var archiver *aggregate.Archiver
	if st.history != nil {
		archiver = aggregate.NewArchiver(st.history, aggregate.ArchiverOptions{
			Logger:  logger.Named("archive"),
			Metrics: metrics,
		})
		defer archiver.Close()
	}

	limiter := ratelimit.NewLimiter(ratelimit.Options{Logger: logger.Named("ratelimit")})

	gateway := cache.NewGateway(cache.NewStore(0), cache.GatewayOptions{
		Logger:  logger.Named("cache"),
		Metrics: metrics,
	})
	defer gateway.Close()

	upstreamURL, err := url.Parse(*engineURL)
	if err != nil {
		logger.Fatal("parse engine url", zap.Error(err))
	}
	engineProxy := proxy.New(upstreamURL, proxy.Options{
		AllowedPaths: splitList(*proxyAllow),
		Limiter:      limiter,
		Rule:         perMinuteRule(*proxyRate),
		Logger:       logger.Named("proxy"),
		Metrics:      metrics,
	})

	var feed *engine.Feed
	if *engineWSURL != "" {
		feed = engine.NewFeed(*engineWSURL, st.opportunities, nil, logger.Named("feed"), metrics)
		defer feed.Close()
	}

	if *retention > 0 {
		go runRetention(ctx, st.opportunities, *retention, *retentionInterval, logger.Named("retention"))
	}

	api := httpapi.NewServer(httpapi.ServerOptions{
		Opportunities: st.opportunities,
		Live:          engineClient,
		Aggregator:    aggregator,
		Archiver:      archiver,
		Safety:        scorer,
		Gateway:       gateway,
		Limiter:       limiter,
		Rules: httpapi.RouteRules{
			Opportunities: perMinuteRule(*oppRate),
			Safety:        perMinuteRule(*safetyRate),
		},
		CachePolicy: httpapi.CachePolicy{
			OpportunitiesTTL: *oppTTL,
			OpportunitiesSWR: *oppSWR,
			SafetyTTL:        *safetyTTL,
			SafetySWR:        *safetySWR,
		},
		Proxy:   engineProxy.Handler("/engine"),
		Logger:  logger.Named("http"),
		Metrics: metrics,
	})

	apiServer := &http.Server{
		Addr:              *listenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              *metricsAddr,
		Handler:           metricsMux(metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api listening", zap.String("addr", *listenAddr))
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics listening", zap.String("addr", *metricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}
	cancel()

	go func() {
		// Second signal forces immediate shutdown.
		sig := <-sigCh
		logger.Warn("received second signal, forcing immediate shutdown", zap.Stringer("signal", sig))
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// createStores wires the storage backends: PostgreSQL for opportunities and
// safety records, ClickHouse for the history archive, or all in-memory.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *zap.Logger) (*stores, func(), error) {
	if useMemory {
		return &stores{
			opportunities: memory.NewOpportunityStore(),
			assetSafety:   memory.NewAssetSafetyStore(),
			history:       memory.NewOpportunityHistoryStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	st := &stores{
		opportunities: pgstore.NewOpportunityStore(pool),
		assetSafety:   pgstore.NewAssetSafetyStore(pool),
	}
	cleanup := func() { pool.Close() }

	if clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			conn.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		st.history = chstore.NewOpportunityHistoryStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	} else {
		logger.Info("clickhouse dsn not set, history archival disabled")
	}

	return st, cleanup, nil
}

// runRetention periodically deletes persisted opportunities older than the
// retention window. The WebSocket feed repopulates the store, so the sweep
// only sheds records the engine no longer cares about.
func runRetention(ctx context.Context, store storage.OpportunityStore, retention, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention).UnixMilli()
			removed, err := store.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				logger.Warn("retention sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("retention sweep removed records", zap.Int64("removed", removed))
			}
		}
	}
}

func metricsMux(metrics *observability.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func perMinuteRule(tokens int) *ratelimit.Rule {
	if tokens <= 0 {
		return nil
	}
	return &ratelimit.Rule{WindowMs: 60_000, Tokens: tokens}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads .env from the working directory without overriding
// already-set environment variables.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
