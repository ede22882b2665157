package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmaguirre/mercadoscan/config"
	"github.com/dmaguirre/mercadoscan/scraper"
	"github.com/dmaguirre/mercadoscan/server"
	"github.com/dmaguirre/mercadoscan/store"
)

func main() {
	// .env is optional; explicit environment always wins.
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	mongoDefault := defaultCfg.MongoURI
	if value, ok := config.EnvString("MERCADOSCAN_MONGO_URI"); ok {
		mongoDefault = value
	}
	listenDefault := defaultCfg.ListenAddr
	if value, ok := config.EnvString("MERCADOSCAN_LISTEN_ADDR"); ok {
		listenDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("MERCADOSCAN_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	pageSizeDefault := defaultCfg.PageSize
	if value, ok, err := config.EnvInt("MERCADOSCAN_PAGE_SIZE"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid MERCADOSCAN_PAGE_SIZE: %v\n", err)
		os.Exit(1)
	} else if ok {
		pageSizeDefault = value
	}

	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Listing site base URL")
	pageSize := flag.Int("page-size", pageSizeDefault, "Items per listing page")
	pageDelayMs := flag.Int("page-delay", int(defaultCfg.PageDelay/time.Millisecond), "Delay between pages (milliseconds)")
	timeoutMs := flag.Int("timeout", int(defaultCfg.Timeout/time.Millisecond), "Per-attempt request timeout (milliseconds)")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum fetch retry attempts")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	mongoURI := flag.String("mongo-uri", mongoDefault, "MongoDB connection URI")
	mongoDB := flag.String("mongo-db", defaultCfg.MongoDatabase, "MongoDB database name")
	mongoColl := flag.String("mongo-collection", defaultCfg.MongoCollection, "MongoDB collection name")
	listenAddr := flag.String("listen", listenDefault, "HTTP listen address")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Standalone Prometheus listen address (optional)")
	memoryStore := flag.Bool("memory", false, "Use the in-memory store instead of MongoDB")
	seed := flag.Bool("seed", false, "Wipe the store and insert sample listings on startup")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.BaseURL = *baseURL
	cfg.PageSize = *pageSize
	cfg.PageDelay = time.Duration(*pageDelayMs) * time.Millisecond
	cfg.Timeout = time.Duration(*timeoutMs) * time.Millisecond
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.MongoURI = *mongoURI
	cfg.MongoDatabase = *mongoDB
	cfg.MongoCollection = *mongoColl
	cfg.ListenAddr = *listenAddr
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, *memoryStore)
	if err != nil {
		slog.Error("opening snapshot store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			slog.Error("closing store", slog.Any("error", err))
		}
	}()

	if *seed {
		inserted, err := store.Seed(ctx, st)
		if err != nil {
			slog.Error("seeding store", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("store seeded", slog.Int("records", inserted))
	}

	crawler, err := scraper.NewCrawler(cfg)
	if err != nil {
		slog.Error("initialising crawler", slog.Any("error", err))
		os.Exit(1)
	}

	srv := server.New(cfg, crawler, st)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(crawler.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	go func() {
		slog.Info("listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("base_url", cfg.BaseURL),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics shutdown failed", slog.Any("error", err))
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, memory bool) (store.Store, error) {
	if memory {
		slog.Info("using in-memory snapshot store")
		return store.NewMemoryStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return store.NewMongoStore(connectCtx, cfg)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
