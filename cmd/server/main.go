package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/brunobiangulo/kgsearch"
	"github.com/brunobiangulo/kgsearch/metrics"
)

// serverConfig holds settings of the HTTP surface only.
type serverConfig struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	APIKey      string `env:"API_KEY"`
	CORSOrigins string `env:"CORS_ORIGINS"`
}

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", "", "Listen address (overrides KGSEARCH_ADDR)")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// A missing .env file is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	cfg, err := kgsearch.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	var srvCfg serverConfig
	if err := env.ParseWithOptions(&srvCfg, env.Options{Prefix: kgsearch.EnvPrefix}); err != nil {
		slog.Error("parsing server config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		srvCfg.Addr = *addr
	}

	engine, err := kgsearch.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.Start(); err != nil {
		slog.Error("starting summary refresh", "error", err)
		os.Exit(1)
	}

	h := newHandler(engine)
	mux := h.routes()
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:        srvCfg.Addr,
		Handler:     chain(mux, srvCfg.APIKey, srvCfg.CORSOrigins),
		ReadTimeout: 30 * time.Second,
		// re-summarising a large graph can take minutes
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", srvCfg.Addr, "store", cfg.Store.Backend, "database", engine.DefaultDatabase())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
