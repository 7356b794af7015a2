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

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/kgsearch"
	"github.com/brunobiangulo/kgsearch/mcpserver"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	transport := flag.String("transport", "stdio", "Transport mode: stdio or http")
	addr := flag.String("addr", ":8081", "Listen address (only used with --transport http)")
	flag.Parse()

	// stdout carries the MCP stream; log to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	cfg, err := kgsearch.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch *transport {
	case "stdio":
		slog.Info("kgsearch MCP server starting (stdio)")
		if err := mcpserver.New(engine).Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case "http":
		// A new server per client session gives each client its own selection.
		handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpserver.New(engine)
		}, nil)
		srv := &http.Server{Addr: *addr, Handler: handler}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		slog.Info("kgsearch MCP server listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("unknown transport (use stdio or http)", "transport", *transport)
		os.Exit(1)
	}
}
