package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/circuitscope/internal/api"
	"github.com/gyaneshwarpardhi/circuitscope/internal/catalog"
	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/expand"
	"github.com/gyaneshwarpardhi/circuitscope/internal/graph"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve graph data and run a debugging session over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	return cmd
}

func serve(addr string) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()
	if addr == "" {
		addr = cfg.Server.Addr
	}

	// ── Build catalog ─────────────────────────────────────────────────────────
	cat, err := catalog.Load(cfg)
	if err != nil {
		return err
	}
	live := catalog.NewLive(cat)
	slog.Info("catalog built", "templates", len(cat.Names()), "main", cat.Main())

	// ── Session ───────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fetcher expand.Fetcher = live
	if cfg.Session.BackendURL != "" {
		client, err := newClient(cfg.Session.BackendURL, cfg.Session)
		if err != nil {
			return err
		}
		fetcher = client
		slog.Info("expanding from remote backend", "url", cfg.Session.BackendURL)
	}
	store := graph.NewStore()
	ctrl := expand.New(ctx, store, fetcher, cfg.Session)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		c, err := live.Reload(newCfg)
		if err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		slog.Info("catalog hot-reloaded", "templates", len(c.Names()))
	})
	var watchAlso []string
	if len(cfg.Catalog.Templates) == 0 && cfg.Source.Path != "" {
		watchAlso = append(watchAlso, cfg.Source.Path)
	}
	stopWatch, err := loader.Watch(watchAlso...)
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	// Request contexts derive from reqCtx so that Shutdown ends open event
	// streams instead of waiting on them.
	reqCtx, endRequests := context.WithCancel(ctx)
	defer endRequests()
	srv := &http.Server{
		Addr:        addr,
		Handler:     api.New(loader, live, store, ctrl),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return reqCtx },
	}
	srv.RegisterOnShutdown(endRequests)

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// The in-process catalog is served by this same process, so the root is
	// loaded only once the listener is up.
	go func() {
		if _, err := ctrl.Load(ctx, cfg.Session.Root); err != nil {
			slog.Error("initial load failed", "component", cfg.Session.Root, "err", err)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel()
	ctrl.Shutdown()
	slog.Info("goodbye")
	return nil
}
