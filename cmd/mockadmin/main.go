package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"example.com/better-analytics/internal/logging"
	"example.com/better-analytics/internal/mockadmin"
	"example.com/better-analytics/internal/sqliteutil"
)

func main() {
	var (
		dbPath   = flag.String("db", "mockadmin.db", "path to the mock admin sqlite database file")
		addr     = flag.String("addr", ":8081", "HTTP listen address for the mock admin API")
		token    = flag.String("token", "", "required X-Shopify-Access-Token value (empty accepts any token)")
		logLevel = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	ctx := context.Background()
	logger := logging.New(*logLevel, "json")

	db, err := sqliteutil.Open(*dbPath)
	if err != nil {
		logger.Error("open mock admin db failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := mockadmin.NewStore(db)
	if err := store.Init(ctx); err != nil {
		logger.Error("init mock admin schema failed", "error", err)
		os.Exit(1)
	}

	serverLogger := logger.With("component", "mockadmin.http")
	server := &http.Server{
		Addr:              *addr,
		Handler:           mockadmin.NewServer(store, *token, serverLogger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		serverLogger.Info("mock admin API listening", "addr", *addr, "db", *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLogger.Error("mock admin server error", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(serverLogger, server)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return
	}
	logger.Info("mock admin server stopped")
}
