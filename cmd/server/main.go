package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/chat-relay/internal/auth"
	"github.com/omochice/chat-relay/internal/blob"
	"github.com/omochice/chat-relay/internal/chat"
	"github.com/omochice/chat-relay/internal/config"
	"github.com/omochice/chat-relay/internal/server"
	"github.com/omochice/chat-relay/internal/store"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides CHATRELAY_ADDR)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	db, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, err := blob.New(cfg.UploadsDir)
	if err != nil {
		logger.Error("open blob store", "error", err)
		os.Exit(1)
	}

	authSvc := auth.New(cfg.JWTSecret, 0)

	hub := chat.NewHub(chat.Options{
		Verifier:     authSvc,
		Store:        db,
		Blobs:        blobs,
		Logger:       logger,
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		SendBuffer:   cfg.SendBuffer,
	})

	srv := server.New(server.Config{
		Addr:         cfg.Addr,
		ClientOrigin: cfg.ClientOrigin,
		Hub:          hub,
		Auth:         authSvc,
		Store:        db,
		Blobs:        blobs,
		Logger:       logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		srv.Stop()
	}

	logger.Info("server stopped")
}
