package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/lunacd/vorg/internal/config"
	"github.com/lunacd/vorg/internal/handlers"
	"github.com/lunacd/vorg/internal/repo"
	"github.com/lunacd/vorg/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	// A corrupted store is fatal: the server must not bind a listener on top
	// of a database it cannot trust.
	repository, err := repo.Open(cfg.RepoRoot)
	if err != nil {
		log.Fatalf("Failed to open repository: %v", err)
	}
	defer func() {
		_ = repository.Close()
	}()
	slog.Info("Repository opened", "root", cfg.RepoRoot)

	engine := server.New(slog.Default())
	engine.RegisterHandler("GET", "/", handlers.Root)
	engine.RegisterHandler("GET", "/collections",
		handlers.NewCollectionsHandler(repository.Store()).Handle)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Starting vorg server", "addr", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
