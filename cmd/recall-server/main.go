package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talvos/recall/internal/accounting"
	"github.com/talvos/recall/internal/backup"
	"github.com/talvos/recall/internal/config"
	"github.com/talvos/recall/internal/engine"
	"github.com/talvos/recall/internal/export"
	"github.com/talvos/recall/internal/llm"
	"github.com/talvos/recall/internal/memory"
	"github.com/talvos/recall/internal/server"
	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/internal/storage/postgres"
	"github.com/talvos/recall/internal/storage/sqlite"
	"github.com/talvos/recall/web/handlers"
)

func main() {
	engineFlag := flag.String("storage", "", "Storage engine: postgres or sqlite (overrides RECALL_STORAGE_ENGINE)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *engineFlag != "" {
		cfg.Storage.Engine = *engineFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	chatProvider, err := llm.NewChatProvider(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize chat provider: %v", err)
	}
	embeddingGen, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}

	embedder, err := memory.NewEmbedder(embeddingGen, cfg.Memory.EmbeddingDimension, cfg.Memory.MaxEmbedChars)
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}
	manager, err := memory.NewManager(store, embedder, cfg.Memory)
	if err != nil {
		log.Fatalf("Failed to initialize memory manager: %v", err)
	}
	summarizer, err := memory.NewSummarizer(store, chatProvider, cfg.Memory.KeepRecent)
	if err != nil {
		log.Fatalf("Failed to initialize summarizer: %v", err)
	}
	accountant, err := accounting.NewAccountant(store)
	if err != nil {
		log.Fatalf("Failed to initialize accountant: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := handlers.NewWebSocketHub()
	eng, err := engine.NewChatEngine(manager, summarizer, accountant, chatProvider, hub)
	if err != nil {
		log.Fatalf("Failed to initialize chat engine: %v", err)
	}

	deps := server.Deps{
		Engine:     eng,
		Manager:    manager,
		Accountant: accountant,
		Exporter:   export.NewExporter(manager),
		Store:      store,
		Health: handlers.HealthResponse{
			Engine:    cfg.Storage.Engine,
			Provider:  chatProvider.Provider(),
			Model:     chatProvider.Model(),
			Dimension: cfg.Memory.EmbeddingDimension,
		},
	}

	addr, err := server.Start(ctx, cfg, deps, hub)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	if cfg.Storage.Engine == "sqlite" && cfg.Storage.BackupDir != "" {
		backupSvc, err := backup.NewService(backup.Config{
			DBPath:   cfg.Storage.SQLitePath,
			Dir:      cfg.Storage.BackupDir,
			Interval: time.Duration(cfg.Storage.BackupIntervalMin) * time.Minute,
			Keep:     cfg.Storage.BackupKeep,
			Verify:   true,
		})
		if err != nil {
			log.Fatalf("Failed to initialize backup service: %v", err)
		}
		go func() {
			if err := backupSvc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("Backup service stopped: %v", err)
			}
		}()
	}

	log.Printf("recall server running at http://%s (storage=%s provider=%s model=%s)",
		addr, cfg.Storage.Engine, chatProvider.Provider(), chatProvider.Model())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN, cfg.Memory.EmbeddingDimension)
	default:
		return sqlite.NewStore(cfg.Storage.SQLitePath, cfg.Memory.EmbeddingDimension)
	}
}
