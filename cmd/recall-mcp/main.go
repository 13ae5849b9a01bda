// recall-mcp exposes the conversation memory core to MCP clients over
// stdio. All logging goes to stderr; stdout carries only JSON-RPC frames.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/talvos/recall/internal/accounting"
	"github.com/talvos/recall/internal/api/mcp"
	"github.com/talvos/recall/internal/config"
	"github.com/talvos/recall/internal/engine"
	"github.com/talvos/recall/internal/llm"
	"github.com/talvos/recall/internal/memory"
	"github.com/talvos/recall/internal/storage"
	"github.com/talvos/recall/internal/storage/postgres"
	"github.com/talvos/recall/internal/storage/sqlite"
)

func main() {
	log.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	var store storage.Store
	switch cfg.Storage.Engine {
	case "postgres":
		store, err = postgres.NewStore(cfg.Storage.PostgresDSN, cfg.Memory.EmbeddingDimension)
	default:
		store, err = sqlite.NewStore(cfg.Storage.SQLitePath, cfg.Memory.EmbeddingDimension)
	}
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
	eng, err := engine.NewChatEngine(manager, summarizer, accountant, chatProvider, nil)
	if err != nil {
		log.Fatalf("Failed to initialize chat engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	srv := mcp.NewServer(eng, manager, accountant)
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)
	if err := transport.Serve(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Transport error: %v", err)
	}
}
