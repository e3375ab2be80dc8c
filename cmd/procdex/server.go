package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mpetrov/procdex/internal/api"
	"github.com/mpetrov/procdex/internal/chat"
	"github.com/mpetrov/procdex/internal/composer"
	"github.com/mpetrov/procdex/internal/config"
	"github.com/mpetrov/procdex/internal/ingest"
	"github.com/mpetrov/procdex/internal/llm"
	"github.com/mpetrov/procdex/internal/retrieval"
	"github.com/mpetrov/procdex/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the procdex server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

// app wires the service graph from config. The caller owns closing the store.
type app struct {
	cfg      config.Config
	store    *storage.Store
	client   *llm.Client
	search   *retrieval.Retriever
	answerer *chat.Service
	batcher  *ingest.Batcher
	pipeline *ingest.Pipeline
}

func buildApp() (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	client := llm.New(llm.Options{
		APIKey:     cfg.OpenAI.APIKey,
		ChatModel:  cfg.OpenAI.ChatModel,
		EmbedModel: cfg.OpenAI.EmbedModel,
		Dimension:  cfg.OpenAI.EmbedDimension,
	})
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("no OpenAI API key configured, running in lexical-only mode")
	}

	index := retrieval.NewSectionIndex(store.DB())
	lexical := retrieval.NewLexicalSearch(store.DB(), cfg.Retrieval.LexicalScore)
	retriever := retrieval.NewRetriever(client, index, lexical, retrieval.Defaults{
		Limit:     cfg.Retrieval.Limit,
		Threshold: cfg.Retrieval.Threshold,
	})

	comp := composer.New(0, cfg.Chat.MaxHistoryTurns)
	answerer := chat.NewService(retriever, client, comp, chat.Limits{
		MaxMessageLen: cfg.Chat.MaxMessageLen,
		MaxTokens:     cfg.Chat.MaxTokens,
	})

	return &app{
		cfg:      cfg,
		store:    store,
		client:   client,
		search:   retriever,
		answerer: answerer,
		batcher:  ingest.NewBatcher(store, client, cfg.Ingest.EmbedDelay),
		pipeline: ingest.NewPipeline(store, client),
	}, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "procdex version %s\n", version)

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if a.cfg.Server.APIToken == "" {
		return fmt.Errorf("no API token configured, set PROCDEX_API_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewHandler(api.Deps{
		Store:    a.store,
		Search:   a.search,
		Chat:     a.answerer,
		Embedder: a.batcher,
		Ingester: a.pipeline,
		Token:    a.cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "procdex listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Search: a.search,
		Chat:   a.answerer,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
