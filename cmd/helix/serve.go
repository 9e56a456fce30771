package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/go-go-golems/helix/pkg/auth"
	"github.com/go-go-golems/helix/pkg/blob"
	"github.com/go-go-golems/helix/pkg/embeddings"
	"github.com/go-go-golems/helix/pkg/engine"
	"github.com/go-go-golems/helix/pkg/history"
	"github.com/go-go-golems/helix/pkg/memory"
	"github.com/go-go-golems/helix/pkg/orchestrator"
	"github.com/go-go-golems/helix/pkg/server"
	"github.com/go-go-golems/helix/pkg/store"
	"github.com/go-go-golems/helix/pkg/tools"
	"github.com/go-go-golems/helix/pkg/vectorstore"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":8080", "address to listen on")
	flags.String("db-dsn", "file:helix.db?mode=rwc", "database DSN (postgres:// or a sqlite file)")
	flags.String("openai-api-key", "", "OpenAI API key")
	flags.String("openai-base-url", "", "OpenAI-compatible API base URL override")
	flags.String("model", "gpt-4o-mini", "default chat model")
	flags.String("strategy", string(orchestrator.StrategyTools), "turn strategy (plain, tools, suggest)")
	flags.String("cohere-api-key", "", "Cohere API key (used for embeddings when set)")
	flags.String("embedding-model", "", "embedding model override")
	flags.String("tavily-api-key", "", "Tavily API key (enables the web search tool)")
	flags.String("weaviate-scheme", "http", "weaviate scheme")
	flags.String("weaviate-host", "", "weaviate host (empty keeps the in-memory index)")
	flags.String("redis-addr", "", "redis address for the embedding cache (empty keeps the LRU cache)")
	flags.String("blob-dir", "helix-files", "directory for locally stored attachments")
	flags.String("gcs-bucket", "", "GCS bucket for attachments (overrides blob-dir)")

	if err := viper.BindPFlags(flags); err != nil {
		log.Fatal().Err(err).Msg("failed to bind serve flags")
	}
	return cmd
}

func runServe(ctx context.Context) error {
	db, err := openDatabase(viper.GetString("db-dsn"))
	if err != nil {
		return err
	}
	s := store.New(db)
	if err := s.AutoMigrate(); err != nil {
		return errors.Wrap(err, "migrate database")
	}

	provider, err := buildEmbeddings()
	if err != nil {
		return err
	}
	memories, err := memory.NewDBStore(db, provider)
	if err != nil {
		return errors.Wrap(err, "build memory store")
	}
	assembler := history.NewAssembler(s, memories)

	index, err := buildVectorIndex(ctx, provider)
	if err != nil {
		return err
	}
	blobs, err := buildBlobStore(ctx)
	if err != nil {
		return err
	}

	apiKey := viper.GetString("openai-api-key")
	if apiKey == "" {
		return errors.New("openai-api-key is required")
	}
	clientConfig := go_openai.DefaultConfig(apiKey)
	if baseURL := viper.GetString("openai-base-url"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	eng := engine.NewOpenAIEngine(go_openai.NewClientWithConfig(clientConfig), viper.GetString("model"))

	registry := tools.NewInMemoryRegistry()
	mustRegister(registry, tools.NewCalculatorTool())
	mustRegister(registry, tools.NewHistorySearchTool(index))
	if tavilyKey := viper.GetString("tavily-api-key"); tavilyKey != "" {
		mustRegister(registry, tools.NewWebSearchTool(tools.NewTavilyClient(tavilyKey)))
	}

	orch := orchestrator.New(s, assembler, eng, registry,
		orchestrator.WithStrategy(orchestrator.Strategy(viper.GetString("strategy"))),
		orchestrator.WithDefaultModel(viper.GetString("model")),
		orchestrator.WithMemories(memories),
		orchestrator.WithVectorIndex(index),
		orchestrator.WithBlobStore(blobs),
	)

	srv := server.New(s, orch, auth.NewHeaderProvider())
	httpServer := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("listen", httpServer.Addr).Msg("starting server")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown did not finish cleanly")
	}
	orch.WaitForSideEffects()
	return nil
}

func openDatabase(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	return db, nil
}

// buildEmbeddings prefers Cohere when a key is configured, falls back to
// OpenAI, and layers a redis or in-process LRU cache on top.
func buildEmbeddings() (embeddings.Provider, error) {
	var provider embeddings.Provider
	if cohereKey := viper.GetString("cohere-api-key"); cohereKey != "" {
		model := viper.GetString("embedding-model")
		if model == "" {
			model = "embed-english-v3.0"
		}
		provider = embeddings.NewCohereProvider(cohereKey, model, 1024)
	} else {
		apiKey := viper.GetString("openai-api-key")
		if apiKey == "" {
			return nil, errors.New("openai-api-key is required for embeddings")
		}
		model := go_openai.EmbeddingModel(viper.GetString("embedding-model"))
		if model == "" {
			model = go_openai.SmallEmbedding3
		}
		provider = embeddings.NewOpenAIProvider(apiKey, model, 1536)
	}

	if redisAddr := viper.GetString("redis-addr"); redisAddr != "" {
		cached, err := embeddings.NewRedisCachedProvider(provider, redisAddr, 24*time.Hour)
		if err != nil {
			return nil, errors.Wrap(err, "connect embedding cache")
		}
		return cached, nil
	}
	return embeddings.NewCachedProvider(provider, 1024), nil
}

func buildVectorIndex(ctx context.Context, provider embeddings.Provider) (vectorstore.Index, error) {
	host := viper.GetString("weaviate-host")
	if host == "" {
		log.Info().Msg("no weaviate host configured, using in-memory vector index")
		return vectorstore.NewInMemoryIndex(provider), nil
	}
	client, err := vectorstore.NewWeaviateClient(viper.GetString("weaviate-scheme"), host)
	if err != nil {
		return nil, errors.Wrap(err, "connect weaviate")
	}
	index := vectorstore.NewWeaviateIndex(client, provider)
	if err := index.EnsureSchema(ctx); err != nil {
		return nil, errors.Wrap(err, "ensure weaviate schema")
	}
	return index, nil
}

func buildBlobStore(ctx context.Context) (blob.Store, error) {
	if bucket := viper.GetString("gcs-bucket"); bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "create GCS client")
		}
		return blob.NewGCSStore(client, bucket), nil
	}
	return blob.NewFilesystemStore(viper.GetString("blob-dir"))
}

func mustRegister(registry tools.Registry, def tools.Definition) {
	if err := registry.RegisterTool(def.Name, def); err != nil {
		log.Fatal().Err(err).Str("tool", def.Name).Msg("failed to register tool")
	}
}
