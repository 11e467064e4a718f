// Package admin holds the daemon-side commands of tesserad.
package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	openaisdk "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/api/handlers"
	"github.com/tessera-labs/tessera/internal/config"
	"github.com/tessera-labs/tessera/internal/corpus"
	"github.com/tessera-labs/tessera/internal/database"
	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/hashembed"
	"github.com/tessera-labs/tessera/internal/jobs"
	"github.com/tessera-labs/tessera/internal/ollama"
	"github.com/tessera-labs/tessera/internal/openai"
	"github.com/tessera-labs/tessera/internal/ratelimit"
	"github.com/tessera-labs/tessera/internal/safety"
	"github.com/tessera-labs/tessera/internal/server"
	"github.com/tessera-labs/tessera/internal/service"
	"github.com/tessera-labs/tessera/internal/storage"
	badgerstore "github.com/tessera-labs/tessera/internal/storage/badger"
	pgstore "github.com/tessera-labs/tessera/internal/storage/postgres"
	"github.com/tessera-labs/tessera/internal/storage/sqlite"
	"github.com/tessera-labs/tessera/internal/telemetry"

	anthropicclient "github.com/tessera-labs/tessera/internal/anthropic"
)

// indexBackend is the full surface the server needs from a vector store.
// Both the embedded Badger backend and the pgvector backend satisfy it.
type indexBackend interface {
	service.VectorIndex
	service.EntrySource
	Document(ctx context.Context, id string) (*domain.DocumentRecord, error)
	Documents(ctx context.Context, afterID string, limit int) ([]domain.DocumentRecord, error)
	ReplaceDocument(ctx context.Context, doc domain.DocumentRecord, entries []domain.IndexEntry) error
	DeleteDocument(ctx context.Context, id string) error
	Stats(ctx context.Context) (domain.IndexStats, error)
	Close() error
}

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the tessera API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup (postgres backend only)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		// Default to 10% sampling outside development
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	store, err := openStore(ctx, cfg, noMigrate)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("vector index ready (backend: %s)", cfg.StoreBackend)

	var lexical *sqlite.Index
	if cfg.LexicalEnabled {
		lexical, err = sqlite.Open(filepath.Join(cfg.DataDir, "lexical.db"))
		if err != nil {
			return fmt.Errorf("failed to open lexical index: %w", err)
		}
		defer lexical.Close()
		log.Println("lexical index ready")
	}

	embedClient, err := buildEmbeddingClient(cfg)
	if err != nil {
		return err
	}
	if cfg.EmbedTimeout > 0 {
		embedClient = &embedTimeoutClient{client: embedClient, timeout: cfg.EmbedTimeout}
	}
	embedSvc := service.NewEmbeddingServiceWithOptions(
		embedClient,
		ratelimit.New(cfg.EmbedRPS, 1),
		cfg.EmbedBatchSize,
	)

	searcher, err := buildSearcher(cfg, store, lexical)
	if err != nil {
		return err
	}
	retriever := service.NewRetrievalService(embedSvc, searcher, service.RetrievalConfig{
		TopK:           cfg.TopK,
		PoolMultiplier: cfg.PoolMultiplier,
		Lambda:         cfg.MMRLambda,
		SearchTimeout:  cfg.SearchTimeout,
	})

	defaultChat, chatClients, err := buildChatClients(cfg)
	if err != nil {
		return err
	}
	generator := service.NewGenerationServiceWithProviders(
		defaultChat,
		chatClients,
		ratelimit.New(cfg.LLMRPS, 1),
		service.GenerationConfig{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		},
	)

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return err
	}

	var lexicalWriter service.LexicalWriter
	if lexical != nil {
		lexicalWriter = lexical
	}

	pipeline := service.NewPipeline(classifier, retriever, generator, embedSvc, store, lexicalWriter, service.PipelineConfig{
		Chunking: service.ChunkConfig{
			MaxChars: cfg.ChunkSize,
			Overlap:  cfg.ChunkOverlap,
			MinChars: cfg.ChunkMin,
		},
		Concurrency:  cfg.IngestConcurrency,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Debug:        cfg.Debug,
	})

	source, err := buildCorpusSource(ctx, cfg)
	if err != nil {
		return err
	}

	var syncer *jobs.CorpusSyncer
	var worker *jobs.Worker
	var watcher *corpus.Watcher
	if source != nil {
		syncer = jobs.NewCorpusSyncer(source, pipeline, store)

		go func() {
			if err := syncer.Process(ctx); err != nil {
				log.Printf("initial sync failed: %v", err)
			}
		}()

		if cfg.SyncInterval > 0 {
			worker = jobs.NewWorker(syncer, cfg.SyncInterval)
			go worker.Start(ctx)
			log.Println("sync worker started")
		}

		if cfg.Watch && cfg.DocDir != "" {
			watcher, err = corpus.NewWatcher(cfg.DocDir, 0, func() {
				if err := syncer.Process(context.Background()); err != nil {
					log.Printf("watch sync failed: %v", err)
				}
			})
			if err != nil {
				return fmt.Errorf("failed to watch corpus directory: %w", err)
			}
			go watcher.Start(ctx)
		}
	}

	var sysSyncer handlers.Syncer
	if syncer != nil {
		sysSyncer = syncer
	}

	router := server.NewRouter(server.RouterConfig{
		QueryHandler:     handlers.NewQueryHandler(pipeline),
		DocumentsHandler: handlers.NewDocumentsHandler(pipeline, store),
		SystemHandler: handlers.NewSystemHandler(store, sysSyncer, handlers.SystemInfo{
			Backend:           cfg.StoreBackend,
			EmbeddingProvider: cfg.EmbeddingProvider,
			LLMProvider:       cfg.LLMProvider,
			SearchMode:        effectiveSearchMode(cfg, lexical),
		}),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if watcher != nil {
		watcher.Stop()
	}
	if worker != nil {
		worker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, noMigrate bool) (indexBackend, error) {
	switch cfg.StoreBackend {
	case "badger":
		store, err := badgerstore.Open(filepath.Join(cfg.DataDir, "index"))
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
		return store, nil

	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "TESSERA_DATABASE_URL is required for the postgres backend")
		}
		if !noMigrate {
			if err := runMigrations(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return pgstore.New(pool), nil

	default:
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, fmt.Sprintf("unknown store backend %q", cfg.StoreBackend))
	}
}

func buildEmbeddingClient(cfg *config.Config) (service.EmbeddingClient, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		if !cfg.HasOpenAI() {
			return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "TESSERA_OPENAI_API_KEY is required for the openai embedding provider")
		}
		return openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      openaiEmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			ChatModel:           cfg.ChatModel,
		}), nil

	case "local", "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL:    cfg.OllamaURL,
			EmbedModel: cfg.OllamaEmbedModel,
			ChatModel:  cfg.OllamaChatModel,
			Dimensions: cfg.EmbeddingDimensions,
		}), nil

	case "hash":
		return hashembed.New(cfg.EmbeddingDimensions), nil

	default:
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, fmt.Sprintf("unknown embedding provider %q", cfg.EmbeddingProvider))
	}
}

// buildChatClients returns the default chat client plus every provider that
// has credentials configured, keyed by the names accepted in query requests.
func buildChatClients(cfg *config.Config) (service.ChatClient, map[string]service.ChatClient, error) {
	clients := make(map[string]service.ChatClient)

	if cfg.HasOpenAI() {
		clients["openai"] = openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      openaiEmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			ChatModel:           cfg.ChatModel,
		})
	}
	if cfg.HasAnthropic() {
		client := anthropicclient.NewClientWithConfig(anthropicclient.Config{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		})
		clients["claude"] = client
		clients["anthropic"] = client
	}

	local := ollama.NewClient(ollama.Config{
		BaseURL:    cfg.OllamaURL,
		EmbedModel: cfg.OllamaEmbedModel,
		ChatModel:  cfg.OllamaChatModel,
		Dimensions: cfg.EmbeddingDimensions,
	})
	clients["local"] = local
	clients["ollama"] = local

	if cfg.LLMTimeout > 0 {
		for name, client := range clients {
			clients[name] = &chatTimeoutClient{client: client, timeout: cfg.LLMTimeout}
		}
	}

	defaultClient, ok := clients[cfg.LLMProvider]
	if !ok {
		return nil, nil, domain.NewDomainError(domain.ErrCodeConfiguration, fmt.Sprintf("LLM provider %q is unknown or has no credentials configured", cfg.LLMProvider))
	}
	return defaultClient, clients, nil
}

// embedTimeoutClient caps every embedding call at the configured timeout.
type embedTimeoutClient struct {
	client  service.EmbeddingClient
	timeout time.Duration
}

func (c *embedTimeoutClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.EmbedBatch(ctx, texts)
}

func (c *embedTimeoutClient) Dimensions() int {
	return c.client.Dimensions()
}

// chatTimeoutClient caps every chat completion at the configured timeout.
type chatTimeoutClient struct {
	client  service.ChatClient
	timeout time.Duration
}

func (c *chatTimeoutClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Chat(ctx, req)
}

func buildClassifier(cfg *config.Config) (service.Classifier, error) {
	switch cfg.SafetyClassifier {
	case "keyword":
		return safety.NewKeywordMatcher(cfg.SafetyKeywords), nil

	case "statistical":
		return safety.NewStatisticalClassifier(nil, 0), nil

	case "policy":
		if cfg.SafetyPolicyFile == "" {
			return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "TESSERA_SAFETY_POLICY_FILE is required for the policy classifier")
		}
		policy, err := safety.LoadPolicy(cfg.SafetyPolicyFile)
		if err != nil {
			return nil, err
		}
		engine, err := safety.NewPolicyEngine(policy)
		if err != nil {
			return nil, err
		}
		return engine, nil

	default:
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, fmt.Sprintf("unknown safety classifier %q", cfg.SafetyClassifier))
	}
}

func buildSearcher(cfg *config.Config, store indexBackend, lexical *sqlite.Index) (service.Searcher, error) {
	vector := service.NewVectorSearcher(store)

	switch cfg.SearchMode {
	case "vector":
		return vector, nil

	case "lexical":
		if lexical == nil {
			return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "lexical search mode requires TESSERA_LEXICAL_ENABLED=true")
		}
		// Keyword hits carry no embeddings, so they are hydrated from the
		// vector store before MMR re-ranking.
		return service.NewHydratingSearcher(service.NewLexicalSearcher(lexical), store), nil

	case "hybrid":
		if lexical == nil {
			return vector, nil
		}
		return service.NewHybridSearcher(vector, service.NewLexicalSearcher(lexical), store), nil

	default:
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, fmt.Sprintf("unknown search mode %q", cfg.SearchMode))
	}
}

// buildCorpusSource picks where documents come from: a local directory when
// DOC_DIR is set, otherwise S3 when object storage is configured, otherwise
// nothing (API ingestion only).
func buildCorpusSource(ctx context.Context, cfg *config.Config) (jobs.DocumentSource, error) {
	if cfg.DocDir != "" {
		log.Printf("corpus source: directory %s", cfg.DocDir)
		return corpus.NewLoader(cfg.DocDir), nil
	}

	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("corpus source: s3 bucket %q prefix %q", cfg.S3Bucket, cfg.S3Prefix)
		return corpus.NewS3Source(s3Client, cfg.S3Bucket, cfg.S3Prefix), nil
	}

	return nil, nil
}

func effectiveSearchMode(cfg *config.Config, lexical *sqlite.Index) string {
	if cfg.SearchMode == "hybrid" && lexical == nil {
		return "vector"
	}
	return cfg.SearchMode
}

func openaiEmbeddingModel(model string) openaisdk.EmbeddingModel {
	return openaisdk.EmbeddingModel(model)
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
