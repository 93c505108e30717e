package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finsight-labs/filingrag/internal/api/handlers"
	"github.com/finsight-labs/filingrag/internal/chunker"
	"github.com/finsight-labs/filingrag/internal/config"
	"github.com/finsight-labs/filingrag/internal/database"
	"github.com/finsight-labs/filingrag/internal/edgar"
	"github.com/finsight-labs/filingrag/internal/index"
	"github.com/finsight-labs/filingrag/internal/jobs"
	"github.com/finsight-labs/filingrag/internal/openai"
	"github.com/finsight-labs/filingrag/internal/server"
	"github.com/finsight-labs/filingrag/internal/storage"
	"github.com/finsight-labs/filingrag/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the filingrag API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-refresh", false, "Disable the background freshness worker")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: cfg.SentrySampleRate,
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

	if !cfg.HasOpenAI() {
		return fmt.Errorf("FILINGRAG_OPENAI_API_KEY is required to build and query indexes")
	}

	edgarClient := edgar.NewClient(edgar.ClientConfig{UserAgent: cfg.SECUserAgent})
	locator := edgar.NewLocator(edgarClient)
	fetcher := edgar.NewFetcher(edgarClient)

	splitter, err := chunker.New(chunker.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	embedder := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})

	store, cleanup, err := buildStore(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	manager := index.NewManager(locator, fetcher, splitter, embedder, store).
		WithBuildTimeout(cfg.BuildTimeout)

	var refreshWorker *jobs.Worker
	noRefresh, _ := cmd.Flags().GetBool("no-refresh")
	if cfg.RefreshInterval > 0 && !noRefresh {
		refreshWorker = jobs.NewWorker(jobs.NewRefreshWorker(manager), cfg.RefreshInterval)
		go refreshWorker.Start(ctx)
		log.Printf("freshness worker started (interval: %v)", cfg.RefreshInterval)
	}

	router := server.NewRouter(server.RouterConfig{
		FilingHandler: handlers.NewFilingHandler(manager),
		APIKeys:       cfg.APIKeys,
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

	if refreshWorker != nil {
		refreshWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// buildStore selects the index store backend: Postgres with pgvector when
// DATABASE_URL is configured, otherwise local disk snapshots with an
// optional S3 archive behind them.
func buildStore(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (index.Store, func(), error) {
	if cfg.HasDatabase() {
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Println("connected to database")

		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			if err := runMigrations(cfg.DatabaseURL); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		return index.NewPgStore(pool, cfg.EmbeddingDimensions), pool.Close, nil
	}

	if cfg.HasS3() {
		archive, err := storage.NewS3Archive(ctx, storage.S3ArchiveConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create S3 archive: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)

		store, err := index.NewDiskStoreWithArchive(cfg.DataDir, archive)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create disk store: %w", err)
		}
		return store, func() {}, nil
	}

	store, err := index.NewDiskStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create disk store: %w", err)
	}
	return store, func() {}, nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
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
	log.Printf("migrations applied (version: %d, dirty: %v)", version, dirty)

	return nil
}
