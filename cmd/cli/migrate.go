package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/karacommerce/catalog-migrator/internal/kara"
	"github.com/karacommerce/catalog-migrator/internal/metrics"
	"github.com/karacommerce/catalog-migrator/internal/migrate"
	"github.com/karacommerce/catalog-migrator/internal/staging"
	"github.com/karacommerce/catalog-migrator/internal/statusapi"
	"github.com/karacommerce/catalog-migrator/internal/storage"
	"github.com/karacommerce/catalog-migrator/internal/telemetry"
)

var (
	migrateClean          bool
	migrateSkipCategories bool
	migrateSkipProducts   bool
	migrateSkipMedia      bool
	migrateBatchSize      int
	migrateDownloadImages bool
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the catalog migration pipeline",
	Long: `Run the full catalog migration: categories first, then products, then media
files. Each stage records its progress in the migration ledger and tolerates
per-entity failures; a stage that hits errors is marked accordingly and the
next stage still runs.

Use --clean to drop and recreate the staging schema before migrating.`,
	Example: `  catalog-migrator migrate
  catalog-migrator migrate --clean
  catalog-migrator migrate --skip-categories --skip-products --download-images`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateClean, "clean", false, "Drop and recreate the staging schema before migrating")
	migrateCmd.Flags().BoolVar(&migrateSkipCategories, "skip-categories", false, "Skip the category stage")
	migrateCmd.Flags().BoolVar(&migrateSkipProducts, "skip-products", false, "Skip the product stage")
	migrateCmd.Flags().BoolVar(&migrateSkipMedia, "skip-media", false, "Skip the media stage")
	migrateCmd.Flags().IntVar(&migrateBatchSize, "batch-size", 0, "Product page size (default from config)")
	migrateCmd.Flags().BoolVar(&migrateDownloadImages, "download-images", false, "Download media files to local storage")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer staging.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.ConfigFromEnv())
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry disabled")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Telemetry shutdown failed")
			}
		}()
	}

	store := staging.NewStore(staging.Pool(), *logger)

	if err := store.InitializeSchema(ctx, migrateClean); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	logger.Info().Bool("clean", migrateClean).Msg("Staging schema ready")

	client := kara.New(kara.Config{
		BaseURL:    cfg.Source.BaseURL,
		Username:   cfg.Source.Username,
		Password:   cfg.Source.Password,
		Timeout:    cfg.Source.Timeout,
		MaxRetries: cfg.Source.MaxRetries,
	}, *logger)

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication against source API failed: %w", err)
	}
	logger.Info().Msg("Authenticated against source API")

	downloadImages := cfg.Migration.DownloadImages || migrateDownloadImages

	var mediaStore storage.MediaStore
	if downloadImages {
		local, err := storage.NewLocalMediaStore(cfg.Media.BasePath)
		if err != nil {
			return fmt.Errorf("media storage initialization failed: %w", err)
		}
		mediaStore = local
		logger.Info().Str("path", local.BasePath()).Msg("Media storage ready")
	}

	batchSize := cfg.Migration.BatchSize
	if migrateBatchSize > 0 {
		batchSize = migrateBatchSize
	}

	promMetrics := metrics.New()
	tracker := migrate.NewStatusTracker(*logger, promMetrics)

	migrator := migrate.New(client, store, mediaStore, tracker, migrate.Config{
		BatchSize:      batchSize,
		SkipCategories: migrateSkipCategories,
		SkipProducts:   migrateSkipProducts,
		SkipMedia:      migrateSkipMedia,
		DownloadImages: downloadImages,
		MediaBaseURL:   cfg.Media.BaseURL,
	}, *logger)

	g, runCtx := errgroup.WithContext(ctx)

	var api *statusapi.Server
	if cfg.Status.Enabled {
		api = statusapi.New(cfg.Status.Port, tracker, promMetrics, *logger)
		g.Go(api.Start)
	}

	g.Go(func() error {
		defer func() {
			if api != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := api.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("Status API shutdown failed")
				}
			}
		}()
		return migrator.Run(runCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Migration aborted")
		return err
	}

	tracker.PrintSummary(os.Stdout)
	logger.Info().Dur("elapsed", tracker.Elapsed()).Msg("Migration finished")

	return nil
}
