// Package migrate drives the three-stage catalog migration: categories, then
// products, then media downloads. Stages run strictly sequentially; a stage
// that fails does not stop the stages after it.
package migrate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/karacommerce/catalog-migrator/internal/kara"
	"github.com/karacommerce/catalog-migrator/internal/staging"
	"github.com/karacommerce/catalog-migrator/internal/storage"
	"github.com/karacommerce/catalog-migrator/internal/transform"
)

// Checkpoint intervals per stage: how many processed items between ledger
// writes. The final item always checkpoints.
const (
	categoryCheckpointEvery = 10
	productCheckpointEvery  = 5
	mediaCheckpointEvery    = 10
)

const (
	// productPageSizeCap bounds the orchestration page size; distinct from
	// the client's own listing cap, and observed necessary for reliable
	// detail fetching.
	productPageSizeCap = 5

	defaultPageDelay           = 3 * time.Second
	defaultPageFailureCooldown = 10 * time.Second
	mediaDownloadTimeout       = 30 * time.Second
)

// CatalogClient is the remote source of catalog data.
type CatalogClient interface {
	ListCategories(ctx context.Context) (*kara.CategoryNode, error)
	ListProducts(ctx context.Context, page, pageSize int, sortField, sortDirection string) ([]kara.ProductSummary, int, error)
	FetchProductsDirect(ctx context.Context) ([]kara.ProductSummary, int, error)
	GetProductDetail(ctx context.Context, sku string) (*kara.ProductDetail, error)
}

// CatalogStore is the staging persistence boundary.
type CatalogStore interface {
	InsertCategory(ctx context.Context, c staging.Category) (int, error)
	InsertProduct(ctx context.Context, p staging.Product) (int, error)
	InsertProductCategories(ctx context.Context, productID int, categoryIDs []int) error
	InsertProductAttributes(ctx context.Context, productID int, attrs []staging.ProductAttribute) error
	InsertProductMedia(ctx context.Context, productID int, entries []staging.MediaEntry) error
	InsertProductInventory(ctx context.Context, productID int, inv staging.Inventory) error
	CategoryIDMapping(ctx context.Context) (map[int]int, error)
	ListMediaFiles(ctx context.Context) ([]staging.MediaFile, error)
	UpdateProgress(ctx context.Context, entityType, status string, upd staging.ProgressUpdate) error
	GetProgress(ctx context.Context, entityType string) (*staging.Progress, error)
}

// Config holds the orchestration settings.
type Config struct {
	BatchSize      int
	SkipCategories bool
	SkipProducts   bool
	SkipMedia      bool
	DownloadImages bool
	MediaBaseURL   string

	// PageDelay paces successive product page fetches; PageFailureCooldown
	// is the longer pause after a whole page fails.
	PageDelay           time.Duration
	PageFailureCooldown time.Duration
}

// Migrator runs the migration stages over a client and a store.
type Migrator struct {
	client CatalogClient
	store  CatalogStore
	media  storage.MediaStore
	status *StatusTracker
	cfg    Config
	log    zerolog.Logger

	httpClient *http.Client
	tracer     trace.Tracer
	sleep      func(time.Duration)
}

// New creates a migrator. The media store may be nil when image download is
// disabled.
func New(client CatalogClient, store CatalogStore, media storage.MediaStore, status *StatusTracker, cfg Config, log zerolog.Logger) *Migrator {
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = defaultPageDelay
	}
	if cfg.PageFailureCooldown <= 0 {
		cfg.PageFailureCooldown = defaultPageFailureCooldown
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Migrator{
		client:     client,
		store:      store,
		media:      media,
		status:     status,
		cfg:        cfg,
		log:        log.With().Str("component", "migrator").Logger(),
		httpClient: &http.Client{Timeout: mediaDownloadTimeout},
		tracer:     otel.Tracer("catalog-migrator"),
		sleep:      time.Sleep,
	}
}

// Run executes the stages in dependency order. Per-entity errors are recorded
// in the ledger and counters; Run itself only fails on context cancellation.
// A failed stage never prevents the next stage from attempting to run.
func (m *Migrator) Run(ctx context.Context) error {
	m.log.Info().Str("run_id", m.status.RunID()).Msg("Starting catalog migration")

	if m.cfg.SkipCategories {
		m.skipStage(ctx, staging.EntityCategories)
	} else if err := m.migrateCategories(ctx); err != nil {
		m.log.Error().Err(err).Msg("Categories migration failed")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if m.cfg.SkipProducts {
		m.skipStage(ctx, staging.EntityProducts)
	} else if err := m.migrateProducts(ctx); err != nil {
		m.log.Error().Err(err).Msg("Products migration failed")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if m.cfg.SkipMedia || !m.cfg.DownloadImages {
		m.skipStage(ctx, staging.EntityMedia)
	} else if err := m.migrateMedia(ctx); err != nil {
		m.log.Error().Err(err).Msg("Media download failed")
	}

	return ctx.Err()
}

// migrateCategories fetches the full category tree, flattens it, and upserts
// every node, checkpointing the ledger every few items.
func (m *Migrator) migrateCategories(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "migrate.categories")
	defer span.End()

	m.log.Info().Msg("Migrating categories")
	_ = m.store.UpdateProgress(ctx, staging.EntityCategories, staging.StatusInProgress, staging.ProgressUpdate{})

	root, err := m.client.ListCategories(ctx)
	if err != nil {
		detail := fmt.Sprintf("failed to fetch categories from API: %v", err)
		_ = m.store.UpdateProgress(ctx, staging.EntityCategories, staging.StatusFailed,
			staging.ProgressUpdate{ErrorDetails: &detail})
		m.pushStatus(ctx, staging.EntityCategories)
		return err
	}

	categories := transform.FlattenCategoryTree(root)
	total := len(categories)
	span.SetAttributes(attribute.Int("categories.total", total))
	_ = m.store.UpdateProgress(ctx, staging.EntityCategories, staging.StatusInProgress,
		staging.ProgressUpdate{TotalCount: &total})
	m.log.Info().Int("count", total).Msg("Found categories to migrate")

	successCount, errorCount := 0, 0
	for _, c := range categories {
		if _, err := m.store.InsertCategory(ctx, c); err != nil {
			errorCount++
		} else {
			successCount++
		}

		processed := successCount + errorCount
		if processed%categoryCheckpointEvery == 0 || processed == total {
			last := strconv.Itoa(c.OriginalID)
			m.checkpoint(ctx, staging.EntityCategories, total, processed, successCount, errorCount, last)
		}
	}

	return m.finishStage(ctx, staging.EntityCategories, total, successCount, errorCount)
}

// migrateProducts pages through the product listing and migrates each product
// with its inventory, category links, media rows, and attributes.
func (m *Migrator) migrateProducts(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "migrate.products")
	defer span.End()

	m.log.Info().Msg("Migrating products")
	_ = m.store.UpdateProgress(ctx, staging.EntityProducts, staging.StatusInProgress, staging.ProgressUpdate{})

	mapping, err := m.store.CategoryIDMapping(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to load category id mapping, product-category links will be empty")
		mapping = map[int]int{}
	}
	m.log.Info().Int("count", len(mapping)).Msg("Loaded category id mappings")

	total, err := m.probeProductCount(ctx)
	if err != nil {
		detail := fmt.Sprintf("no products found: %v", err)
		_ = m.store.UpdateProgress(ctx, staging.EntityProducts, staging.StatusFailed,
			staging.ProgressUpdate{ErrorDetails: &detail})
		m.pushStatus(ctx, staging.EntityProducts)
		return err
	}

	span.SetAttributes(attribute.Int("products.total", total))
	_ = m.store.UpdateProgress(ctx, staging.EntityProducts, staging.StatusInProgress,
		staging.ProgressUpdate{TotalCount: &total})
	m.log.Info().Int("count", total).Msg("Found products to migrate")

	pageSize := min(m.cfg.BatchSize, productPageSizeCap)
	numPages := (total + pageSize - 1) / pageSize

	successCount, errorCount := 0, 0
	for page := 1; page <= numPages; page++ {
		m.log.Info().Int("page", page).Int("pages", numPages).Msg("Migrating products page")

		items, _, err := m.client.ListProducts(ctx, page, pageSize, "created_at", "DESC")
		if err != nil || len(items) == 0 {
			// The whole page counts as failed; cool down and keep going.
			m.log.Error().Err(err).Int("page", page).Msg("Failed to fetch products page, skipping")
			errorCount += pageSize
			m.sleep(m.cfg.PageFailureCooldown)
			continue
		}

		for _, item := range items {
			if m.migrateOneProduct(ctx, item, mapping) {
				successCount++
			} else {
				errorCount++
			}

			processed := successCount + errorCount
			if processed%productCheckpointEvery == 0 || processed == total {
				m.checkpoint(ctx, staging.EntityProducts, total, processed, successCount, errorCount, item.SKU)
			}
		}

		if page < numPages {
			m.sleep(m.cfg.PageDelay)
		}
	}

	return m.finishStage(ctx, staging.EntityProducts, total, successCount, errorCount)
}

// probeProductCount determines the product total via a 1-item page fetch,
// falling back once to the permissive direct request before giving up.
func (m *Migrator) probeProductCount(ctx context.Context) (int, error) {
	_, total, err := m.client.ListProducts(ctx, 1, 1, "created_at", "DESC")
	if err == nil && total > 0 {
		return total, nil
	}

	m.log.Info().Msg("Initial product request reported no products, trying direct request")
	_, total, err = m.client.FetchProductsDirect(ctx)
	if err != nil {
		return 0, fmt.Errorf("direct product request failed: %w", err)
	}
	if total == 0 {
		return 0, fmt.Errorf("no products found after direct request")
	}
	m.log.Info().Int("count", total).Msg("Direct request successful")
	return total, nil
}

// migrateOneProduct migrates a single product and its child rows. A failure
// at the detail fetch or the product insert counts the product as failed;
// child inserts are attempted independently and are not rolled back when a
// later one fails, since each targets its own table keyed by the committed
// product id.
func (m *Migrator) migrateOneProduct(ctx context.Context, item kara.ProductSummary, mapping map[int]int) bool {
	detail, err := m.client.GetProductDetail(ctx, item.SKU)
	if err != nil || detail == nil {
		m.log.Error().Err(err).Str("sku", item.SKU).Msg("Failed to fetch product detail, skipping")
		return false
	}

	productID, err := m.store.InsertProduct(ctx, transform.Product(detail))
	if err != nil {
		m.log.Error().Err(err).Str("sku", item.SKU).Msg("Failed to insert product, skipping")
		return false
	}

	mapped := make([]int, 0)
	for _, sourceID := range transform.CategoryIDs(detail) {
		if stagingID, ok := mapping[sourceID]; ok {
			mapped = append(mapped, stagingID)
		}
	}

	if err := m.store.InsertProductInventory(ctx, productID, transform.Inventory(detail)); err != nil {
		m.log.Warn().Err(err).Str("sku", item.SKU).Msg("Failed to insert product inventory")
	}
	if err := m.store.InsertProductCategories(ctx, productID, mapped); err != nil {
		m.log.Warn().Err(err).Str("sku", item.SKU).Msg("Failed to insert product categories")
	}
	if err := m.store.InsertProductMedia(ctx, productID, transform.MediaEntries(detail)); err != nil {
		m.log.Warn().Err(err).Str("sku", item.SKU).Msg("Failed to insert product media")
	}
	if err := m.store.InsertProductAttributes(ctx, productID, transform.Attributes(detail)); err != nil {
		m.log.Warn().Err(err).Str("sku", item.SKU).Msg("Failed to insert product attributes")
	}
	return true
}

// skipStage records a skipped stage in the ledger and the tracker.
func (m *Migrator) skipStage(ctx context.Context, entityType string) {
	m.log.Info().Str("entity", entityType).Msg("Skipping migration stage")
	_ = m.store.UpdateProgress(ctx, entityType, staging.StatusSkipped, staging.ProgressUpdate{})
	m.pushStatus(ctx, entityType)
}

// checkpoint persists a periodic progress update and pushes it to the tracker.
func (m *Migrator) checkpoint(ctx context.Context, entityType string, total, processed, successCount, errorCount int, lastID string) {
	_ = m.store.UpdateProgress(ctx, entityType, staging.StatusInProgress, staging.ProgressUpdate{
		TotalCount:      &total,
		ProcessedCount:  &processed,
		SuccessCount:    &successCount,
		ErrorCount:      &errorCount,
		LastProcessedID: &lastID,
	})
	m.pushStatus(ctx, entityType)
}

// finishStage writes the terminal ledger row for a stage: completed when
// every item succeeded, completed_with_errors otherwise.
func (m *Migrator) finishStage(ctx context.Context, entityType string, total, successCount, errorCount int) error {
	status := staging.StatusCompleted
	if errorCount > 0 {
		status = staging.StatusCompletedWithErrors
	}
	processed := successCount + errorCount
	_ = m.store.UpdateProgress(ctx, entityType, status, staging.ProgressUpdate{
		TotalCount:     &total,
		ProcessedCount: &processed,
		SuccessCount:   &successCount,
		ErrorCount:     &errorCount,
	})
	m.pushStatus(ctx, entityType)

	m.log.Info().Str("entity", entityType).Int("succeeded", successCount).Int("failed", errorCount).
		Msg("Migration stage finished")
	return nil
}

// pushStatus reads the current ledger row and forwards it to the tracker.
func (m *Migrator) pushStatus(ctx context.Context, entityType string) {
	p, err := m.store.GetProgress(ctx, entityType)
	if err != nil || p == nil {
		return
	}
	m.status.Update(*p)
}
