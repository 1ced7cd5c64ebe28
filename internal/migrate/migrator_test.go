package migrate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karacommerce/catalog-migrator/internal/kara"
	"github.com/karacommerce/catalog-migrator/internal/metrics"
	"github.com/karacommerce/catalog-migrator/internal/staging"
)

// fakeClient serves canned catalog payloads.
type fakeClient struct {
	categoryRoot *kara.CategoryNode
	categoryErr  error

	products    []kara.ProductSummary
	listErr     map[int]error // page -> error
	listedPages []int
	listedSizes []int

	directItems []kara.ProductSummary
	directTotal int
	directErr   error
	directCalls int

	detailErr map[string]error
}

func (f *fakeClient) ListCategories(ctx context.Context) (*kara.CategoryNode, error) {
	return f.categoryRoot, f.categoryErr
}

func (f *fakeClient) ListProducts(ctx context.Context, page, pageSize int, sortField, sortDirection string) ([]kara.ProductSummary, int, error) {
	f.listedPages = append(f.listedPages, page)
	f.listedSizes = append(f.listedSizes, pageSize)
	if err := f.listErr[page]; err != nil {
		return nil, 0, err
	}
	start := (page - 1) * pageSize
	if start >= len(f.products) {
		return nil, len(f.products), nil
	}
	end := min(start+pageSize, len(f.products))
	return f.products[start:end], len(f.products), nil
}

func (f *fakeClient) FetchProductsDirect(ctx context.Context) ([]kara.ProductSummary, int, error) {
	f.directCalls++
	return f.directItems, f.directTotal, f.directErr
}

func (f *fakeClient) GetProductDetail(ctx context.Context, sku string) (*kara.ProductDetail, error) {
	if err := f.detailErr[sku]; err != nil {
		return nil, err
	}
	for _, p := range f.products {
		if p.SKU == sku {
			return &kara.ProductDetail{ProductSummary: p}, nil
		}
	}
	return nil, fmt.Errorf("unknown sku %s", sku)
}

// fakeStore keeps everything in memory and mirrors the partial-update
// semantics of the ledger.
type fakeStore struct {
	categories []staging.Category
	products   []staging.Product
	inventory  map[int]staging.Inventory
	links      map[int][]int
	mediaRows  map[int][]staging.MediaEntry
	attrs      map[int][]staging.ProductAttribute
	mediaFiles []staging.MediaFile

	progress map[string]*staging.Progress

	insertCategoryErr func(c staging.Category) error
	insertProductErr  func(p staging.Product) error
	mappingErr        error
	mapping           map[int]int
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		inventory: map[int]staging.Inventory{},
		links:     map[int][]int{},
		mediaRows: map[int][]staging.MediaEntry{},
		attrs:     map[int][]staging.ProductAttribute{},
		mapping:   map[int]int{},
		progress:  map[string]*staging.Progress{},
	}
	for _, entity := range []string{staging.EntityCategories, staging.EntityProducts, staging.EntityMedia} {
		s.progress[entity] = &staging.Progress{EntityType: entity, Status: staging.StatusPending}
	}
	return s
}

func (s *fakeStore) InsertCategory(ctx context.Context, c staging.Category) (int, error) {
	if s.insertCategoryErr != nil {
		if err := s.insertCategoryErr(c); err != nil {
			return 0, err
		}
	}
	s.categories = append(s.categories, c)
	return len(s.categories), nil
}

func (s *fakeStore) InsertProduct(ctx context.Context, p staging.Product) (int, error) {
	if s.insertProductErr != nil {
		if err := s.insertProductErr(p); err != nil {
			return 0, err
		}
	}
	s.products = append(s.products, p)
	return len(s.products), nil
}

func (s *fakeStore) InsertProductCategories(ctx context.Context, productID int, categoryIDs []int) error {
	s.links[productID] = categoryIDs
	return nil
}

func (s *fakeStore) InsertProductAttributes(ctx context.Context, productID int, attrs []staging.ProductAttribute) error {
	s.attrs[productID] = attrs
	return nil
}

func (s *fakeStore) InsertProductMedia(ctx context.Context, productID int, entries []staging.MediaEntry) error {
	s.mediaRows[productID] = entries
	return nil
}

func (s *fakeStore) InsertProductInventory(ctx context.Context, productID int, inv staging.Inventory) error {
	s.inventory[productID] = inv
	return nil
}

func (s *fakeStore) CategoryIDMapping(ctx context.Context) (map[int]int, error) {
	if s.mappingErr != nil {
		return nil, s.mappingErr
	}
	return s.mapping, nil
}

func (s *fakeStore) ListMediaFiles(ctx context.Context) ([]staging.MediaFile, error) {
	return s.mediaFiles, nil
}

func (s *fakeStore) UpdateProgress(ctx context.Context, entityType, status string, upd staging.ProgressUpdate) error {
	p := s.progress[entityType]
	p.Status = status
	if p.StartedAt == nil && status == staging.StatusInProgress {
		now := time.Now()
		p.StartedAt = &now
	}
	if p.CompletedAt == nil && staging.IsTerminalStatus(status) {
		now := time.Now()
		p.CompletedAt = &now
	}
	if upd.TotalCount != nil {
		p.TotalCount = *upd.TotalCount
	}
	if upd.ProcessedCount != nil {
		p.ProcessedCount = *upd.ProcessedCount
	}
	if upd.SuccessCount != nil {
		p.SuccessCount = *upd.SuccessCount
	}
	if upd.ErrorCount != nil {
		p.ErrorCount = *upd.ErrorCount
	}
	if upd.LastProcessedID != nil {
		p.LastProcessedID = upd.LastProcessedID
	}
	if upd.ErrorDetails != nil {
		p.ErrorDetails = upd.ErrorDetails
	}
	return nil
}

func (s *fakeStore) GetProgress(ctx context.Context, entityType string) (*staging.Progress, error) {
	p, ok := s.progress[entityType]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func newTestMigrator(t *testing.T, client CatalogClient, store CatalogStore, cfg Config) (*Migrator, *[]time.Duration) {
	t.Helper()

	tracker := NewStatusTracker(zerolog.Nop(), metrics.New())
	m := New(client, store, nil, tracker, cfg, zerolog.Nop())

	sleeps := &[]time.Duration{}
	m.sleep = func(d time.Duration) {
		*sleeps = append(*sleeps, d)
	}
	return m, sleeps
}

func summaries(n int) []kara.ProductSummary {
	out := make([]kara.ProductSummary, n)
	for i := range out {
		out[i] = kara.ProductSummary{ID: i + 1, SKU: fmt.Sprintf("SKU-%d", i+1), Name: fmt.Sprintf("Product %d", i+1)}
	}
	return out
}

func TestRun_MigratesCategoriesInPreOrder(t *testing.T) {
	client := &fakeClient{
		categoryRoot: &kara.CategoryNode{
			ID:   1,
			Name: "Root",
			Children: []kara.CategoryNode{
				{ID: 2, Name: "A", Children: []kara.CategoryNode{{ID: 3, Name: "A1"}}},
				{ID: 4, Name: "B"},
			},
		},
	}
	store := newFakeStore()
	m, _ := newTestMigrator(t, client, store, Config{SkipProducts: true, SkipMedia: true})

	require.NoError(t, m.Run(context.Background()))

	ids := make([]int, len(store.categories))
	for i, c := range store.categories {
		ids[i] = c.OriginalID
	}
	assert.Equal(t, []int{1, 2, 3, 4}, ids)

	p := store.progress[staging.EntityCategories]
	assert.Equal(t, staging.StatusCompleted, p.Status)
	assert.Equal(t, 4, p.TotalCount)
	assert.Equal(t, 4, p.SuccessCount)
	assert.Equal(t, 0, p.ErrorCount)
	assert.NotNil(t, p.CompletedAt)
}

func TestRun_CategoryFetchFailureMarksStageFailed(t *testing.T) {
	client := &fakeClient{categoryErr: errors.New("upstream down")}
	store := newFakeStore()
	m, _ := newTestMigrator(t, client, store, Config{SkipProducts: true, SkipMedia: true})

	require.NoError(t, m.Run(context.Background()))

	p := store.progress[staging.EntityCategories]
	assert.Equal(t, staging.StatusFailed, p.Status)
	require.NotNil(t, p.ErrorDetails)
	assert.Contains(t, *p.ErrorDetails, "upstream down")
}

func TestRun_CategoryInsertFailuresAreCounted(t *testing.T) {
	client := &fakeClient{
		categoryRoot: &kara.CategoryNode{
			ID:       1,
			Name:     "Root",
			Children: []kara.CategoryNode{{ID: 2, Name: "Broken"}, {ID: 3, Name: "Fine"}},
		},
	}
	store := newFakeStore()
	store.insertCategoryErr = func(c staging.Category) error {
		if c.OriginalID == 2 {
			return errors.New("constraint violation")
		}
		return nil
	}
	m, _ := newTestMigrator(t, client, store, Config{SkipProducts: true, SkipMedia: true})

	require.NoError(t, m.Run(context.Background()))

	p := store.progress[staging.EntityCategories]
	assert.Equal(t, staging.StatusCompletedWithErrors, p.Status)
	assert.Equal(t, 2, p.SuccessCount)
	assert.Equal(t, 1, p.ErrorCount)
}

func TestRun_ProductPaginationAndPageDelay(t *testing.T) {
	client := &fakeClient{products: summaries(12)}
	store := newFakeStore()
	m, sleeps := newTestMigrator(t, client, store, Config{
		BatchSize:      10,
		SkipCategories: true,
		SkipMedia:      true,
		PageDelay:      3 * time.Second,
	})

	require.NoError(t, m.Run(context.Background()))

	// Page size is capped at 5, so 12 products take 3 pages. The first listed
	// page is the 1-item count probe.
	assert.Equal(t, []int{1, 1, 2, 3}, client.listedPages)
	assert.Equal(t, []int{1, 5, 5, 5}, client.listedSizes)
	assert.Len(t, store.products, 12)

	// Delay between pages, but not after the last one.
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, *sleeps)

	p := store.progress[staging.EntityProducts]
	assert.Equal(t, staging.StatusCompleted, p.Status)
	assert.Equal(t, 12, p.TotalCount)
	assert.Equal(t, 12, p.SuccessCount)
}

func TestRun_ProductDetailFailureIsIsolated(t *testing.T) {
	client := &fakeClient{
		products:  summaries(3),
		detailErr: map[string]error{"SKU-2": errors.New("timeout")},
	}
	store := newFakeStore()
	m, _ := newTestMigrator(t, client, store, Config{BatchSize: 5, SkipCategories: true, SkipMedia: true})

	require.NoError(t, m.Run(context.Background()))

	assert.Len(t, store.products, 2)
	p := store.progress[staging.EntityProducts]
	assert.Equal(t, staging.StatusCompletedWithErrors, p.Status)
	assert.Equal(t, 2, p.SuccessCount)
	assert.Equal(t, 1, p.ErrorCount)
	assert.Equal(t, 3, p.ProcessedCount)
}

func TestRun_PageFailureCountsWholePageAndCoolsDown(t *testing.T) {
	client := &fakeClient{
		products: summaries(10),
		listErr:  map[int]error{2: errors.New("gateway timeout")},
	}
	store := newFakeStore()
	m, sleeps := newTestMigrator(t, client, store, Config{
		BatchSize:           5,
		SkipCategories:      true,
		SkipMedia:           true,
		PageDelay:           3 * time.Second,
		PageFailureCooldown: 10 * time.Second,
	})

	require.NoError(t, m.Run(context.Background()))

	assert.Len(t, store.products, 5)
	assert.Contains(t, *sleeps, 10*time.Second)

	p := store.progress[staging.EntityProducts]
	assert.Equal(t, staging.StatusCompletedWithErrors, p.Status)
	assert.Equal(t, 5, p.SuccessCount)
	assert.Equal(t, 5, p.ErrorCount)
}

func TestRun_ProbeFallsBackToDirectFetch(t *testing.T) {
	client := &fakeClient{
		listErr:     map[int]error{1: errors.New("empty response")},
		directTotal: 0,
		directErr:   errors.New("also down"),
	}
	store := newFakeStore()
	m, _ := newTestMigrator(t, client, store, Config{BatchSize: 5, SkipCategories: true, SkipMedia: true})

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 1, client.directCalls)
	p := store.progress[staging.EntityProducts]
	assert.Equal(t, staging.StatusFailed, p.Status)
	require.NotNil(t, p.ErrorDetails)
	assert.Contains(t, *p.ErrorDetails, "no products found")
}

func TestProbeProductCount_DirectFallbackSucceeds(t *testing.T) {
	client := &fakeClient{
		listErr:     map[int]error{1: errors.New("flaky")},
		directTotal: 12,
	}
	store := newFakeStore()
	m, _ := newTestMigrator(t, client, store, Config{})

	total, err := m.probeProductCount(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Equal(t, 1, client.directCalls)
}

func TestRun_CategoryLinksUseMapping(t *testing.T) {
	products := summaries(1)
	client := &fakeClient{products: products}
	client.detailErr = nil
	store := newFakeStore()
	store.mapping = map[int]int{40: 7}

	// Detail payload carries one mapped and one unmapped category link.
	detailClient := &mappedDetailClient{fakeClient: client}
	m, _ := newTestMigrator(t, detailClient, store, Config{BatchSize: 5, SkipCategories: true, SkipMedia: true})

	require.NoError(t, m.Run(context.Background()))

	require.Len(t, store.products, 1)
	assert.Equal(t, []int{7}, store.links[1])
}

// mappedDetailClient decorates fakeClient with category links on the detail payload.
type mappedDetailClient struct {
	*fakeClient
}

func (c *mappedDetailClient) GetProductDetail(ctx context.Context, sku string) (*kara.ProductDetail, error) {
	detail, err := c.fakeClient.GetProductDetail(ctx, sku)
	if err != nil {
		return nil, err
	}
	detail.ExtensionAttributes = &kara.ExtensionAttributes{
		CategoryLinks: []kara.CategoryLink{{CategoryID: "40"}, {CategoryID: "99"}},
	}
	return detail, nil
}

func TestRun_MappingLoadFailureLeavesLinksEmpty(t *testing.T) {
	client := &fakeClient{products: summaries(1)}
	store := newFakeStore()
	store.mappingErr = errors.New("query failed")
	m, _ := newTestMigrator(t, client, store, Config{BatchSize: 5, SkipCategories: true, SkipMedia: true})

	require.NoError(t, m.Run(context.Background()))

	// Products still migrate; the link table just stays empty.
	assert.Len(t, store.products, 1)
	assert.Empty(t, store.links[1])
}

func TestRun_SkipFlags(t *testing.T) {
	client := &fakeClient{}
	store := newFakeStore()
	m, _ := newTestMigrator(t, client, store, Config{
		SkipCategories: true,
		SkipProducts:   true,
		SkipMedia:      true,
	})

	require.NoError(t, m.Run(context.Background()))

	for _, entity := range []string{staging.EntityCategories, staging.EntityProducts, staging.EntityMedia} {
		p := store.progress[entity]
		assert.Equal(t, staging.StatusSkipped, p.Status, entity)
		assert.NotNil(t, p.CompletedAt, entity)
	}
}

func TestRun_MediaSkippedWithoutDownloadFlag(t *testing.T) {
	client := &fakeClient{}
	store := newFakeStore()
	store.mediaFiles = []staging.MediaFile{{ID: 1, ProductID: 1, FilePath: "/a/b.jpg"}}
	m, _ := newTestMigrator(t, client, store, Config{
		SkipCategories: true,
		SkipProducts:   true,
		DownloadImages: false,
	})

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, staging.StatusSkipped, store.progress[staging.EntityMedia].Status)
}

func TestRun_CancelledContextStopsBetweenStages(t *testing.T) {
	client := &fakeClient{categoryRoot: &kara.CategoryNode{ID: 1, Name: "Root"}}
	store := newFakeStore()
	m, _ := newTestMigrator(t, client, store, Config{SkipMedia: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
