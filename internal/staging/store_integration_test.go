package staging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a throwaway Postgres container and initializes the
// staging schema in it.
func setupTestDB(ctx context.Context, t testing.TB) (*Store, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())
	poolConfig, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err)

	store := NewStore(pool, zerolog.Nop())
	require.NoError(t, store.InitializeSchema(ctx, false))

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return store, cleanup
}

func TestStoreIntegration(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(ctx, t)
	defer cleanup()

	t.Run("category upsert is idempotent", func(t *testing.T) {
		parent := 2
		first, err := store.InsertCategory(ctx, Category{
			OriginalID: 10, ParentID: &parent, Name: "Phones", IsActive: true, Position: 1, Level: 2,
		})
		require.NoError(t, err)

		second, err := store.InsertCategory(ctx, Category{
			OriginalID: 10, ParentID: &parent, Name: "Smartphones", IsActive: false, Position: 4, Level: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, first, second)

		var name string
		var active bool
		err = store.pool.QueryRow(ctx,
			`SELECT name, is_active FROM imports.categories WHERE original_id = 10`).Scan(&name, &active)
		require.NoError(t, err)
		assert.Equal(t, "Smartphones", name)
		assert.False(t, active)
	})

	t.Run("category id mapping", func(t *testing.T) {
		id, err := store.InsertCategory(ctx, Category{OriginalID: 11, Name: "Laptops", IsActive: true, Level: 2})
		require.NoError(t, err)

		mapping, err := store.CategoryIDMapping(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, mapping[11])
	})

	t.Run("product upsert and children", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		productID, err := store.InsertProduct(ctx, Product{
			OriginalID: 100, SKU: "SKU-100", Name: "Gadget", Price: 99.9,
			Status: 1, Visibility: 4, TypeID: "simple", CreatedAt: &now, UpdatedAt: &now,
		})
		require.NoError(t, err)

		again, err := store.InsertProduct(ctx, Product{
			OriginalID: 100, SKU: "SKU-100", Name: "Gadget v2", Price: 89.9,
			Status: 1, Visibility: 4, TypeID: "simple",
		})
		require.NoError(t, err)
		assert.Equal(t, productID, again)

		catID, err := store.InsertCategory(ctx, Category{OriginalID: 12, Name: "Gadgets", IsActive: true, Level: 2})
		require.NoError(t, err)
		require.NoError(t, store.InsertProductCategories(ctx, productID, []int{catID}))
		require.NoError(t, store.InsertProductCategories(ctx, productID, []int{catID}))

		require.NoError(t, store.InsertProductInventory(ctx, productID, Inventory{Quantity: 5, IsInStock: true, ManageStock: true}))
		require.NoError(t, store.InsertProductInventory(ctx, productID, Inventory{Quantity: 3, IsInStock: true, ManageStock: true}))

		var qty int
		err = store.pool.QueryRow(ctx,
			`SELECT quantity FROM imports.product_inventory WHERE product_id = $1`, productID).Scan(&qty)
		require.NoError(t, err)
		assert.Equal(t, 3, qty)

		value := "blue"
		require.NoError(t, store.InsertProductAttributes(ctx, productID, []ProductAttribute{
			{Code: "color", Value: &value},
			{Code: "", Value: &value}, // dropped
		}))
		var attrCount int
		err = store.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM imports.product_attributes WHERE product_id = $1`, productID).Scan(&attrCount)
		require.NoError(t, err)
		assert.Equal(t, 1, attrCount)
	})

	t.Run("media upsert keyed on product and original id", func(t *testing.T) {
		productID, err := store.InsertProduct(ctx, Product{
			OriginalID: 101, SKU: "SKU-101", Name: "Widget", Status: 1, Visibility: 4, TypeID: "simple",
		})
		require.NoError(t, err)

		entries := []MediaEntry{
			{OriginalID: 1, FilePath: "/w/1.jpg", MediaType: "image"},
			{OriginalID: 2, FilePath: "/w/2.jpg", MediaType: "image"},
			{OriginalID: 3, FilePath: "", MediaType: "image"}, // dropped
		}
		require.NoError(t, store.InsertProductMedia(ctx, productID, entries))
		entries[0].Label = "Front"
		require.NoError(t, store.InsertProductMedia(ctx, productID, entries))

		files, err := store.ListMediaFiles(ctx)
		require.NoError(t, err)

		var mine []MediaFile
		for _, f := range files {
			if f.ProductID == productID {
				mine = append(mine, f)
			}
		}
		assert.Len(t, mine, 2)
	})

	t.Run("progress ledger lifecycle", func(t *testing.T) {
		p, err := store.GetProgress(ctx, EntityCategories)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, StatusPending, p.Status)
		assert.Nil(t, p.StartedAt)

		require.NoError(t, store.UpdateProgress(ctx, EntityCategories, StatusInProgress, ProgressUpdate{}))
		p, err = store.GetProgress(ctx, EntityCategories)
		require.NoError(t, err)
		require.NotNil(t, p.StartedAt)
		started := *p.StartedAt

		// Partial update: only supplied counters change, started_at stays.
		total, processed := 20, 10
		require.NoError(t, store.UpdateProgress(ctx, EntityCategories, StatusInProgress, ProgressUpdate{
			TotalCount:     &total,
			ProcessedCount: &processed,
		}))
		p, err = store.GetProgress(ctx, EntityCategories)
		require.NoError(t, err)
		assert.Equal(t, 20, p.TotalCount)
		assert.Equal(t, 10, p.ProcessedCount)
		assert.Equal(t, 0, p.SuccessCount)
		require.NotNil(t, p.StartedAt)
		assert.WithinDuration(t, started, *p.StartedAt, time.Millisecond)

		success, failed := 18, 2
		require.NoError(t, store.UpdateProgress(ctx, EntityCategories, StatusCompletedWithErrors, ProgressUpdate{
			SuccessCount: &success,
			ErrorCount:   &failed,
		}))
		p, err = store.GetProgress(ctx, EntityCategories)
		require.NoError(t, err)
		assert.Equal(t, StatusCompletedWithErrors, p.Status)
		assert.Equal(t, 18, p.SuccessCount)
		assert.Equal(t, 2, p.ErrorCount)
		assert.NotNil(t, p.CompletedAt)
	})

	t.Run("unknown entity returns nil", func(t *testing.T) {
		p, err := store.GetProgress(ctx, "nonexistent")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("ledger lists all entities", func(t *testing.T) {
		rows, err := store.ListProgress(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, EntityCategories, rows[0].EntityType)
		assert.Equal(t, EntityProducts, rows[1].EntityType)
		assert.Equal(t, EntityMedia, rows[2].EntityType)
	})

	t.Run("clean initialization resets data", func(t *testing.T) {
		require.NoError(t, store.InitializeSchema(ctx, true))

		mapping, err := store.CategoryIDMapping(ctx)
		require.NoError(t, err)
		assert.Empty(t, mapping)

		rows, err := store.ListProgress(ctx)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})
}
