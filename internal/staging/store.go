package staging

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store persists staging rows with idempotent upserts keyed on each table's
// natural unique key. Every operation is a single committed statement; a
// failure rolls back just that statement, is logged, and surfaces as an error
// return. Re-running any insert with identical input is safe.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewStore creates a staging store over an established connection pool.
func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{
		pool: pool,
		log:  log.With().Str("component", "staging-store").Logger(),
	}
}

// InsertCategory upserts one category keyed on original_id and returns the
// staging-assigned id.
func (s *Store) InsertCategory(ctx context.Context, c Category) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO imports.categories
			(original_id, parent_id, name, is_active, position, level, product_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (original_id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			name = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			position = EXCLUDED.position,
			level = EXCLUDED.level,
			product_count = EXCLUDED.product_count,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, c.OriginalID, c.ParentID, c.Name, c.IsActive, c.Position, c.Level, c.ProductCount).Scan(&id)
	if err != nil {
		s.log.Error().Err(err).Str("name", c.Name).Int("original_id", c.OriginalID).Msg("Failed to insert category")
		return 0, err
	}
	return id, nil
}

// InsertProduct upserts one product keyed on original_id and returns the
// staging-assigned id.
func (s *Store) InsertProduct(ctx context.Context, p Product) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO imports.products
			(original_id, sku, name, price, status, visibility, type, weight, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (original_id) DO UPDATE SET
			sku = EXCLUDED.sku,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			status = EXCLUDED.status,
			visibility = EXCLUDED.visibility,
			type = EXCLUDED.type,
			weight = EXCLUDED.weight,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, p.OriginalID, p.SKU, p.Name, p.Price, p.Status, p.Visibility, p.TypeID, p.Weight, p.CreatedAt, p.UpdatedAt).Scan(&id)
	if err != nil {
		s.log.Error().Err(err).Str("sku", p.SKU).Msg("Failed to insert product")
		return 0, err
	}
	return id, nil
}

// InsertProductCategories upserts one association row per category id, with
// position equal to the index in the supplied order. Empty input is a no-op.
func (s *Store) InsertProductCategories(ctx context.Context, productID int, categoryIDs []int) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	for position, categoryID := range categoryIDs {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO imports.product_categories (product_id, category_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (product_id, category_id) DO UPDATE SET position = EXCLUDED.position
		`, productID, categoryID, position)
		if err != nil {
			s.log.Error().Err(err).Int("product_id", productID).Int("category_id", categoryID).
				Msg("Failed to insert product category")
			return err
		}
	}
	return nil
}

// InsertProductAttributes upserts the product's custom attributes, skipping
// malformed entries. Empty input is a no-op.
func (s *Store) InsertProductAttributes(ctx context.Context, productID int, attrs []ProductAttribute) error {
	if len(attrs) == 0 {
		return nil
	}
	for _, attr := range attrs {
		if attr.Code == "" {
			continue
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO imports.product_attributes (product_id, attribute_code, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (product_id, attribute_code) DO UPDATE SET value = EXCLUDED.value
		`, productID, attr.Code, attr.Value)
		if err != nil {
			s.log.Error().Err(err).Int("product_id", productID).Str("code", attr.Code).
				Msg("Failed to insert product attribute")
			return err
		}
	}
	return nil
}

// InsertProductMedia upserts the product's gallery entries keyed on
// (product_id, original_id), skipping entries without a file path.
func (s *Store) InsertProductMedia(ctx context.Context, productID int, entries []MediaEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, m := range entries {
		if m.FilePath == "" {
			continue
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO imports.product_media
				(product_id, original_id, file_path, label, position, disabled, media_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (product_id, original_id) DO UPDATE SET
				file_path = EXCLUDED.file_path,
				label = EXCLUDED.label,
				position = EXCLUDED.position,
				disabled = EXCLUDED.disabled,
				media_type = EXCLUDED.media_type
		`, productID, m.OriginalID, m.FilePath, m.Label, m.Position, m.Disabled, m.MediaType)
		if err != nil {
			s.log.Error().Err(err).Int("product_id", productID).Str("file", m.FilePath).
				Msg("Failed to insert product media")
			return err
		}
	}
	return nil
}

// InsertProductInventory upserts the product's one-to-one inventory record.
func (s *Store) InsertProductInventory(ctx context.Context, productID int, inv Inventory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO imports.product_inventory (product_id, quantity, is_in_stock, manage_stock)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			is_in_stock = EXCLUDED.is_in_stock,
			manage_stock = EXCLUDED.manage_stock
	`, productID, inv.Quantity, inv.IsInStock, inv.ManageStock)
	if err != nil {
		s.log.Error().Err(err).Int("product_id", productID).Msg("Failed to insert product inventory")
		return err
	}
	return nil
}

// CategoryIDMapping returns the full mapping from source category id to
// staging id. Loaded once before the product migration begins.
func (s *Store) CategoryIDMapping(ctx context.Context) (map[int]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT original_id, id FROM imports.categories`)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load category id mapping")
		return nil, err
	}
	defer rows.Close()

	mapping := make(map[int]int)
	for rows.Next() {
		var originalID, id int
		if err := rows.Scan(&originalID, &id); err != nil {
			return nil, err
		}
		mapping[originalID] = id
	}
	return mapping, rows.Err()
}

// ListMediaFiles returns all persisted media rows with a non-null file path,
// the download work list for the media stage.
func (s *Store) ListMediaFiles(ctx context.Context) ([]MediaFile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, file_path
		FROM imports.product_media
		WHERE file_path IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list media files")
		return nil, err
	}
	defer rows.Close()

	var files []MediaFile
	for rows.Next() {
		var f MediaFile
		if err := rows.Scan(&f.ID, &f.ProductID, &f.FilePath); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpdateProgress applies a partial update to the ledger row of an entity type.
// Only supplied counters overwrite stored values. started_at is set exactly
// once, on the first transition to in_progress; completed_at is set whenever
// the status becomes terminal. Safe to call repeatedly and out of order.
func (s *Store) UpdateProgress(ctx context.Context, entityType, status string, upd ProgressUpdate) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE imports.migration_progress
		SET
			status = $1,
			total_count = COALESCE($2, total_count),
			processed_count = COALESCE($3, processed_count),
			success_count = COALESCE($4, success_count),
			error_count = COALESCE($5, error_count),
			last_processed_id = COALESCE($6, last_processed_id),
			error_details = COALESCE($7, error_details),
			started_at = CASE
				WHEN $1 = 'in_progress' AND started_at IS NULL THEN CURRENT_TIMESTAMP
				ELSE started_at
			END,
			completed_at = CASE
				WHEN $1 IN ('completed', 'completed_with_errors', 'failed', 'skipped') THEN CURRENT_TIMESTAMP
				ELSE completed_at
			END
		WHERE entity_type = $8
	`, status, upd.TotalCount, upd.ProcessedCount, upd.SuccessCount, upd.ErrorCount,
		upd.LastProcessedID, upd.ErrorDetails, entityType)
	if err != nil {
		s.log.Error().Err(err).Str("entity", entityType).Str("status", status).
			Msg("Failed to update migration progress")
		return err
	}
	return nil
}

// GetProgress reads the current ledger row for an entity type.
func (s *Store) GetProgress(ctx context.Context, entityType string) (*Progress, error) {
	var p Progress
	err := s.pool.QueryRow(ctx, `
		SELECT entity_type, total_count, processed_count, success_count, error_count,
		       status, started_at, completed_at, last_processed_id, error_details
		FROM imports.migration_progress
		WHERE entity_type = $1
	`, entityType).Scan(&p.EntityType, &p.TotalCount, &p.ProcessedCount, &p.SuccessCount,
		&p.ErrorCount, &p.Status, &p.StartedAt, &p.CompletedAt, &p.LastProcessedID, &p.ErrorDetails)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		s.log.Error().Err(err).Str("entity", entityType).Msg("Failed to read migration progress")
		return nil, err
	}
	return &p, nil
}

// ListProgress reads the full ledger, one row per entity type.
func (s *Store) ListProgress(ctx context.Context) ([]Progress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_type, total_count, processed_count, success_count, error_count,
		       status, started_at, completed_at, last_processed_id, error_details
		FROM imports.migration_progress
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Progress
	for rows.Next() {
		var p Progress
		if err := rows.Scan(&p.EntityType, &p.TotalCount, &p.ProcessedCount, &p.SuccessCount,
			&p.ErrorCount, &p.Status, &p.StartedAt, &p.CompletedAt, &p.LastProcessedID, &p.ErrorDetails); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
