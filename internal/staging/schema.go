package staging

import "context"

// DDL for the imports staging schema. Every table carries the natural unique
// key its upsert conflicts on.
const createSchemaSQL = `
CREATE SCHEMA IF NOT EXISTS imports;

CREATE TABLE IF NOT EXISTS imports.categories (
    id SERIAL PRIMARY KEY,
    original_id INTEGER NOT NULL,
    parent_id INTEGER,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    is_active BOOLEAN DEFAULT TRUE,
    position INTEGER,
    level INTEGER,
    product_count INTEGER,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(original_id)
);

CREATE TABLE IF NOT EXISTS imports.products (
    id SERIAL PRIMARY KEY,
    original_id INTEGER NOT NULL,
    sku VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    price DECIMAL(10, 2),
    status SMALLINT,
    visibility SMALLINT,
    type VARCHAR(50),
    weight DECIMAL(10, 2),
    created_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE,
    UNIQUE(original_id),
    UNIQUE(sku)
);

CREATE TABLE IF NOT EXISTS imports.product_categories (
    id SERIAL PRIMARY KEY,
    product_id INTEGER NOT NULL,
    category_id INTEGER NOT NULL,
    position INTEGER,
    UNIQUE(product_id, category_id),
    FOREIGN KEY (product_id) REFERENCES imports.products(id) ON DELETE CASCADE,
    FOREIGN KEY (category_id) REFERENCES imports.categories(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS imports.product_attributes (
    id SERIAL PRIMARY KEY,
    product_id INTEGER NOT NULL,
    attribute_code VARCHAR(255) NOT NULL,
    value TEXT,
    UNIQUE(product_id, attribute_code),
    FOREIGN KEY (product_id) REFERENCES imports.products(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS imports.product_media (
    id SERIAL PRIMARY KEY,
    product_id INTEGER NOT NULL,
    original_id INTEGER,
    file_path VARCHAR(255) NOT NULL,
    label VARCHAR(255),
    position INTEGER,
    disabled BOOLEAN DEFAULT FALSE,
    media_type VARCHAR(50),
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(product_id, original_id),
    FOREIGN KEY (product_id) REFERENCES imports.products(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS imports.product_inventory (
    id SERIAL PRIMARY KEY,
    product_id INTEGER NOT NULL,
    quantity INTEGER DEFAULT 0,
    is_in_stock BOOLEAN DEFAULT FALSE,
    manage_stock BOOLEAN DEFAULT TRUE,
    UNIQUE(product_id),
    FOREIGN KEY (product_id) REFERENCES imports.products(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS imports.migration_progress (
    id SERIAL PRIMARY KEY,
    entity_type VARCHAR(50) NOT NULL,
    total_count INTEGER NOT NULL DEFAULT 0,
    processed_count INTEGER NOT NULL DEFAULT 0,
    success_count INTEGER NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(30) NOT NULL DEFAULT 'pending',
    started_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    last_processed_id VARCHAR(255),
    error_details TEXT,
    UNIQUE(entity_type)
);
`

// Destructive cleanup for --clean runs.
const cleanupSQL = `
DROP TABLE IF EXISTS imports.product_inventory CASCADE;
DROP TABLE IF EXISTS imports.product_media CASCADE;
DROP TABLE IF EXISTS imports.product_attributes CASCADE;
DROP TABLE IF EXISTS imports.product_categories CASCADE;
DROP TABLE IF EXISTS imports.products CASCADE;
DROP TABLE IF EXISTS imports.categories CASCADE;
DROP TABLE IF EXISTS imports.migration_progress CASCADE;
DROP SCHEMA IF EXISTS imports CASCADE;
`

const createIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_categories_parent_id ON imports.categories(parent_id);
CREATE INDEX IF NOT EXISTS idx_categories_original_id ON imports.categories(original_id);
CREATE INDEX IF NOT EXISTS idx_products_sku ON imports.products(sku);
CREATE INDEX IF NOT EXISTS idx_products_original_id ON imports.products(original_id);
CREATE INDEX IF NOT EXISTS idx_product_attributes_code ON imports.product_attributes(attribute_code);
CREATE INDEX IF NOT EXISTS idx_product_media_product_id ON imports.product_media(product_id);
`

// Seeds the ledger with one pending row per entity type.
const initProgressSQL = `
INSERT INTO imports.migration_progress (entity_type, status)
VALUES ('categories', 'pending'), ('products', 'pending'), ('media', 'pending')
ON CONFLICT (entity_type) DO NOTHING;
`

// InitializeSchema creates the staging schema, tables, indexes, and the seeded
// progress ledger. With clean set it first drops everything (cascading).
func (s *Store) InitializeSchema(ctx context.Context, clean bool) error {
	if clean {
		s.log.Warn().Msg("Cleaning up existing staging schema")
		if _, err := s.pool.Exec(ctx, cleanupSQL); err != nil {
			s.log.Error().Err(err).Msg("Schema cleanup failed")
			return err
		}
	}

	s.log.Info().Msg("Creating staging schema")
	if _, err := s.pool.Exec(ctx, createSchemaSQL); err != nil {
		s.log.Error().Err(err).Msg("Schema creation failed")
		return err
	}
	if _, err := s.pool.Exec(ctx, createIndexesSQL); err != nil {
		s.log.Error().Err(err).Msg("Index creation failed")
		return err
	}
	if _, err := s.pool.Exec(ctx, initProgressSQL); err != nil {
		s.log.Error().Err(err).Msg("Progress ledger seeding failed")
		return err
	}
	s.log.Info().Msg("Schema initialization complete")
	return nil
}
