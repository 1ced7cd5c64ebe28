package staging

import "time"

// Entity types tracked by the migration progress ledger.
const (
	EntityCategories = "categories"
	EntityProducts   = "products"
	EntityMedia      = "media"
)

// Migration progress statuses. The first two are transient, the rest terminal.
const (
	StatusPending             = "pending"
	StatusInProgress          = "in_progress"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
	StatusSkipped             = "skipped"
)

// IsTerminalStatus reports whether a ledger status is final for a run.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Category is one flattened node of the source category tree. ParentID is nil
// for roots (the source encodes "no parent" as 0).
type Category struct {
	OriginalID   int
	ParentID     *int
	Name         string
	IsActive     bool
	Position     int
	Level        int
	ProductCount int
}

// Product is a flattened staging row for one source product.
type Product struct {
	OriginalID int
	SKU        string
	Name       string
	Price      float64
	Status     int
	Visibility int
	TypeID     string
	Weight     float64
	CreatedAt  *time.Time
	UpdatedAt  *time.Time
}

// ProductAttribute is one free-form key/value extension entry.
type ProductAttribute struct {
	Code  string
	Value *string
}

// MediaEntry is one gallery image of a product.
type MediaEntry struct {
	OriginalID int
	FilePath   string
	Label      string
	Position   int
	Disabled   bool
	MediaType  string
}

// Inventory is the one-to-one stock record of a product.
type Inventory struct {
	Quantity    int
	IsInStock   bool
	ManageStock bool
}

// MediaFile is a persisted media row selected for download.
type MediaFile struct {
	ID        int
	ProductID int
	FilePath  string
}

// Progress is one row of the migration_progress ledger.
type Progress struct {
	EntityType      string     `json:"entity_type"`
	TotalCount      int        `json:"total_count"`
	ProcessedCount  int        `json:"processed_count"`
	SuccessCount    int        `json:"success_count"`
	ErrorCount      int        `json:"error_count"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastProcessedID *string    `json:"last_processed_id,omitempty"`
	ErrorDetails    *string    `json:"error_details,omitempty"`
}

// ProgressUpdate is a partial ledger update: nil counters leave the stored
// value untouched.
type ProgressUpdate struct {
	TotalCount      *int
	ProcessedCount  *int
	SuccessCount    *int
	ErrorCount      *int
	LastProcessedID *string
	ErrorDetails    *string
}
