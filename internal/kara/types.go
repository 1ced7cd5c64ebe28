package kara

// Payload shapes returned by the Kara REST API. Optional fields are pointers so
// that "absent" and "zero" stay distinguishable; defaulting rules live in the
// transform package.

// CategoryNode is one node of the nested category tree returned by GET /categories.
// Children are nested under children_data to arbitrary depth.
type CategoryNode struct {
	ID           int            `json:"id"`
	ParentID     int            `json:"parent_id"`
	Name         string         `json:"name"`
	IsActive     *bool          `json:"is_active,omitempty"`
	Position     *int           `json:"position,omitempty"`
	Level        *int           `json:"level,omitempty"`
	ProductCount *int           `json:"product_count,omitempty"`
	Children     []CategoryNode `json:"children_data,omitempty"`
}

// ProductSummary is the restricted projection returned by the paginated
// GET /products listing.
type ProductSummary struct {
	ID         int     `json:"id"`
	SKU        string  `json:"sku"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Status     *int    `json:"status,omitempty"`
	Visibility *int    `json:"visibility,omitempty"`
	TypeID     string  `json:"type_id,omitempty"`
	Weight     float64 `json:"weight,omitempty"`
	CreatedAt  string  `json:"created_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

// ProductDetail is the full payload returned by GET /products/{sku}.
type ProductDetail struct {
	ProductSummary
	ExtensionAttributes *ExtensionAttributes `json:"extension_attributes,omitempty"`
	CustomAttributes    []CustomAttribute    `json:"custom_attributes,omitempty"`
	MediaGalleryEntries []MediaGalleryEntry  `json:"media_gallery_entries,omitempty"`
}

// ExtensionAttributes carries the vendor extension block of a product detail.
type ExtensionAttributes struct {
	CategoryLinks []CategoryLink `json:"category_links,omitempty"`
	StockItem     *StockItem     `json:"stock_item,omitempty"`
}

// CategoryLink associates a product with a category. The API serializes the
// category id as a string.
type CategoryLink struct {
	Position   int    `json:"position"`
	CategoryID string `json:"category_id"`
}

// StockItem is the inventory record embedded in a product detail.
type StockItem struct {
	Qty         float64 `json:"qty"`
	IsInStock   bool    `json:"is_in_stock"`
	ManageStock *bool   `json:"manage_stock,omitempty"`
}

// CustomAttribute is a free-form key/value extension entry. Value may be a
// string, a number, or a list depending on the attribute code.
type CustomAttribute struct {
	AttributeCode string `json:"attribute_code"`
	Value         any    `json:"value"`
}

// MediaGalleryEntry is one gallery image of a product.
type MediaGalleryEntry struct {
	ID        int    `json:"id"`
	MediaType string `json:"media_type,omitempty"`
	Label     string `json:"label,omitempty"`
	Position  *int   `json:"position,omitempty"`
	Disabled  bool   `json:"disabled,omitempty"`
	File      string `json:"file"`
}

// productsResponse is the envelope of the paginated product listing.
type productsResponse struct {
	Items      []ProductSummary `json:"items"`
	TotalCount int              `json:"total_count"`
}
