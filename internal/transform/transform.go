// Package transform maps Kara API payloads into staging row shapes. All
// functions are pure: no I/O, no error state beyond default filling.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/karacommerce/catalog-migrator/internal/kara"
	"github.com/karacommerce/catalog-migrator/internal/staging"
)

// sourceTimeLayout is the timestamp format used by the Kara API.
const sourceTimeLayout = "2006-01-02 15:04:05"

// Category maps one tree node into its staging shape. Unknown optional fields
// default to is_active=true, position=0, level=1, product_count=0; a parent id
// of 0 is treated as "no parent".
func Category(node kara.CategoryNode) staging.Category {
	c := staging.Category{
		OriginalID:   node.ID,
		Name:         node.Name,
		IsActive:     true,
		Position:     0,
		Level:        1,
		ProductCount: 0,
	}
	if node.ParentID != 0 {
		parent := node.ParentID
		c.ParentID = &parent
	}
	if node.IsActive != nil {
		c.IsActive = *node.IsActive
	}
	if node.Position != nil {
		c.Position = *node.Position
	}
	if node.Level != nil {
		c.Level = *node.Level
	}
	if node.ProductCount != nil {
		c.ProductCount = *node.ProductCount
	}
	return c
}

// FlattenCategoryTree produces all categories of the tree in pre-order: each
// node before its children, children in document order. Implemented with an
// explicit work stack so arbitrarily deep trees cannot exhaust the call stack.
// A node with absent children is equivalent to one with an empty children list.
func FlattenCategoryTree(root *kara.CategoryNode) []staging.Category {
	if root == nil {
		return nil
	}

	out := make([]staging.Category, 0)
	stack := []*kara.CategoryNode{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		out = append(out, Category(*node))
		// Push children in reverse so the first child is visited next.
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, &node.Children[i])
		}
	}
	return out
}

// Product maps a product detail into its staging shape with the source
// defaults: status 1, visibility 4, type "simple", weight 0.
func Product(detail *kara.ProductDetail) staging.Product {
	p := staging.Product{
		OriginalID: detail.ID,
		SKU:        detail.SKU,
		Name:       detail.Name,
		Price:      detail.Price,
		Status:     1,
		Visibility: 4,
		TypeID:     "simple",
		Weight:     detail.Weight,
		CreatedAt:  parseSourceTime(detail.CreatedAt),
		UpdatedAt:  parseSourceTime(detail.UpdatedAt),
	}
	if detail.Status != nil {
		p.Status = *detail.Status
	}
	if detail.Visibility != nil {
		p.Visibility = *detail.Visibility
	}
	if detail.TypeID != "" {
		p.TypeID = detail.TypeID
	}
	return p
}

// Inventory extracts the stock record from a product detail, defaulting to an
// empty out-of-stock record with managed stock when the block is absent.
func Inventory(detail *kara.ProductDetail) staging.Inventory {
	inv := staging.Inventory{
		Quantity:    0,
		IsInStock:   false,
		ManageStock: true,
	}
	if detail.ExtensionAttributes == nil || detail.ExtensionAttributes.StockItem == nil {
		return inv
	}
	stock := detail.ExtensionAttributes.StockItem
	inv.Quantity = int(stock.Qty)
	inv.IsInStock = stock.IsInStock
	if stock.ManageStock != nil {
		inv.ManageStock = *stock.ManageStock
	}
	return inv
}

// CategoryIDs extracts the source category ids a product belongs to. The
// extension-attribute category links are preferred; when that list is absent
// entirely, the custom attribute named category_ids is scanned for a list
// value, first match wins.
func CategoryIDs(detail *kara.ProductDetail) []int {
	if detail.ExtensionAttributes != nil && detail.ExtensionAttributes.CategoryLinks != nil {
		ids := make([]int, 0, len(detail.ExtensionAttributes.CategoryLinks))
		for _, link := range detail.ExtensionAttributes.CategoryLinks {
			if id, err := strconv.Atoi(link.CategoryID); err == nil {
				ids = append(ids, id)
			}
		}
		return ids
	}

	for _, attr := range detail.CustomAttributes {
		if attr.AttributeCode != "category_ids" {
			continue
		}
		list, ok := attr.Value.([]any)
		if !ok {
			continue
		}
		ids := make([]int, 0, len(list))
		for _, v := range list {
			if id, ok := toInt(v); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return nil
}

// MediaEntries maps the gallery entries of a product detail, defaulting
// position to 0, disabled to false, and media type to "image".
func MediaEntries(detail *kara.ProductDetail) []staging.MediaEntry {
	if len(detail.MediaGalleryEntries) == 0 {
		return nil
	}
	out := make([]staging.MediaEntry, 0, len(detail.MediaGalleryEntries))
	for _, entry := range detail.MediaGalleryEntries {
		m := staging.MediaEntry{
			OriginalID: entry.ID,
			FilePath:   entry.File,
			Label:      entry.Label,
			Position:   0,
			Disabled:   entry.Disabled,
			MediaType:  "image",
		}
		if entry.Position != nil {
			m.Position = *entry.Position
		}
		if entry.MediaType != "" {
			m.MediaType = entry.MediaType
		}
		out = append(out, m)
	}
	return out
}

// Attributes extracts the custom attributes of a product detail as stringified
// key/value pairs. Entries without an attribute code are dropped.
func Attributes(detail *kara.ProductDetail) []staging.ProductAttribute {
	if len(detail.CustomAttributes) == 0 {
		return nil
	}
	out := make([]staging.ProductAttribute, 0, len(detail.CustomAttributes))
	for _, attr := range detail.CustomAttributes {
		if attr.AttributeCode == "" {
			continue
		}
		out = append(out, staging.ProductAttribute{
			Code:  attr.AttributeCode,
			Value: stringifyValue(attr.Value),
		})
	}
	return out
}

func parseSourceTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(sourceTimeLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		id, err := strconv.Atoi(n)
		return id, err == nil
	}
	return 0, false
}

func stringifyValue(v any) *string {
	if v == nil {
		return nil
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	default:
		// Lists and objects keep their JSON encoding.
		if data, err := json.Marshal(val); err == nil {
			s = string(data)
		} else {
			s = fmt.Sprintf("%v", val)
		}
	}
	return &s
}
