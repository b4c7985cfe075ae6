package inventory

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// DecodeCatalog reads a JSON array of products for seeding a store. Rows
// without an id get a fresh one.
func DecodeCatalog(r io.Reader, now time.Time) ([]Product, error) {
	var ps []Product
	if err := json.NewDecoder(r).Decode(&ps); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i, p := range ps {
		if p.SKU == "" {
			return nil, fmt.Errorf("catalog row %d: sku is required", i)
		}
		if p.Available < 0 || p.Reserved < 0 || p.Price.IsNegative() {
			return nil, fmt.Errorf("catalog row %d (%s): negative stock or price", i, p.SKU)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		ps[i] = p
	}
	return ps, nil
}
