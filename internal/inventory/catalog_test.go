package inventory

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCatalog(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ps, err := DecodeCatalog(strings.NewReader(`[
		{"name":"Camiseta","sku":"CAMI-001","variant":"M","price":"49.90","available_stock":4,"is_active":true},
		{"id":"11111111-1111-1111-1111-111111111111","name":"Gorra","sku":"GOR-001","price":"20","available_stock":1}
	]`), now)
	require.NoError(t, err)
	require.Len(t, ps, 2)

	assert.NotEmpty(t, ps[0].ID)
	assert.Equal(t, "49.9", ps[0].Price.String())
	assert.True(t, ps[0].Active)
	assert.Equal(t, now, ps[0].CreatedAt)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", ps[1].ID)
	assert.False(t, ps[1].Active)
}

func TestDecodeCatalog_Rejects(t *testing.T) {
	for name, in := range map[string]string{
		"syntax":         `{`,
		"missing sku":    `[{"name":"x"}]`,
		"negative stock": `[{"sku":"A","available_stock":-1}]`,
		"negative price": `[{"sku":"A","price":"-1"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCatalog(strings.NewReader(in), time.Now())
			assert.Error(t, err)
		})
	}
}
