package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRupees(t *testing.T) {
	assert.Equal(t, Paise(50050), FromRupees(decimal.RequireFromString("500.50")))
	assert.Equal(t, Paise(1), FromRupees(decimal.RequireFromString("0.005")))
	assert.Equal(t, "500.50", Paise(50050).String())
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Total Paise `json:"total"`
	}{Total: 12345})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":123.45}`, string(b))

	var in struct {
		Price Paise `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price":"99.9"}`), &in))
	assert.Equal(t, Paise(9990), in.Price)
	require.NoError(t, json.Unmarshal([]byte(`{"price":250}`), &in))
	assert.Equal(t, Paise(25000), in.Price)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []Paise{10000, 10000, 10000}, Paise(30000).Split(3))
	assert.Equal(t, []Paise{3334, 3333, 3333}, Paise(10000).Split(3))
	assert.Nil(t, Paise(100).Split(0))
}
