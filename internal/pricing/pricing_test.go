package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

func testMenu() *catalog.Menu {
	return &catalog.Menu{
		BusinessID: "biz-1",
		Categories: []catalog.Category{
			{ID: "mains", Name: "Mains", Items: []catalog.MenuItem{
				{
					ID: "biryani", Name: "Chicken Biryani", Available: true,
					Portions: []catalog.Portion{{Name: "Half", Price: 18000}, {Name: "Full", Price: 32000}},
					AddOns:   []catalog.AddOn{{Name: "Raita", Price: 3000}, {Name: "Extra Egg", Price: 2000}},
				},
				{
					ID: "thali", Name: "Veg Thali", Available: true,
					Portions: []catalog.Portion{{Name: "Regular", Price: 50050}},
				},
				{
					ID: "paneer", Name: "Paneer Tikka", Available: false,
					Portions: []catalog.Portion{{Name: "Regular", Price: 24000}},
				},
			}},
			{ID: "drinks", Name: "Drinks", Items: []catalog.MenuItem{
				{ID: "lassi", Name: "Lassi", Available: true, Portions: []catalog.Portion{{Name: "Glass", Price: 8000}}},
			}},
		},
	}
}

type menuStub struct{ menu *catalog.Menu }

func (m menuStub) GetMenu(context.Context, string) (*catalog.Menu, error) { return m.menu, nil }

func TestPriceMenu_PortionResolution(t *testing.T) {
	tests := []struct {
		name    string
		line    LineItem
		portion string
		total   money.Paise
	}{
		{"explicit portion", LineItem{ItemID: "biryani", Portion: "full", Quantity: 1}, "Full", 32000},
		{"single portion fallback", LineItem{ItemID: "lassi", Portion: "Large", Quantity: 2}, "Glass", 16000},
		{"price match heuristic", LineItem{ItemID: "biryani", UnitPrice: 18000, Quantity: 1}, "Half", 18000},
		{"add-ons times quantity", LineItem{ItemID: "biryani", Portion: "Half", Quantity: 2, AddOns: []string{"raita", "Extra Egg"}}, "Half", 46000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := PriceMenu(testMenu(), []LineItem{tt.line})
			require.NoError(t, err)
			require.Len(t, res.Items, 1)
			assert.Equal(t, tt.portion, res.Items[0].Portion)
			assert.Equal(t, tt.total, res.Items[0].LineTotal)
			assert.Equal(t, tt.total, res.Subtotal)
		})
	}
}

func TestPriceMenu_Rejections(t *testing.T) {
	tests := []struct {
		name string
		line LineItem
		code string
	}{
		{"unknown item", LineItem{ItemID: "ghost", Quantity: 1}, apperr.CodeItemNotFound},
		{"unknown category", LineItem{ItemID: "lassi", CategoryID: "desserts", Quantity: 1}, apperr.CodeCategoryNotFound},
		{"item in other category", LineItem{ItemID: "lassi", CategoryID: "mains", Quantity: 1}, apperr.CodeItemNotFound},
		{"ambiguous portion", LineItem{ItemID: "biryani", UnitPrice: 100, Quantity: 1}, apperr.CodePortionNotFound},
		{"unknown add-on", LineItem{ItemID: "biryani", Portion: "Half", Quantity: 1, AddOns: []string{"Gold Leaf"}}, apperr.CodeAddOnNotFound},
		{"unavailable", LineItem{ItemID: "paneer", Quantity: 1}, apperr.CodeItemUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PriceMenu(testMenu(), []LineItem{{ItemID: "lassi", Quantity: 1}, tt.line})
			require.Error(t, err)
			assert.ErrorContains(t, err, "item[1]")
			var e *apperr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.code, e.Code)
		})
	}
}

func TestValidatePriceMatch_Tolerance(t *testing.T) {
	v := NewValidator(menuStub{testMenu()}, DefaultTolerance)
	res, err := v.Price(context.Background(), "biz-1", []LineItem{{ItemID: "thali", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, money.Paise(50050), res.Subtotal)

	// 500 vs 500.50 is within ₹1; the server subtotal is what gets used.
	assert.NoError(t, v.ValidatePriceMatch(50000, res.Subtotal))

	err = v.ValidatePriceMatch(50000, 55000)
	require.Error(t, err)
	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apperr.CodePriceMismatch, e.Code)
	assert.Equal(t, apperr.KindPricing, e.Kind)

	assert.NoError(t, ValidatePriceMatch(50100, 50000, DefaultTolerance))
	assert.Error(t, ValidatePriceMatch(50101, 50000, DefaultTolerance))
}

func TestCalculateTaxes(t *testing.T) {
	// 5% on ₹500.50: each half is 2.5% = 12.5125 -> 12.51, not (25.025 -> 25.03) / 2
	taxes := CalculateTaxes(50050, catalog.TaxSettings{GSTEnabled: true, RatePercent: 5})
	assert.Equal(t, money.Paise(1251), taxes.CGST)
	assert.Equal(t, money.Paise(1251), taxes.SGST)
	assert.Equal(t, money.Paise(2502), taxes.Total())

	assert.Equal(t, Taxes{}, CalculateTaxes(50050, catalog.TaxSettings{GSTEnabled: false, RatePercent: 5}))

	totals := NewTotals(50050, taxes, 3000)
	assert.Equal(t, money.Paise(55552), totals.Total)
}

func TestDeliveryFee(t *testing.T) {
	s := catalog.DeliverySettings{
		Enabled:     true,
		MaxRadiusKm: 8,
		FreeAbove:   100000,
		Tiers: []catalog.DeliveryTier{
			{UpToKm: 6, Fee: 5000},
			{UpToKm: 3, Fee: 3000},
		},
	}

	assert.Equal(t, DeliveryQuote{Fee: 3000}, DeliveryFee(2.5, 40000, s))
	assert.Equal(t, DeliveryQuote{Fee: 5000}, DeliveryFee(4, 40000, s))
	assert.Equal(t, DeliveryQuote{Fee: 5000}, DeliveryFee(7.5, 40000, s))
	assert.Equal(t, DeliveryQuote{}, DeliveryFee(4, 100000, s))

	q := DeliveryFee(9, 40000, s)
	assert.True(t, q.Denied())
	assert.Equal(t, apperr.CodeOutsideRadius, q.DenyReason)
	assert.True(t, apperr.Is(q.Err(), apperr.KindValidation))

	s.Enabled = false
	assert.Equal(t, apperr.CodeDeliveryDisabled, DeliveryFee(1, 40000, s).DenyReason)
}
