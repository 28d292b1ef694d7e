// Package pricing recomputes order totals from the canonical menu so that a
// tampered client payload cannot under-pay.
package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

// DefaultTolerance is the largest accepted difference between client and server subtotals.
const DefaultTolerance = money.Paise(100)

// MenuSource loads the canonical menu for a business.
type MenuSource interface {
	GetMenu(ctx context.Context, businessID string) (*catalog.Menu, error)
}

type Validator struct {
	menus     MenuSource
	tolerance money.Paise
}

func NewValidator(menus MenuSource, tolerance money.Paise) *Validator {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	return &Validator{menus: menus, tolerance: tolerance}
}

func (v *Validator) Tolerance() money.Paise { return v.tolerance }

// Price fetches the menu and prices items against it.
func (v *Validator) Price(ctx context.Context, businessID string, items []LineItem) (*Result, error) {
	menu, err := v.menus.GetMenu(ctx, businessID)
	if err != nil {
		return nil, err
	}
	return PriceMenu(menu, items)
}

// ValidatePriceMatch fails with PRICE_MISMATCH when client and server subtotals
// differ by more than the tolerance.
func (v *Validator) ValidatePriceMatch(client, server money.Paise) error {
	return ValidatePriceMatch(client, server, v.tolerance)
}

// PriceMenu resolves every line against menu and sums the line totals.
func PriceMenu(menu *catalog.Menu, items []LineItem) (*Result, error) {
	res := &Result{Items: make([]Item, 0, len(items))}
	for i, li := range items {
		item, err := priceLine(menu, li)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, err)
		}
		res.Items = append(res.Items, item)
		res.Subtotal += item.LineTotal
	}
	return res, nil
}

func priceLine(menu *catalog.Menu, li LineItem) (Item, error) {
	if li.Quantity <= 0 {
		return Item{}, apperr.Validation(fmt.Sprintf("quantity must be positive, got %d", li.Quantity))
	}
	if li.CategoryID != "" {
		if _, ok := menu.Category(li.CategoryID); !ok {
			return Item{}, apperr.Pricing(apperr.CodeCategoryNotFound, "category %q not found", li.CategoryID)
		}
	}
	mi, ok := menu.Item(li.CategoryID, li.ItemID)
	if !ok {
		return Item{}, apperr.Pricing(apperr.CodeItemNotFound, "item %q not found", li.ItemID)
	}
	if !mi.Available {
		return Item{}, apperr.Pricing(apperr.CodeItemUnavailable, "item %q is unavailable", mi.Name)
	}

	portion, err := resolvePortion(mi, li)
	if err != nil {
		return Item{}, err
	}

	out := Item{
		ItemID:     mi.ID,
		CategoryID: li.CategoryID,
		Name:       mi.Name,
		Portion:    portion.Name,
		Quantity:   li.Quantity,
		UnitPrice:  portion.Price,
		Notes:      li.Notes,
	}
	unit := portion.Price
	for _, name := range li.AddOns {
		addOn, ok := findAddOn(mi, name)
		if !ok {
			return Item{}, apperr.Pricing(apperr.CodeAddOnNotFound, "add-on %q not found on %q", name, mi.Name)
		}
		out.AddOns = append(out.AddOns, PricedAddOn{Name: addOn.Name, Price: addOn.Price})
		unit += addOn.Price
	}
	out.LineTotal = unit.Mul(li.Quantity)
	return out, nil
}

// resolvePortion tries, in order: explicit name, the only portion, a portion
// priced exactly at the client's unit price.
func resolvePortion(mi *catalog.MenuItem, li LineItem) (catalog.Portion, error) {
	if li.Portion != "" {
		for _, p := range mi.Portions {
			if strings.EqualFold(p.Name, li.Portion) {
				return p, nil
			}
		}
	}
	if len(mi.Portions) == 1 {
		return mi.Portions[0], nil
	}
	if li.UnitPrice > 0 {
		for _, p := range mi.Portions {
			if p.Price == li.UnitPrice {
				return p, nil
			}
		}
	}
	return catalog.Portion{}, apperr.Pricing(apperr.CodePortionNotFound, "portion %q not found on %q", li.Portion, mi.Name)
}

func findAddOn(mi *catalog.MenuItem, name string) (catalog.AddOn, bool) {
	for _, a := range mi.AddOns {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return catalog.AddOn{}, false
}

// ValidatePriceMatch fails with PRICE_MISMATCH if |client-server| > tolerance.
func ValidatePriceMatch(client, server, tolerance money.Paise) error {
	if (client - server).Abs() > tolerance {
		return apperr.Pricing(apperr.CodePriceMismatch, "client subtotal %s does not match server subtotal %s", client, server)
	}
	return nil
}

// CalculateTaxes splits the GST rate evenly into CGST and SGST. Each half is
// rounded on its own.
func CalculateTaxes(subtotal money.Paise, s catalog.TaxSettings) Taxes {
	if !s.GSTEnabled || s.RatePercent <= 0 {
		return Taxes{}
	}
	half := decimal.NewFromFloat(s.RatePercent).Div(decimal.NewFromInt(2))
	base := decimal.NewFromInt(int64(subtotal))
	cgst := base.Mul(half).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	sgst := base.Mul(half).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	return Taxes{CGST: money.Paise(cgst), SGST: money.Paise(sgst)}
}
