package pricing

import "github.com/imrishuroy/marketplace-orderflow/internal/money"

// LineItem is a client-declared order line. UnitPrice is what the client
// believes the portion costs and is only used to disambiguate portions.
type LineItem struct {
	ItemID     string
	CategoryID string
	Name       string
	Portion    string
	Quantity   int
	UnitPrice  money.Paise
	AddOns     []string
	Notes      string
}

// Item is a line priced from the canonical menu.
type Item struct {
	ItemID     string        `dynamodbav:"item_id" json:"itemId"`
	CategoryID string        `dynamodbav:"category_id" json:"categoryId"`
	Name       string        `dynamodbav:"name" json:"name"`
	Portion    string        `dynamodbav:"portion" json:"portion"`
	Quantity   int           `dynamodbav:"quantity" json:"quantity"`
	UnitPrice  money.Paise   `dynamodbav:"unit_price" json:"unitPrice"`
	AddOns     []PricedAddOn `dynamodbav:"add_ons,omitempty" json:"addOns,omitempty"`
	LineTotal  money.Paise   `dynamodbav:"line_total" json:"lineTotal"`
	Notes      string        `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
}

type PricedAddOn struct {
	Name  string      `dynamodbav:"name" json:"name"`
	Price money.Paise `dynamodbav:"price" json:"price"`
}

// Result is the server-side price of a basket.
type Result struct {
	Subtotal money.Paise
	Items    []Item
}

// Taxes is GST split into its central and state halves.
type Taxes struct {
	CGST money.Paise
	SGST money.Paise
}

func (t Taxes) Total() money.Paise { return t.CGST + t.SGST }

// Totals is the full server-computed bill.
type Totals struct {
	Subtotal       money.Paise `dynamodbav:"subtotal" json:"subtotal"`
	CGST           money.Paise `dynamodbav:"cgst" json:"cgst"`
	SGST           money.Paise `dynamodbav:"sgst" json:"sgst"`
	DeliveryCharge money.Paise `dynamodbav:"delivery_charge" json:"deliveryCharge"`
	Total          money.Paise `dynamodbav:"total_amount" json:"totalAmount"`
}

// NewTotals sums subtotal, taxes and delivery.
func NewTotals(subtotal money.Paise, taxes Taxes, delivery money.Paise) Totals {
	return Totals{
		Subtotal:       subtotal,
		CGST:           taxes.CGST,
		SGST:           taxes.SGST,
		DeliveryCharge: delivery,
		Total:          subtotal + taxes.Total() + delivery,
	}
}
