package catalog

import (
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

// Business is the tenant document. LastOrderToken is the dine-in token counter;
// it is only ever advanced inside an order transaction.
type Business struct {
	BusinessID     string           `dynamodbav:"business_id" json:"businessId"`
	Name           string           `dynamodbav:"name" json:"name"`
	Location       Location         `dynamodbav:"location" json:"location"`
	Tax            TaxSettings      `dynamodbav:"tax" json:"tax"`
	Delivery       DeliverySettings `dynamodbav:"delivery" json:"delivery"`
	PickupEnabled  bool             `dynamodbav:"pickup_enabled" json:"pickupEnabled"`
	DineInEnabled  bool             `dynamodbav:"dine_in_enabled" json:"dineInEnabled"`
	CODEnabled     bool             `dynamodbav:"cod_enabled" json:"codEnabled"`
	LastOrderToken int64            `dynamodbav:"last_order_token" json:"lastOrderToken"`
	UpdatedAt      time.Time        `dynamodbav:"updated_at" json:"updatedAt"`
}

type Location struct {
	Lat float64 `dynamodbav:"lat" json:"lat"`
	Lng float64 `dynamodbav:"lng" json:"lng"`
}

// TaxSettings configures GST. RatePercent is the combined rate, split evenly
// into CGST and SGST.
type TaxSettings struct {
	GSTEnabled  bool    `dynamodbav:"gst_enabled" json:"gstEnabled"`
	RatePercent float64 `dynamodbav:"rate_percent" json:"ratePercent"`
}

type DeliverySettings struct {
	Enabled      bool           `dynamodbav:"enabled" json:"enabled"`
	MaxRadiusKm  float64        `dynamodbav:"max_radius_km" json:"maxRadiusKm"`
	Tiers        []DeliveryTier `dynamodbav:"tiers" json:"tiers"`
	FreeAbove    money.Paise    `dynamodbav:"free_above" json:"freeAbove"`
	MinimumOrder money.Paise    `dynamodbav:"minimum_order" json:"minimumOrder"`
}

// DeliveryTier charges Fee for distances up to UpToKm.
type DeliveryTier struct {
	UpToKm float64     `dynamodbav:"up_to_km" json:"upToKm"`
	Fee    money.Paise `dynamodbav:"fee" json:"fee"`
}

// Menu is the canonical priced menu of one business.
type Menu struct {
	BusinessID string     `dynamodbav:"business_id" json:"businessId"`
	Categories []Category `dynamodbav:"categories" json:"categories"`
}

type Category struct {
	ID    string     `dynamodbav:"id" json:"id"`
	Name  string     `dynamodbav:"name" json:"name"`
	Items []MenuItem `dynamodbav:"items" json:"items"`
}

type MenuItem struct {
	ID        string    `dynamodbav:"id" json:"id"`
	Name      string    `dynamodbav:"name" json:"name"`
	Portions  []Portion `dynamodbav:"portions" json:"portions"`
	AddOns    []AddOn   `dynamodbav:"add_ons" json:"addOns"`
	Available bool      `dynamodbav:"available" json:"available"`
}

type Portion struct {
	Name  string      `dynamodbav:"name" json:"name"`
	Price money.Paise `dynamodbav:"price" json:"price"`
}

type AddOn struct {
	Name  string      `dynamodbav:"name" json:"name"`
	Price money.Paise `dynamodbav:"price" json:"price"`
}

// Category returns the category with the given id.
func (m *Menu) Category(id string) (*Category, bool) {
	for i := range m.Categories {
		if m.Categories[i].ID == id {
			return &m.Categories[i], true
		}
	}
	return nil, false
}

// Item finds an item by id, searching every category when categoryID is empty.
func (m *Menu) Item(categoryID, itemID string) (*MenuItem, bool) {
	for i := range m.Categories {
		c := &m.Categories[i]
		if categoryID != "" && c.ID != categoryID {
			continue
		}
		for j := range c.Items {
			if c.Items[j].ID == itemID {
				return &c.Items[j], true
			}
		}
	}
	return nil, false
}
