package app

import "github.com/imrishuroy/marketplace-orderflow/internal/catalog"

// DemoBusiness is loaded into the in-memory store when SEED_DEMO is set.
func DemoBusiness() catalog.Business {
	return catalog.Business{
		BusinessID: "demo-bistro",
		Name:       "Demo Bistro",
		Location:   catalog.Location{Lat: 12.9716, Lng: 77.5946},
		Tax:        catalog.TaxSettings{GSTEnabled: true, RatePercent: 5},
		Delivery: catalog.DeliverySettings{
			Enabled:      true,
			MaxRadiusKm:  8,
			Tiers:        []catalog.DeliveryTier{{UpToKm: 3, Fee: 3000}, {UpToKm: 8, Fee: 6000}},
			FreeAbove:    100000,
			MinimumOrder: 15000,
		},
		PickupEnabled: true,
		DineInEnabled: true,
		CODEnabled:    true,
	}
}

func DemoMenu() catalog.Menu {
	return catalog.Menu{Categories: []catalog.Category{
		{ID: "mains", Name: "Mains", Items: []catalog.MenuItem{
			{
				ID: "biryani", Name: "Chicken Biryani", Available: true,
				Portions: []catalog.Portion{{Name: "Half", Price: 18000}, {Name: "Full", Price: 32000}},
				AddOns:   []catalog.AddOn{{Name: "Raita", Price: 3000}, {Name: "Boiled Egg", Price: 2000}},
			},
			{ID: "thali", Name: "Veg Thali", Available: true, Portions: []catalog.Portion{{Name: "Regular", Price: 25000}}},
			{ID: "dosa", Name: "Masala Dosa", Available: true, Portions: []catalog.Portion{{Name: "Regular", Price: 12000}}},
		}},
		{ID: "drinks", Name: "Drinks", Items: []catalog.MenuItem{
			{ID: "lassi", Name: "Sweet Lassi", Available: true, Portions: []catalog.Portion{{Name: "Glass", Price: 8000}}},
			{ID: "chai", Name: "Masala Chai", Available: true, Portions: []catalog.Portion{{Name: "Cup", Price: 3000}}},
		}},
	}}
}
