package pricing

import (
	"sort"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

// DeliveryQuote is either a fee or the reason delivery is refused.
type DeliveryQuote struct {
	Fee        money.Paise
	DenyReason string
}

func (q DeliveryQuote) Denied() bool { return q.DenyReason != "" }

// Err converts a denied quote into a client error.
func (q DeliveryQuote) Err() error {
	if !q.Denied() {
		return nil
	}
	return apperr.New(apperr.KindValidation, q.DenyReason, "delivery not available for this order")
}

// DeliveryFee charges the first tier covering distanceKm. Orders at or above
// FreeAbove ship free.
func DeliveryFee(distanceKm float64, subtotal money.Paise, s catalog.DeliverySettings) DeliveryQuote {
	if !s.Enabled {
		return DeliveryQuote{DenyReason: apperr.CodeDeliveryDisabled}
	}
	if s.MaxRadiusKm > 0 && distanceKm > s.MaxRadiusKm {
		return DeliveryQuote{DenyReason: apperr.CodeOutsideRadius}
	}
	if s.MinimumOrder > 0 && subtotal < s.MinimumOrder {
		return DeliveryQuote{DenyReason: apperr.CodeBelowMinimumOrder}
	}
	if s.FreeAbove > 0 && subtotal >= s.FreeAbove {
		return DeliveryQuote{}
	}
	if len(s.Tiers) == 0 {
		return DeliveryQuote{}
	}

	tiers := append([]catalog.DeliveryTier(nil), s.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].UpToKm < tiers[j].UpToKm })
	for _, t := range tiers {
		if distanceKm <= t.UpToKm {
			return DeliveryQuote{Fee: t.Fee}
		}
	}
	if s.MaxRadiusKm <= 0 {
		return DeliveryQuote{DenyReason: apperr.CodeOutsideRadius}
	}
	return DeliveryQuote{Fee: tiers[len(tiers)-1].Fee}
}
