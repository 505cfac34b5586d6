package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lorisconti/drivehub-backend/pkg/config"
)

// PriceCents prices a lesson by duration tier: the first slot costs the base
// price, every further slot the extra-slot price.
func PriceCents(cfg config.PaymentsConfig, duration time.Duration, slotStep time.Duration) int64 {
	if slotStep <= 0 || duration <= 0 {
		return 0
	}
	slots := int64(duration / slotStep)
	if duration%slotStep != 0 {
		slots++
	}
	if slots < 1 {
		slots = 1
	}
	return cfg.BasePriceCents + cfg.ExtraSlotPriceCents*(slots-1)
}

// PenaltyCents applies the configured penalty percentage to the price,
// rounded half-up to a cent.
func PenaltyCents(cfg config.PaymentsConfig, priceCents int64) int64 {
	return decimal.NewFromInt(priceCents).
		Mul(decimal.NewFromInt(int64(cfg.PenaltyPercent))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
