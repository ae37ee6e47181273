package pricing

import "sealfleet/pkg/models"

// DefaultRentalPricePerDay is the flat day rate applied to every robot
// rental. Services may override it via RENTAL_PRICE_PER_DAY.
const DefaultRentalPricePerDay = 1500000

// Engine computes booking costs. The rental rate is configuration, not a
// hidden constant, so deployments can reprice without a rebuild.
type Engine struct {
	RentalPricePerDay int64
}

func NewEngine(rentalPricePerDay int64) *Engine {
	if rentalPricePerDay <= 0 {
		rentalPricePerDay = DefaultRentalPricePerDay
	}
	return &Engine{RentalPricePerDay: rentalPricePerDay}
}

// PurchaseCost is the product's price at the time of booking. The value is
// copied onto the booking, so later catalog repricing does not touch it.
func (e *Engine) PurchaseCost(product *models.Product) int64 {
	return product.Price
}

// RentalCost charges the flat day rate for the given duration. Durations
// below one day are billed as one day.
func (e *Engine) RentalCost(durationDays int) int64 {
	if durationDays < 1 {
		durationDays = 1
	}
	return e.RentalPricePerDay * int64(durationDays)
}
