package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ActiveOn reports whether day falls inside the inclusive date range and on a usable weekday.
func (d Discount) ActiveOn(day time.Time) bool {
	date := DateOnly(day)
	if date.Before(DateOnly(d.StartDate)) || date.After(DateOnly(d.EndDate)) {
		return false
	}
	return d.DaysUsable[WeekdayIndex(date)]
}

func (d Discount) AppliesTo(day time.Time, qty decimal.Decimal) bool {
	if !d.ActiveOn(day) {
		return false
	}
	return qty.GreaterThanOrEqual(d.MinAmount) && qty.LessThanOrEqual(d.MaxAmount)
}

// Apply returns price reduced by PctOff, rounded half-up to cents.
func (d Discount) Apply(price decimal.Decimal) decimal.Decimal {
	factor := hundred.Sub(decimal.NewFromInt(int64(d.PctOff)))
	return price.Mul(factor).Div(hundred).Round(2)
}

func (d Discount) Expired(today time.Time) bool {
	return DateOnly(d.EndDate).Before(DateOnly(today))
}
