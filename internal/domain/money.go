package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	MinPrice = decimal.RequireFromString("0.01")
	MaxPrice = decimal.RequireFromString("99999999.99")
	// MaxQuantity is the largest value a NUMERIC(14,3) column holds.
	MaxQuantity = decimal.RequireFromString("99999999999.999")
)

const quantityPlaces = 3

func ValidatePrice(price decimal.Decimal) error {
	if !price.Equal(price.Round(2)) {
		return errors.New("price must have at most 2 decimal places")
	}
	if price.LessThan(MinPrice) || price.GreaterThan(MaxPrice) {
		return fmt.Errorf("price must be between %s and %s", MinPrice.StringFixed(2), MaxPrice.StringFixed(2))
	}
	return nil
}

// ValidateStock accepts zero; ValidateLineQuantity does not.
func ValidateStock(qty decimal.Decimal) error {
	if qty.IsNegative() {
		return errors.New("quantity cannot be negative")
	}
	return checkQuantityScale(qty)
}

func ValidateLineQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return errors.New("quantity must be greater than 0")
	}
	return checkQuantityScale(qty)
}

func checkQuantityScale(qty decimal.Decimal) error {
	if !qty.Equal(qty.Round(quantityPlaces)) {
		return errors.New("quantity must have at most 3 decimal places")
	}
	if qty.GreaterThan(MaxQuantity) {
		return fmt.Errorf("quantity must be at most %s", MaxQuantity.String())
	}
	return nil
}

// MergeLineItems collapses repeated products into one line, keeping first-seen order.
func MergeLineItems(items []LineItem) []LineItem {
	merged := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity = merged[i].Quantity.Add(item.Quantity)
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekdayIndex maps t to 0..6 with Monday first.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
