package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxPointsPerCurrency matches the NUMERIC(10,2) column.
var MaxPointsPerCurrency = decimal.RequireFromString("99999999.99")

var weekdayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// PointsEnabled reports whether purchases at the store earn loyalty points.
func (s Store) PointsEnabled() bool {
	return s.PointsPerCurrency.Valid && s.PointsPerCurrency.Decimal.IsPositive()
}

// PointsFor converts a unit price into earned points, rounding down.
func (s Store) PointsFor(price decimal.Decimal) int64 {
	if !s.PointsEnabled() {
		return 0
	}
	return price.Div(s.PointsPerCurrency.Decimal).Floor().IntPart()
}

func (s Store) SupportsPayment(method int) bool {
	if method < 0 || method >= PaymentMethodCount {
		return false
	}
	return s.PaymentMethods[method]
}

// IsOpenAt checks t against the weekday window in t's own location.
func (s Store) IsOpenAt(t time.Time) bool {
	day := s.Hours[WeekdayIndex(t)]
	if day.Open == nil || day.Close == nil {
		return false
	}
	open, err := parseClock(*day.Open)
	if err != nil {
		return false
	}
	closing, err := parseClock(*day.Close)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= open && minute < closing
}

func ValidateHours(hours [7]DayHours) error {
	for i, day := range hours {
		name := weekdayNames[i]
		if (day.Open == nil) != (day.Close == nil) {
			return fmt.Errorf("%s opening and closing times must both be set or both be empty", name)
		}
		if day.Open == nil {
			continue
		}
		open, err := parseClock(*day.Open)
		if err != nil {
			return fmt.Errorf("%s opening time: %w", name, err)
		}
		closing, err := parseClock(*day.Close)
		if err != nil {
			return fmt.Errorf("%s closing time: %w", name, err)
		}
		if closing <= open {
			return fmt.Errorf("%s closing time must be after opening time", name)
		}
	}
	return nil
}

func ValidatePointsPerCurrency(value decimal.Decimal) error {
	if !value.IsPositive() {
		return errors.New("points_per_currency must be greater than 0")
	}
	if !value.Equal(value.Round(2)) {
		return errors.New("points_per_currency must have at most 2 decimal places")
	}
	if value.GreaterThan(MaxPointsPerCurrency) {
		return fmt.Errorf("points_per_currency must be at most %s", MaxPointsPerCurrency.StringFixed(2))
	}
	return nil
}

func parseClock(raw string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return h*60 + m, nil
}
