// Package stats holds the pure aggregation arithmetic: signed deltas applied to
// counters, category histograms, the rolling activity window and bounded
// leaderboards, plus the streak calculator. Nothing in this package performs I/O.
package stats

import (
	"github.com/benvon/learning-stats/internal/models"
	"github.com/shopspring/decimal"
)

var minutesPerHour = decimal.NewFromInt(60)

// HoursFor converts minutes to hours rounded to one decimal place
func HoursFor(minutes int) float64 {
	return hoursDecimal(minutes).InexactFloat64()
}

func hoursDecimal(minutes int) decimal.Decimal {
	if minutes <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(minutes)).Div(minutesPerHour).Round(1)
}

// applyHours adds or subtracts an already rounded hour amount, clamped at zero.
// Values stay on the 0.1 grid so an add followed by the matching remove is exact.
func applyHours(current float64, delta decimal.Decimal, action models.Action) float64 {
	value := decimal.NewFromFloat(current).Round(1)
	if action == models.ActionRemove {
		value = value.Sub(delta)
	} else {
		value = value.Add(delta)
	}
	if value.IsNegative() {
		return 0
	}
	return value.Round(1).InexactFloat64()
}

// ApplyCounterDelta increments on add and decrements on remove, never going below zero
func ApplyCounterDelta(current int, action models.Action) int {
	return ApplyAmountDelta(current, 1, action)
}

// ApplyAmountDelta adds or removes amount from current, clamped at zero
func ApplyAmountDelta(current, amount int, action models.Action) int {
	if amount < 0 {
		amount = 0
	}
	if action == models.ActionRemove {
		if current-amount < 0 {
			return 0
		}
		return current - amount
	}
	return current + amount
}

// ApplyCategoryDelta adjusts the count stored for category by amount.
// Entries reaching zero are deleted. A remove on a missing key is a no-op.
// The input map is not modified.
func ApplyCategoryDelta(counts map[models.Category]int, category models.Category, amount int, action models.Action) map[models.Category]int {
	out := make(map[models.Category]int, len(counts)+1)
	for k, v := range counts {
		out[k] = v
	}

	current, ok := out[category]
	if !ok && action == models.ActionRemove {
		return out
	}

	next := ApplyAmountDelta(current, amount, action)
	if next == 0 {
		delete(out, category)
	} else {
		out[category] = next
	}
	return out
}

// ApplyCategoryHoursDelta adjusts the hours stored for category by round(minutes/60, 1).
// Same sparse semantics as ApplyCategoryDelta.
func ApplyCategoryHoursDelta(hours map[models.Category]float64, category models.Category, minutes int, action models.Action) map[models.Category]float64 {
	out := make(map[models.Category]float64, len(hours)+1)
	for k, v := range hours {
		out[k] = v
	}

	current, ok := out[category]
	if !ok && action == models.ActionRemove {
		return out
	}

	next := applyHours(current, hoursDecimal(minutes), action)
	if next == 0 {
		delete(out, category)
	} else {
		out[category] = next
	}
	return out
}
