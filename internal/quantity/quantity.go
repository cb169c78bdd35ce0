// Package quantity holds the numeric helpers shared by the order engines.
// Arithmetic goes through decimal so step multiples survive float rounding.
package quantity

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decHundred = decimal.NewFromInt(100)
	decOne     = decimal.NewFromInt(1)
)

func dec(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func toFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// RoundDownToStep floors value to a multiple of step. A non-positive step leaves the value unchanged.
func RoundDownToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	s := dec(step)
	return toFloat(dec(value).Div(s).Floor().Mul(s))
}

// Step resolves a bot step: the absolute value when set, otherwise percent of the reference price.
func Step(absolute, percent, reference float64) float64 {
	if absolute > 0 {
		return absolute
	}
	if percent <= 0 || reference <= 0 {
		return 0
	}
	return toFloat(dec(reference).Mul(dec(percent)).Div(decHundred))
}

// Distance is how far current sits beyond reference in the bot's direction:
// current-reference for long bots, reference-current for short ones.
func Distance(current, reference float64, isLong bool) float64 {
	if isLong {
		return toFloat(dec(current).Sub(dec(reference)))
	}
	return toFloat(dec(reference).Sub(dec(current)))
}

// StepsCrossed counts whole steps in distance. Negative distances yield zero.
func StepsCrossed(distance, step float64) int64 {
	if step <= 0 || distance <= 0 {
		return 0
	}
	return dec(distance).Div(dec(step)).Floor().IntPart()
}

// LadderDelta is the additional volume a laddered bot commits after price moved
// distance away from its worst entry: floor(distance/step)*base - committed.
func LadderDelta(distance, step, base, committed float64) float64 {
	steps := StepsCrossed(distance, step)
	target := decimal.NewFromInt(steps).Mul(dec(base))
	return toFloat(target.Sub(dec(committed)))
}

// Offset returns price moved n steps in direction dir (+1 up, -1 down).
func Offset(price, step float64, n int, dir float64) float64 {
	return toFloat(dec(price).Add(dec(step).Mul(decimal.NewFromInt(int64(n))).Mul(dec(dir))))
}

// ExitThreshold is the price a trade must reach to take profit.
func ExitThreshold(entry, step float64, isLong bool) float64 {
	if isLong {
		return toFloat(dec(entry).Add(dec(step)))
	}
	return toFloat(dec(entry).Sub(dec(step)))
}

// ExitPrice never prices an exit worse than its threshold: max(threshold, market) for
// long positions, min(threshold, market) for short ones.
func ExitPrice(threshold, market float64, isLong bool) float64 {
	if isLong {
		return math.Max(threshold, market)
	}
	return math.Min(threshold, market)
}

// StopLossThreshold is entry*(1-pct/100) for long and entry*(1+pct/100) for short positions.
func StopLossThreshold(entry, pct float64, isLong bool) float64 {
	ratio := dec(pct).Div(decHundred)
	if isLong {
		return toFloat(dec(entry).Mul(decOne.Sub(ratio)))
	}
	return toFloat(dec(entry).Mul(decOne.Add(ratio)))
}

// NetOfFee rounds filled-fee down to the step; negative results clamp to zero.
func NetOfFee(filled, fee, step float64) float64 {
	net := dec(filled).Sub(dec(fee))
	if net.IsNegative() {
		return 0
	}
	return RoundDownToStep(toFloat(net), step)
}

// Sum adds values without accumulating float error.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(dec(v))
	}
	return toFloat(total)
}

// Format renders a value for exchange APIs without exponent notation.
func Format(value float64) string {
	return dec(value).String()
}
