package helper

import (
	"math"
	"strconv"
)

// RoundDownToStep floors v to the instrument step (quantity or tick).
func RoundDownToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	steps := math.Floor(v/step + 1e-12)
	return steps * step
}

// RoundUpToStep ceils v to the instrument step.
func RoundUpToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	steps := math.Ceil(v/step - 1e-12)
	return steps * step
}

// FormatQty renders a quantity with just enough decimals for the step.
func FormatQty(qty, step float64) string {
	prec := 0
	for s := step; s > 0 && s < 1 && prec < 10; s *= 10 {
		prec++
	}
	return strconv.FormatFloat(qty, 'f', prec, 64)
}
