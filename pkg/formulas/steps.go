// Package formulas provides small numeric helpers shared by the planning
// and execution modules.
package formulas

import "github.com/shopspring/decimal"

// FloorToStep rounds a quantity down to the instrument's LOT_SIZE step.
// Exchanges reject quantities that are not exact multiples of the step, and
// binary floating point cannot represent steps like 0.001 exactly, so the
// flooring is done in decimal space.
func FloorToStep(quantity, step float64) float64 {
	if step <= 0 || quantity <= 0 {
		return quantity
	}
	q := decimal.NewFromFloat(quantity)
	s := decimal.NewFromFloat(step)
	floored, _ := q.Div(s).Floor().Mul(s).Float64()
	return floored
}

// StepResidue returns the part of a quantity lost to LOT_SIZE flooring.
func StepResidue(quantity, step float64) float64 {
	return quantity - FloorToStep(quantity, step)
}
