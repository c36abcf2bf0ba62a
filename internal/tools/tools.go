package tools

import (
	"github.com/shopspring/decimal"
)

// RoundToStep rounds number to the nearest multiple of step. A non-positive step returns number unchanged.
func RoundToStep(number, step float64) float64 {
	if step <= 0 {
		return number
	}
	d, s := decimal.NewFromFloat(number), decimal.NewFromFloat(step)
	return d.Div(s).Round(0).Mul(s).InexactFloat64()
}

// FloorToStep rounds number down to a multiple of step.
func FloorToStep(number, step float64) float64 {
	if step <= 0 {
		return number
	}
	d, s := decimal.NewFromFloat(number), decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s).InexactFloat64()
}

// CeilToStep rounds number up to a multiple of step.
func CeilToStep(number, step float64) float64 {
	if step <= 0 {
		return number
	}
	d, s := decimal.NewFromFloat(number), decimal.NewFromFloat(step)
	return d.Div(s).Ceil().Mul(s).InexactFloat64()
}

func Percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}
