package model

import "time"

// IntervalProfit is one point of a replay equity curve.
type IntervalProfit struct {
	Balance float64   `json:"balance"`
	Profit  float64   `json:"profit"`
	Ts      time.Time `json:"ts"`
}
