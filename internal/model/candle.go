package model

import "time"

type Candle struct {
	InstrumentID string    `db:"instrument_id"`
	Ts           time.Time `db:"ts"`
	ClosePrice   float64   `db:"close_price"`
}
