package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidOrder = errors.New("invalid order")

type OrderKind string

const (
	Market   OrderKind = "market"
	Limit    OrderKind = "limit"
	StopLoss OrderKind = "stop-loss"
)

func (k OrderKind) Valid() bool {
	switch k {
	case Market, Limit, StopLoss:
		return true
	default:
		return false
	}
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

type OrderStatus string

const (
	Pending   OrderStatus = "pending"
	Filled    OrderStatus = "filled"
	Cancelled OrderStatus = "cancelled"
	Expired   OrderStatus = "expired"
	// the account could not book the order when it triggered
	Rejected OrderStatus = "rejected"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Expired || s == Rejected
}

type Order struct {
	ID        string      `json:"id"`
	AssetID   string      `json:"assetId"`
	Symbol    string      `json:"symbol"`
	Kind      OrderKind   `json:"type"`
	Side      Side        `json:"side"`
	Quantity  float64     `json:"quantity"`
	Price     *float64    `json:"price,omitempty"` // trigger for limit and stop-loss
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	FilledAt  *time.Time  `json:"filledAt,omitempty"`
	Reason    string      `json:"reason,omitempty"` // why a rejected order was not booked
}

func (o Order) Pending() bool {
	return o.Status == Pending
}

// TriggeredBy reports whether a pending order would fill at the given price.
// Stop-loss orders trigger on the way down regardless of side.
func (o Order) TriggeredBy(price float64) bool {
	if o.Price == nil {
		return false
	}
	trigger := *o.Price
	switch o.Kind {
	case Limit:
		if o.Side == Buy {
			return price <= trigger
		}
		return price >= trigger
	case StopLoss:
		return price <= trigger
	default:
		return false
	}
}

func (o Order) Validate() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, o.Kind)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if o.AssetID == "" {
		return fmt.Errorf("%w: empty asset id", ErrInvalidOrder)
	}
	if o.Kind != Market && (o.Price == nil || *o.Price <= 0) {
		return fmt.Errorf("%w: %s order requires a positive trigger price", ErrInvalidOrder, o.Kind)
	}
	return nil
}

func PriceOf(v float64) *float64 {
	return &v
}
