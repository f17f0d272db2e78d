package common

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidOrder = errors.New("invalid order")

// MaxScale bounds the decimal exponent of prices and quantities in either
// direction. Comparing decimals rescales them to a common exponent, so an
// unbounded exponent makes every comparison against the order arbitrarily
// expensive.
const MaxScale = 18

// InScale reports whether d's exponent lies within MaxScale.
func InScale(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= -MaxScale && exp <= MaxScale
}

type Order struct {
	UUID          uuid.UUID       `json:"order_id"`       // Order tracked uuid
	Instrument    string          `json:"instrument"`     // Normalized instrument symbol
	Side          Side            `json:"side"`           // Order side
	LimitPrice    decimal.Decimal `json:"price"`          // Limiting price
	Quantity      decimal.Decimal `json:"quantity"`       // Remaining quantity
	TotalQuantity decimal.Decimal `json:"total_quantity"` // Total volume requested
	Filled        decimal.Decimal `json:"filled"`         // Volume filled so far
	Status        OrderStatus     `json:"status"`         //
	Seq           uint64          `json:"seq"`            // Arrival sequence, breaks price ties
	Timestamp     time.Time       `json:"timestamp"`      // Time of arrival of order
	Owner         string          `json:"owner,omitempty"`
}

// NewOrder builds a validated limit order with a fresh identifier. The sequence
// number and timestamp are stamped by the engine on intake.
func NewOrder(instrument string, side Side, price, quantity decimal.Decimal) (*Order, error) {
	order := &Order{
		UUID:          uuid.New(),
		Instrument:    NormalizeInstrument(instrument),
		Side:          side,
		LimitPrice:    price,
		Quantity:      quantity,
		TotalQuantity: quantity,
		Filled:        decimal.Zero,
		Status:        Open,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// Validate checks the caller supplied fields of an order.
func (order *Order) Validate() error {
	switch {
	case order.Instrument == "":
		return fmt.Errorf("%w: empty instrument", ErrInvalidOrder)
	case !order.Side.Valid():
		return fmt.Errorf("%w: %w", ErrInvalidOrder, ErrUnknownSide)
	case order.LimitPrice.IsNegative():
		return fmt.Errorf("%w: negative price %s", ErrInvalidOrder, order.LimitPrice)
	case !order.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity %s must be positive", ErrInvalidOrder, order.Quantity)
	case !InScale(order.LimitPrice) || !InScale(order.Quantity):
		return fmt.Errorf("%w: price and quantity exponents must be within %d", ErrInvalidOrder, MaxScale)
	}
	return nil
}

// Fill moves qty from the remaining quantity into the filled quantity and
// updates the status accordingly. qty must not exceed the remaining quantity.
func (order *Order) Fill(qty decimal.Decimal) {
	if qty.GreaterThan(order.Quantity) || qty.IsNegative() {
		panic(fmt.Sprintf("fill of %s exceeds remaining %s on order %s", qty, order.Quantity, order.UUID))
	}
	order.Quantity = order.Quantity.Sub(qty)
	order.Filled = order.Filled.Add(qty)
	if order.Quantity.IsZero() {
		order.Status = Filled
	} else if order.Filled.IsPositive() {
		order.Status = PartiallyFilled
	}
}

// Crosses reports whether this order's limit allows trading at price.
func (order *Order) Crosses(price decimal.Decimal) bool {
	switch order.Side {
	case Buy:
		return order.LimitPrice.GreaterThanOrEqual(price)
	case Sell:
		return order.LimitPrice.LessThanOrEqual(price)
	}
	return false
}

func (order Order) String() string {
	return fmt.Sprintf(
		`UUID:          %v
Instrument:    %s
Side:          %v
Status:        %v
LimitPrice:    %s
Quantity:      %s (Total: %s, Filled: %s)
Seq:           %d
Timestamp:     %v
Owner:         %s`,
		order.UUID,
		order.Instrument,
		order.Side,
		order.Status,
		order.LimitPrice,
		order.Quantity,
		order.TotalQuantity,
		order.Filled,
		order.Seq,
		order.Timestamp.Format(time.RFC3339Nano),
		order.Owner,
	)
}
