package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownSide = errors.New("unknown side")

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide accepts "buy"/"sell" in any case, plus the "b"/"s" shorthands.
func ParseSide(str string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "buy", "b":
		return Buy, nil
	case "sell", "s":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSide, str)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSide, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

type OrderStatus uint8

const (
	// Open orders rest in the book without any fills.
	Open OrderStatus = iota
	// PartiallyFilled orders have traded some, but not all, of their quantity.
	// They may be resting or in-flight.
	PartiallyFilled
	// Filled orders have no remaining quantity. Terminal.
	Filled
	// Cancelled orders were withdrawn by their owner. Terminal.
	Cancelled
)

var statusName = map[OrderStatus]string{
	Open:            "open",
	PartiallyFilled: "partially_filled",
	Filled:          "filled",
	Cancelled:       "cancelled",
}

func (s OrderStatus) String() string {
	if name, ok := statusName[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", uint8(s))
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether an order in this status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled
}

// NormalizeInstrument is applied to every instrument symbol entering the engine.
func NormalizeInstrument(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}
