package common

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"buy": Buy, "BUY": Buy, " b ": Buy, "sell": Sell, "S": Sell} {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSide("hold")
	assert.ErrorIs(t, err, ErrUnknownSide)
}

func TestSide_Text(t *testing.T) {
	text, err := Sell.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "sell", string(text))

	var s Side
	require.NoError(t, s.UnmarshalText([]byte("buy")))
	assert.Equal(t, Buy, s)
	assert.Equal(t, Sell, Buy.Opposite())

	_, err = Side(3).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownSide)
}

func TestNewOrder(t *testing.T) {
	order, err := NewOrder(" aapl", Buy, decimal.RequireFromString("10.5"), decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", order.Instrument)
	assert.Equal(t, Open, order.Status)
	assert.True(t, order.TotalQuantity.Equal(order.Quantity))
	assert.True(t, order.Filled.IsZero())
	assert.NotEqual(t, order.UUID, [16]byte{})

	_, err = NewOrder("AAPL", Buy, decimal.NewFromInt(-1), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = NewOrder("AAPL", Sell, decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestNewOrder_Scale(t *testing.T) {
	_, err := NewOrder("AAPL", Buy, decimal.New(5, -MaxScale), decimal.New(1, MaxScale))
	assert.NoError(t, err)

	_, err = NewOrder("AAPL", Buy, decimal.New(1, 30_000_000), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = NewOrder("AAPL", Buy, decimal.NewFromInt(1), decimal.New(1, -MaxScale-1))
	assert.ErrorIs(t, err, ErrInvalidOrder)

	assert.True(t, InScale(decimal.RequireFromString("0.000000000000000001")))
	assert.False(t, InScale(decimal.New(1, MaxScale+1)))
}

func TestOrder_Fill(t *testing.T) {
	order, err := NewOrder("X", Sell, decimal.NewFromInt(5), decimal.NewFromInt(10))
	require.NoError(t, err)

	order.Fill(decimal.NewFromInt(4))
	assert.Equal(t, PartiallyFilled, order.Status)
	assert.True(t, order.Quantity.Equal(decimal.NewFromInt(6)))
	assert.True(t, order.Filled.Equal(decimal.NewFromInt(4)))

	order.Fill(decimal.NewFromInt(6))
	assert.Equal(t, Filled, order.Status)
	assert.True(t, order.Status.Terminal())
	assert.True(t, order.Quantity.IsZero())

	assert.Panics(t, func() { order.Fill(decimal.NewFromInt(1)) })
}

func TestOrder_Crosses(t *testing.T) {
	buy := Order{Side: Buy, LimitPrice: decimal.NewFromInt(100)}
	assert.True(t, buy.Crosses(decimal.NewFromInt(99)))
	assert.True(t, buy.Crosses(decimal.NewFromInt(100)))
	assert.False(t, buy.Crosses(decimal.NewFromInt(101)))

	sell := Order{Side: Sell, LimitPrice: decimal.NewFromInt(100)}
	assert.True(t, sell.Crosses(decimal.NewFromInt(101)))
	assert.False(t, sell.Crosses(decimal.NewFromInt(99)))
}
