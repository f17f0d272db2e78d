package engine

import (
	"testing"

	"matchbook/internal/common"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// drawOrder draws a limit order on a narrow price band so that crossings are
// frequent. Prices carry up to two decimal places.
func drawOrder(t *rapid.T, label string) (common.Side, decimal.Decimal, decimal.Decimal) {
	side := rapid.SampledFrom([]common.Side{common.Buy, common.Sell}).Draw(t, label+"Side")
	price := decimal.New(rapid.Int64Range(9900, 10100).Draw(t, label+"Price"), -2)
	qty := decimal.New(rapid.Int64Range(1, 50).Draw(t, label+"Qty"), 0)
	return side, price, qty
}

// checkBook asserts the resting invariants of a book: positive quantities,
// one side per order, price-time priority and an uncrossed spread.
func checkBook(t *rapid.T, engine *Engine) {
	bids, asks := engine.GetOrderBook("TEST")
	seen := make(map[uuid.UUID]bool)

	for _, orders := range [][]common.Order{bids, asks} {
		for i, o := range orders {
			if !o.Quantity.IsPositive() {
				t.Fatalf("resting order %s has quantity %s", o.UUID, o.Quantity)
			}
			if o.Filled.Add(o.Quantity).Cmp(o.TotalQuantity) != 0 {
				t.Fatalf("order %s: filled %s + remaining %s != total %s", o.UUID, o.Filled, o.Quantity, o.TotalQuantity)
			}
			if seen[o.UUID] {
				t.Fatalf("order %s rests twice", o.UUID)
			}
			seen[o.UUID] = true
			if i == 0 {
				continue
			}
			prev := orders[i-1]
			c := prev.LimitPrice.Cmp(o.LimitPrice)
			if o.Side == common.Buy {
				c = -c
			}
			if c > 0 || (c == 0 && prev.Seq > o.Seq) {
				t.Fatalf("priority violated between %s@%s and %s@%s", prev.UUID, prev.LimitPrice, o.UUID, o.LimitPrice)
			}
		}
	}

	if len(bids) > 0 && len(asks) > 0 && bids[0].LimitPrice.GreaterThanOrEqual(asks[0].LimitPrice) {
		t.Fatalf("book is crossed: bid %s >= ask %s", bids[0].LimitPrice, asks[0].LimitPrice)
	}
}

func TestProperty_BookInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		engine := New()
		var placed []uuid.UUID

		n := rapid.IntRange(1, 60).Draw(t, "n")
		for i := range n {
			if len(placed) > 0 && rapid.IntRange(0, 4).Draw(t, "cancel") == 0 {
				id := placed[rapid.IntRange(0, len(placed)-1).Draw(t, "victim")]
				_, _ = engine.CancelOrder(id)
			} else {
				side, price, qty := drawOrder(t, "order")
				id, err := engine.PlaceOrder("TEST", side, price, qty)
				if err != nil {
					t.Fatalf("placing order %d: %v", i, err)
				}
				placed = append(placed, id)
			}
			checkBook(t, engine)
		}

		for _, id := range placed {
			o, ok := engine.Order(id)
			if !ok {
				t.Fatalf("order %s forgotten", id)
			}
			if o.Quantity.IsNegative() || o.Filled.GreaterThan(o.TotalQuantity) {
				t.Fatalf("order %s out of bounds: remaining %s filled %s", id, o.Quantity, o.Filled)
			}
		}
	})
}

func TestProperty_ConservationAndPriceImprovement(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		engine := New()

		filledBefore := func(ids []uuid.UUID) map[uuid.UUID]decimal.Decimal {
			out := make(map[uuid.UUID]decimal.Decimal, len(ids))
			for _, id := range ids {
				o, _ := engine.Order(id)
				out[id] = o.Filled
			}
			return out
		}

		var placed []uuid.UUID
		n := rapid.IntRange(1, 40).Draw(t, "n")
		for range n {
			side, price, qty := drawOrder(t, "order")
			before := filledBefore(placed)

			o, err := common.NewOrder("TEST", side, price, qty)
			if err != nil {
				t.Fatalf("new order: %v", err)
			}
			final, trades, err := engine.Submit(o)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			placed = append(placed, final.UUID)

			taken := decimal.Zero
			makers := make(map[uuid.UUID]decimal.Decimal)
			for _, trade := range trades {
				if trade.TakerOrder != final.UUID {
					t.Fatalf("trade %s attributed to %s", trade.UUID, trade.TakerOrder)
				}
				if !final.Crosses(trade.Price) {
					t.Fatalf("%s order limit %s executed at %s", side, price, trade.Price)
				}
				taken = taken.Add(trade.Volume)
				makers[trade.MakerOrder] = makers[trade.MakerOrder].Add(trade.Volume)
			}

			if !taken.Equal(final.Filled) {
				t.Fatalf("taker filled %s but trades sum to %s", final.Filled, taken)
			}
			for id, volume := range makers {
				o, _ := engine.Order(id)
				if delta := o.Filled.Sub(before[id]); !delta.Equal(volume) {
					t.Fatalf("maker %s filled %s in trades but %s on the order", id, volume, delta)
				}
			}
			checkBook(t, engine)
		}
	})
}

func TestProperty_IdempotentCancel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		engine := New()
		var placed []uuid.UUID
		for range rapid.IntRange(1, 20).Draw(t, "n") {
			side, price, qty := drawOrder(t, "order")
			id, err := engine.PlaceOrder("TEST", side, price, qty)
			if err != nil {
				t.Fatalf("placing order: %v", err)
			}
			placed = append(placed, id)
		}

		id := rapid.SampledFrom(placed).Draw(t, "victim")
		first, _ := engine.CancelOrder(id)
		bids, asks := engine.GetOrderBook("TEST")

		second, err := engine.CancelOrder(id)
		if err == nil {
			t.Fatalf("second cancel of %s succeeded", id)
		}
		third, _ := engine.CancelOrder(id)
		if second.Outcome != third.Outcome || !second.Filled.Equal(third.Filled) || !second.Remaining.Equal(third.Remaining) {
			t.Fatalf("repeated cancel is unstable: %+v vs %+v", second, third)
		}
		if first.Outcome == OutcomeCancelled && second.Outcome != OutcomeAlreadyCancelled {
			t.Fatalf("cancelled order reported as %s", second.Outcome)
		}

		bidsAfter, asksAfter := engine.GetOrderBook("TEST")
		if len(bids) != len(bidsAfter) || len(asks) != len(asksAfter) {
			t.Fatalf("repeated cancel mutated the book")
		}
	})
}
