package engine

import (
	"bytes"
	"errors"
	"fmt"

	"matchbook/internal/common"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

var (
	ErrNotInBook      = errors.New("order not in book")
	ErrDuplicateOrder = errors.New("order already in book")
	ErrNothingToRest  = errors.New("order has no remaining quantity")
)

// PriceLevel is a read-only aggregation of the resting orders at one price.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   []common.Order // time priority, earliest first
}

type side = btree.BTreeG[*common.Order]

// OrderBook holds the resting orders of one instrument. Each side is a btree
// keyed on (price, arrival sequence), so the minimum item of a side is always
// its highest-priority order. The index lets Remove find any order without a
// scan.
type OrderBook struct {
	instrument string

	bids  *side
	asks  *side
	index map[uuid.UUID]*common.Order

	// Some book keeping
	buyQuantity  decimal.Decimal // Track the bid-side liquidity of the book.
	sellQuantity decimal.Decimal // Track the ask-side liquidity of the book.
}

// samePriceLess breaks price ties by arrival. The uuid comparison only matters
// for orders stamped with the same sequence, which the engine never produces.
func samePriceLess(a, b *common.Order) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return bytes.Compare(a.UUID[:], b.UUID[:]) < 0
}

func NewOrderBook(instrument string) *OrderBook {
	// Sorted greatest price first.
	bids := btree.NewBTreeG(func(a, b *common.Order) bool {
		if c := a.LimitPrice.Cmp(b.LimitPrice); c != 0 {
			return c > 0
		}
		return samePriceLess(a, b)
	})
	// Sorted least price first.
	asks := btree.NewBTreeG(func(a, b *common.Order) bool {
		if c := a.LimitPrice.Cmp(b.LimitPrice); c != 0 {
			return c < 0
		}
		return samePriceLess(a, b)
	})
	return &OrderBook{
		instrument:   common.NormalizeInstrument(instrument),
		bids:         bids,
		asks:         asks,
		index:        make(map[uuid.UUID]*common.Order),
		buyQuantity:  decimal.Zero,
		sellQuantity: decimal.Zero,
	}
}

func (book *OrderBook) Instrument() string {
	return book.instrument
}

func (book *OrderBook) sideOf(s common.Side) (*side, error) {
	switch s {
	case common.Buy:
		return book.bids, nil
	case common.Sell:
		return book.asks, nil
	}
	return nil, fmt.Errorf("%w: %d", common.ErrUnknownSide, uint8(s))
}

// Add rests an order on the side given by order.Side. The book keeps the
// pointer: fills applied to the order later are visible through the book.
func (book *OrderBook) Add(order *common.Order) error {
	levels, err := book.sideOf(order.Side)
	if err != nil {
		return err
	}
	if !order.Quantity.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNothingToRest, order.UUID)
	}
	if _, ok := book.index[order.UUID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.UUID)
	}

	levels.Set(order)
	book.index[order.UUID] = order
	book.adjustLiquidity(order.Side, order.Quantity)
	return nil
}

// Remove takes a specific resting order off its side. The order's price and
// sequence must not have changed since it was added.
func (book *OrderBook) Remove(order *common.Order) error {
	resting, ok := book.index[order.UUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInBook, order.UUID)
	}
	levels, err := book.sideOf(resting.Side)
	if err != nil {
		return err
	}
	if _, ok := levels.Delete(resting); !ok {
		// The index and the tree disagree; the key fields were mutated.
		panic(fmt.Sprintf("order %s indexed but missing from %s side", resting.UUID, resting.Side))
	}
	delete(book.index, resting.UUID)
	book.adjustLiquidity(resting.Side, resting.Quantity.Neg())
	return nil
}

// Fill applies an execution to a resting order, keeping the side liquidity in
// step. The order stays in the book even if it reaches zero; the caller removes it.
func (book *OrderBook) Fill(order *common.Order, qty decimal.Decimal) {
	order.Fill(qty)
	if _, ok := book.index[order.UUID]; ok {
		book.adjustLiquidity(order.Side, qty.Neg())
	}
}

func (book *OrderBook) adjustLiquidity(s common.Side, delta decimal.Decimal) {
	switch s {
	case common.Buy:
		book.buyQuantity = book.buyQuantity.Add(delta)
	case common.Sell:
		book.sellQuantity = book.sellQuantity.Add(delta)
	}
}

// BestBid returns the highest priority resting buy order.
func (book *OrderBook) BestBid() (*common.Order, bool) {
	return book.bids.Min()
}

// BestAsk returns the highest priority resting sell order.
func (book *OrderBook) BestAsk() (*common.Order, bool) {
	return book.asks.Min()
}

func (book *OrderBook) Contains(id uuid.UUID) bool {
	_, ok := book.index[id]
	return ok
}

// Len is the number of resting orders on a side.
func (book *OrderBook) Len(s common.Side) int {
	levels, err := book.sideOf(s)
	if err != nil {
		return 0
	}
	return levels.Len()
}

// Liquidity is the total remaining quantity resting on a side.
func (book *OrderBook) Liquidity(s common.Side) decimal.Decimal {
	if s == common.Buy {
		return book.buyQuantity
	}
	return book.sellQuantity
}

func (book *OrderBook) Empty() bool {
	return len(book.index) == 0
}

// Bids returns copies of the resting buy orders in priority order.
func (book *OrderBook) Bids() []common.Order {
	return flatten(book.bids)
}

// Asks returns copies of the resting sell orders in priority order.
func (book *OrderBook) Asks() []common.Order {
	return flatten(book.asks)
}

func flatten(levels *side) []common.Order {
	orders := make([]common.Order, 0, levels.Len())
	levels.Scan(func(order *common.Order) bool {
		orders = append(orders, *order)
		return true
	})
	return orders
}

// Levels aggregates one side into price levels, best price first.
func (book *OrderBook) Levels(s common.Side) []PriceLevel {
	levels, err := book.sideOf(s)
	if err != nil {
		return nil
	}

	var out []PriceLevel
	levels.Scan(func(order *common.Order) bool {
		if n := len(out); n > 0 && out[n-1].Price.Equal(order.LimitPrice) {
			out[n-1].Quantity = out[n-1].Quantity.Add(order.Quantity)
			out[n-1].Orders = append(out[n-1].Orders, *order)
			return true
		}
		out = append(out, PriceLevel{
			Price:    order.LimitPrice,
			Quantity: order.Quantity,
			Orders:   []common.Order{*order},
		})
		return true
	})
	return out
}
