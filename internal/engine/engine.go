package engine

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"matchbook/internal/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// This is the main matching engine.

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrAlreadyFilled    = errors.New("order already filled")
	ErrAlreadyCancelled = errors.New("order already cancelled")
)

// TradeReporter receives every trade once it has been logged. Reporting
// happens after the operation that produced the trade has completed.
type TradeReporter interface {
	ReportTrade(trade common.Trade) error
}

type CancelOutcome uint8

const (
	OutcomeCancelled CancelOutcome = iota
	OutcomeAlreadyFilled
	OutcomeAlreadyCancelled
	OutcomeNotFound
)

var outcomeName = map[CancelOutcome]string{
	OutcomeCancelled:        "cancelled",
	OutcomeAlreadyFilled:    "already_filled",
	OutcomeAlreadyCancelled: "already_cancelled",
	OutcomeNotFound:         "not_found",
}

func (o CancelOutcome) String() string {
	return outcomeName[o]
}

func (o CancelOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// CancelResult reports the filled and remaining quantities of an order at the
// time cancellation was requested.
type CancelResult struct {
	OrderUUID  uuid.UUID       `json:"order_id"`
	Instrument string          `json:"instrument,omitempty"`
	Outcome    CancelOutcome   `json:"outcome"`
	Filled     decimal.Decimal `json:"filled"`
	Remaining  decimal.Decimal `json:"remaining"`
}

// TopOfBook holds copies of the best resting orders of an instrument.
type TopOfBook struct {
	Bid *common.Order
	Ask *common.Order
}

type Option func(*Engine)

// WithClock replaces time.Now as the source of order and trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(engine *Engine) {
		engine.now = now
	}
}

// WithReporter sets the trade reporter at construction.
func WithReporter(reporter TradeReporter) Option {
	return func(engine *Engine) {
		engine.reporter = reporter
	}
}

// Engine owns every book, trade log, order registry and ack queue. Each public
// method runs to completion under a single lock, so a crossing is never
// observed half applied.
type Engine struct {
	mu sync.Mutex

	books  map[string]*OrderBook
	trades map[string][]common.Trade

	// Orders that can still trade or be cancelled.
	active map[uuid.UUID]*common.Order
	// Filled and cancelled orders, kept so cancel can tell them apart from
	// identifiers that never existed.
	closed map[uuid.UUID]*common.Order

	buyerAcks  AckQueue
	sellerAcks AckQueue

	orderSeq uint64
	tradeSeq uint64

	now      func() time.Time
	reporter TradeReporter
}

func New(opts ...Option) *Engine {
	engine := &Engine{
		books:  make(map[string]*OrderBook),
		trades: make(map[string][]common.Trade),
		active: make(map[uuid.UUID]*common.Order),
		closed: make(map[uuid.UUID]*common.Order),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

func (engine *Engine) SetReporter(reporter TradeReporter) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.reporter = reporter
}

// book returns the instrument's book, creating it on first reference.
func (engine *Engine) book(instrument string) *OrderBook {
	book, ok := engine.books[instrument]
	if !ok {
		book = NewOrderBook(instrument)
		engine.books[instrument] = book
	}
	return book
}

// PlaceOrder submits a new limit order and returns its identifier.
func (engine *Engine) PlaceOrder(instrument string, side common.Side, price, quantity decimal.Decimal) (uuid.UUID, error) {
	order, err := common.NewOrder(instrument, side, price, quantity)
	if err != nil {
		return uuid.Nil, err
	}
	if _, _, err := engine.Submit(order); err != nil {
		return uuid.Nil, err
	}
	return order.UUID, nil
}

// Submit takes ownership of a new order, crosses it against the book and rests
// any remainder. It returns a copy of the order's final state and the trades
// it produced.
//
// The order is stamped with the engine's arrival sequence and timestamp.
// Callers must not touch the order after handing it over.
func (engine *Engine) Submit(order *common.Order) (common.Order, []common.Trade, error) {
	order.Instrument = common.NormalizeInstrument(order.Instrument)
	if err := order.Validate(); err != nil {
		return common.Order{}, nil, err
	}
	if order.UUID == uuid.Nil {
		return common.Order{}, nil, fmt.Errorf("%w: missing identifier", common.ErrInvalidOrder)
	}
	if !order.Filled.IsZero() || !order.TotalQuantity.Equal(order.Quantity) {
		return common.Order{}, nil, fmt.Errorf("%w: order %s has already traded", common.ErrInvalidOrder, order.UUID)
	}

	engine.mu.Lock()
	if engine.known(order.UUID) {
		engine.mu.Unlock()
		return common.Order{}, nil, fmt.Errorf("%w: duplicate identifier %s", common.ErrInvalidOrder, order.UUID)
	}

	engine.orderSeq++
	order.Seq = engine.orderSeq
	order.Timestamp = engine.now()
	order.Status = common.Open

	log.Debug().
		Str("order", order.UUID.String()).
		Str("instrument", order.Instrument).
		Stringer("side", order.Side).
		Stringer("price", order.LimitPrice).
		Stringer("quantity", order.Quantity).
		Msg("order received")

	trades := engine.processOrder(order)
	result := *order
	reporter := engine.reporter
	engine.mu.Unlock()

	engine.report(reporter, trades)
	return result, trades, nil
}

func (engine *Engine) known(id uuid.UUID) bool {
	if _, ok := engine.active[id]; ok {
		return true
	}
	_, ok := engine.closed[id]
	return ok
}

// processOrder is the crossing dispatcher. An order that does not cross the
// spread becomes new resting liquidity.
func (engine *Engine) processOrder(order *common.Order) []common.Trade {
	book := engine.book(order.Instrument)

	switch order.Side {
	case common.Buy:
		if ask, ok := book.BestAsk(); ok && ask.LimitPrice.LessThanOrEqual(order.LimitPrice) {
			return engine.matchBuyOrder(order, book)
		}
	case common.Sell:
		if bid, ok := book.BestBid(); ok && bid.LimitPrice.GreaterThanOrEqual(order.LimitPrice) {
			return engine.matchSellOrder(order, book)
		}
	default:
		panic(fmt.Sprintf("order %s passed validation with side %d", order.UUID, order.Side))
	}

	engine.rest(order, book)
	return nil
}

// rest places the order's remainder in the book and tracks it as active.
func (engine *Engine) rest(order *common.Order, book *OrderBook) {
	if err := book.Add(order); err != nil {
		panic(fmt.Sprintf("resting order %s: %v", order.UUID, err))
	}
	engine.active[order.UUID] = order

	log.Debug().
		Str("order", order.UUID.String()).
		Str("instrument", order.Instrument).
		Stringer("side", order.Side).
		Stringer("remaining", order.Quantity).
		Msg("order resting")
}

// retire moves an order that can no longer trade out of the active registry.
func (engine *Engine) retire(order *common.Order) {
	delete(engine.active, order.UUID)
	engine.closed[order.UUID] = order
}

func (engine *Engine) report(reporter TradeReporter, trades []common.Trade) {
	if reporter == nil {
		return
	}
	for _, trade := range trades {
		if err := reporter.ReportTrade(trade); err != nil {
			log.Error().
				Err(err).
				Str("trade", trade.UUID.String()).
				Str("instrument", trade.Instrument).
				Msg("unable to report trade")
		}
	}
}

// CancelOrder withdraws a resting order. Unknown identifiers fail with
// ErrOrderNotFound. Orders that already filled or were already cancelled are
// reported with ErrAlreadyFilled or ErrAlreadyCancelled alongside a populated
// result, and the book is left untouched.
func (engine *Engine) CancelOrder(id uuid.UUID) (CancelResult, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if order, ok := engine.closed[id]; ok {
		result := CancelResult{
			OrderUUID:  id,
			Instrument: order.Instrument,
			Filled:     order.Filled,
			Remaining:  order.Quantity,
		}
		if order.Status == common.Cancelled {
			result.Outcome = OutcomeAlreadyCancelled
			return result, fmt.Errorf("cannot cancel %s: %w", id, ErrAlreadyCancelled)
		}
		result.Outcome = OutcomeAlreadyFilled
		return result, fmt.Errorf("cannot cancel %s: %w", id, ErrAlreadyFilled)
	}

	order, ok := engine.active[id]
	if !ok {
		return CancelResult{OrderUUID: id, Outcome: OutcomeNotFound}, fmt.Errorf("cannot cancel %s: %w", id, ErrOrderNotFound)
	}

	if err := engine.books[order.Instrument].Remove(order); err != nil {
		panic(fmt.Sprintf("active order %s missing from book: %v", id, err))
	}
	order.Status = common.Cancelled
	engine.retire(order)

	log.Debug().
		Str("order", id.String()).
		Str("instrument", order.Instrument).
		Stringer("filled", order.Filled).
		Stringer("remaining", order.Quantity).
		Msg("order cancelled")

	return CancelResult{
		OrderUUID:  id,
		Instrument: order.Instrument,
		Outcome:    OutcomeCancelled,
		Filled:     order.Filled,
		Remaining:  order.Quantity,
	}, nil
}

// Order returns a copy of an active or closed order.
func (engine *Engine) Order(id uuid.UUID) (common.Order, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if order, ok := engine.active[id]; ok {
		return *order, true
	}
	if order, ok := engine.closed[id]; ok {
		return *order, true
	}
	return common.Order{}, false
}

// GetOrderBook returns copies of the resting bids and asks of an instrument,
// each in priority order. Unknown instruments yield empty sides.
func (engine *Engine) GetOrderBook(instrument string) (bids, asks []common.Order) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	book, ok := engine.books[common.NormalizeInstrument(instrument)]
	if !ok {
		return []common.Order{}, []common.Order{}
	}
	return book.Bids(), book.Asks()
}

// Depth returns both sides of an instrument aggregated into price levels.
func (engine *Engine) Depth(instrument string) (bids, asks []PriceLevel) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	book, ok := engine.books[common.NormalizeInstrument(instrument)]
	if !ok {
		return nil, nil
	}
	return book.Levels(common.Buy), book.Levels(common.Sell)
}

func (engine *Engine) BestBidAsk(instrument string) TopOfBook {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	var top TopOfBook
	book, ok := engine.books[common.NormalizeInstrument(instrument)]
	if !ok {
		return top
	}
	if bid, ok := book.BestBid(); ok {
		cp := *bid
		top.Bid = &cp
	}
	if ask, ok := book.BestAsk(); ok {
		cp := *ask
		top.Ask = &cp
	}
	return top
}

// GetTrades returns a copy of the instrument's trade log in execution order.
func (engine *Engine) GetTrades(instrument string) []common.Trade {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	return slices.Clone(engine.trades[common.NormalizeInstrument(instrument)])
}

// Instruments lists every instrument that has a book, sorted.
func (engine *Engine) Instruments() []string {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	instruments := make([]string, 0, len(engine.books))
	for instrument := range engine.books {
		instruments = append(instruments, instrument)
	}
	slices.Sort(instruments)
	return instruments
}

func (engine *Engine) ackQueue(side common.Side) *AckQueue {
	switch side {
	case common.Buy:
		return &engine.buyerAcks
	case common.Sell:
		return &engine.sellerAcks
	}
	panic(fmt.Sprintf("no ack queue for side %d", side))
}

// PopAck consumes the oldest pending ack for a side.
func (engine *Engine) PopAck(side common.Side) (common.Ack, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.ackQueue(side).Pop()
}

func (engine *Engine) PendingAcks(side common.Side) int {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.ackQueue(side).Len()
}

// Acks lazily drains a side's ack queue in production order. Acks produced
// while iterating are yielded too. An ack handed to a yield that stops the
// iteration is still consumed.
func (engine *Engine) Acks(side common.Side) iter.Seq[common.Ack] {
	return func(yield func(common.Ack) bool) {
		for {
			ack, ok := engine.PopAck(side)
			if !ok || !yield(ack) {
				return
			}
		}
	}
}
