package engine

import (
	"fmt"

	"matchbook/internal/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// matchBuyOrder sweeps the ask side with an incoming buy order while the order
// has quantity left and its limit is at or above the best ask. Every step
// executes at the resting ask's price, so the buyer never pays more than its
// limit and takes any price improvement the book offers. A remainder rests as
// a new bid.
func (engine *Engine) matchBuyOrder(order *common.Order, book *OrderBook) []common.Trade {
	var trades []common.Trade
	for order.Quantity.IsPositive() {
		ask, ok := book.BestAsk()
		if !ok || order.LimitPrice.LessThan(ask.LimitPrice) {
			break
		}
		trades = append(trades, engine.execute(order, ask, book))
	}
	engine.settle(order, book)
	return trades
}

// matchSellOrder is the mirror of matchBuyOrder: it sweeps the bid side while
// the best bid is at or above the incoming sell's limit, executing at the
// resting bid's price. A remainder rests as a new ask.
func (engine *Engine) matchSellOrder(order *common.Order, book *OrderBook) []common.Trade {
	var trades []common.Trade
	for order.Quantity.IsPositive() {
		bid, ok := book.BestBid()
		if !ok || order.LimitPrice.GreaterThan(bid.LimitPrice) {
			break
		}
		trades = append(trades, engine.execute(order, bid, book))
	}
	engine.settle(order, book)
	return trades
}

// settle rests the remainder of an aggressor after its sweep, or retires it if
// nothing is left.
func (engine *Engine) settle(order *common.Order, book *OrderBook) {
	if order.Quantity.IsPositive() {
		engine.rest(order, book)
		return
	}
	engine.retire(order)
}

// execute performs one match step between the aggressor (taker) and the best
// resting order on the opposite side (maker). Both legs are filled by the same
// quantity at the maker's price, one trade is logged and one ack is queued per
// leg, maker first. A maker with nothing left is lifted off the book.
func (engine *Engine) execute(taker, maker *common.Order, book *OrderBook) common.Trade {
	if taker.Side == maker.Side {
		panic(fmt.Sprintf("order %s matched against same side order %s", taker.UUID, maker.UUID))
	}

	price := maker.LimitPrice
	qty := decimal.Min(taker.Quantity, maker.Quantity)

	taker.Fill(qty)
	book.Fill(maker, qty)

	engine.tradeSeq++
	trade := common.Trade{
		UUID:       uuid.New(),
		Seq:        engine.tradeSeq,
		Instrument: taker.Instrument,
		Price:      price,
		Volume:     qty,
		TakerOrder: taker.UUID,
		TakerSide:  taker.Side,
		MakerOrder: maker.UUID,
		Timestamp:  engine.now(),
	}
	engine.trades[trade.Instrument] = append(engine.trades[trade.Instrument], trade)

	engine.acknowledge(maker, trade)
	engine.acknowledge(taker, trade)

	if maker.Quantity.IsZero() {
		if err := book.Remove(maker); err != nil {
			panic(fmt.Sprintf("lifting filled order %s: %v", maker.UUID, err))
		}
		engine.retire(maker)
	}

	log.Debug().
		Str("trade", trade.UUID.String()).
		Str("instrument", trade.Instrument).
		Str("taker", taker.UUID.String()).
		Str("maker", maker.UUID.String()).
		Stringer("price", price).
		Stringer("volume", qty).
		Msg("trade")

	return trade
}

func (engine *Engine) acknowledge(order *common.Order, trade common.Trade) {
	engine.ackQueue(order.Side).Push(common.Ack{
		OrderUUID:  order.UUID,
		TradeUUID:  trade.UUID,
		Side:       order.Side,
		Price:      trade.Price,
		Quantity:   trade.Volume,
		Instrument: trade.Instrument,
		Timestamp:  trade.Timestamp,
	})
}
