// Package report turns engine output into something people and other systems
// can consume. None of it is required by the engine.
package report

import (
	"fmt"
	"io"

	"matchbook/internal/common"
	"matchbook/internal/engine"

	"github.com/segmentio/encoding/json"
)

// TradeDetails is the JSON shape of a trade report.
type TradeDetails struct {
	Message string `json:"message"`
	common.Trade
	BuyOrder  string `json:"buy_order_id"`
	SellOrder string `json:"sell_order_id"`
}

// AckDetails is the JSON shape of an order acknowledgment.
type AckDetails struct {
	Message string `json:"message"`
	common.Ack
	ActionTaken string `json:"action"`
}

// BookDetails is the JSON shape of an order book snapshot.
type BookDetails struct {
	Instrument string         `json:"instrument"`
	Bids       []common.Order `json:"bids"`
	Asks       []common.Order `json:"asks"`
}

func NewTradeDetails(trade common.Trade) TradeDetails {
	return TradeDetails{
		Message:   fmt.Sprintf("Trade made for %s", trade.Instrument),
		Trade:     trade,
		BuyOrder:  trade.BuyOrder().String(),
		SellOrder: trade.SellOrder().String(),
	}
}

func NewAckDetails(ack common.Ack) AckDetails {
	return AckDetails{
		Message:     fmt.Sprintf("Order acknowledgement for %s order %s (%s)", ack.Side, ack.OrderUUID, ack.Instrument),
		Ack:         ack,
		ActionTaken: ack.Action(),
	}
}

func MarshalTrade(trade common.Trade) ([]byte, error) {
	return json.Marshal(NewTradeDetails(trade))
}

func MarshalTrades(trades []common.Trade) ([]byte, error) {
	details := make([]TradeDetails, len(trades))
	for i, trade := range trades {
		details[i] = NewTradeDetails(trade)
	}
	return json.Marshal(details)
}

func MarshalAck(ack common.Ack) ([]byte, error) {
	return json.Marshal(NewAckDetails(ack))
}

func MarshalBook(instrument string, bids, asks []common.Order) ([]byte, error) {
	return json.Marshal(BookDetails{
		Instrument: common.NormalizeInstrument(instrument),
		Bids:       bids,
		Asks:       asks,
	})
}

func MarshalCancel(result engine.CancelResult) ([]byte, error) {
	return json.Marshal(result)
}

// WriteTrades pretty prints an instrument's trades, one JSON document each.
func WriteTrades(w io.Writer, trades []common.Trade) error {
	for _, trade := range trades {
		b, err := json.MarshalIndent(NewTradeDetails(trade), "", "  ")
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", b); err != nil {
			return err
		}
	}
	return nil
}

// WriteAck pretty prints one fill acknowledgment.
func WriteAck(w io.Writer, ack common.Ack) error {
	b, err := json.MarshalIndent(NewAckDetails(ack), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
