package report

import (
	"errors"

	"matchbook/internal/common"
	"matchbook/internal/engine"

	"github.com/rs/zerolog/log"
)

// LogReporter logs every trade at info level.
type LogReporter struct{}

func (LogReporter) ReportTrade(trade common.Trade) error {
	log.Info().
		Str("trade", trade.UUID.String()).
		Uint64("seq", trade.Seq).
		Str("instrument", trade.Instrument).
		Str("buy_order", trade.BuyOrder().String()).
		Str("sell_order", trade.SellOrder().String()).
		Stringer("taker_side", trade.TakerSide).
		Stringer("price", trade.Price).
		Stringer("volume", trade.Volume).
		Msg("trade executed")
	return nil
}

// Multi fans a trade out to several reporters. Every reporter is called even
// if an earlier one fails.
type Multi []engine.TradeReporter

func (m Multi) ReportTrade(trade common.Trade) error {
	var errs []error
	for _, reporter := range m {
		if err := reporter.ReportTrade(trade); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
