package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade accounts for one execution between an incoming (taker) order and a
// resting (maker) order. Trades are immutable once logged.
type Trade struct {
	UUID       uuid.UUID       `json:"trade_id"`
	Seq        uint64          `json:"seq"`
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	TakerOrder uuid.UUID       `json:"taker_order_id"`
	TakerSide  Side            `json:"taker_side"`
	MakerOrder uuid.UUID       `json:"maker_order_id"`
	Timestamp  time.Time       `json:"timestamp"`
}

// BuyOrder returns the identifier of the buying leg.
func (t Trade) BuyOrder() uuid.UUID {
	if t.TakerSide == Buy {
		return t.TakerOrder
	}
	return t.MakerOrder
}

// SellOrder returns the identifier of the selling leg.
func (t Trade) SellOrder() uuid.UUID {
	if t.TakerSide == Sell {
		return t.TakerOrder
	}
	return t.MakerOrder
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Trade:          %v (seq %d)
Instrument:     %s
Taker:          %v (%v)
Maker:          %v
Timestamp:      %v
Volume:         %s
Price:          %s`,
		t.UUID,
		t.Seq,
		t.Instrument,
		t.TakerOrder,
		t.TakerSide,
		t.MakerOrder,
		t.Timestamp.Format(time.RFC3339Nano),
		t.Volume,
		t.Price,
	)
}

// Ack is the fill notice for one side of a trade.
type Ack struct {
	OrderUUID  uuid.UUID       `json:"order_id"`
	TradeUUID  uuid.UUID       `json:"trade_id"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"filled_quantity"`
	Instrument string          `json:"instrument"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Action is "Bought" or "Sold" depending on the acknowledged side.
func (a Ack) Action() string {
	if a.Side == Buy {
		return "Bought"
	}
	return "Sold"
}
