package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"matchbook/internal/common"
	"matchbook/internal/engine"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrMessageTooLong     = errors.New("message too long")
	ErrValueOutOfRange    = errors.New("decimal value out of wire range")
	ErrMalformedMessage   = errors.New("malformed message")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	QueryBook
	QueryTrades
)

type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
	PlacedReport
	CancelReport
	BookReport
	TradesReport
)

type Message interface {
	GetType() MessageType
	Serialize() ([]byte, error)
}

// Message format constants. Every request frame starts with its total length
// (2 bytes, header included) followed by the message type (2 bytes).
const (
	BaseMessageHeaderLen        = 2 + 2
	NewOrderMessageHeaderLen    = 1 + 8 + 4 + 8 + 4 + 1 + 1
	CancelOrderMessageHeaderLen = 16
	QueryMessageHeaderLen       = 1
	MaxMessageLen               = math.MaxUint16
)

// Decimals travel as a signed 64-bit coefficient and a 32-bit exponent.
const decimalLen = 8 + 4

func putDecimal(buf []byte, d decimal.Decimal) error {
	coef := d.Coefficient()
	if !coef.IsInt64() || !common.InScale(d) {
		return fmt.Errorf("%w: %s", ErrValueOutOfRange, d)
	}
	binary.BigEndian.PutUint64(buf[0:8], uint64(coef.Int64()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(d.Exponent()))
	return nil
}

// getDecimal rejects exponents beyond common.MaxScale before the value can
// reach the engine.
func getDecimal(buf []byte) (decimal.Decimal, error) {
	d := decimal.New(
		int64(binary.BigEndian.Uint64(buf[0:8])),
		int32(binary.BigEndian.Uint32(buf[8:12])),
	)
	if !common.InScale(d) {
		return decimal.Decimal{}, fmt.Errorf("%w: exponent %d", ErrValueOutOfRange, d.Exponent())
	}
	return d, nil
}

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func (m BaseMessage) Serialize() ([]byte, error) {
	return frame(m.TypeOf, 0), nil
}

// frame allocates a request buffer with the length and type already written.
func frame(typeOf MessageType, bodyLen int) []byte {
	buf := make([]byte, BaseMessageHeaderLen+bodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(buf)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(typeOf))
	return buf
}

// ReadMessage reads one framed request off r. A well framed but unparsable
// message fails with ErrMalformedMessage and leaves the stream aligned on the
// next frame; any other error means the stream is unusable.
func ReadMessage(r io.Reader) (Message, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	total := int(binary.BigEndian.Uint16(header[:]))
	if total < BaseMessageHeaderLen {
		return nil, fmt.Errorf("%w: frame length %d", ErrMessageTooShort, total)
	}
	msg := make([]byte, total)
	copy(msg, header[:])
	if _, err := io.ReadFull(r, msg[2:]); err != nil {
		return nil, err
	}
	message, err := parseMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return message, nil
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, errors.New("message too short to contain header")
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[2:4]))
	msg = msg[BaseMessageHeaderLen:]
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case QueryBook, QueryTrades:
		return parseQuery(typeOf, msg)
	default:
		return BaseMessage{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
}

type NewOrderMessage struct {
	BaseMessage
	Side        common.Side     // 1 byte
	LimitPrice  decimal.Decimal // 12 bytes
	Quantity    decimal.Decimal // 12 bytes
	TickerLen   uint8           // 1 byte
	UsernameLen uint8           // 1 byte
	Ticker      string          // n bytes
	Username    string          // n bytes
}

func NewOrderRequest(ticker string, side common.Side, price, qty decimal.Decimal, username string) NewOrderMessage {
	return NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		Side:        side,
		LimitPrice:  price,
		Quantity:    qty,
		TickerLen:   uint8(len(ticker)),
		UsernameLen: uint8(len(username)),
		Ticker:      ticker,
		Username:    username,
	}
}

// Order builds the engine order for this request with a fresh identifier.
func (o *NewOrderMessage) Order() (*common.Order, error) {
	order, err := common.NewOrder(o.Ticker, o.Side, o.LimitPrice, o.Quantity)
	if err != nil {
		return nil, err
	}
	order.Owner = o.Username
	return order, nil
}

func (o NewOrderMessage) Serialize() ([]byte, error) {
	if len(o.Ticker) > math.MaxUint8 || len(o.Username) > math.MaxUint8 {
		return nil, ErrMessageTooLong
	}
	buf := frame(NewOrder, NewOrderMessageHeaderLen+len(o.Ticker)+len(o.Username))
	body := buf[BaseMessageHeaderLen:]

	body[0] = byte(o.Side)
	if err := putDecimal(body[1:13], o.LimitPrice); err != nil {
		return nil, err
	}
	if err := putDecimal(body[13:25], o.Quantity); err != nil {
		return nil, err
	}
	body[25] = uint8(len(o.Ticker))
	body[26] = uint8(len(o.Username))
	copy(body[NewOrderMessageHeaderLen:], o.Ticker)
	copy(body[NewOrderMessageHeaderLen+len(o.Ticker):], o.Username)
	return buf, nil
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}

	var err error
	m.Side = common.Side(msg[0])
	if m.LimitPrice, err = getDecimal(msg[1:13]); err != nil {
		return NewOrderMessage{}, fmt.Errorf("price: %w", err)
	}
	if m.Quantity, err = getDecimal(msg[13:25]); err != nil {
		return NewOrderMessage{}, fmt.Errorf("quantity: %w", err)
	}
	m.TickerLen = msg[25]
	m.UsernameLen = msg[26]

	// Calculate expected total length.
	expectedTotalLen := NewOrderMessageHeaderLen + int(m.TickerLen) + int(m.UsernameLen)
	if len(msg) < expectedTotalLen {
		return NewOrderMessage{}, fmt.Errorf("%w: ticker and username lengths exceed body", ErrMessageTooShort)
	}
	offset := NewOrderMessageHeaderLen
	m.Ticker = string(msg[offset : offset+int(m.TickerLen)])
	offset += int(m.TickerLen)
	m.Username = string(msg[offset : offset+int(m.UsernameLen)])

	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	OrderUUID uuid.UUID // 16 bytes
}

func CancelOrderRequest(id uuid.UUID) CancelOrderMessage {
	return CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}, OrderUUID: id}
}

func (m CancelOrderMessage) Serialize() ([]byte, error) {
	buf := frame(CancelOrder, CancelOrderMessageHeaderLen)
	copy(buf[BaseMessageHeaderLen:], m.OrderUUID[:])
	return buf, nil
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}

	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	copy(m.OrderUUID[:], msg[:16])

	return m, nil
}

// QueryMessage asks for an instrument's book (QueryBook) or trades (QueryTrades).
type QueryMessage struct {
	BaseMessage
	TickerLen uint8  // 1 byte
	Ticker    string // n bytes
}

func QueryRequest(typeOf MessageType, ticker string) QueryMessage {
	return QueryMessage{
		BaseMessage: BaseMessage{TypeOf: typeOf},
		TickerLen:   uint8(len(ticker)),
		Ticker:      ticker,
	}
}

func (m QueryMessage) Serialize() ([]byte, error) {
	if len(m.Ticker) > math.MaxUint8 {
		return nil, ErrMessageTooLong
	}
	buf := frame(m.TypeOf, QueryMessageHeaderLen+len(m.Ticker))
	buf[BaseMessageHeaderLen] = uint8(len(m.Ticker))
	copy(buf[BaseMessageHeaderLen+QueryMessageHeaderLen:], m.Ticker)
	return buf, nil
}

func parseQuery(typeOf MessageType, msg []byte) (QueryMessage, error) {
	if len(msg) < QueryMessageHeaderLen {
		return QueryMessage{}, ErrMessageTooShort
	}
	m := QueryMessage{BaseMessage: BaseMessage{TypeOf: typeOf}, TickerLen: msg[0]}
	if len(msg) < QueryMessageHeaderLen+int(m.TickerLen) {
		return QueryMessage{}, ErrMessageTooShort
	}
	m.Ticker = string(msg[QueryMessageHeaderLen : QueryMessageHeaderLen+int(m.TickerLen)])
	return m, nil
}

// Report is everything the server sends back to a client. Which fields are
// meaningful depends on MessageType; JSON query answers and cancel results
// travel in Payload, error text in Err.
type Report struct {
	MessageType ReportMessageType // 1 byte
	Side        common.Side       // 1 byte
	Timestamp   uint64            // 8 bytes, unix nanoseconds
	Quantity    decimal.Decimal   // 12 bytes
	Price       decimal.Decimal   // 12 bytes
	UUID        uuid.UUID         // 16 bytes
	TickerLen   uint8             // 1 byte
	ErrStrLen   uint16            // 2 bytes
	PayloadLen  uint32            // 4 bytes
	Ticker      string            // n bytes
	Err         string            // n bytes
	Payload     []byte            // n bytes
}

// Each report frame is prefixed with its total length (4 bytes).
const reportFixedHeaderLen = 4 + 1 + 1 + 8 + decimalLen + decimalLen + 16 + 1 + 2 + 4

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	if len(r.Ticker) > math.MaxUint8 || len(r.Err) > math.MaxUint16 {
		return nil, ErrMessageTooLong
	}
	totalSize := reportFixedHeaderLen + len(r.Ticker) + len(r.Err) + len(r.Payload)

	buf := make([]byte, totalSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(totalSize))
	buf[4] = byte(r.MessageType)
	buf[5] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[6:14], r.Timestamp)
	if err := putDecimal(buf[14:26], r.Quantity); err != nil {
		return nil, err
	}
	if err := putDecimal(buf[26:38], r.Price); err != nil {
		return nil, err
	}
	copy(buf[38:54], r.UUID[:])
	buf[54] = uint8(len(r.Ticker))
	binary.BigEndian.PutUint16(buf[55:57], uint16(len(r.Err)))
	binary.BigEndian.PutUint32(buf[57:61], uint32(len(r.Payload)))

	offset := reportFixedHeaderLen
	offset += copy(buf[offset:], r.Ticker)
	offset += copy(buf[offset:], r.Err)
	copy(buf[offset:], r.Payload)
	return buf, nil
}

// ReadReport reads one report frame off r.
func ReadReport(r io.Reader) (Report, error) {
	buf := make([]byte, reportFixedHeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Report{}, err
	}
	total := int(binary.BigEndian.Uint32(buf[0:4]))
	if total < reportFixedHeaderLen {
		return Report{}, fmt.Errorf("%w: report length %d", ErrMessageTooShort, total)
	}

	report := Report{
		MessageType: ReportMessageType(buf[4]),
		Side:        common.Side(buf[5]),
		Timestamp:   binary.BigEndian.Uint64(buf[6:14]),
		TickerLen:   buf[54],
		ErrStrLen:   binary.BigEndian.Uint16(buf[55:57]),
		PayloadLen:  binary.BigEndian.Uint32(buf[57:61]),
	}
	copy(report.UUID[:], buf[38:54])

	varLen := int(report.TickerLen) + int(report.ErrStrLen) + int(report.PayloadLen)
	if reportFixedHeaderLen+varLen != total {
		return Report{}, fmt.Errorf("%w: report length %d does not match its fields", ErrMessageTooShort, total)
	}
	body := make([]byte, varLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Report{}, err
	}

	// Decimals are checked once the whole frame is consumed.
	var err error
	if report.Quantity, err = getDecimal(buf[14:26]); err != nil {
		return Report{}, err
	}
	if report.Price, err = getDecimal(buf[26:38]); err != nil {
		return Report{}, err
	}

	offset := int(report.TickerLen)
	report.Ticker = string(body[:offset])
	report.Err = string(body[offset : offset+int(report.ErrStrLen)])
	offset += int(report.ErrStrLen)
	if report.PayloadLen > 0 {
		report.Payload = body[offset:]
	}
	return report, nil
}

func newExecutionReport(ack common.Ack) Report {
	return Report{
		MessageType: ExecutionReport,
		Side:        ack.Side,
		Timestamp:   uint64(ack.Timestamp.UnixNano()),
		Quantity:    ack.Quantity,
		Price:       ack.Price,
		UUID:        ack.OrderUUID,
		Ticker:      ack.Instrument,
	}
}

func newPlacedReport(order common.Order) Report {
	return Report{
		MessageType: PlacedReport,
		Side:        order.Side,
		Timestamp:   uint64(order.Timestamp.UnixNano()),
		Quantity:    order.Quantity,
		Price:       order.LimitPrice,
		UUID:        order.UUID,
		Ticker:      order.Instrument,
	}
}

func newCancelReport(result engine.CancelResult, payload []byte, err error) Report {
	report := Report{
		MessageType: CancelReport,
		Timestamp:   uint64(time.Now().UnixNano()),
		Quantity:    result.Remaining,
		Price:       decimal.Zero,
		UUID:        result.OrderUUID,
		Ticker:      result.Instrument,
		Payload:     payload,
	}
	if err != nil {
		report.Err = err.Error()
	}
	return report
}

func newPayloadReport(typeOf ReportMessageType, ticker string, payload []byte) Report {
	return Report{
		MessageType: typeOf,
		Timestamp:   uint64(time.Now().UnixNano()),
		Ticker:      common.NormalizeInstrument(ticker),
		Payload:     payload,
	}
}

func newErrorReport(err error) Report {
	return Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(time.Now().UnixNano()),
		Err:         err.Error(),
	}
}
