package report

import (
	"context"
	"fmt"
	"time"

	"matchbook/internal/common"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const defaultPublishTimeout = 2 * time.Second

// KafkaPublisher publishes every trade as a JSON message keyed by instrument,
// so a topic partition sees one instrument's trades in execution order.
// Publishing is asynchronous: ReportTrade only queues the message, and failed
// deliveries are logged when the writer completes the batch.
type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	p := &KafkaPublisher{timeout: defaultPublishTimeout}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion:   p.delivered,
		BatchTimeout: 10 * time.Millisecond,
	}
	return p
}

func (p *KafkaPublisher) ReportTrade(trade common.Trade) error {
	msg, err := tradeMessage(trade)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing trade %s: %w", trade.UUID, err)
	}
	return nil
}

// delivered is the writer's completion callback.
func (p *KafkaPublisher) delivered(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, msg := range messages {
		log.Error().
			Err(err).
			Str("topic", p.writer.Topic).
			Str("trade", tradeID(msg)).
			Str("instrument", string(msg.Key)).
			Msg("unable to publish trade")
	}
}

func tradeID(msg kafka.Message) string {
	for _, header := range msg.Headers {
		if header.Key == "trade_id" {
			return string(header.Value)
		}
	}
	return ""
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func tradeMessage(trade common.Trade) (kafka.Message, error) {
	value, err := MarshalTrade(trade)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding trade %s: %w", trade.UUID, err)
	}
	return kafka.Message{
		Key:   []byte(trade.Instrument),
		Value: value,
		Time:  trade.Timestamp,
		Headers: []kafka.Header{
			{Key: "trade_id", Value: []byte(trade.UUID.String())},
			{Key: "taker_side", Value: []byte(trade.TakerSide.String())},
		},
	}, nil
}
