package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/BusTrack/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		StartOffset:       kafka.FirstOffset,
		MaxBytes:          10 << 20,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every message to handler and commits it only after the handler succeeds.
// A handler error stops the loop and leaves the message uncommitted for redelivery.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// ConsumePings decodes every message as a ping batch. Undecodable messages are
// logged and committed so they cannot block the partition.
func (c *Consumer) ConsumePings(ctx context.Context, handler func(ctx context.Context, batch messages.PingBatch) error) error {
	return c.Consume(ctx, func(key, value []byte) error {
		pings, err := messages.DecodePingBatch(value)
		if err != nil {
			slog.Warn("drop undecodable ping batch", "key", string(key), "bytes", len(value), "error", err.Error())
			return nil
		}
		return handler(ctx, messages.PingBatch{Pings: pings})
	})
}
