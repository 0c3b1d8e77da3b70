// Package changefeed relays document changes between server instances over
// Kafka so that each instance's subscriptions see writes made elsewhere.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event announces that the document at Path changed.
type Event struct {
	Origin string    `json:"origin"`
	Path   string    `json:"path"`
	At     time.Time `json:"at"`
}

type Publisher struct {
	origin string
	writer *kafka.Writer
	log    *slog.Logger
}

// NewPublisher writes events keyed by path, so changes to one document stay
// ordered on one partition.
func NewPublisher(brokers []string, topic, origin string, logger *slog.Logger) *Publisher {
	return &Publisher{
		origin: origin,
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    topic,
			Balancer: &kafka.Hash{},
		}),
		log: logger,
	}
}

// Publish sends a change event. Failures are logged: the local write has
// already committed and remote instances catch up on their next reload.
func (p *Publisher) Publish(ctx context.Context, path string) {
	value, err := json.Marshal(Event{Origin: p.origin, Path: path, At: time.Now().UTC()})
	if err != nil {
		p.log.Error("encode change event failed", "path", path, "error", err)
		return
	}
	err = p.writer.WriteMessages(context.WithoutCancel(ctx), kafka.Message{Key: []byte(path), Value: value})
	if err != nil {
		p.log.Error("publish change event failed", "path", path, "error", err)
	}
}

func (p *Publisher) Close() error { return p.writer.Close() }

type Consumer struct {
	origin string
	reader *kafka.Reader
	notify func(path string)
	log    *slog.Logger
}

// NewConsumer reads change events and calls notify for every event published
// by another instance. groupID must be unique per instance so that every
// instance sees every event.
func NewConsumer(brokers []string, topic, groupID, origin string, notify func(path string), logger *slog.Logger) *Consumer {
	return &Consumer{
		origin: origin,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}),
		notify: notify,
		log:    logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read change event: %w", err)
		}
		c.handle(msg.Value)
	}
}

func (c *Consumer) handle(value []byte) {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		c.log.Warn("dropping malformed change event", "error", err)
		return
	}
	if ev.Origin == c.origin || ev.Path == "" {
		return
	}
	c.log.Debug("remote change", "path", ev.Path, "origin", ev.Origin)
	c.notify(ev.Path)
}

func (c *Consumer) Close() error { return c.reader.Close() }
