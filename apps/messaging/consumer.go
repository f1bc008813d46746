package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/whisper/pkg/model"
	"github.com/mahaj/whisper/pkg/telemetry"
)

type messageWriter interface {
	Save(ctx context.Context, msg model.Message) error
}

// Consumer persists the chat frames published by the gateways. Presence
// frames share the topic and are skipped.
type Consumer struct {
	reader *kafka.Reader
	store  messageWriter
}

func NewConsumer(brokers []string, topic string, groupID string, store messageWriter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	return &Consumer{reader: r, store: store}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("error reading message, retrying in 1s")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		log.Debug().Int64("offset", m.Offset).Int("partition", m.Partition).Msg("received frame from Kafka")

		if err := c.handle(ctx, m.Value); err != nil {
			log.Error().Err(err).Int64("offset", m.Offset).Msg("failed to handle frame")
		}
	}
}

// handle decodes one frame and stores it when it carries a chat message.
func (c *Consumer) handle(ctx context.Context, data []byte) error {
	var f model.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Type != model.FrameChat {
		log.Debug().Str("type", string(f.Type)).Msg("skipping persistence for ephemeral frame")
		return nil
	}

	var msg model.Message
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		return fmt.Errorf("unmarshal chat payload: %w", err)
	}
	if msg.ID == 0 || msg.Username == "" {
		return fmt.Errorf("chat frame without id or username: %s", f.Payload)
	}

	if err := c.store.Save(ctx, msg); err != nil {
		telemetry.Inc(telemetry.PersistFailures)
		return err
	}
	telemetry.Inc(telemetry.MessagesPersisted)
	log.Debug().Int64("id", msg.ID).Msg("message saved to ScyllaDB")
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
