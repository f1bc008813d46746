package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// roomKey keys every frame so the whole room lives on one partition and
// frames keep their publish order.
const roomKey = "global"

// kafkaBus publishes frames to the chat topic and reads them back through a
// consumer group unique to this instance, so every gateway receives every
// frame.
type kafkaBus struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func frameMessage(data []byte) kafka.Message {
	return kafka.Message{Key: []byte(roomKey), Value: data, Time: time.Now()}
}

func newKafkaBus(brokers []string, topic string) *kafkaBus {
	return &kafkaBus{
		writer: newWriter(brokers, topic),
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     "gateway-" + uuid.NewString(),
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     250 * time.Millisecond,
		}),
	}
}

func (b *kafkaBus) Publish(ctx context.Context, data []byte) error {
	return b.writer.WriteMessages(ctx, frameMessage(data))
}

// Consume passes every frame to deliver until ctx is done.
func (b *kafkaBus) Consume(ctx context.Context, deliver func([]byte)) {
	for {
		m, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("gateway consumer error, retrying in 1s")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		deliver(m.Value)
	}
}

func (b *kafkaBus) Close() error {
	return errors.Join(b.writer.Close(), b.reader.Close())
}
