package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/evshare/libs/kafkax"
	"github.com/patrickmn/go-cache"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads booking events and hands each one to a handler once. Event ids
// already seen within the dedupe window are skipped.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	seen    *cache.Cache
	handler Handler
	backoff time.Duration
}

type ConsumerConfig struct {
	Brokers string
	// GroupID must be unique per replica so that every replica sees every event.
	GroupID   string
	Topic     string
	DedupeTTL time.Duration
}

func NewConsumer(logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.Topic == "" {
		cfg.Topic = TopicBookingRequestCreated
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(reader, logger, cfg.DedupeTTL, handler)
}

func newConsumer(reader messageReader, logger *slog.Logger, dedupeTTL time.Duration, handler Handler) *Consumer {
	if dedupeTTL <= 0 {
		dedupeTTL = 10 * time.Minute
	}
	return &Consumer{
		reader:  reader,
		logger:  logger,
		seen:    cache.New(dedupeTTL, dedupeTTL),
		handler: handler,
		backoff: time.Second,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)
		if err := c.seen.Add(meta.EventID, struct{}{}, cache.DefaultExpiration); err != nil {
			c.logger.Debug("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			span.End()
			continue
		}

		if err := c.handler(ctxSpan, msg); err != nil {
			c.logger.Error("handler error", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
		}
		span.End()
	}
}

// InvalidateOnBooking drops cached availability of the vehicle a booking event
// refers to, so replicas that did not create the booking stop offering it.
func InvalidateOnBooking(invalidate func(vehicleID string)) Handler {
	return func(_ context.Context, msg kafka.Message) error {
		var evt BookingRequestCreated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic, err)
		}
		if evt.VehicleID == "" {
			return fmt.Errorf("%s without vehicle_id", msg.Topic)
		}
		invalidate(evt.VehicleID)
		return nil
	}
}
