package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/evshare/libs/kafkax"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/localtime"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
	"github.com/segmentio/kafka-go"
)

const TopicBookingRequestCreated = "booking.request.created.v1"

// BookingRequestCreated is published once the booking API accepted a request.
type BookingRequestCreated struct {
	EventID                      string                         `json:"event_id"`
	BookingID                    string                         `json:"booking_id"`
	VehicleID                    string                         `json:"vehicle_id"`
	GroupID                      string                         `json:"group_id"`
	UserID                       string                         `json:"user_id"`
	StartAt                      localtime.LocalOffsetTimestamp `json:"start_at"`
	EndAt                        localtime.LocalOffsetTimestamp `json:"end_at"`
	Priority                     model.Priority                 `json:"priority"`
	IsEmergency                  bool                           `json:"is_emergency"`
	EmergencyAutoCancelConflicts bool                           `json:"emergency_auto_cancel_conflicts"`
	OccurredAt                   time.Time                      `json:"occurred_at"`
}

// NewBookingRequestCreated builds the event for a created booking.
func NewBookingRequestCreated(req model.BookingRequest, booking model.Booking, now time.Time) BookingRequestCreated {
	return BookingRequestCreated{
		EventID:                      uuid.NewString(),
		BookingID:                    booking.ID,
		VehicleID:                    req.VehicleID,
		GroupID:                      req.GroupID,
		UserID:                       req.UserID,
		StartAt:                      req.StartAt,
		EndAt:                        req.EndAt,
		Priority:                     req.Priority,
		IsEmergency:                  req.IsEmergency,
		EmergencyAutoCancelConflicts: req.EmergencyAutoCancelConflicts,
		OccurredAt:                   now.UTC(),
	}
}

type Publisher interface {
	PublishBookingRequestCreated(ctx context.Context, evt BookingRequestCreated) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

// NewPublisher returns a Kafka publisher, or a no-op one when brokers is empty.
func NewPublisher(brokers string, logger *slog.Logger) Publisher {
	list := kafkax.SplitBrokers(brokers)
	if len(list) == 0 {
		logger.Warn("booking events disabled (no kafka brokers configured)")
		return Noop{}
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(list...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) PublishBookingRequestCreated(ctx context.Context, evt BookingRequestCreated) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", TopicBookingRequestCreated, err)
	}
	meta := kafkax.EventMeta{EventID: evt.EventID, EventType: TopicBookingRequestCreated}
	msg := kafka.Message{
		Topic:   TopicBookingRequestCreated,
		Key:     []byte(evt.VehicleID),
		Value:   payload,
		Headers: kafkax.InjectTraceHeaders(ctx, meta.Headers()),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TopicBookingRequestCreated, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type Noop struct{}

func (Noop) PublishBookingRequestCreated(context.Context, BookingRequestCreated) error { return nil }
func (Noop) Close() error                                                              { return nil }
