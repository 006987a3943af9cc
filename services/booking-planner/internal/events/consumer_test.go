package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/evshare/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	errs   []error
	closed bool
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func bookingMessage(t *testing.T, eventID, vehicleID string) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(BookingRequestCreated{EventID: eventID, VehicleID: vehicleID})
	require.NoError(t, err)
	meta := kafkax.EventMeta{EventID: eventID, EventType: TopicBookingRequestCreated}
	return kafka.Message{Topic: TopicBookingRequestCreated, Key: []byte(vehicleID), Value: payload, Headers: meta.Headers()}
}

func TestConsumer_InvalidatesOncePerEvent(t *testing.T) {
	reader := &scriptedReader{
		errs: []error{errors.New("rebalance in progress")},
		msgs: []kafka.Message{
			bookingMessage(t, "e1", "veh-1"),
			bookingMessage(t, "e1", "veh-1"),
			{Topic: TopicBookingRequestCreated, Value: []byte("not json"), Headers: kafkax.EventMeta{EventID: "e2"}.Headers()},
			bookingMessage(t, "e3", "veh-2"),
		},
	}

	var mu sync.Mutex
	var invalidated []string
	done := make(chan struct{})
	handler := InvalidateOnBooking(func(vehicleID string) {
		mu.Lock()
		defer mu.Unlock()
		invalidated = append(invalidated, vehicleID)
		if vehicleID == "veh-2" {
			close(done)
		}
	})

	c := newConsumer(reader, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute, handler)
	c.backoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(stopped)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "consumer did not process events")
	}
	cancel()
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"veh-1", "veh-2"}, invalidated)
	assert.True(t, reader.closed, "reader should be closed")
}

func TestInvalidateOnBooking_RejectsMissingVehicle(t *testing.T) {
	h := InvalidateOnBooking(func(string) { t.Error("must not invalidate") })
	require.Error(t, h(context.Background(), bookingMessage(t, "e1", "")))
}
