package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/ptlog/internal/events"
)

type stubWriter struct {
	written map[string][]kafka.Message
	err     error
}

func (w *stubWriter) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if w.written == nil {
		w.written = make(map[string][]kafka.Message)
	}
	w.written[topic] = append(w.written[topic], msgs...)
	return nil
}

type stubRegistry struct {
	id    int
	calls int
}

func (r *stubRegistry) EnsureSchema(ctx context.Context, subject, schema string) (int, error) {
	r.calls++
	return r.id, nil
}

func sampleMessage(eventID int64) Message {
	return Message{
		EventID:       eventID,
		AggregateType: "exercise_log",
		AggregateID:   "log-1",
		EventType:     events.TypeLogRecorded,
		Topic:         events.TopicLogEvents,
		SchemaSubject: events.TopicLogEvents + "-value",
		PartitionKey:  "patient-1",
		Payload:       []byte(`{"log_id":"log-1"}`),
	}
}

func TestDeliverAppliesWireFraming(t *testing.T) {
	writer := &stubWriter{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(nil, writer, registry, 0, 10)

	err := dispatcher.deliver(context.Background(), []Message{sampleMessage(1), sampleMessage(2)})
	require.NoError(t, err)

	msgs := writer.written[events.TopicLogEvents]
	require.Len(t, msgs, 2)

	first := msgs[0]
	require.Equal(t, []byte("patient-1"), first.Key)
	require.Equal(t, byte(0), first.Value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(first.Value[1:5]))
	require.JSONEq(t, `{"log_id":"log-1"}`, string(first.Value[5:]))

	var eventType string
	for _, header := range first.Headers {
		if header.Key == "event_type" {
			eventType = string(header.Value)
		}
	}
	require.Equal(t, events.TypeLogRecorded, eventType)

	// Schema id is cached after the first lookup.
	require.Equal(t, 1, registry.calls)
}

func TestDeliverUnknownEventType(t *testing.T) {
	dispatcher := NewDispatcher(nil, &stubWriter{}, &stubRegistry{id: 1}, 0, 10)

	msg := sampleMessage(1)
	msg.EventType = "log.deleted"

	err := dispatcher.deliver(context.Background(), []Message{msg})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no schema metadata")
}

func TestDeliverPropagatesWriterError(t *testing.T) {
	writer := &stubWriter{err: errors.New("broker unavailable")}
	dispatcher := NewDispatcher(nil, writer, &stubRegistry{id: 7}, 0, 10)

	err := dispatcher.deliver(context.Background(), []Message{sampleMessage(1)})
	require.ErrorContains(t, err, "broker unavailable")
}

func TestEncodeWireFormat(t *testing.T) {
	frame := encodeWireFormat(1234, []byte(`{}`))
	require.Len(t, frame, 7)
	require.Equal(t, byte(0), frame[0])
	require.Equal(t, uint32(1234), binary.BigEndian.Uint32(frame[1:5]))
	require.Equal(t, "{}", string(frame[5:]))
}
