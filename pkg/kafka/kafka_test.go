package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	queue     chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{queue: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.queue <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestProducer_Publish(t *testing.T) {
	writer := &fakeWriter{}
	producer := newProducer(writer, "participant-events", testLogger)

	err := producer.Publish(context.Background(), OutgoingMessage{
		Key:       "p-1",
		EventType: "participant.enriched",
		TenantID:  "org-1",
		Value:     map[string]any{"participant_id": "p-1"},
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "participant-events", msg.Topic)
	assert.Equal(t, "p-1", string(msg.Key))

	incoming := newIncomingMessage(msg)
	assert.Equal(t, "participant.enriched", incoming.EventType())
	assert.Equal(t, "org-1", incoming.TenantID())
	assert.Equal(t, SchemaVersion, incoming.Headers[HeaderSchemaVersion])

	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "p-1", body["participant_id"])
}

func TestProducer_PublishError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	producer := newProducer(writer, "participant-events", testLogger)

	err := producer.Publish(context.Background(), OutgoingMessage{Key: "p-1", EventType: "participant.merged", Value: struct{}{}})
	assert.EqualError(t, err, "broker down")
}

func TestProducer_PublishEncodeError(t *testing.T) {
	producer := newProducer(&fakeWriter{}, "participant-events", testLogger)

	err := producer.Publish(context.Background(), OutgoingMessage{Key: "p-1", EventType: "bad", Value: make(chan int)})
	assert.Error(t, err)
}

func TestConsumer_CommitsOnlyHandledMessages(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte(`{"ok":true}`)},
		kafka.Message{Offset: 2, Value: []byte(`{"ok":false}`)},
		kafka.Message{Offset: 3, Value: []byte(`{"ok":true}`)},
	)

	var mu sync.Mutex
	handled := 0
	handler := func(_ context.Context, msg *IncomingMessage) error {
		mu.Lock()
		handled++
		mu.Unlock()

		var body struct {
			OK bool `json:"ok"`
		}
		if err := msg.Decode(&body); err != nil {
			return err
		}
		if !body.OK {
			return errors.New("rejected")
		}
		return nil
	}

	consumer := newConsumer(reader, "participant-enrichment-requests", testLogger, handler)
	require.NoError(t, consumer.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, consumer.Stop())
	assert.Equal(t, []int64{1, 3}, reader.committedOffsets())
}

func TestIncomingMessage_Headers(t *testing.T) {
	msg := newIncomingMessage(kafka.Message{
		Key: []byte("p-1"),
		Headers: []kafka.Header{
			{Key: HeaderTenantID, Value: []byte("org-1")},
			{Key: HeaderTraceParent, Value: []byte("00-abc-def-01")},
		},
	})

	assert.Equal(t, "p-1", msg.Key)
	assert.Equal(t, "org-1", msg.TenantID())
	assert.Equal(t, "00-abc-def-01", msg.TraceParent)
	assert.Empty(t, msg.EventType())
}
