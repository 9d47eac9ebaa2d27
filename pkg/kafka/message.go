package kafka

import (
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header names set on every event
const (
	HeaderEventType     = "event_type"
	HeaderTenantID      = "tenant_id"
	HeaderSchemaVersion = "schema_version"
	HeaderTraceParent   = "traceparent"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
}

func newIncomingMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &IncomingMessage{
		Key:         string(msg.Key),
		Value:       msg.Value,
		Headers:     headers,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Time,
		Topic:       msg.Topic,
		TraceParent: headers[HeaderTraceParent],
	}
}

// Decode unmarshals the JSON value into v
func (m *IncomingMessage) Decode(v any) error {
	return json.Unmarshal(m.Value, v)
}

// EventType returns the event type header
func (m *IncomingMessage) EventType() string {
	return m.Headers[HeaderEventType]
}

// TenantID returns the tenant header
func (m *IncomingMessage) TenantID() string {
	return m.Headers[HeaderTenantID]
}
