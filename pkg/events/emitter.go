// Package events publishes participant lifecycle events
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Publisher writes one outgoing message; *kafka.Producer implements it
type Publisher interface {
	Publish(ctx context.Context, msg kafka.OutgoingMessage) error
}

// Emitter publishes participant events. An emitter without a publisher
// drops every event, which is how clover runs with Kafka disabled.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

// NewEmitter creates a new event emitter. publisher may be nil.
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EmitParticipantEnriched emits a participant.enriched event
func (e *Emitter) EmitParticipantEnriched(ctx context.Context, p *models.Participant, changes models.FieldChanges, actor models.Actor) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitParticipantEnriched")
	defer span.End()

	event := &ParticipantEnrichedEvent{
		BaseEvent:     e.base(EventTypeParticipantEnriched, p.OrgID),
		ParticipantID: p.ID,
		UpdatedFields: changes.Keys(),
		FieldChanges:  changes,
		Version:       p.Version,
		Actor:         actor,
	}
	return e.publish(ctx, EventTypeParticipantEnriched, p.OrgID, p.ID, event)
}

// EmitParticipantMerged emits a participant.merged event keyed by the canonical record
func (e *Emitter) EmitParticipantMerged(ctx context.Context, orgID string, result *models.MergeResult, actor models.Actor) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitParticipantMerged")
	defer span.End()

	event := &ParticipantMergedEvent{
		BaseEvent:    e.base(EventTypeParticipantMerged, orgID),
		CanonicalID:  result.CanonicalID,
		AbsorbedID:   result.AbsorbedID,
		MergedFields: result.MergedFields,
		Conflicts:    result.Conflicts,
		Redirected:   result.Redirected,
		Actor:        actor,
	}
	return e.publish(ctx, EventTypeParticipantMerged, orgID, result.CanonicalID, event)
}

// EmitAuditRecorded emits an audit.recorded event
func (e *Emitter) EmitAuditRecorded(ctx context.Context, entry *models.AuditEntry) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitAuditRecorded")
	defer span.End()

	event := &AuditRecordedEvent{
		BaseEvent: e.base(EventTypeAuditRecorded, entry.OrgID),
		Entry:     *entry,
	}
	return e.publish(ctx, EventTypeAuditRecorded, entry.OrgID, entry.ParticipantID, event)
}

func (e *Emitter) base(eventType EventType, orgID string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		OrgID:     orgID,
		Timestamp: e.now(),
	}
}

func (e *Emitter) publish(ctx context.Context, eventType EventType, orgID, key string, event any) error {
	if e.publisher == nil {
		return nil
	}

	err := e.publisher.Publish(ctx, kafka.OutgoingMessage{
		Key:       key,
		EventType: string(eventType),
		TenantID:  orgID,
		Value:     event,
	})
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(eventType), "error").Inc()
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}

	metrics.EventsPublishedTotal.WithLabelValues(string(eventType), "ok").Inc()
	return nil
}
