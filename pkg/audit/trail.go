// Package audit records every field-level change made to a participant
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Trail validates audit entries and appends them to the sink.
// The sink is the record of truth; the emitted event is a best-effort copy.
type Trail struct {
	logger  ectologger.Logger
	sink    models.AuditSink
	emitter *events.Emitter
	now     func() time.Time
	newID   func() string
}

// NewTrail creates a new audit trail
func NewTrail(logger ectologger.Logger, sink models.AuditSink, emitter *events.Emitter) *Trail {
	if emitter == nil {
		emitter = events.NewEmitter(nil, logger)
	}
	return &Trail{
		logger:  logger,
		sink:    sink,
		emitter: emitter,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// Record assigns an id and timestamp to entry and appends it.
// It returns the new entry id.
func (t *Trail) Record(ctx context.Context, entry models.AuditEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Trail.Record")
	defer span.End()
	tracing.SetParticipant(span, entry.OrgID, entry.ParticipantID)

	if err := validateEntry(&entry); err != nil {
		metrics.AuditWritesTotal.WithLabelValues("invalid").Inc()
		return "", err
	}

	entry.ID = t.newID()
	entry.CreatedAt = t.now()
	if entry.FieldChanges == nil {
		entry.FieldChanges = models.FieldChanges{}
	}

	log := t.logger.WithContext(ctx).WithFields(map[string]any{
		"audit_id":       entry.ID,
		"org_id":         entry.OrgID,
		"participant_id": entry.ParticipantID,
		"action":         entry.Action,
		"actor_type":     entry.ActorType,
		"source":         entry.Source,
	})

	if err := t.sink.Append(ctx, &entry); err != nil {
		metrics.AuditWritesTotal.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
		log.WithError(err).Error("Failed to append audit entry")
		return "", fmt.Errorf("append audit entry for %s: %w", entry.ParticipantID, err)
	}
	metrics.AuditWritesTotal.WithLabelValues("ok").Inc()
	log.WithField("fields", entry.FieldChanges.Keys()).Debug("Recorded audit entry")

	if err := t.emitter.EmitAuditRecorded(ctx, &entry); err != nil {
		log.WithError(err).Warn("Audit entry stored but not published")
	}

	return entry.ID, nil
}

// List returns a participant's audit history, oldest first
func (t *Trail) List(ctx context.Context, orgID, participantID string) ([]models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Trail.List")
	defer span.End()
	tracing.SetParticipant(span, orgID, participantID)

	if orgID == "" || participantID == "" {
		return nil, fmt.Errorf("%w: org_id and participant_id are required", models.ErrValidation)
	}

	entries, err := t.sink.ListByParticipant(ctx, orgID, participantID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return entries, nil
}

func validateEntry(entry *models.AuditEntry) error {
	switch {
	case entry.OrgID == "":
		return fmt.Errorf("%w: audit entry org_id is required", models.ErrValidation)
	case entry.ParticipantID == "":
		return fmt.Errorf("%w: audit entry participant_id is required", models.ErrValidation)
	case !entry.ActorType.Valid():
		return fmt.Errorf("%w: unknown actor type %q", models.ErrValidation, entry.ActorType)
	case !entry.Source.Valid():
		return fmt.Errorf("%w: unknown audit source %q", models.ErrValidation, entry.Source)
	case !entry.Action.Valid():
		return fmt.Errorf("%w: unknown audit action %q", models.ErrValidation, entry.Action)
	}
	return nil
}

// NewEntry builds an unsaved entry for actor acting on a participant
func NewEntry(orgID, participantID string, action models.AuditAction, actor models.Actor, changes models.FieldChanges) models.AuditEntry {
	return models.AuditEntry{
		OrgID:         orgID,
		ParticipantID: participantID,
		ActorID:       actor.ID,
		ActorType:     actor.Type,
		Source:        actor.Source,
		Action:        action,
		FieldChanges:  changes,
	}
}
