// Package audit is the PostgreSQL audit sink. Rows are only ever inserted.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const auditTable = "participant_audit_log"

var auditColumns = []string{
	"id", "org_id", "participant_id", "actor_id", "actor_type", "source", "action", "field_changes", "created_at",
}

type auditRow struct {
	ID            string                              `db:"id"`
	OrgID         string                              `db:"org_id"`
	ParticipantID string                              `db:"participant_id"`
	ActorID       sql.NullString                      `db:"actor_id"`
	ActorType     string                              `db:"actor_type"`
	Source        string                              `db:"source"`
	Action        string                              `db:"action"`
	FieldChanges  database.JSONB[models.FieldChanges] `db:"field_changes"`
	CreatedAt     time.Time                           `db:"created_at"`
}

func (r auditRow) toModel() models.AuditEntry {
	changes := r.FieldChanges.GetValue()
	if changes == nil {
		changes = models.FieldChanges{}
	}
	return models.AuditEntry{
		ID:            r.ID,
		OrgID:         r.OrgID,
		ParticipantID: r.ParticipantID,
		ActorID:       r.ActorID.String,
		ActorType:     models.ActorType(r.ActorType),
		Source:        models.AuditSource(r.Source),
		Action:        models.AuditAction(r.Action),
		FieldChanges:  changes,
		CreatedAt:     r.CreatedAt,
	}
}

// AuditRepository implements models.AuditSink on PostgreSQL
type AuditRepository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ models.AuditSink = (*AuditRepository)(nil)

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db database.DB, logger ectologger.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	ctx, span := tracing.StartSpan(ctx, "audit.AuditRepository.Append")
	defer span.End()
	tracing.SetParticipant(span, entry.OrgID, entry.ParticipantID)

	changes := entry.FieldChanges
	if changes == nil {
		changes = models.FieldChanges{}
	}

	var actorID sql.NullString
	if entry.ActorID != "" {
		actorID = sql.NullString{String: entry.ActorID, Valid: true}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(auditTable)
	ib.Cols(auditColumns...)
	ib.Values(entry.ID, entry.OrgID, entry.ParticipantID, actorID, string(entry.ActorType), string(entry.Source),
		string(entry.Action), database.NewJSONB(changes), entry.CreatedAt)

	query, args := ib.Build()
	if _, err := database.QuerierFromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("audit_entry_id", entry.ID).Error("Failed to append audit entry")
		if database.IsConnectionError(err) {
			return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%w: %w", models.ErrQueryFailed, err)
	}
	return nil
}

// ListByParticipant returns the entries of one participant, oldest first
func (r *AuditRepository) ListByParticipant(ctx context.Context, orgID, participantID string) ([]models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.AuditRepository.ListByParticipant")
	defer span.End()
	tracing.SetParticipant(span, orgID, participantID)

	// participant_id is a uuid column; nothing is logged against anything else
	if _, err := uuid.Parse(participantID); err != nil {
		return []models.AuditEntry{}, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(auditColumns...)
	sb.From(auditTable)
	sb.Where(
		sb.Equal("org_id", orgID),
		sb.Equal("participant_id", participantID),
	)
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	var rows []auditRow
	if err := database.QuerierFromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list audit entries")
		if database.IsConnectionError(err) {
			return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrQueryFailed, err)
	}

	entries := make([]models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toModel())
	}
	return entries, nil
}
