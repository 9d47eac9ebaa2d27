//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/testutil/containers"
	"github.com/Ramsey-B/clover/pkg/models"
)

func TestAuditRepository(t *testing.T) {
	pg := containers.NewPostgresContainer(t, "../../../db/pg")
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	repo := NewAuditRepository(pg.DB, logger)
	ctx := context.Background()

	participantID := uuid.New().String()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &models.AuditEntry{
		ID:            uuid.New().String(),
		OrgID:         "org-1",
		ParticipantID: participantID,
		ActorType:     models.ActorTypeSystem,
		Source:        models.AuditSourceWebhook,
		Action:        models.AuditActionEnrich,
		FieldChanges:  models.FieldChanges{"email": "a@example.com", "tg_user_id": int64(42)},
		CreatedAt:     base,
	}
	second := &models.AuditEntry{
		ID:            uuid.New().String(),
		OrgID:         "org-1",
		ParticipantID: participantID,
		ActorID:       "user-1",
		ActorType:     models.ActorTypeUser,
		Source:        models.AuditSourceManual,
		Action:        models.AuditActionMerge,
		FieldChanges:  models.FieldChanges{"merged_into": uuid.New().String()},
		CreatedAt:     base.Add(time.Minute),
	}
	require.NoError(t, repo.Append(ctx, second))
	require.NoError(t, repo.Append(ctx, first))

	entries, err := repo.ListByParticipant(ctx, "org-1", participantID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, first.ID, entries[0].ID)
	assert.Empty(t, entries[0].ActorID)
	assert.Equal(t, "a@example.com", entries[0].FieldChanges["email"])
	// JSON numbers decode as float64
	assert.Equal(t, float64(42), entries[0].FieldChanges["tg_user_id"])

	assert.Equal(t, second.ID, entries[1].ID)
	assert.Equal(t, "user-1", entries[1].ActorID)
	assert.Equal(t, models.AuditActionMerge, entries[1].Action)

	other, err := repo.ListByParticipant(ctx, "org-2", participantID)
	require.NoError(t, err)
	assert.Empty(t, other)

	malformed, err := repo.ListByParticipant(ctx, "org-1", "not-a-uuid")
	require.NoError(t, err)
	assert.Empty(t, malformed)

	t.Run("field changes are stored as jsonb", func(t *testing.T) {
		var kind string
		require.NoError(t, pg.DB.GetContext(ctx, &kind,
			"SELECT jsonb_typeof(field_changes) FROM participant_audit_log WHERE id = $1", first.ID))
		assert.Equal(t, "object", kind)
	})

	t.Run("the log is append-only", func(t *testing.T) {
		_, err := pg.DB.ExecContext(ctx, "UPDATE participant_audit_log SET action = 'update' WHERE id = $1", first.ID)
		assert.Error(t, err)
		_, err = pg.DB.ExecContext(ctx, "DELETE FROM participant_audit_log WHERE id = $1", first.ID)
		assert.Error(t, err)
	})

	t.Run("invalid actor types are rejected by the schema", func(t *testing.T) {
		bad := *first
		bad.ID = uuid.New().String()
		bad.ActorType = "robot"
		assert.ErrorIs(t, repo.Append(ctx, &bad), models.ErrQueryFailed)
	})
}
