//go:build integration

package participant

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/testutil/containers"
	"github.com/Ramsey-B/clover/pkg/models"
)

const migrationsPath = "../../../db/pg"

func setup(t *testing.T) (*ParticipantRepository, *containers.PostgresContainer) {
	t.Helper()
	pg := containers.NewPostgresContainer(t, migrationsPath)
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewParticipantRepository(pg.DB, logger), pg
}

func create(t *testing.T, repo *ParticipantRepository, p models.Participant) *models.Participant {
	t.Helper()
	created, err := repo.Create(context.Background(), &p)
	require.NoError(t, err)
	return created
}

func TestParticipantRepository(t *testing.T) {
	repo, pg := setup(t)
	ctx := context.Background()

	t.Run("FindByOrgAndSignals matches any signal and skips merged rows", func(t *testing.T) {
		pg.Truncate(t)
		a := create(t, repo, models.Participant{OrgID: "org-1", Email: "a@example.com", FullName: "Anna Ivanova"})
		b := create(t, repo, models.Participant{OrgID: "org-1", Phone: "79991234567"})
		create(t, repo, models.Participant{OrgID: "org-2", Email: "a@example.com"})
		merged := create(t, repo, models.Participant{OrgID: "org-1", Phone: "79991234567"})
		require.NoError(t, repo.SetMergedInto(ctx, "org-1", merged.ID, b.ID))

		rows, err := repo.FindByOrgAndSignals(ctx, "org-1", models.SignalQuery{Email: "a@example.com", Phone: "79991234567"})
		require.NoError(t, err)

		ids := []string{}
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	})

	t.Run("FindByOrgAndNameSubstring is case-insensitive", func(t *testing.T) {
		pg.Truncate(t)
		a := create(t, repo, models.Participant{OrgID: "org-1", FullName: "Anna Ivanova"})
		create(t, repo, models.Participant{OrgID: "org-1", FullName: "Boris Petrov"})

		rows, err := repo.FindByOrgAndNameSubstring(ctx, "org-1", []string{"ivanov"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, a.ID, rows[0].ID)
	})

	t.Run("GetByID scopes by org and maps missing rows to ErrNotFound", func(t *testing.T) {
		pg.Truncate(t)
		a := create(t, repo, models.Participant{OrgID: "org-1", TgUserID: 42})

		got, err := repo.GetByID(ctx, "org-1", a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.TgUserID)
		assert.Equal(t, 1, got.Version)

		_, err = repo.GetByID(ctx, "org-2", a.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = repo.GetByID(ctx, "org-1", "not-a-uuid")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Update is version-conditional", func(t *testing.T) {
		pg.Truncate(t)
		a := create(t, repo, models.Participant{OrgID: "org-1"})

		first, err := repo.GetByID(ctx, "org-1", a.ID)
		require.NoError(t, err)
		stale := first.Clone()

		first.Email = "a@example.com"
		require.NoError(t, repo.Update(ctx, first))
		assert.Equal(t, 2, first.Version)

		stale.Phone = "79991234567"
		err = repo.Update(ctx, stale)
		assert.ErrorIs(t, err, models.ErrConcurrentModification)

		got, err := repo.GetByID(ctx, "org-1", a.ID)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", got.Email)
		assert.Empty(t, got.Phone)

		missing := &models.Participant{ID: uuid.New().String(), OrgID: "org-1", Version: 1}
		assert.ErrorIs(t, repo.Update(ctx, missing), models.ErrNotFound)
	})

	t.Run("ListMergeChainFrom returns the chain root last", func(t *testing.T) {
		pg.Truncate(t)
		a := create(t, repo, models.Participant{OrgID: "org-1"})
		b := create(t, repo, models.Participant{OrgID: "org-1"})
		c := create(t, repo, models.Participant{OrgID: "org-1"})
		require.NoError(t, repo.SetMergedInto(ctx, "org-1", a.ID, b.ID))
		require.NoError(t, repo.SetMergedInto(ctx, "org-1", b.ID, c.ID))

		chain, err := repo.ListMergeChainFrom(ctx, "org-1", a.ID)
		require.NoError(t, err)
		require.Len(t, chain, 3)
		assert.Equal(t, a.ID, chain[0].ID)
		assert.Equal(t, c.ID, chain[2].ID)
		assert.False(t, chain[2].IsMerged())

		_, err = repo.ListMergeChainFrom(ctx, "org-1", uuid.New().String())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("WithinTx rolls back every write when fn fails", func(t *testing.T) {
		pg.Truncate(t)
		a := create(t, repo, models.Participant{OrgID: "org-1"})
		b := create(t, repo, models.Participant{OrgID: "org-1"})
		boom := errors.New("boom")

		err := repo.WithinTx(ctx, func(ctx context.Context) error {
			locked, err := repo.LockForMerge(ctx, b.ID, a.ID)
			require.NoError(t, err)
			require.Len(t, locked, 2)
			require.NoError(t, repo.SetMergedInto(ctx, "org-1", a.ID, b.ID))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.GetByID(ctx, "org-1", a.ID)
		require.NoError(t, err)
		assert.False(t, got.IsMerged())
		assert.Equal(t, 1, got.Version)
	})

	t.Run("RedirectMergedInto and ListAbsorbed", func(t *testing.T) {
		pg.Truncate(t)
		a := create(t, repo, models.Participant{OrgID: "org-1"})
		b := create(t, repo, models.Participant{OrgID: "org-1"})
		c := create(t, repo, models.Participant{OrgID: "org-1"})
		d := create(t, repo, models.Participant{OrgID: "org-2"})
		e := create(t, repo, models.Participant{OrgID: "org-2"})
		require.NoError(t, repo.SetMergedInto(ctx, "org-1", a.ID, b.ID))
		require.NoError(t, repo.SetMergedInto(ctx, "org-2", d.ID, e.ID))

		count, err := repo.RedirectMergedInto(ctx, "org-1", b.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		absorbed, err := repo.ListAbsorbed(ctx, "org-1")
		require.NoError(t, err)
		require.Len(t, absorbed, 1)
		assert.Equal(t, c.ID, absorbed[0].MergedInto)
		assert.Equal(t, 3, absorbed[0].Version)

		orgs, err := repo.ListOrgsWithAbsorbed(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"org-1", "org-2"}, orgs)
	})

	t.Run("the schema rejects a self merge", func(t *testing.T) {
		pg.Truncate(t)
		a := create(t, repo, models.Participant{OrgID: "org-1"})

		err := repo.SetMergedInto(ctx, "org-1", a.ID, a.ID)
		assert.ErrorIs(t, err, models.ErrQueryFailed)
	})

	t.Run("reference rewriters join the merge transaction", func(t *testing.T) {
		pg.Truncate(t)
		pg.Exec(t, "CREATE TABLE IF NOT EXISTS registrations (id SERIAL PRIMARY KEY, participant_id UUID)")
		a := create(t, repo, models.Participant{OrgID: "org-1"})
		b := create(t, repo, models.Participant{OrgID: "org-1"})
		pg.Exec(t, "INSERT INTO registrations (participant_id) VALUES ($1), ($1)", a.ID)

		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
		rewriters, err := NewReferenceRewriters(pg.DB, logger, []string{"registrations.participant_id"})
		require.NoError(t, err)
		require.Len(t, rewriters, 1)

		var count int64
		err = repo.WithinTx(ctx, func(ctx context.Context) error {
			count, err = rewriters[0].RewriteReferences(ctx, "org-1", a.ID, b.ID)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		_, err = NewReferenceRewriters(pg.DB, logger, []string{"registrations"})
		assert.Error(t, err)
	})
}
