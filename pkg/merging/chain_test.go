package merging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestResolveCanonical(t *testing.T) {
	f := setup(t,
		models.Participant{ID: "a", OrgID: "org-1"},
		models.Participant{ID: "b", OrgID: "org-1", MergedInto: "a"},
		models.Participant{ID: "c", OrgID: "org-1", MergedInto: "b"},
	)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		root, err := f.coordinator.ResolveCanonical(ctx, "org-1", id)
		require.NoError(t, err)
		assert.Equal(t, "a", root.ID)
	}

	_, err := f.coordinator.ResolveCanonical(ctx, "org-2", "c")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestResolveCanonical_DetectsCycle(t *testing.T) {
	f := setup(t,
		models.Participant{ID: "a", OrgID: "org-1", MergedInto: "b"},
		models.Participant{ID: "b", OrgID: "org-1", MergedInto: "a"},
	)

	_, err := f.coordinator.ResolveCanonical(context.Background(), "org-1", "a")
	assert.ErrorIs(t, err, models.ErrCycleDetected)
}

func TestCompactChains(t *testing.T) {
	f := setup(t,
		models.Participant{ID: "a", OrgID: "org-1"},
		models.Participant{ID: "b", OrgID: "org-1", MergedInto: "a"},
		models.Participant{ID: "c", OrgID: "org-1", MergedInto: "b"},
		models.Participant{ID: "d", OrgID: "org-1", MergedInto: "c"},
		models.Participant{ID: "x", OrgID: "org-2"},
		models.Participant{ID: "y", OrgID: "org-2", MergedInto: "x"},
	)
	ctx := context.Background()

	n, err := f.coordinator.CompactChains(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"b", "c", "d"} {
		assert.Equal(t, "a", f.get(t, id).MergedInto)
	}

	// a second pass has nothing left to do
	n, err = f.coordinator.CompactChains(ctx, "org-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompactAllChains(t *testing.T) {
	f := setup(t,
		models.Participant{ID: "a", OrgID: "org-1"},
		models.Participant{ID: "b", OrgID: "org-1", MergedInto: "a"},
		models.Participant{ID: "c", OrgID: "org-1", MergedInto: "b"},
		models.Participant{ID: "x", OrgID: "org-2"},
		models.Participant{ID: "y", OrgID: "org-2", MergedInto: "x"},
		models.Participant{ID: "z", OrgID: "org-2", MergedInto: "y"},
	)

	n, err := f.coordinator.CompactAllChains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	z, err := f.store.GetByID(context.Background(), "org-2", "z")
	require.NoError(t, err)
	assert.Equal(t, "x", z.MergedInto)
}

func TestCompactChains_RollsBackOnFailure(t *testing.T) {
	f := setup(t,
		models.Participant{ID: "a", OrgID: "org-1"},
		models.Participant{ID: "b", OrgID: "org-1", MergedInto: "a"},
		models.Participant{ID: "c", OrgID: "org-1", MergedInto: "b"},
	)
	f.store.FailOn("SetMergedInto", models.ErrQueryFailed)

	_, err := f.coordinator.CompactChains(context.Background(), "org-1")
	assert.ErrorIs(t, err, models.ErrQueryFailed)
	assert.Equal(t, "b", f.get(t, "c").MergedInto)
}
