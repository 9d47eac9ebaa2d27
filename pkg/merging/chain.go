package merging

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ResolveCanonical follows merged_into from id to the root record
func (c *Coordinator) ResolveCanonical(ctx context.Context, orgID, id string) (*models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Coordinator.ResolveCanonical")
	defer span.End()
	tracing.SetParticipant(span, orgID, id)

	if orgID == "" || id == "" {
		return nil, fmt.Errorf("%w: org_id and participant_id are required", models.ErrValidation)
	}

	chain, err := c.repo.ListMergeChainFrom(ctx, orgID, id)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	root := chain[len(chain)-1]
	if root.IsMerged() {
		// the chain points at a record this org cannot see
		return nil, fmt.Errorf("%w: %s is merged into missing %s", models.ErrNotFound, root.ID, root.MergedInto)
	}
	return &root, nil
}

// CompactChains points every absorbed record of the org directly at its
// root. Roots never change, so the forest stays acyclic.
func (c *Coordinator) CompactChains(ctx context.Context, orgID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Coordinator.CompactChains")
	defer span.End()

	compacted := 0
	err := c.repo.WithinTx(ctx, func(ctx context.Context) error {
		compacted = 0
		absorbed, err := c.repo.ListAbsorbed(ctx, orgID)
		if err != nil {
			return err
		}

		for _, p := range absorbed {
			chain, err := c.repo.ListMergeChainFrom(ctx, orgID, p.ID)
			if err != nil {
				return err
			}
			root := chain[len(chain)-1]
			if root.IsMerged() || p.MergedInto == root.ID {
				continue
			}
			if err := c.repo.SetMergedInto(ctx, orgID, p.ID, root.ID); err != nil {
				return fmt.Errorf("compact %s: %w", p.ID, err)
			}
			compacted++
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		c.logger.WithContext(ctx).WithError(err).WithField("org_id", orgID).Error("Failed to compact merge chains")
		return 0, err
	}

	if compacted > 0 {
		metrics.ChainsCompactedTotal.Add(float64(compacted))
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"org_id":    orgID,
			"compacted": compacted,
		}).Info("Compacted merge chains")
	}
	return compacted, nil
}

// CompactAllChains compacts every org that has absorbed records. It keeps
// going past a failing org and returns the last error.
func (c *Coordinator) CompactAllChains(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Coordinator.CompactAllChains")
	defer span.End()

	orgs, err := c.repo.ListOrgsWithAbsorbed(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}

	total := 0
	var lastErr error
	for _, orgID := range orgs {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := c.CompactChains(ctx, orgID)
		if err != nil {
			lastErr = err
			continue
		}
		total += n
	}
	return total, lastErr
}
