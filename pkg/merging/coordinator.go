// Package merging consolidates duplicate participants while keeping merged_into acyclic
package merging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/enrichment"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/locking"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// absorbedIDField is added to the canonical record's merge audit entry
const absorbedIDField = "absorbed_id"

var validate = validator.New()

// Coordinator performs merges. The cycle check, the data fill and the
// pointer writes of one merge share a single store transaction.
type Coordinator struct {
	logger    ectologger.Logger
	repo      models.ParticipantRepository
	trail     *audit.Trail
	locker    locking.Locker
	emitter   *events.Emitter
	rewriters []models.ReferenceRewriter
}

// NewCoordinator creates a new merge coordinator. Every rewriter runs inside
// the merge transaction.
func NewCoordinator(
	logger ectologger.Logger,
	repo models.ParticipantRepository,
	trail *audit.Trail,
	locker locking.Locker,
	emitter *events.Emitter,
	rewriters ...models.ReferenceRewriter,
) *Coordinator {
	if emitter == nil {
		emitter = events.NewEmitter(nil, logger)
	}
	return &Coordinator{
		logger:    logger,
		repo:      repo,
		trail:     trail,
		locker:    locker,
		emitter:   emitter,
		rewriters: rewriters,
	}
}

// Merge absorbs req.AbsorbedID into req.CanonicalID. Data only the absorbed
// record has is filled into the canonical one first, so the merge itself
// loses nothing.
func (c *Coordinator) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Coordinator.Merge")
	defer span.End()
	tracing.SetParticipant(span, req.OrgID, req.CanonicalID)

	start := time.Now()
	defer func() { metrics.MergeDuration.Observe(time.Since(start).Seconds()) }()

	if err := validate.Struct(req); err != nil {
		metrics.MergesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %s", models.ErrValidation, err.Error())
	}
	if req.CanonicalID == req.AbsorbedID {
		metrics.MergesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: cannot merge %s into itself", models.ErrValidation, req.CanonicalID)
	}

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"org_id":       req.OrgID,
		"canonical_id": req.CanonicalID,
		"absorbed_id":  req.AbsorbedID,
		"actor_type":   req.Actor.Type,
		"source":       req.Actor.Source,
	})

	release, err := locking.AcquireAll(ctx, c.locker,
		locking.ParticipantKey(req.OrgID, req.CanonicalID),
		locking.ParticipantKey(req.OrgID, req.AbsorbedID),
	)
	if err != nil {
		metrics.MergesTotal.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
		return nil, locking.DomainError(err)
	}
	defer func() {
		if err := release(ctx); err != nil {
			log.WithError(err).Warn("Failed to release participant locks")
		}
	}()

	var (
		result  *models.MergeResult
		changes models.FieldChanges
	)
	err = c.repo.WithinTx(ctx, func(ctx context.Context) error {
		var txErr error
		result, changes, txErr = c.mergeInTx(ctx, req)
		return txErr
	})
	if err != nil {
		tracing.RecordError(span, err)
		if isInvariantViolation(err) {
			metrics.MergesTotal.WithLabelValues("rejected").Inc()
			log.WithError(err).Info("Merge rejected")
		} else {
			metrics.MergesTotal.WithLabelValues("error").Inc()
			log.WithError(err).Error("Merge failed")
		}
		return nil, err
	}

	metrics.MergesTotal.WithLabelValues("merged").Inc()
	log.WithFields(map[string]any{
		"merged_fields": result.MergedFields,
		"conflicts":     len(result.Conflicts),
		"redirected":    result.Redirected,
	}).Info("Participants merged")

	result.AuditWarning = c.recordAudit(ctx, req, changes)
	if result.AuditWarning != "" {
		metrics.AuditWarningsTotal.WithLabelValues(string(models.AuditActionMerge)).Inc()
		log.WithField("audit_warning", result.AuditWarning).Warn("Participants merged but audit trail is incomplete")
	}

	if err := c.emitter.EmitParticipantMerged(ctx, req.OrgID, result, req.Actor); err != nil {
		log.WithError(err).Warn("Failed to publish merge event")
	}

	return result, nil
}

func (c *Coordinator) mergeInTx(ctx context.Context, req models.MergeRequest) (*models.MergeResult, models.FieldChanges, error) {
	rows, err := c.repo.LockForMerge(ctx, req.CanonicalID, req.AbsorbedID)
	if err != nil {
		return nil, nil, err
	}

	var canonical, absorbed *models.Participant
	for i := range rows {
		switch rows[i].ID {
		case req.CanonicalID:
			canonical = &rows[i]
		case req.AbsorbedID:
			absorbed = &rows[i]
		}
	}

	if err := checkPreconditions(req, canonical, absorbed); err != nil {
		return nil, nil, err
	}
	if err := c.checkNoCycle(ctx, req.OrgID, req.CanonicalID, req.AbsorbedID); err != nil {
		return nil, nil, err
	}
	if err := c.checkNoCycle(ctx, req.OrgID, req.AbsorbedID, req.CanonicalID); err != nil {
		return nil, nil, err
	}

	changes := enrichment.ComputeDiff(canonical, absorbed.Fields())
	result := &models.MergeResult{
		CanonicalID:  canonical.ID,
		AbsorbedID:   absorbed.ID,
		MergedFields: changes.Keys(),
		Conflicts:    enrichment.Conflicts(canonical, absorbed.Fields(), changes),
	}

	if len(changes) > 0 {
		canonical.Apply(changes)
		if err := c.repo.Update(ctx, canonical); err != nil {
			return nil, nil, fmt.Errorf("fill canonical %s: %w", canonical.ID, err)
		}
	}

	if err := c.repo.SetMergedInto(ctx, req.OrgID, absorbed.ID, canonical.ID); err != nil {
		return nil, nil, fmt.Errorf("set merged_into on %s: %w", absorbed.ID, err)
	}

	redirected, err := c.repo.RedirectMergedInto(ctx, req.OrgID, absorbed.ID, canonical.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("redirect records merged into %s: %w", absorbed.ID, err)
	}
	result.Redirected = redirected

	for _, rewriter := range c.rewriters {
		n, err := rewriter.RewriteReferences(ctx, req.OrgID, absorbed.ID, canonical.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("rewrite references to %s: %w", absorbed.ID, err)
		}
		result.Redirected += n
	}

	return result, changes, nil
}

// checkPreconditions runs the merge checks in a fixed order so the same
// request always yields the same error.
func checkPreconditions(req models.MergeRequest, canonical, absorbed *models.Participant) error {
	if canonical == nil {
		return fmt.Errorf("%w: %s", models.ErrNotFound, req.CanonicalID)
	}
	if absorbed == nil {
		return fmt.Errorf("%w: %s", models.ErrNotFound, req.AbsorbedID)
	}
	if canonical.OrgID != absorbed.OrgID {
		return fmt.Errorf("%w: %s and %s", models.ErrCrossOrgMerge, canonical.ID, absorbed.ID)
	}
	// rows of another org are invisible to this caller
	if canonical.OrgID != req.OrgID {
		return fmt.Errorf("%w: %s", models.ErrNotFound, req.CanonicalID)
	}
	if absorbed.IsMerged() {
		return fmt.Errorf("%w: %s is already merged into %s", models.ErrAlreadyMerged, absorbed.ID, absorbed.MergedInto)
	}
	if canonical.IsMerged() {
		return fmt.Errorf("%w: canonical %s is itself merged into %s", models.ErrAlreadyMerged, canonical.ID, canonical.MergedInto)
	}
	return nil
}

// checkNoCycle walks the chain from start and fails if forbidden is on it
func (c *Coordinator) checkNoCycle(ctx context.Context, orgID, start, forbidden string) error {
	chain, err := c.repo.ListMergeChainFrom(ctx, orgID, start)
	if err != nil {
		return err
	}
	for _, p := range chain {
		if p.ID == forbidden {
			return fmt.Errorf("%w: %s is reachable from %s", models.ErrCycleDetected, forbidden, start)
		}
	}
	return nil
}

// recordAudit writes one entry per touched record and returns a warning
// describing every failed write.
func (c *Coordinator) recordAudit(ctx context.Context, req models.MergeRequest, changes models.FieldChanges) string {
	canonicalChanges := make(models.FieldChanges, len(changes)+1)
	for k, v := range changes {
		canonicalChanges[k] = v
	}
	canonicalChanges[absorbedIDField] = req.AbsorbedID

	entries := []models.AuditEntry{
		audit.NewEntry(req.OrgID, req.CanonicalID, models.AuditActionMerge, req.Actor, canonicalChanges),
		audit.NewEntry(req.OrgID, req.AbsorbedID, models.AuditActionMerge, req.Actor,
			models.FieldChanges{models.FieldMergedInto: req.CanonicalID}),
	}

	var warnings []string
	for _, entry := range entries {
		if _, err := c.trail.Record(ctx, entry); err != nil {
			warnings = append(warnings, err.Error())
		}
	}
	return strings.Join(warnings, "; ")
}

func isInvariantViolation(err error) bool {
	return errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrAlreadyMerged) ||
		errors.Is(err, models.ErrCycleDetected) ||
		errors.Is(err, models.ErrCrossOrgMerge)
}
