// Package enrichment fills gaps in existing participant records from trusted signals
package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/locking"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var validate = validator.New()

// Config contains configuration for the enricher
type Config struct {
	// MaxRetries bounds re-reads after a concurrent modification (default: 3)
	MaxRetries int
}

// Enricher applies fill-only updates to participants
type Enricher struct {
	logger  ectologger.Logger
	repo    models.ParticipantRepository
	trail   *audit.Trail
	locker  locking.Locker
	emitter *events.Emitter
	config  Config
}

// NewEnricher creates a new enricher
func NewEnricher(
	logger ectologger.Logger,
	repo models.ParticipantRepository,
	trail *audit.Trail,
	locker locking.Locker,
	emitter *events.Emitter,
	config Config,
) *Enricher {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if emitter == nil {
		emitter = events.NewEmitter(nil, logger)
	}
	return &Enricher{
		logger:  logger,
		repo:    repo,
		trail:   trail,
		locker:  locker,
		emitter: emitter,
		config:  config,
	}
}

// Enrich fills the participant's missing fields from req.Fields.
// When nothing would change it writes nothing, records no audit entry and
// returns an empty UpdatedFields. Otherwise it performs one conditional
// update and records exactly one audit entry with every changed field.
func (e *Enricher) Enrich(ctx context.Context, req models.EnrichRequest) (*models.EnrichResult, error) {
	ctx, span := tracing.StartSpan(ctx, "enrichment.Enricher.Enrich")
	defer span.End()
	tracing.SetParticipant(span, req.OrgID, req.ParticipantID)

	if err := validate.Struct(req); err != nil {
		metrics.EnrichmentsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %s", models.ErrValidation, err.Error())
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"org_id":         req.OrgID,
		"participant_id": req.ParticipantID,
		"actor_type":     req.Actor.Type,
		"source":         req.Actor.Source,
	})

	release, err := e.locker.Acquire(ctx, locking.ParticipantKey(req.OrgID, req.ParticipantID))
	if err != nil {
		metrics.EnrichmentsTotal.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
		return nil, locking.DomainError(err)
	}
	defer func() {
		if err := release(ctx); err != nil {
			log.WithError(err).Warn("Failed to release participant lock")
		}
	}()

	participant, changes, err := e.apply(ctx, req)
	if err != nil {
		metrics.EnrichmentsTotal.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
		return nil, err
	}

	result := &models.EnrichResult{
		ParticipantID: req.ParticipantID,
		UpdatedFields: changes.Keys(),
	}
	if len(changes) == 0 {
		metrics.EnrichmentsTotal.WithLabelValues("noop").Inc()
		log.Debug("Enrichment changed nothing")
		return result, nil
	}
	metrics.EnrichmentsTotal.WithLabelValues("updated").Inc()
	log.WithField("updated_fields", result.UpdatedFields).Info("Participant enriched")

	entryID, err := e.trail.Record(ctx, audit.NewEntry(req.OrgID, req.ParticipantID, models.AuditActionEnrich, req.Actor, changes))
	if err != nil {
		metrics.AuditWarningsTotal.WithLabelValues(string(models.AuditActionEnrich)).Inc()
		log.WithError(err).Warn("Participant enriched but audit entry was not recorded")
		result.AuditWarning = err.Error()
	}
	result.AuditEntryID = entryID

	if err := e.emitter.EmitParticipantEnriched(ctx, participant, changes, req.Actor); err != nil {
		log.WithError(err).Warn("Failed to publish enrichment event")
	}

	return result, nil
}

// apply computes and writes the diff, re-reading the record when its
// version moved underneath us.
func (e *Enricher) apply(ctx context.Context, req models.EnrichRequest) (*models.Participant, models.FieldChanges, error) {
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		p, err := e.repo.GetByID(ctx, req.OrgID, req.ParticipantID)
		if err != nil {
			return nil, nil, err
		}
		if p.IsMerged() {
			return nil, nil, fmt.Errorf("%w: %s was absorbed into %s", models.ErrAlreadyMerged, p.ID, p.MergedInto)
		}

		changes := ComputeDiff(p, req.Fields)
		if len(changes) == 0 {
			return p, changes, nil
		}

		p.Apply(changes)
		err = e.repo.Update(ctx, p)
		if err == nil {
			return p, changes, nil
		}
		if !errors.Is(err, models.ErrConcurrentModification) {
			return nil, nil, err
		}

		metrics.EnrichmentConflictRetries.Inc()
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"participant_id": req.ParticipantID,
			"attempt":        attempt + 1,
		}).Debug("Participant changed during enrichment, retrying")
	}

	return nil, nil, fmt.Errorf("%w: %s after %d attempts", models.ErrConcurrentModification, req.ParticipantID, e.config.MaxRetries+1)
}
