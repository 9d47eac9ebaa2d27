// Package jobs runs background work: batch enrichment and scheduled merge-chain compaction
package jobs

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Enricher is the single-participant enrichment the batch fans out to
type Enricher interface {
	Enrich(ctx context.Context, req models.EnrichRequest) (*models.EnrichResult, error)
}

// BatchFailure is one request that did not complete
type BatchFailure struct {
	Request models.EnrichRequest
	Err     error
}

// BatchResult summarizes a batch run
type BatchResult struct {
	Updated   int
	Unchanged int
	Failed    []BatchFailure
	Duration  time.Duration
}

// FailedRequests returns the requests to retry. Enrichment is idempotent,
// so retrying only this subset completes the batch.
func (r *BatchResult) FailedRequests() []models.EnrichRequest {
	reqs := make([]models.EnrichRequest, 0, len(r.Failed))
	for _, f := range r.Failed {
		reqs = append(reqs, f.Request)
	}
	return reqs
}

// BatchEnricher enriches many participants with bounded concurrency.
// One failing participant never stops the others.
type BatchEnricher struct {
	logger      ectologger.Logger
	enricher    Enricher
	concurrency int
}

// NewBatchEnricher creates a new batch enricher
func NewBatchEnricher(logger ectologger.Logger, enricher Enricher, concurrency int) *BatchEnricher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchEnricher{
		logger:      logger,
		enricher:    enricher,
		concurrency: concurrency,
	}
}

// Run enriches every request. Requests not started before ctx ends are
// reported as failed with the context error.
func (b *BatchEnricher) Run(ctx context.Context, reqs []models.EnrichRequest) *BatchResult {
	ctx, span := tracing.StartSpan(ctx, "jobs.BatchEnricher.Run")
	defer span.End()

	start := time.Now()
	outcomes := make([]error, len(reqs))
	updated := make([]bool, len(reqs))

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)

	for i := range reqs {
		if err := ctx.Err(); err != nil {
			outcomes[i] = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = err
				return nil
			}
			result, err := b.enricher.Enrich(ctx, reqs[i])
			if err != nil {
				outcomes[i] = err
				return nil
			}
			updated[i] = len(result.UpdatedFields) > 0
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{Duration: time.Since(start)}
	for i, err := range outcomes {
		switch {
		case err != nil:
			result.Failed = append(result.Failed, BatchFailure{Request: reqs[i], Err: err})
			metrics.BatchEnrichmentsTotal.WithLabelValues("failed").Inc()
		case updated[i]:
			result.Updated++
			metrics.BatchEnrichmentsTotal.WithLabelValues("updated").Inc()
		default:
			result.Unchanged++
			metrics.BatchEnrichmentsTotal.WithLabelValues("unchanged").Inc()
		}
	}

	log := b.logger.WithContext(ctx).WithFields(map[string]any{
		"total":       len(reqs),
		"updated":     result.Updated,
		"unchanged":   result.Unchanged,
		"failed":      len(result.Failed),
		"duration_ms": result.Duration.Milliseconds(),
	})
	if len(result.Failed) > 0 {
		log.Warn("Batch enrichment finished with failures")
	} else {
		log.Info("Batch enrichment finished")
	}

	return result
}
