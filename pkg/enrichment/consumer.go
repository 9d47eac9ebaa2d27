package enrichment

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
)

// HandleMessage processes one enrichment request from Kafka. Requests that
// can never succeed are logged and acknowledged; retryable failures are
// returned so the message stays uncommitted.
func (e *Enricher) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":  msg.Topic,
		"offset": msg.Offset,
	})

	var req events.EnrichmentRequest
	if err := msg.Decode(&req); err != nil {
		log.WithError(err).Error("Dropping malformed enrichment request")
		return nil
	}
	if req.OrgID == "" {
		req.OrgID = msg.TenantID()
	}
	if err := validate.Struct(req); err != nil {
		log.WithError(err).Error("Dropping invalid enrichment request")
		return nil
	}

	result, err := e.Enrich(ctx, req.ToEnrichRequest())
	if err != nil {
		if models.IsRetryable(err) {
			return fmt.Errorf("enrich %s: %w", req.ParticipantID, err)
		}
		log.WithError(err).WithField("participant_id", req.ParticipantID).Warn("Enrichment request rejected")
		return nil
	}

	log.WithFields(map[string]any{
		"participant_id": result.ParticipantID,
		"updated_fields": result.UpdatedFields,
	}).Debug("Processed enrichment request")
	return nil
}
