package events

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// EventType defines the type of event
type EventType string

const (
	EventTypeParticipantEnriched EventType = "participant.enriched"
	EventTypeParticipantMerged   EventType = "participant.merged"
	EventTypeAuditRecorded       EventType = "audit.recorded"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType EventType `json:"event_type"`
	OrgID     string    `json:"org_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantEnrichedEvent is emitted after an enrichment changed a participant
type ParticipantEnrichedEvent struct {
	BaseEvent
	ParticipantID string              `json:"participant_id"`
	UpdatedFields []string            `json:"updated_fields"`
	FieldChanges  models.FieldChanges `json:"field_changes"`
	Version       int                 `json:"version"`
	Actor         models.Actor        `json:"actor"`
}

// ParticipantMergedEvent is emitted after a merge committed
type ParticipantMergedEvent struct {
	BaseEvent
	CanonicalID  string                 `json:"canonical_id"`
	AbsorbedID   string                 `json:"absorbed_id"`
	MergedFields []string               `json:"merged_fields"`
	Conflicts    []models.FieldConflict `json:"conflicts,omitempty"`
	Redirected   int64                  `json:"redirected"`
	Actor        models.Actor           `json:"actor"`
}

// AuditRecordedEvent mirrors an appended audit entry
type AuditRecordedEvent struct {
	BaseEvent
	Entry models.AuditEntry `json:"entry"`
}

// EnrichmentRequest is consumed from the enrichment topic. Webhook and cron
// producers use it to ask for an enrichment without calling the API.
type EnrichmentRequest struct {
	OrgID         string                   `json:"org_id" validate:"required"`
	ParticipantID string                   `json:"participant_id" validate:"required"`
	Fields        models.ParticipantFields `json:"fields"`
	ActorID       string                   `json:"actor_id,omitempty"`
	Source        models.AuditSource       `json:"source" validate:"omitempty,oneof=manual webhook cron ai"`
}

// ToEnrichRequest builds the domain request, attributing it to the system actor
func (r EnrichmentRequest) ToEnrichRequest() models.EnrichRequest {
	source := r.Source
	if source == "" {
		source = models.AuditSourceWebhook
	}
	actor := models.SystemActor(source)
	actor.ID = r.ActorID

	return models.EnrichRequest{
		OrgID:         r.OrgID,
		ParticipantID: r.ParticipantID,
		Fields:        r.Fields,
		Actor:         actor,
	}
}
