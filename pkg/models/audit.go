package models

import (
	"time"
)

// ActorType identifies who triggered a mutation
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
	ActorTypeAI     ActorType = "ai"
)

// AuditSource identifies the entry point a mutation came through
type AuditSource string

const (
	AuditSourceManual  AuditSource = "manual"
	AuditSourceWebhook AuditSource = "webhook"
	AuditSourceCron    AuditSource = "cron"
	AuditSourceAI      AuditSource = "ai"
)

// AuditAction is the kind of mutation recorded
type AuditAction string

const (
	AuditActionEnrich AuditAction = "enrich"
	AuditActionMerge  AuditAction = "merge"
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
)

// Valid reports whether the actor type is known
func (t ActorType) Valid() bool {
	switch t {
	case ActorTypeUser, ActorTypeSystem, ActorTypeAI:
		return true
	}
	return false
}

// Valid reports whether the audit source is known
func (s AuditSource) Valid() bool {
	switch s {
	case AuditSourceManual, AuditSourceWebhook, AuditSourceCron, AuditSourceAI:
		return true
	}
	return false
}

// Valid reports whether the audit action is known
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionEnrich, AuditActionMerge, AuditActionCreate, AuditActionUpdate:
		return true
	}
	return false
}

// Actor describes who performed a mutation and through which channel
type Actor struct {
	ID     string      `json:"actor_id,omitempty"`
	Type   ActorType   `json:"actor_type" validate:"required,oneof=user system ai"`
	Source AuditSource `json:"source" validate:"required,oneof=manual webhook cron ai"`
}

// SystemActor is used for mutations triggered by background jobs
func SystemActor(source AuditSource) Actor {
	return Actor{Type: ActorTypeSystem, Source: source}
}

// AuditEntry is one immutable record of a field-level change
type AuditEntry struct {
	ID            string       `json:"id" db:"id"`
	OrgID         string       `json:"org_id" db:"org_id"`
	ParticipantID string       `json:"participant_id" db:"participant_id"`
	ActorID       string       `json:"actor_id,omitempty" db:"actor_id"`
	ActorType     ActorType    `json:"actor_type" db:"actor_type"`
	Source        AuditSource  `json:"source" db:"source"`
	Action        AuditAction  `json:"action" db:"action"`
	FieldChanges  FieldChanges `json:"field_changes" db:"field_changes"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}
