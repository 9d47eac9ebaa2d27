package models

// MergeRequest asks to absorb one participant into another
type MergeRequest struct {
	OrgID       string `json:"org_id" validate:"required"`
	CanonicalID string `json:"canonical_id" validate:"required"`
	AbsorbedID  string `json:"absorbed_id" validate:"required"`
	Actor       Actor  `json:"actor"`
}

// FieldConflict is a field where both records had different values.
// The canonical value is kept.
type FieldConflict struct {
	Field          string `json:"field"`
	CanonicalValue any    `json:"canonical_value"`
	AbsorbedValue  any    `json:"absorbed_value"`
}

// MergeResult describes a committed merge
type MergeResult struct {
	CanonicalID  string          `json:"canonical_id"`
	AbsorbedID   string          `json:"absorbed_id"`
	MergedFields []string        `json:"merged_fields"`
	Conflicts    []FieldConflict `json:"conflicts"`
	Redirected   int64           `json:"redirected"`
	AuditWarning string          `json:"audit_warning,omitempty"`
}

// EnrichRequest carries a new signal about a known participant
type EnrichRequest struct {
	OrgID         string            `json:"org_id" validate:"required"`
	ParticipantID string            `json:"participant_id" validate:"required"`
	Fields        ParticipantFields `json:"fields"`
	Actor         Actor             `json:"actor"`
}

// EnrichResult describes the outcome of an enrichment call.
// UpdatedFields is empty when nothing changed.
type EnrichResult struct {
	ParticipantID string   `json:"participant_id"`
	UpdatedFields []string `json:"updated_fields"`
	AuditEntryID  string   `json:"audit_entry_id,omitempty"`
	AuditWarning  string   `json:"audit_warning,omitempty"`
}
