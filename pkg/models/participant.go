package models

import (
	"sort"
	"time"
)

// ParticipantSource is the channel a participant was first observed on
type ParticipantSource string

const (
	ParticipantSourceTelegram ParticipantSource = "telegram"
	ParticipantSourceWhatsApp ParticipantSource = "whatsapp"
	ParticipantSourceManual   ParticipantSource = "manual"
	ParticipantSourceForm     ParticipantSource = "form"
	ParticipantSourceUnknown  ParticipantSource = "unknown"
)

// IsValid reports whether s is one of the known channels
func (s ParticipantSource) IsValid() bool {
	switch s {
	case ParticipantSourceTelegram, ParticipantSourceWhatsApp, ParticipantSourceManual,
		ParticipantSourceForm, ParticipantSourceUnknown:
		return true
	}
	return false
}

// Participant field names. These are the keys used in field-change maps.
const (
	FieldFullName   = "full_name"
	FieldFirstName  = "first_name"
	FieldLastName   = "last_name"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldUsername   = "username"
	FieldTgUserID   = "tg_user_id"
	FieldSource     = "source"
	FieldStatus     = "status"
	FieldNotes      = "notes"
	FieldMergedInto = "merged_into"
)

// Participant is one person record within an organization.
// Empty strings (and a zero TgUserID) mean the value is absent.
type Participant struct {
	ID         string    `json:"id" db:"id"`
	OrgID      string    `json:"org_id" db:"org_id"`
	FullName   string    `json:"full_name,omitempty" db:"full_name"`
	FirstName  string    `json:"first_name,omitempty" db:"first_name"`
	LastName   string    `json:"last_name,omitempty" db:"last_name"`
	Email      string    `json:"email,omitempty" db:"email"`
	Phone      string    `json:"phone,omitempty" db:"phone"`
	Username   string    `json:"username,omitempty" db:"username"`
	TgUserID   int64     `json:"tg_user_id,omitempty" db:"tg_user_id"`
	Source     string    `json:"source,omitempty" db:"source"`
	Status     string    `json:"status,omitempty" db:"status"`
	Notes      string    `json:"notes,omitempty" db:"notes"`
	MergedInto string    `json:"merged_into,omitempty" db:"merged_into"`
	Version    int       `json:"version" db:"version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// IsMerged reports whether the participant has been absorbed into another record
func (p *Participant) IsMerged() bool {
	return p.MergedInto != ""
}

// CanonicalID returns the id this record resolves to one hop up
func (p *Participant) CanonicalID() string {
	if p.MergedInto != "" {
		return p.MergedInto
	}
	return p.ID
}

// Fields returns the mutable contact fields of the participant
func (p *Participant) Fields() ParticipantFields {
	return ParticipantFields{
		FullName:  p.FullName,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
		Username:  p.Username,
		TgUserID:  p.TgUserID,
		Source:    p.Source,
		Status:    p.Status,
		Notes:     p.Notes,
	}
}

// Apply writes a field-change map onto the participant.
// Unknown keys are ignored.
func (p *Participant) Apply(changes FieldChanges) {
	for field, value := range changes {
		switch field {
		case FieldFullName:
			p.FullName, _ = value.(string)
		case FieldFirstName:
			p.FirstName, _ = value.(string)
		case FieldLastName:
			p.LastName, _ = value.(string)
		case FieldEmail:
			p.Email, _ = value.(string)
		case FieldPhone:
			p.Phone, _ = value.(string)
		case FieldUsername:
			p.Username, _ = value.(string)
		case FieldTgUserID:
			p.TgUserID = toInt64(value)
		case FieldSource:
			p.Source, _ = value.(string)
		case FieldStatus:
			p.Status, _ = value.(string)
		case FieldNotes:
			p.Notes, _ = value.(string)
		case FieldMergedInto:
			p.MergedInto, _ = value.(string)
		}
	}
}

// Clone returns a copy of the participant
func (p *Participant) Clone() *Participant {
	c := *p
	return &c
}

// ParticipantFields is the set of contact fields carried by a signal or a record
type ParticipantFields struct {
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Username  string `json:"username,omitempty"`
	TgUserID  int64  `json:"tg_user_id,omitempty"`
	Source    string `json:"source,omitempty" validate:"omitempty,oneof=telegram whatsapp manual form unknown"`
	Status    string `json:"status,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// FieldChanges maps a participant field name to its new value
type FieldChanges map[string]any

// Keys returns the changed field names in lexical order
func (c FieldChanges) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
