package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestComputeDiff(t *testing.T) {
	tests := []struct {
		name     string
		current  models.Participant
		incoming models.ParticipantFields
		want     models.FieldChanges
	}{
		{
			name:     "fills empty email normalized",
			current:  models.Participant{Phone: "+79991234567"},
			incoming: models.ParticipantFields{Email: " Ivan@Example.com "},
			want:     models.FieldChanges{"email": "ivan@example.com"},
		},
		{
			name:     "never overwrites present values",
			current:  models.Participant{Email: "old@example.com", Phone: "+79990000000", Username: "old", TgUserID: 1},
			incoming: models.ParticipantFields{Email: "new@example.com", Phone: "89991234567", Username: "new", TgUserID: 2},
			want:     models.FieldChanges{},
		},
		{
			name:     "fills phone and username in stored form",
			current:  models.Participant{},
			incoming: models.ParticipantFields{Phone: "8 (999) 123-45-67", Username: "@ivan", TgUserID: 42},
			want:     models.FieldChanges{"phone": "+79991234567", "username": "ivan", "tg_user_id": int64(42)},
		},
		{
			name:     "replaces placeholder full name equal to username",
			current:  models.Participant{Username: "ivan", FullName: "ivan"},
			incoming: models.ParticipantFields{FullName: "Иван Петров"},
			want:     models.FieldChanges{"full_name": "Иван Петров"},
		},
		{
			name:     "keeps real full name",
			current:  models.Participant{Username: "ivan", FullName: "Иван"},
			incoming: models.ParticipantFields{FullName: "Иван Петров"},
			want:     models.FieldChanges{},
		},
		{
			name:     "sets empty notes",
			current:  models.Participant{},
			incoming: models.ParticipantFields{Notes: " met at conference "},
			want:     models.FieldChanges{"notes": "met at conference"},
		},
		{
			name:     "appends notes as new paragraph",
			current:  models.Participant{Notes: "first"},
			incoming: models.ParticipantFields{Notes: "second"},
			want:     models.FieldChanges{"notes": "first\n\nsecond"},
		},
		{
			name:     "skips notes already contained",
			current:  models.Participant{Notes: "first\n\nsecond"},
			incoming: models.ParticipantFields{Notes: "second"},
			want:     models.FieldChanges{},
		},
		{
			name:     "fills unknown source and empty status",
			current:  models.Participant{Source: "unknown"},
			incoming: models.ParticipantFields{Source: "telegram", Status: "participant"},
			want:     models.FieldChanges{"source": "telegram", "status": "participant"},
		},
		{
			name:     "keeps known source",
			current:  models.Participant{Source: "whatsapp", Status: "lead"},
			incoming: models.ParticipantFields{Source: "telegram", Status: "participant"},
			want:     models.FieldChanges{},
		},
		{
			name:     "lower-cases the source channel",
			current:  models.Participant{},
			incoming: models.ParticipantFields{Source: " Telegram "},
			want:     models.FieldChanges{"source": "telegram"},
		},
		{
			name:     "drops sources outside the known channels",
			current:  models.Participant{Source: "unknown"},
			incoming: models.ParticipantFields{Source: "carrier-pigeon"},
			want:     models.FieldChanges{},
		},
		{
			name:     "ignores phones written in non-ASCII digits",
			current:  models.Participant{},
			incoming: models.ParticipantFields{Phone: "８９９９１２３４５６７"},
			want:     models.FieldChanges{},
		},
		{
			name:     "ignores blank incoming values",
			current:  models.Participant{},
			incoming: models.ParticipantFields{Email: "  ", Phone: "no digits", FullName: " "},
			want:     models.FieldChanges{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDiff(&tt.current, tt.incoming)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeDiff_Idempotent(t *testing.T) {
	p := &models.Participant{FullName: "ivan", Username: "ivan", Notes: "a"}
	incoming := models.ParticipantFields{
		FullName: "Ivan Petrov",
		Email:    "ivan@example.com",
		Notes:    "b",
		Source:   "form",
	}

	first := ComputeDiff(p, incoming)
	assert.NotEmpty(t, first)

	p.Apply(first)
	assert.Empty(t, ComputeDiff(p, incoming))
}

func TestConflicts(t *testing.T) {
	canonical := &models.Participant{Email: "a@example.com", Phone: "+79991234567", FullName: "ivan", Username: "ivan"}
	absorbed := models.ParticipantFields{Email: "b@example.com", Phone: "89991234567", FullName: "Ivan Petrov", TgUserID: 7}

	changes := ComputeDiff(canonical, absorbed)
	conflicts := Conflicts(canonical, absorbed, changes)

	assert.Equal(t, []models.FieldConflict{
		{Field: "email", CanonicalValue: "a@example.com", AbsorbedValue: "b@example.com"},
	}, conflicts)
	assert.Equal(t, models.FieldChanges{"full_name": "Ivan Petrov", "tg_user_id": int64(7)}, changes)
}
