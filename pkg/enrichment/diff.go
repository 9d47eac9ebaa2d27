package enrichment

import (
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// notesSeparator starts a new paragraph when notes are appended
const notesSeparator = "\n\n"

// NormalizeFields puts incoming values into their stored form. A source
// outside the known channels is dropped.
func NormalizeFields(f models.ParticipantFields) models.ParticipantFields {
	source := normalizers.Field(models.FieldSource, f.Source)
	if !models.ParticipantSource(source).IsValid() {
		source = ""
	}
	return models.ParticipantFields{
		FullName:  normalizers.Field(models.FieldFullName, f.FullName),
		FirstName: normalizers.Field(models.FieldFirstName, f.FirstName),
		LastName:  normalizers.Field(models.FieldLastName, f.LastName),
		Email:     normalizers.Field(models.FieldEmail, f.Email),
		Phone:     normalizers.Field(models.FieldPhone, f.Phone),
		Username:  normalizers.Field(models.FieldUsername, f.Username),
		TgUserID:  f.TgUserID,
		Source:    source,
		Status:    normalizers.Field(models.FieldStatus, f.Status),
		Notes:     normalizers.Field(models.FieldNotes, f.Notes),
	}
}

// ComputeDiff returns the changes that fill gaps in current from incoming.
// A present value is never replaced, with two exceptions: a full_name that
// only repeats the username is a placeholder and may be filled, and notes
// gain the incoming text as a new paragraph unless they already contain it.
// An empty result means current already carries everything incoming has.
func ComputeDiff(current *models.Participant, incoming models.ParticipantFields) models.FieldChanges {
	in := NormalizeFields(incoming)
	changes := models.FieldChanges{}

	fill := func(field, have, want string) {
		if have == "" && want != "" {
			changes[field] = want
		}
	}

	fill(models.FieldEmail, current.Email, in.Email)
	fill(models.FieldPhone, current.Phone, in.Phone)
	fill(models.FieldUsername, current.Username, in.Username)
	fill(models.FieldFirstName, current.FirstName, in.FirstName)
	fill(models.FieldLastName, current.LastName, in.LastName)
	fill(models.FieldStatus, current.Status, in.Status)

	if current.TgUserID == 0 && in.TgUserID != 0 {
		changes[models.FieldTgUserID] = in.TgUserID
	}

	if in.FullName != "" && in.FullName != current.FullName &&
		(current.FullName == "" || current.FullName == current.Username) {
		changes[models.FieldFullName] = in.FullName
	}

	if in.Source != "" && in.Source != current.Source &&
		(current.Source == "" || current.Source == string(models.ParticipantSourceUnknown)) {
		changes[models.FieldSource] = in.Source
	}

	if in.Notes != "" {
		switch {
		case current.Notes == "":
			changes[models.FieldNotes] = in.Notes
		case !strings.Contains(current.Notes, in.Notes):
			changes[models.FieldNotes] = current.Notes + notesSeparator + in.Notes
		}
	}

	return changes
}

// Conflicts lists the fields where both records hold different values that
// changes does not resolve. The first record's value wins.
func Conflicts(kept *models.Participant, other models.ParticipantFields, changes models.FieldChanges) []models.FieldConflict {
	in := NormalizeFields(other)
	pairs := []struct {
		field      string
		have, want any
		present    bool
	}{
		{models.FieldFullName, kept.FullName, in.FullName, kept.FullName != "" && in.FullName != ""},
		{models.FieldFirstName, kept.FirstName, in.FirstName, kept.FirstName != "" && in.FirstName != ""},
		{models.FieldLastName, kept.LastName, in.LastName, kept.LastName != "" && in.LastName != ""},
		{models.FieldEmail, kept.Email, in.Email, kept.Email != "" && in.Email != ""},
		{models.FieldPhone, kept.Phone, in.Phone, kept.Phone != "" && in.Phone != ""},
		{models.FieldUsername, kept.Username, in.Username, kept.Username != "" && in.Username != ""},
		{models.FieldTgUserID, kept.TgUserID, in.TgUserID, kept.TgUserID != 0 && in.TgUserID != 0},
		{models.FieldSource, kept.Source, in.Source, kept.Source != "" && in.Source != ""},
		{models.FieldStatus, kept.Status, in.Status, kept.Status != "" && in.Status != ""},
	}

	conflicts := make([]models.FieldConflict, 0)
	for _, p := range pairs {
		if !p.present || p.have == p.want {
			continue
		}
		if _, resolved := changes[p.field]; resolved {
			continue
		}
		conflicts = append(conflicts, models.FieldConflict{
			Field:          p.field,
			CanonicalValue: p.have,
			AbsorbedValue:  p.want,
		})
	}
	return conflicts
}
