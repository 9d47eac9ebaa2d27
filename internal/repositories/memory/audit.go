package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ramsey-B/clover/pkg/models"
)

// AuditStore is an append-only in-memory AuditSink
type AuditStore struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	failErr error
}

var _ models.AuditSink = (*AuditStore)(nil)

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Fail makes every subsequent Append return err. A nil error clears it.
func (s *AuditStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *AuditStore) Append(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return s.failErr
	}
	if entry.ID == "" {
		return fmt.Errorf("%w: audit entry id is required", models.ErrValidation)
	}

	stored := *entry
	stored.FieldChanges = make(models.FieldChanges, len(entry.FieldChanges))
	for k, v := range entry.FieldChanges {
		stored.FieldChanges[k] = v
	}
	s.entries = append(s.entries, stored)
	return nil
}

func (s *AuditStore) ListByParticipant(_ context.Context, orgID, participantID string) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.AuditEntry, 0)
	for _, e := range s.entries {
		if e.OrgID == orgID && e.ParticipantID == participantID {
			result = append(result, e)
		}
	}
	return result, nil
}

// All returns every entry in append order
func (s *AuditStore) All() []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.AuditEntry, len(s.entries))
	copy(result, s.entries)
	return result
}
