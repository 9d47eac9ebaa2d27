package memory

import (
	"context"
	"sync"

	"github.com/Ramsey-B/clover/pkg/models"
)

// ReferenceStore holds rows of other tables that point at participants,
// keyed by row id.
type ReferenceStore struct {
	mu   sync.Mutex
	refs map[string]reference
}

type reference struct {
	orgID         string
	participantID string
}

var _ models.ReferenceRewriter = (*ReferenceStore)(nil)

func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{refs: make(map[string]reference)}
}

// Add records that row rowID of org references participantID
func (s *ReferenceStore) Add(orgID, rowID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[rowID] = reference{orgID: orgID, participantID: participantID}
}

// Target returns the participant a row currently references
func (s *ReferenceStore) Target(rowID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[rowID].participantID
}

func (s *ReferenceStore) RewriteReferences(_ context.Context, orgID, from, to string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, ref := range s.refs {
		if ref.orgID == orgID && ref.participantID == from {
			s.refs[id] = reference{orgID: orgID, participantID: to}
			count++
		}
	}
	return count, nil
}
