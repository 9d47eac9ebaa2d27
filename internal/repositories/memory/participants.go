// Package memory provides in-process implementations of the participant store
// and audit sink. They back the "memory" store driver and the package tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
)

type txKey struct{}

// tx records the original state of every row written inside WithinTx so a
// failed transaction can be undone.
type tx struct {
	undo map[string]*models.Participant
}

// ParticipantStore is a goroutine-safe in-memory ParticipantRepository.
type ParticipantStore struct {
	mu   sync.RWMutex
	rows map[string]*models.Participant

	// txMu serializes transactions, which stands in for row locks
	txMu sync.Mutex

	failMu   sync.RWMutex
	failures map[string]error

	now func() time.Time
}

var _ models.ParticipantRepository = (*ParticipantStore)(nil)

// NewParticipantStore creates an empty store
func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{
		rows:     make(map[string]*models.Participant),
		failures: make(map[string]error),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailOn makes every subsequent call of the named method return err.
// Passing a nil error clears the failure.
func (s *ParticipantStore) FailOn(method string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *ParticipantStore) failure(method string) error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.failures[method]
}

// Create inserts a participant, assigning an id, version and timestamps when missing
func (s *ParticipantStore) Create(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	if err := s.failure("Create"); err != nil {
		return nil, err
	}
	if p.OrgID == "" {
		return nil, fmt.Errorf("%w: org_id is required", models.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := p.Clone()
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if _, exists := s.rows[row.ID]; exists {
		return nil, fmt.Errorf("%w: participant %s already exists", models.ErrValidation, row.ID)
	}
	now := s.now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	row.Version = 1
	s.remember(ctx, row.ID)
	s.rows[row.ID] = row
	return row.Clone(), nil
}

func (s *ParticipantStore) FindByOrgAndSignals(_ context.Context, orgID string, query models.SignalQuery) ([]models.Participant, error) {
	if err := s.failure("FindByOrgAndSignals"); err != nil {
		return nil, err
	}
	if query.IsEmpty() {
		return []models.Participant{}, nil
	}

	return s.selectActive(orgID, func(p *models.Participant) bool {
		return (query.Email != "" && p.Email == query.Email) ||
			(query.Phone != "" && p.Phone == query.Phone) ||
			(query.Username != "" && p.Username == query.Username) ||
			(query.TgUserID != 0 && p.TgUserID == query.TgUserID)
	}), nil
}

func (s *ParticipantStore) FindByOrgAndNameSubstring(_ context.Context, orgID string, terms []string) ([]models.Participant, error) {
	if err := s.failure("FindByOrgAndNameSubstring"); err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return []models.Participant{}, nil
	}

	return s.selectActive(orgID, func(p *models.Participant) bool {
		name := strings.ToLower(p.FullName)
		if name == "" {
			return false
		}
		for _, term := range terms {
			if strings.Contains(name, strings.ToLower(term)) {
				return true
			}
		}
		return false
	}), nil
}

func (s *ParticipantStore) selectActive(orgID string, match func(p *models.Participant) bool) []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Participant, 0)
	for _, p := range s.rows {
		if p.OrgID != orgID || p.IsMerged() {
			continue
		}
		if match(p) {
			result = append(result, *p)
		}
	}
	sortByID(result)
	return result
}

func (s *ParticipantStore) GetByID(_ context.Context, orgID, id string) (*models.Participant, error) {
	if err := s.failure("GetByID"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.rows[id]
	if !ok || p.OrgID != orgID {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (s *ParticipantStore) Update(ctx context.Context, p *models.Participant) error {
	if err := s.failure("Update"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rows[p.ID]
	if !ok || stored.OrgID != p.OrgID {
		return fmt.Errorf("%w: %s", models.ErrNotFound, p.ID)
	}
	if stored.Version != p.Version {
		return fmt.Errorf("%w: %s has version %d, expected %d", models.ErrConcurrentModification, p.ID, stored.Version, p.Version)
	}

	s.remember(ctx, p.ID)
	row := p.Clone()
	row.CreatedAt = stored.CreatedAt
	row.Version = stored.Version + 1
	row.UpdatedAt = s.now()
	s.rows[p.ID] = row

	p.Version = row.Version
	p.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *ParticipantStore) ListMergeChainFrom(_ context.Context, orgID, id string) ([]models.Participant, error) {
	if err := s.failure("ListMergeChainFrom"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := make([]models.Participant, 0, 2)
	seen := make(map[string]bool)
	current := id
	for {
		p, ok := s.rows[current]
		if !ok || p.OrgID != orgID {
			if len(chain) == 0 {
				return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
			}
			return chain, nil
		}
		if seen[current] || len(chain) >= models.MaxMergeChainDepth {
			return chain, fmt.Errorf("%w: merge chain from %s revisits %s", models.ErrCycleDetected, id, current)
		}
		seen[current] = true
		chain = append(chain, *p)
		if !p.IsMerged() {
			return chain, nil
		}
		current = p.MergedInto
	}
}

// WithinTx runs fn while holding the store's transaction lock. Writes made
// through the returned context are undone when fn fails.
func (s *ParticipantStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}
	if err := s.failure("WithinTx"); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{undo: make(map[string]*models.Participant)}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		s.rollback(t)
		return err
	}
	return nil
}

func (s *ParticipantStore) rollback(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, original := range t.undo {
		if original == nil {
			delete(s.rows, id)
			continue
		}
		s.rows[id] = original
	}
}

// remember stores the pre-write state of id on the transaction in ctx. Callers hold s.mu.
func (s *ParticipantStore) remember(ctx context.Context, id string) {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok {
		return
	}
	if _, done := t.undo[id]; done {
		return
	}
	if p, exists := s.rows[id]; exists {
		t.undo[id] = p.Clone()
	} else {
		t.undo[id] = nil
	}
}

func (s *ParticipantStore) LockForMerge(_ context.Context, ids ...string) ([]models.Participant, error) {
	if err := s.failure("LockForMerge"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.rows[id]; ok {
			result = append(result, *p)
		}
	}
	sortByID(result)
	return result, nil
}

func (s *ParticipantStore) SetMergedInto(ctx context.Context, orgID, id, target string) error {
	if err := s.failure("SetMergedInto"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.rows[id]
	if !ok || p.OrgID != orgID {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	s.remember(ctx, id)
	row := p.Clone()
	row.MergedInto = target
	row.Version++
	row.UpdatedAt = s.now()
	s.rows[id] = row
	return nil
}

func (s *ParticipantStore) RedirectMergedInto(ctx context.Context, orgID, from, to string) (int64, error) {
	if err := s.failure("RedirectMergedInto"); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, p := range s.rows {
		if p.OrgID != orgID || p.MergedInto != from {
			continue
		}
		s.remember(ctx, id)
		row := p.Clone()
		row.MergedInto = to
		row.Version++
		row.UpdatedAt = s.now()
		s.rows[id] = row
		count++
	}
	return count, nil
}

func (s *ParticipantStore) ListAbsorbed(_ context.Context, orgID string) ([]models.Participant, error) {
	if err := s.failure("ListAbsorbed"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Participant, 0)
	for _, p := range s.rows {
		if p.OrgID == orgID && p.IsMerged() {
			result = append(result, *p)
		}
	}
	sortByID(result)
	return result, nil
}

func (s *ParticipantStore) ListOrgsWithAbsorbed(_ context.Context) ([]string, error) {
	if err := s.failure("ListOrgsWithAbsorbed"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orgs := make(map[string]struct{})
	for _, p := range s.rows {
		if p.IsMerged() {
			orgs[p.OrgID] = struct{}{}
		}
	}
	result := make([]string, 0, len(orgs))
	for org := range orgs {
		result = append(result, org)
	}
	sort.Strings(result)
	return result, nil
}

// Ping reports the store as healthy unless a failure was injected for it
func (s *ParticipantStore) Ping(_ context.Context) error {
	return s.failure("Ping")
}

func sortByID(rows []models.Participant) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
}
