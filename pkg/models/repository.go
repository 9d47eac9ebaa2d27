package models

import (
	"context"
)

// MaxMergeChainDepth bounds every walk along merged_into pointers
const MaxMergeChainDepth = 64

// ParticipantRepository is the participant store the resolution engine depends on.
// Calls made with a context returned inside WithinTx join that transaction.
type ParticipantRepository interface {
	// FindByOrgAndSignals returns active participants matching any of the set signals
	FindByOrgAndSignals(ctx context.Context, orgID string, query SignalQuery) ([]Participant, error)
	// FindByOrgAndNameSubstring returns active participants whose full_name contains any term, case-insensitively
	FindByOrgAndNameSubstring(ctx context.Context, orgID string, terms []string) ([]Participant, error)
	// GetByID returns the participant or ErrNotFound when it is missing from the org
	GetByID(ctx context.Context, orgID, id string) (*Participant, error)
	// Update writes the participant if its stored version equals p.Version.
	// On success p.Version is incremented; a stale version yields ErrConcurrentModification.
	Update(ctx context.Context, p *Participant) error
	// ListMergeChainFrom follows merged_into from id and returns the visited records, root last
	ListMergeChainFrom(ctx context.Context, orgID, id string) ([]Participant, error)

	// WithinTx runs fn in one transaction, committing when fn returns nil
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockForMerge locks the given rows for update in id order regardless of org
	LockForMerge(ctx context.Context, ids ...string) ([]Participant, error)
	// SetMergedInto points id at target and bumps its version
	SetMergedInto(ctx context.Context, orgID, id, target string) error
	// RedirectMergedInto re-points every record absorbed into from at to
	RedirectMergedInto(ctx context.Context, orgID, from, to string) (int64, error)
	// ListAbsorbed returns every merged record of the org
	ListAbsorbed(ctx context.Context, orgID string) ([]Participant, error)
	// ListOrgsWithAbsorbed returns the orgs that have at least one merged record
	ListOrgsWithAbsorbed(ctx context.Context) ([]string, error)
}

// ReferenceRewriter re-points foreign references from an absorbed participant to its canonical record.
// It runs inside the merge transaction.
type ReferenceRewriter interface {
	RewriteReferences(ctx context.Context, orgID, from, to string) (int64, error)
}

// AuditSink is the append-only store behind the audit trail
type AuditSink interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByParticipant(ctx context.Context, orgID, participantID string) ([]AuditEntry, error)
}
