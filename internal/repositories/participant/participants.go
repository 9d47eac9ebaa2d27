// Package participant is the PostgreSQL participant store
package participant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const participantsTable = "participants"

var participantColumns = []string{
	"id", "org_id", "full_name", "first_name", "last_name", "email", "phone", "username",
	"tg_user_id", "source", "status", "notes", "merged_into", "version", "created_at", "updated_at",
}

// participantRow mirrors the participants table. Optional columns are nullable.
type participantRow struct {
	ID         string         `db:"id"`
	OrgID      string         `db:"org_id"`
	FullName   sql.NullString `db:"full_name"`
	FirstName  sql.NullString `db:"first_name"`
	LastName   sql.NullString `db:"last_name"`
	Email      sql.NullString `db:"email"`
	Phone      sql.NullString `db:"phone"`
	Username   sql.NullString `db:"username"`
	TgUserID   sql.NullInt64  `db:"tg_user_id"`
	Source     sql.NullString `db:"source"`
	Status     sql.NullString `db:"status"`
	Notes      sql.NullString `db:"notes"`
	MergedInto sql.NullString `db:"merged_into"`
	Version    int            `db:"version"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r participantRow) toModel() models.Participant {
	return models.Participant{
		ID:         r.ID,
		OrgID:      r.OrgID,
		FullName:   r.FullName.String,
		FirstName:  r.FirstName.String,
		LastName:   r.LastName.String,
		Email:      r.Email.String,
		Phone:      r.Phone.String,
		Username:   r.Username.String,
		TgUserID:   r.TgUserID.Int64,
		Source:     r.Source.String,
		Status:     r.Status.String,
		Notes:      r.Notes.String,
		MergedInto: r.MergedInto.String,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// ParticipantRepository implements models.ParticipantRepository on PostgreSQL
type ParticipantRepository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

var _ models.ParticipantRepository = (*ParticipantRepository)(nil)

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(db database.DB, logger ectologger.Logger) *ParticipantRepository {
	return &ParticipantRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// classify maps a driver error onto the store's sentinel errors
func classify(err error) error {
	if database.IsConnectionError(err) {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %w", models.ErrQueryFailed, err)
}

func (r *ParticipantRepository) fail(ctx context.Context, span trace.Span, op string, err error) error {
	err = classify(err)
	tracing.RecordError(span, err)
	r.logger.WithContext(ctx).WithError(err).Errorf("Failed to %s", op)
	return err
}

// validIDs drops ids that are not UUIDs. No such row can exist.
func validIDs(ids ...string) []any {
	result := make([]any, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			result = append(result, id)
		}
	}
	return result
}

func (r *ParticipantRepository) selectParticipants(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Participant, error) {
	query, args := sb.Build()
	var rows []participantRow
	if err := database.QuerierFromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]models.Participant, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toModel())
	}
	return result, nil
}

// Create inserts a participant with version 1, assigning an id when missing
func (r *ParticipantRepository) Create(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.Create")
	defer span.End()

	if p.OrgID == "" {
		return nil, fmt.Errorf("%w: org_id is required", models.ErrValidation)
	}

	row := p.Clone()
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	now := r.now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	row.Version = 1

	ib := database.NewInsertBuilder()
	ib.InsertInto(participantsTable)
	ib.Cols(participantColumns...)
	ib.Values(row.ID, row.OrgID, nullString(row.FullName), nullString(row.FirstName), nullString(row.LastName),
		nullString(row.Email), nullString(row.Phone), nullString(row.Username), nullInt64(row.TgUserID),
		nullString(row.Source), nullString(row.Status), nullString(row.Notes), nullString(row.MergedInto),
		row.Version, row.CreatedAt, row.UpdatedAt)

	query, args := ib.Build()
	if _, err := database.QuerierFromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		return nil, r.fail(ctx, span, "create participant", err)
	}
	return row, nil
}

func (r *ParticipantRepository) FindByOrgAndSignals(ctx context.Context, orgID string, query models.SignalQuery) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.FindByOrgAndSignals")
	defer span.End()

	if query.IsEmpty() {
		return []models.Participant{}, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(participantColumns...)
	sb.From(participantsTable)

	signals := make([]string, 0, 4)
	if query.Email != "" {
		signals = append(signals, sb.Equal("email", query.Email))
	}
	if query.Phone != "" {
		signals = append(signals, sb.Equal("phone", query.Phone))
	}
	if query.Username != "" {
		signals = append(signals, sb.Equal("username", query.Username))
	}
	if query.TgUserID != 0 {
		signals = append(signals, sb.Equal("tg_user_id", query.TgUserID))
	}

	sb.Where(
		sb.Equal("org_id", orgID),
		sb.IsNull("merged_into"),
		sb.Or(signals...),
	)
	sb.OrderBy("id")

	result, err := r.selectParticipants(ctx, sb)
	if err != nil {
		return nil, r.fail(ctx, span, "find participants by signals", err)
	}
	return result, nil
}

func (r *ParticipantRepository) FindByOrgAndNameSubstring(ctx context.Context, orgID string, terms []string) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.FindByOrgAndNameSubstring")
	defer span.End()

	if len(terms) == 0 {
		return []models.Participant{}, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(participantColumns...)
	sb.From(participantsTable)
	sb.Where(
		sb.Equal("org_id", orgID),
		sb.IsNull("merged_into"),
		database.ILikeAny(sb, "full_name", terms),
	)
	sb.OrderBy("id")

	result, err := r.selectParticipants(ctx, sb)
	if err != nil {
		return nil, r.fail(ctx, span, "find participants by name", err)
	}
	return result, nil
}

func (r *ParticipantRepository) GetByID(ctx context.Context, orgID, id string) (*models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.GetByID")
	defer span.End()
	tracing.SetParticipant(span, orgID, id)

	if len(validIDs(id)) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}

	sb := database.NewSelectBuilder()
	sb.Select(participantColumns...)
	sb.From(participantsTable)
	sb.Where(sb.Equal("id", id), sb.Equal("org_id", orgID))

	query, args := sb.Build()
	var row participantRow
	if err := database.QuerierFromContext(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
		}
		return nil, r.fail(ctx, span, "get participant", err)
	}

	p := row.toModel()
	return &p, nil
}

// Update writes the contact fields of p when the stored version still equals p.Version.
// merged_into is only written by SetMergedInto and RedirectMergedInto.
func (r *ParticipantRepository) Update(ctx context.Context, p *models.Participant) error {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.Update")
	defer span.End()
	tracing.SetParticipant(span, p.OrgID, p.ID)

	if len(validIDs(p.ID)) == 0 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, p.ID)
	}

	now := r.now()
	ub := database.NewUpdateBuilder()
	ub.Update(participantsTable)
	ub.Set(
		ub.Assign("full_name", nullString(p.FullName)),
		ub.Assign("first_name", nullString(p.FirstName)),
		ub.Assign("last_name", nullString(p.LastName)),
		ub.Assign("email", nullString(p.Email)),
		ub.Assign("phone", nullString(p.Phone)),
		ub.Assign("username", nullString(p.Username)),
		ub.Assign("tg_user_id", nullInt64(p.TgUserID)),
		ub.Assign("source", nullString(p.Source)),
		ub.Assign("status", nullString(p.Status)),
		ub.Assign("notes", nullString(p.Notes)),
		ub.Assign("version", p.Version+1),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", p.ID),
		ub.Equal("org_id", p.OrgID),
		ub.Equal("version", p.Version),
	)

	query, args := ub.Build()
	q := database.QuerierFromContext(ctx, r.db)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return r.fail(ctx, span, "update participant", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return r.fail(ctx, span, "update participant", err)
	}

	if affected == 0 {
		// tell a missing row apart from a stale version
		current, err := r.GetByID(ctx, p.OrgID, p.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s has version %d, expected %d", models.ErrConcurrentModification, p.ID, current.Version, p.Version)
	}

	p.Version++
	p.UpdatedAt = now
	return nil
}

// ListMergeChainFrom walks merged_into one row at a time, at most MaxMergeChainDepth rows
func (r *ParticipantRepository) ListMergeChainFrom(ctx context.Context, orgID, id string) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.ListMergeChainFrom")
	defer span.End()
	tracing.SetParticipant(span, orgID, id)

	chain := make([]models.Participant, 0, 2)
	seen := make(map[string]bool)
	current := id
	for {
		if seen[current] || len(chain) >= models.MaxMergeChainDepth {
			err := fmt.Errorf("%w: merge chain from %s revisits %s", models.ErrCycleDetected, id, current)
			tracing.RecordError(span, err)
			return chain, err
		}

		p, err := r.GetByID(ctx, orgID, current)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) && len(chain) > 0 {
				return chain, nil
			}
			return nil, err
		}

		seen[current] = true
		chain = append(chain, *p)
		if !p.IsMerged() {
			return chain, nil
		}
		current = p.MergedInto
	}
}

func (r *ParticipantRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.WithinTx")
	defer span.End()

	err := database.WithinTx(ctx, r.db, fn)
	if err == nil {
		return nil
	}
	tracing.RecordError(span, err)
	// errors from fn already carry a sentinel; begin and commit failures do not
	for _, sentinel := range domainErrors {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return classify(err)
}

var domainErrors = []error{
	models.ErrValidation,
	models.ErrNotFound,
	models.ErrAlreadyMerged,
	models.ErrCycleDetected,
	models.ErrCrossOrgMerge,
	models.ErrConcurrentModification,
	models.ErrStoreUnavailable,
	models.ErrQueryFailed,
}

// LockForMerge selects the rows FOR UPDATE ordered by id, so concurrent merges
// touching the same pair always lock in the same order.
func (r *ParticipantRepository) LockForMerge(ctx context.Context, ids ...string) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.LockForMerge")
	defer span.End()

	valid := validIDs(ids...)
	if len(valid) == 0 {
		return []models.Participant{}, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(participantColumns...)
	sb.From(participantsTable)
	sb.Where(sb.In("id", valid...))
	sb.OrderBy("id")
	database.ForUpdate(sb)

	result, err := r.selectParticipants(ctx, sb)
	if err != nil {
		return nil, r.fail(ctx, span, "lock participants for merge", err)
	}
	return result, nil
}

func (r *ParticipantRepository) SetMergedInto(ctx context.Context, orgID, id, target string) error {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.SetMergedInto")
	defer span.End()
	tracing.SetParticipant(span, orgID, id)

	if len(validIDs(id, target)) != 2 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(participantsTable)
	ub.Set(
		ub.Assign("merged_into", target),
		ub.Incr("version"),
		ub.Assign("updated_at", r.now()),
	)
	ub.Where(ub.Equal("id", id), ub.Equal("org_id", orgID))

	affected, err := r.exec(ctx, ub)
	if err != nil {
		return r.fail(ctx, span, "set merged_into", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return nil
}

func (r *ParticipantRepository) RedirectMergedInto(ctx context.Context, orgID, from, to string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.RedirectMergedInto")
	defer span.End()
	tracing.SetParticipant(span, orgID, from)

	if len(validIDs(from, to)) != 2 {
		return 0, nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(participantsTable)
	ub.Set(
		ub.Assign("merged_into", to),
		ub.Incr("version"),
		ub.Assign("updated_at", r.now()),
	)
	ub.Where(ub.Equal("org_id", orgID), ub.Equal("merged_into", from))

	affected, err := r.exec(ctx, ub)
	if err != nil {
		return 0, r.fail(ctx, span, "redirect merged_into", err)
	}
	return affected, nil
}

func (r *ParticipantRepository) exec(ctx context.Context, ub *sqlbuilder.UpdateBuilder) (int64, error) {
	query, args := ub.Build()
	res, err := database.QuerierFromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ParticipantRepository) ListAbsorbed(ctx context.Context, orgID string) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.ListAbsorbed")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(participantColumns...)
	sb.From(participantsTable)
	sb.Where(sb.Equal("org_id", orgID), sb.IsNotNull("merged_into"))
	sb.OrderBy("id")

	result, err := r.selectParticipants(ctx, sb)
	if err != nil {
		return nil, r.fail(ctx, span, "list absorbed participants", err)
	}
	return result, nil
}

func (r *ParticipantRepository) ListOrgsWithAbsorbed(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.ListOrgsWithAbsorbed")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("org_id").Distinct()
	sb.From(participantsTable)
	sb.Where(sb.IsNotNull("merged_into"))
	sb.OrderBy("org_id")

	query, args := sb.Build()
	orgs := []string{}
	if err := database.QuerierFromContext(ctx, r.db).SelectContext(ctx, &orgs, query, args...); err != nil {
		return nil, r.fail(ctx, span, "list orgs with absorbed participants", err)
	}
	return orgs, nil
}

// Ping checks the database connection
func (r *ParticipantRepository) Ping(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "participant.ParticipantRepository.Ping")
	defer span.End()

	if err := r.db.PingContext(ctx); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}
