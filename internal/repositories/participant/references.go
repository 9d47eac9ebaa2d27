package participant

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ReferenceRewriter re-points one table.column that stores participant ids.
// It joins the merge transaction through the context.
type ReferenceRewriter struct {
	db     database.DB
	logger ectologger.Logger
	table  string
	column string
}

var _ models.ReferenceRewriter = (*ReferenceRewriter)(nil)

// NewReferenceRewriters builds one rewriter per "table.column" reference
func NewReferenceRewriters(db database.DB, logger ectologger.Logger, refs []string) ([]models.ReferenceRewriter, error) {
	rewriters := make([]models.ReferenceRewriter, 0, len(refs))
	for _, ref := range refs {
		table, column, err := database.QualifiedColumn(ref)
		if err != nil {
			return nil, err
		}
		rewriters = append(rewriters, &ReferenceRewriter{
			db:     db,
			logger: logger,
			table:  table,
			column: column,
		})
	}
	return rewriters, nil
}

func (r *ReferenceRewriter) RewriteReferences(ctx context.Context, orgID, from, to string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.ReferenceRewriter.RewriteReferences")
	defer span.End()
	tracing.SetParticipant(span, orgID, from)

	column := pq.QuoteIdentifier(r.column)
	ub := database.NewUpdateBuilder()
	ub.Update(pq.QuoteIdentifier(r.table))
	ub.Set(ub.Assign(column, to))
	ub.Where(ub.Equal(column, from))

	query, args := ub.Build()
	res, err := database.QuerierFromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		err = classify(err)
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"table":  r.table,
			"column": r.column,
		}).Error("Failed to rewrite participant references")
		return 0, fmt.Errorf("rewrite %s.%s: %w", r.table, r.column, err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}
