package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// NewSelectBuilder returns a select builder using the PostgreSQL flavor
func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

// NewInsertBuilder returns an insert builder using the PostgreSQL flavor
func NewInsertBuilder() *sqlbuilder.InsertBuilder {
	return sqlbuilder.PostgreSQL.NewInsertBuilder()
}

// NewUpdateBuilder returns an update builder using the PostgreSQL flavor
func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

// ForUpdate appends a row-locking clause to a select
func ForUpdate(sb *sqlbuilder.SelectBuilder) *sqlbuilder.SelectBuilder {
	sb.SQL("FOR UPDATE")
	return sb
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ILikeAny builds "(col ILIKE $1 OR col ILIKE $2 ...)" matching any term as a
// literal substring
func ILikeAny(sb *sqlbuilder.SelectBuilder, column string, terms []string) string {
	exprs := make([]string, 0, len(terms))
	for _, term := range terms {
		exprs = append(exprs, fmt.Sprintf("%s ILIKE %s", column, sb.Var("%"+likeEscaper.Replace(term)+"%")))
	}
	return "(" + strings.Join(exprs, " OR ") + ")"
}

// QualifiedColumn parses "table.column" into its parts
func QualifiedColumn(ref string) (table, column string, err error) {
	parts := strings.Split(ref, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid column reference %q, expected table.column", ref)
	}
	return parts[0], parts[1], nil
}
