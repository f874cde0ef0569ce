package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/errors"
)

// condition is one WHERE predicate on an entity query.
type condition struct {
	field string
	value interface{}
	op    string
}

// Query accumulates conditions against one entity type. Obtain via
// Store.Query; terminate with Count or Execute.
type Query struct {
	store      *SQLiteStore
	entityType string
	conditions []condition
	limit      int
}

// Condition adds a predicate. The operator defaults to "=" and may be one
// of "=", "!=", "<", "<=", ">", ">=". Bookkeeping fields (id, label, guid,
// owner, source_id, source_hash, imported_at) address columns directly;
// any other field addresses the JSON field blob.
func (q *Query) Condition(field string, value interface{}, op ...string) *Query {
	operator := "="
	if len(op) > 0 {
		operator = op[0]
	}
	q.conditions = append(q.conditions, condition{field: field, value: value, op: operator})
	return q
}

// Limit caps the number of ids returned by Execute.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Count returns the number of matching entities.
func (q *Query) Count(ctx context.Context) (int, error) {
	where, args := q.build()
	query := "SELECT COUNT(*) FROM entities WHERE " + where

	var count int
	if err := q.store.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count entities")
	}
	return count, nil
}

// Execute returns the ids of matching entities, oldest import first.
func (q *Query) Execute(ctx context.Context) ([]string, error) {
	where, args := q.build()
	query := "SELECT id FROM entities WHERE " + where + " ORDER BY created_at ASC"
	if q.limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.limit)
	}

	rows, err := q.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query entities")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan entity id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// columnFields are queryable without going through the JSON field blob.
var columnFields = map[string]string{
	"id":          "id",
	"label":       "label",
	"guid":        "guid",
	"owner":       "owner",
	"source_id":   "source_id",
	"source_hash": "source_hash",
	"imported_at": "imported_at",
}

func (q *Query) build() (string, []interface{}) {
	clauses := []string{"entity_type = ?"}
	args := []interface{}{q.entityType}

	for _, c := range q.conditions {
		if col, ok := columnFields[c.field]; ok {
			clauses = append(clauses, fmt.Sprintf("%s %s ?", col, c.op))
			args = append(args, normalizeArg(c.value))
			continue
		}

		// JSON field: match the scalar value or, for multi-value fields,
		// the first element of the stored list. The path is bound as a
		// parameter so field names never reach the SQL text, and the
		// label is quoted so non-identifier characters stay valid path
		// syntax.
		path := `$.fields."` + c.field + `"`
		clauses = append(clauses, fmt.Sprintf(
			"(json_extract(fields, ?) %s ? OR json_extract(fields, ?) %s ?)",
			c.op, c.op))
		arg := normalizeArg(c.value)
		args = append(args, path, arg, path+"[0]", arg)
	}

	return strings.Join(clauses, " AND "), args
}

// normalizeArg converts times to a stable sqlite-comparable representation.
func normalizeArg(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}
