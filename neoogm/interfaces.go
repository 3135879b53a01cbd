package neoogm

import (
	"context"
	"fmt"
)

// CypherQuery is a single statement sent to the database. Result is filled in once the statement
// has run.
type CypherQuery struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`

	Result *Result `json:"-"`
}

// CypherRunner runs a set of statements in a single transaction.
type CypherRunner interface {
	CypherBatch(ctx context.Context, queries []*CypherQuery) error
}

// QueryGateway is the only I/O primitive the schema catalog and batch writer depend on.
// Execute runs one statement in its own auto-commit transaction, which is what schema DDL needs.
type QueryGateway interface {
	CypherRunner
	fmt.Stringer

	Execute(ctx context.Context, statement string, params map[string]any) (*Result, error)
	Close(ctx context.Context) error
}

// Result holds the rows returned by one statement.
type Result struct {
	Keys []string
	Rows [][]any
}

// Records returns the rows keyed by column name.
func (r *Result) Records() []map[string]any {
	if r == nil {
		return nil
	}

	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Keys))
		for i, key := range r.Keys {
			if i < len(row) {
				record[key] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

// Single returns the first value of the first row.
func (r *Result) Single() (any, bool) {
	if r == nil || len(r.Rows) == 0 || len(r.Rows[0]) == 0 {
		return nil, false
	}
	return r.Rows[0][0], true
}
