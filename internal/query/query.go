// Package query holds the request model for the execution front-end: the raw
// parsed Query, the validated PreparedQuery, the snapshot constraint derived
// from it, and the uniform error envelope all stages report through.
package query

import (
	language "github.com/hanpama/blockgraph/internal/language"
	schema "github.com/hanpama/blockgraph/internal/schema"
)

// Query is an immutable parsed request against one schema. It is created by
// the API-facing layer and consumed exactly once by an execution.
type Query struct {
	Schema        *schema.Schema
	Document      *language.QueryDocument
	OperationName string
	Variables     map[string]any
}

// Subscription is a Query with liveness semantics. Validation rules are
// identical; only the execution path differs.
type Subscription struct {
	Query *Query
}

// Parse parses source into a Query bound to sch. Syntax errors are returned
// as a validation error list.
func Parse(sch *schema.Schema, source, operationName string, variables map[string]any) (*Query, []*Error) {
	doc, err := language.ParseQuery(source)
	if err != nil {
		return nil, []*Error{Validationf("%s", err.Error())}
	}
	return &Query{
		Schema:        sch,
		Document:      doc,
		OperationName: operationName,
		Variables:     variables,
	}, nil
}

// PreparedQuery is the validated, limit-annotated form of a Query. It is
// owned by the execution call that created it and never shared: its limits
// are fixed at preparation time and must not be re-derived downstream.
type PreparedQuery struct {
	Schema    *schema.Schema
	Operation *language.OperationDefinition
	Fragments map[string]*language.FragmentDefinition
	Variables map[string]any

	// Complexity is the statically scored cost of the operation.
	Complexity uint64
	// MaxDepth is the depth budget the operation was validated under.
	MaxDepth uint8
}

// Fragment returns the named fragment definition, or nil.
func (pq *PreparedQuery) Fragment(name string) *language.FragmentDefinition {
	return pq.Fragments[name]
}

// IsSubscription reports whether the prepared operation is a subscription.
func (pq *PreparedQuery) IsSubscription() bool {
	return pq.Operation.Operation == language.Subscription
}

// RootType returns the schema root type for the prepared operation.
func (pq *PreparedQuery) RootType() *schema.Type {
	if pq.IsSubscription() {
		return pq.Schema.GetSubscriptionType()
	}
	return pq.Schema.GetQueryType()
}
