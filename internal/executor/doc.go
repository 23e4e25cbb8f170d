// Package executor runs a prepared query against a snapshot-bound resolver.
//
// # Execution model
//
// Execution walks the prepared selection set depth-first. Entity root fields
// (the generated singular/plural fields) resolve through the Resolver; nested
// entity relations resolve either by stored id reference or, for
// @derivedFrom fields, by a filtered reverse lookup. Scalar fields read
// directly from the entity's stored data.
//
// Every read of one execution goes through one Resolver, so the whole walk
// observes a single block snapshot.
//
// # Deadline
//
// The caller passes one absolute deadline for the whole execution. It is
// installed on the context once and checked at field boundaries; it is never
// re-armed per field. A breach aborts the walk and the result carries a
// timeout error with absent data, never a partially populated value.
//
// # Pagination
//
// List fields accept `first` and `skip`. The effective `first` defaults to
// defaultPageSize and must not exceed the resolved page-size cap; exceeding
// it is an execution error for that field.
//
// # Errors
//
// Field failures become located errors on the result while sibling fields
// continue executing (partial success). Null-propagation follows the GraphQL
// spec: a null in a non-null position propagates to the nearest nullable
// ancestor.
package executor
