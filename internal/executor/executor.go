package executor

import (
	"context"
	"fmt"
	"reflect"
	"time"

	language "github.com/hanpama/blockgraph/internal/language"
	query "github.com/hanpama/blockgraph/internal/query"
	schema "github.com/hanpama/blockgraph/internal/schema"
)

// defaultPageSize is the effective `first` for list fields that do not pass
// one explicitly.
const defaultPageSize = 100

// Path locates a field in the response tree.
type Path []any

// Resolver serves entity reads at one pinned snapshot. Implementations must
// be safe for the sequential reads of one execution and must respect ctx.
type Resolver interface {
	// Get returns the entity's state at the snapshot, or nil when absent.
	Get(ctx context.Context, entityType, id string) (map[string]any, error)

	// List returns entities of a type at the snapshot in id order. A
	// non-empty filterField restricts to entities whose field equals
	// filterValue.
	List(ctx context.Context, entityType, filterField string, filterValue any, first, skip int) ([]map[string]any, error)
}

// Options carries the resolved execution limits.
type Options struct {
	// Deadline is the single absolute instant bounding the whole execution.
	// Zero means no deadline.
	Deadline time.Time

	// MaxFirst caps the `first` argument of every list field.
	MaxFirst uint32
}

// Execute runs a prepared query against the resolver. The deadline is
// installed once on the context; a breach yields a timeout error with absent
// data. Field failures are located errors with sibling fields unaffected.
func Execute(ctx context.Context, pq *query.PreparedQuery, resolver Resolver, opts Options) *query.Result {
	if !opts.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, opts.Deadline)
		defer cancel()
	}

	maxFirst := opts.MaxFirst
	if maxFirst == 0 {
		maxFirst = defaultPageSize
	}
	state := &executionState{
		ctx:      ctx,
		schema:   pq.Schema,
		prepared: pq,
		resolver: resolver,
		maxFirst: int(maxFirst),
	}

	data := state.executeSelectionSet(pq.RootType(), pq.Operation.SelectionSet, nil, Path{})
	if state.timedOut {
		return query.ErrResult(query.Timeoutf("query execution exceeded its deadline"))
	}
	return &query.Result{Data: data, Errors: state.errors}
}

// executionState holds the mutable state of one execution.
type executionState struct {
	ctx      context.Context
	schema   *schema.Schema
	prepared *query.PreparedQuery
	resolver Resolver
	maxFirst int
	errors   []*query.Error
	timedOut bool
}

func (s *executionState) addError(e *query.Error, path Path) {
	e.Path = []any(path)
	s.errors = append(s.errors, e)
}

// deadlineExceeded marks the execution as timed out once the context's
// deadline passes. All further resolution stops.
func (s *executionState) deadlineExceeded() bool {
	if s.timedOut {
		return true
	}
	if err := s.ctx.Err(); err != nil {
		s.timedOut = true
	}
	return s.timedOut
}

func (s *executionState) executeSelectionSet(objectType *schema.Type, set language.SelectionSet, source map[string]any, path Path) map[string]any {
	grouped := collectFields(s, objectType, set)
	result := make(map[string]any, len(grouped.fields))

	for _, cf := range grouped.orderedFields() {
		if s.deadlineExceeded() {
			return nil
		}
		fieldPath := appendPath(path, cf.ResponseName)
		value := s.executeFieldGroup(objectType, source, cf.Fields, fieldPath)

		if cf.Fields[0].Name == "__typename" {
			result[cf.ResponseName] = value
			continue
		}
		fieldDef := objectType.Field(cf.Fields[0].Name)
		if fieldDef == nil {
			continue // error already recorded
		}
		if schema.IsNonNull(fieldDef.Type) && isNullish(value) {
			// Null in non-null position propagates to the nullable ancestor.
			if len(path) > 0 {
				return nil
			}
			result[cf.ResponseName] = nil
			continue
		}
		if isNullish(value) {
			result[cf.ResponseName] = nil
		} else {
			result[cf.ResponseName] = value
		}
	}
	return result
}

func (s *executionState) executeFieldGroup(objectType *schema.Type, source map[string]any, fields []*language.Field, path Path) any {
	field := fields[0]
	if field.Name == "__typename" {
		return objectType.Name
	}
	fieldDef := objectType.Field(field.Name)
	if fieldDef == nil {
		s.addError(query.Executionf("cannot query field %q on type %q", field.Name, objectType.Name), path)
		return nil
	}

	value, err := s.resolveField(objectType, fieldDef, field, source, path)
	if err != nil {
		if s.deadlineExceeded() {
			return nil
		}
		s.addError(err, path)
		return nil
	}
	return s.completeValue(fieldDef.Type, fields, value, path)
}

// resolveField produces the raw value for one field before completion.
func (s *executionState) resolveField(objectType *schema.Type, fieldDef *schema.Field, field *language.Field, source map[string]any, path Path) (any, *query.Error) {
	named := schema.GetNamedType(fieldDef.Type)
	target := s.schema.Types[named]

	// Root fields read straight from the store: plural fields list the
	// entity type, singular fields fetch by id.
	if objectType.Name == s.schema.QueryType || objectType.Name == s.schema.SubscriptionType {
		args := s.coerceArguments(fieldDef, field.Arguments, path)
		if schema.IsList(fieldDef.Type) {
			first, skip, err := s.pagination(args)
			if err != nil {
				return nil, err
			}
			out, lerr := s.resolver.List(s.ctx, named, "", nil, first, skip)
			if lerr != nil {
				return nil, query.Executionf("%s", lerr.Error())
			}
			return anySlice(out), nil
		}
		id, _ := args["id"].(string)
		if id == "" {
			return nil, query.Executionf("field %q requires an `id` argument", field.Name)
		}
		data, gerr := s.resolver.Get(s.ctx, named, id)
		if gerr != nil {
			return nil, query.Executionf("%s", gerr.Error())
		}
		return orNil(data), nil
	}

	// Reverse lookup declared with @derivedFrom.
	if fieldDef.DerivedFrom != "" && target != nil && target.Entity {
		args := s.coerceArguments(fieldDef, field.Arguments, path)
		first, skip, err := s.pagination(args)
		if err != nil {
			return nil, err
		}
		if !schema.IsList(fieldDef.Type) {
			first, skip = 1, 0
		}
		out, lerr := s.resolver.List(s.ctx, named, fieldDef.DerivedFrom, source["id"], first, skip)
		if lerr != nil {
			return nil, query.Executionf("%s", lerr.Error())
		}
		if !schema.IsList(fieldDef.Type) {
			if len(out) == 0 {
				return nil, nil
			}
			return out[0], nil
		}
		return anySlice(out), nil
	}

	raw := source[field.Name]

	// Stored references to other entities hold ids; dereference them at the
	// same snapshot.
	if target != nil && target.Entity {
		if schema.IsList(fieldDef.Type) {
			ids, ok := raw.([]any)
			if !ok {
				if raw == nil {
					return nil, nil
				}
				return nil, query.Executionf("field %q holds a malformed reference list", field.Name)
			}
			out := make([]any, 0, len(ids))
			for _, idv := range ids {
				id, ok := idv.(string)
				if !ok {
					return nil, query.Executionf("field %q holds a malformed reference", field.Name)
				}
				data, gerr := s.resolver.Get(s.ctx, named, id)
				if gerr != nil {
					return nil, query.Executionf("%s", gerr.Error())
				}
				out = append(out, orNil(data))
			}
			return out, nil
		}
		id, ok := raw.(string)
		if !ok {
			if raw == nil {
				return nil, nil
			}
			return nil, query.Executionf("field %q holds a malformed reference", field.Name)
		}
		data, gerr := s.resolver.Get(s.ctx, named, id)
		if gerr != nil {
			return nil, query.Executionf("%s", gerr.Error())
		}
		return orNil(data), nil
	}

	return raw, nil
}

// pagination resolves the first/skip arguments against the page-size cap.
func (s *executionState) pagination(args map[string]any) (first, skip int, err *query.Error) {
	first = defaultPageSize
	if v, ok := args["first"]; ok && v != nil {
		n, ok := v.(int64)
		if !ok || n < 0 {
			return 0, 0, query.Executionf("the `first` argument must be a non-negative integer")
		}
		first = int(n)
	}
	if first > s.maxFirst {
		return 0, 0, query.Executionf("the `first` argument must not exceed %d", s.maxFirst)
	}
	if v, ok := args["skip"]; ok && v != nil {
		n, ok := v.(int64)
		if !ok || n < 0 {
			return 0, 0, query.Executionf("the `skip` argument must be a non-negative integer")
		}
		skip = int(n)
	}
	return first, skip, nil
}

func (s *executionState) completeValue(fieldType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	if schema.IsNonNull(fieldType) {
		completed := s.completeValue(schema.Unwrap(fieldType), fields, result, path)
		if isNullish(completed) && !s.timedOut {
			if !s.hasErrorAtPath(path) {
				s.addError(query.Executionf("cannot return null for non-nullable field %s", pathString(path)), path)
			}
			return nil
		}
		return completed
	}
	if isNullish(result) {
		return nil
	}
	if schema.IsList(fieldType) {
		return s.completeListValue(fieldType, fields, result, path)
	}

	named := schema.GetNamedType(fieldType)
	typeObj := s.schema.Types[named]
	if typeObj == nil {
		s.addError(query.Executionf("unknown type %q", named), path)
		return nil
	}
	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		serialized, err := serializeLeaf(named, result)
		if err != nil {
			s.addError(query.Executionf("%s", err.Error()), path)
			return nil
		}
		return serialized
	case schema.TypeKindObject:
		data, ok := result.(map[string]any)
		if !ok {
			s.addError(query.Executionf("expected object value for type %q, got %T", named, result), path)
			return nil
		}
		return s.executeSelectionSet(typeObj, mergeSelectionSets(fields), data, path)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return s.completeAbstractValue(typeObj, fields, result, path)
	default:
		s.addError(query.Executionf("cannot complete value of type kind %s", typeObj.Kind), path)
		return nil
	}
}

func (s *executionState) completeListValue(listType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	items, ok := result.([]any)
	if !ok {
		s.addError(query.Executionf("expected list value, got %T", result), path)
		return nil
	}
	inner := schema.Unwrap(listType)
	completed := make([]any, len(items))
	for i, item := range items {
		if s.deadlineExceeded() {
			return nil
		}
		v := s.completeValue(inner, fields, item, appendPath(path, i))
		if schema.IsNonNull(inner) && isNullish(v) {
			// Error already recorded by the inner completion.
			return nil
		}
		completed[i] = v
	}
	return completed
}

// completeAbstractValue resolves the concrete type of an interface or union
// value from its stored __typename.
func (s *executionState) completeAbstractValue(abstract *schema.Type, fields []*language.Field, result any, path Path) any {
	data, ok := result.(map[string]any)
	if !ok {
		s.addError(query.Executionf("expected object value for abstract type %q, got %T", abstract.Name, result), path)
		return nil
	}
	name, _ := data["__typename"].(string)
	if name == "" {
		s.addError(query.Executionf("value of abstract type %q does not carry a concrete type name", abstract.Name), path)
		return nil
	}
	concrete := s.schema.Types[name]
	if concrete == nil || concrete.Kind != schema.TypeKindObject {
		s.addError(query.Executionf("abstract type %q resolved to unknown object type %q", abstract.Name, name), path)
		return nil
	}
	return s.executeSelectionSet(concrete, mergeSelectionSets(fields), data, path)
}

// coerceArguments coerces field arguments against their definitions.
func (s *executionState) coerceArguments(fieldDef *schema.Field, args language.ArgumentList, path Path) map[string]any {
	coerced := make(map[string]any, len(args))
	for _, arg := range args {
		argDef := fieldDef.Argument(arg.Name)
		if argDef == nil {
			continue // unknown arguments rejected at preparation
		}
		val := query.ValueFromAST(arg.Value, s.prepared.Variables)
		cv, err := query.CoerceValue(val, argDef.Type)
		if err != nil {
			s.addError(query.Executionf("argument %q: %s", arg.Name, err.Error()), path)
			continue
		}
		coerced[arg.Name] = cv
	}
	for _, argDef := range fieldDef.Arguments {
		if _, ok := coerced[argDef.Name]; ok {
			continue
		}
		if argDef.DefaultValue != nil {
			coerced[argDef.Name] = argDef.DefaultValue
		} else if schema.IsNonNull(argDef.Type) {
			s.addError(query.Executionf("argument %q of required type was not provided", argDef.Name), path)
		}
	}
	return coerced
}

func (s *executionState) hasErrorAtPath(path Path) bool {
	for _, err := range s.errors {
		if reflect.DeepEqual(err.Path, []any(path)) {
			return true
		}
	}
	return false
}

// serializeLeaf coerces a stored leaf value into its JSON-safe form.
func serializeLeaf(typeName string, value any) (any, error) {
	switch typeName {
	case "Int":
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			return int64(v), nil
		}
		return nil, fmt.Errorf("cannot serialize %T as Int", value)
	case "Float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
		return nil, fmt.Errorf("cannot serialize %T as Float", value)
	case "Boolean":
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot serialize %T as Boolean", value)
	case "String", "ID", "BigInt", "Bytes":
		if v, ok := value.(string); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot serialize %T as %s", value, typeName)
	default:
		// Enums and custom scalars pass through their stored representation.
		return value, nil
	}
}

func pathString(path Path) string {
	out := ""
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				out += "."
			}
			out += v
		case int:
			out += fmt.Sprintf("[%d]", v)
		}
	}
	return out
}

func appendPath(path Path, elem any) Path {
	next := make(Path, len(path)+1)
	copy(next, path)
	next[len(path)] = elem
	return next
}

func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

func anySlice(in []map[string]any) []any {
	out := make([]any, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}

func orNil(data map[string]any) any {
	if data == nil {
		return nil
	}
	return data
}

// isNullish reports nil interfaces and typed nils.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
