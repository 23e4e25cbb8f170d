package query

import (
	language "github.com/hanpama/blockgraph/internal/language"
	schema "github.com/hanpama/blockgraph/internal/schema"
)

// defaultListSize is the multiplier assumed for list fields whose `first`
// argument is not statically known when scoring complexity.
const defaultListSize = 100

// Prepare validates a raw query against its schema and the complexity/depth
// budgets, producing a PreparedQuery or a non-empty validation error list.
// The returned PreparedQuery carries the limits it was checked under; later
// stages must not re-derive them.
func Prepare(q *Query, maxComplexity *uint64, maxDepth uint8) (*PreparedQuery, []*Error) {
	op := language.OperationForName(q.Document, q.OperationName)
	if op == nil {
		return nil, []*Error{Validationf("operation %q not found", q.OperationName)}
	}
	if op.Operation == language.Mutation {
		return nil, []*Error{Validationf("mutations are not supported")}
	}

	rootType := q.Schema.GetQueryType()
	if op.Operation == language.Subscription {
		rootType = q.Schema.GetSubscriptionType()
	}
	if rootType == nil {
		return nil, []*Error{Validationf("schema has no %s root type", op.Operation)}
	}

	fragments := make(map[string]*language.FragmentDefinition, len(q.Document.Fragments))
	for _, frag := range q.Document.Fragments {
		fragments[frag.Name] = frag
	}

	variables, verrs := coerceVariables(q.Schema, op, q.Variables)
	if len(verrs) > 0 {
		return nil, verrs
	}

	v := &validator{
		schema:    q.Schema,
		fragments: fragments,
		maxDepth:  maxDepth,
	}
	complexity := v.checkSelectionSet(rootType, op.SelectionSet, 1, map[string]bool{})
	if len(v.errs) > 0 {
		return nil, v.errs
	}
	if maxComplexity != nil && complexity > *maxComplexity {
		return nil, []*Error{Validationf("query has complexity %d, exceeding the maximum of %d", complexity, *maxComplexity)}
	}

	return &PreparedQuery{
		Schema:     q.Schema,
		Operation:  op,
		Fragments:  fragments,
		Variables:  variables,
		Complexity: complexity,
		MaxDepth:   maxDepth,
	}, nil
}

type validator struct {
	schema    *schema.Schema
	fragments map[string]*language.FragmentDefinition
	maxDepth  uint8
	depthHit  bool
	errs      []*Error
}

func (v *validator) addError(e *Error) { v.errs = append(v.errs, e) }

// checkSelectionSet validates one selection level and returns its scored
// complexity. depth counts field nesting levels; fragment expansion does not
// add depth.
func (v *validator) checkSelectionSet(objectType *schema.Type, set language.SelectionSet, depth int, active map[string]bool) uint64 {
	if depth > int(v.maxDepth) {
		if !v.depthHit {
			v.depthHit = true
			v.addError(Validationf("query has depth %d, exceeding the maximum of %d", depth, v.maxDepth))
		}
		return 0
	}

	var total uint64
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			total += v.checkField(objectType, s, depth, active)
		case *language.InlineFragment:
			cond := s.TypeCondition
			if cond != "" && v.schema.Types[cond] == nil {
				v.addError(Validationf("unknown type %q in fragment condition", cond))
				continue
			}
			condType := objectType
			if cond != "" {
				condType = v.schema.Types[cond]
			}
			total += v.checkSelectionSet(condType, s.SelectionSet, depth, active)
		case *language.FragmentSpread:
			frag, ok := v.fragments[s.Name]
			if !ok {
				v.addError(Validationf("undefined fragment %q", s.Name))
				continue
			}
			if active[s.Name] {
				v.addError(Validationf("fragment %q forms a cycle", s.Name))
				continue
			}
			condType := v.schema.Types[frag.TypeCondition]
			if condType == nil {
				v.addError(Validationf("unknown type %q in fragment %q", frag.TypeCondition, s.Name))
				continue
			}
			active[s.Name] = true
			total += v.checkSelectionSet(condType, frag.SelectionSet, depth, active)
			delete(active, s.Name)
		}
	}
	return total
}

func (v *validator) checkField(objectType *schema.Type, field *language.Field, depth int, active map[string]bool) uint64 {
	if field.Name == "__typename" {
		return 0
	}
	fieldDef := objectType.Field(field.Name)
	if fieldDef == nil {
		v.addError(Validationf("cannot query field %q on type %q", field.Name, objectType.Name))
		return 0
	}
	for _, arg := range field.Arguments {
		if fieldDef.Argument(arg.Name) == nil {
			v.addError(Validationf("unknown argument %q on field %q of type %q", arg.Name, field.Name, objectType.Name))
		}
	}

	named := schema.GetNamedType(fieldDef.Type)
	fieldType := v.schema.Types[named]
	if fieldType == nil {
		v.addError(Validationf("field %q has unknown type %q", field.Name, named))
		return 0
	}

	switch fieldType.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		if len(field.SelectionSet) > 0 {
			v.addError(Validationf("field %q of scalar type %q must not have a selection", field.Name, named))
		}
		return 1
	default:
		if len(field.SelectionSet) == 0 {
			v.addError(Validationf("field %q of type %q must have a selection of subfields", field.Name, named))
			return 1
		}
	}

	childCost := v.checkSelectionSet(fieldType, field.SelectionSet, depth+1, active)
	if schema.IsList(fieldDef.Type) {
		return 1 + listMultiplier(field)*childCost
	}
	return 1 + childCost
}

// listMultiplier is the statically-known `first` argument of a list field,
// or defaultListSize when absent or variable-bound.
func listMultiplier(field *language.Field) uint64 {
	arg := field.Arguments.ForName("first")
	if arg == nil || arg.Value == nil || arg.Value.Kind != language.IntValue {
		return defaultListSize
	}
	n, ok := ValueFromAST(arg.Value, nil).(int64)
	if !ok || n < 0 {
		return defaultListSize
	}
	return uint64(n)
}

func coerceVariables(sch *schema.Schema, op *language.OperationDefinition, provided map[string]any) (map[string]any, []*Error) {
	coerced := make(map[string]any)
	var errs []*Error
	for _, varDef := range op.VariableDefinitions {
		name := varDef.Variable
		val, ok := provided[name]
		if !ok {
			if varDef.DefaultValue != nil {
				val = ValueFromAST(varDef.DefaultValue, nil)
			} else if varDef.Type.NonNull {
				errs = append(errs, Validationf("variable $%s of required type %s was not provided", name, varDef.Type.String()))
				continue
			} else {
				continue
			}
		}
		cv, err := CoerceValue(val, typeRefFromAST(varDef.Type))
		if err != nil {
			errs = append(errs, Validationf("variable $%s: %s", name, err.Error()))
			continue
		}
		coerced[name] = cv
	}
	return coerced, errs
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return schema.NonNullType(typeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return schema.NamedType(t.NamedType)
	}
	return schema.ListType(typeRefFromAST(t.Elem))
}
