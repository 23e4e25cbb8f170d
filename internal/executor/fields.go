package executor

import (
	language "github.com/hanpama/blockgraph/internal/language"
	query "github.com/hanpama/blockgraph/internal/query"
	schema "github.com/hanpama/blockgraph/internal/schema"
)

// collectedFieldMap preserves field order from the original query.
type collectedFieldMap struct {
	fields []collectedField
	index  map[string]int
}

type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

func newCollectedFieldMap() *collectedFieldMap {
	return &collectedFieldMap{index: map[string]int{}}
}

func (cfm *collectedFieldMap) add(responseName string, field *language.Field) {
	if idx, ok := cfm.index[responseName]; ok {
		cfm.fields[idx].Fields = append(cfm.fields[idx].Fields, field)
		return
	}
	cfm.index[responseName] = len(cfm.fields)
	cfm.fields = append(cfm.fields, collectedField{ResponseName: responseName, Fields: []*language.Field{field}})
}

func (cfm *collectedFieldMap) orderedFields() []collectedField { return cfm.fields }

// collectFields groups the selection set's fields by response name, expanding
// fragments and applying @skip/@include.
func collectFields(state *executionState, objectType *schema.Type, set language.SelectionSet) *collectedFieldMap {
	grouped := newCollectedFieldMap()
	collectFieldsImpl(state, objectType, set, grouped, map[string]bool{})
	return grouped
}

func collectFieldsImpl(state *executionState, objectType *schema.Type, set language.SelectionSet, grouped *collectedFieldMap, visited map[string]bool) {
	for _, selection := range set {
		switch sel := selection.(type) {
		case *language.Field:
			if !shouldIncludeNode(state, sel.Directives) {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			grouped.add(responseName, sel)

		case *language.InlineFragment:
			if !shouldIncludeNode(state, sel.Directives) {
				continue
			}
			if !fragmentApplies(objectType, sel.TypeCondition) {
				continue
			}
			collectFieldsImpl(state, objectType, sel.SelectionSet, grouped, visited)

		case *language.FragmentSpread:
			if !shouldIncludeNode(state, sel.Directives) {
				continue
			}
			if visited[sel.Name] {
				continue
			}
			visited[sel.Name] = true
			frag := state.prepared.Fragment(sel.Name)
			if frag == nil {
				continue
			}
			if !fragmentApplies(objectType, frag.TypeCondition) {
				continue
			}
			if !shouldIncludeNode(state, frag.Directives) {
				continue
			}
			collectFieldsImpl(state, objectType, frag.SelectionSet, grouped, visited)
		}
	}
}

// fragmentApplies reports whether a fragment's type condition matches the
// object type, directly or through an implemented interface.
func fragmentApplies(objectType *schema.Type, condition string) bool {
	if condition == "" || condition == objectType.Name {
		return true
	}
	for _, iface := range objectType.Interfaces {
		if iface == condition {
			return true
		}
	}
	return false
}

// shouldIncludeNode applies the @skip and @include directives.
func shouldIncludeNode(state *executionState, directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := directiveIf(state, skip); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := directiveIf(state, include); ok && !v {
			return false
		}
	}
	return true
}

func directiveIf(state *executionState, directive *language.Directive) (bool, bool) {
	arg := directive.Arguments.ForName("if")
	if arg == nil {
		return false, false
	}
	v, ok := query.ValueFromAST(arg.Value, state.prepared.Variables).(bool)
	return v, ok
}
