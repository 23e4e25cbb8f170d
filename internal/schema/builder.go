package schema

import (
	"fmt"
	"strings"
	"unicode"

	language "github.com/hanpama/blockgraph/internal/language"
)

// BuildFromSDL compiles an SDL document into an executable schema for the
// deployment identified by id. Object types carrying @entity become stored
// entity types; the root Query and Subscription types are generated from
// them (one singular and one plural field per entity) rather than declared
// in the SDL.
func BuildFromSDL(id, name, sdl string) (*Schema, error) {
	doc, err := language.ParseSchema(name, sdl)
	if err != nil {
		return nil, err
	}

	s := &Schema{
		ID:               id,
		QueryType:        "Query",
		SubscriptionType: "Subscription",
		Types:            map[string]*Type{},
		Directives:       map[string]*Directive{},
	}
	for _, t := range []*Type{stringType, intType, floatType, booleanType, idType, bigIntType, bytesType, blockArgumentInput} {
		s.Types[t.Name] = t
	}
	for _, d := range []*Directive{includeDirective, skipDirective, entityDirective, derivedFromDirective} {
		s.Directives[d.Name] = d
	}

	for _, def := range doc.Definitions {
		if def.Name == "Query" || def.Name == "Subscription" {
			return nil, fmt.Errorf("type %s is reserved; root types are generated from entity types", def.Name)
		}
		if _, dup := s.Types[def.Name]; dup {
			return nil, fmt.Errorf("type %s is defined more than once or shadows a builtin", def.Name)
		}
		t, err := buildDefinition(def)
		if err != nil {
			return nil, err
		}
		s.Types[t.Name] = t
		if t.Entity {
			s.entityOrder = append(s.entityOrder, t.Name)
		}
	}

	if len(s.entityOrder) == 0 {
		return nil, fmt.Errorf("schema %s declares no @entity types", name)
	}
	if err := validateReferences(s); err != nil {
		return nil, err
	}

	s.Types["Query"] = buildRootType("Query", s)
	s.Types["Subscription"] = buildRootType("Subscription", s)
	return s, nil
}

func buildDefinition(def *language.Definition) (*Type, error) {
	switch def.Kind {
	case language.Object, language.Interface:
		kind := TypeKindObject
		if def.Kind == language.Interface {
			kind = TypeKindInterface
		}
		t := &Type{Name: def.Name, Kind: kind, Description: def.Description}
		t.Interfaces = append(t.Interfaces, def.Interfaces...)
		for _, d := range def.Directives {
			if d.Name == "entity" {
				if kind != TypeKindObject {
					return nil, fmt.Errorf("@entity is only valid on object types, found on %s", def.Name)
				}
				t.Entity = true
			}
		}
		for _, fd := range def.Fields {
			f, err := buildFieldDef(def.Name, fd)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, f)
		}
		if t.Entity && !hasIDField(t) {
			return nil, fmt.Errorf("entity type %s must declare an `id: ID!` field", def.Name)
		}
		return t, nil
	case language.Enum:
		t := &Type{Name: def.Name, Kind: TypeKindEnum, Description: def.Description}
		for _, ev := range def.EnumValues {
			t.EnumValues = append(t.EnumValues, &EnumValue{Name: ev.Name, Description: ev.Description})
		}
		return t, nil
	case language.Union:
		t := &Type{Name: def.Name, Kind: TypeKindUnion, Description: def.Description}
		t.PossibleTypes = append(t.PossibleTypes, def.Types...)
		return t, nil
	case language.Scalar:
		return &Type{Name: def.Name, Kind: TypeKindScalar, Description: def.Description}, nil
	case language.InputObject:
		t := &Type{Name: def.Name, Kind: TypeKindInputObject, Description: def.Description}
		for _, fd := range def.Fields {
			t.InputFields = append(t.InputFields, &InputValue{
				Name:        fd.Name,
				Description: fd.Description,
				Type:        typeRefFromAST(fd.Type),
			})
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported definition kind %s for %s", def.Kind, def.Name)
	}
}

func buildFieldDef(typeName string, fd *language.FieldDefinition) (*Field, error) {
	f := &Field{
		Name:        fd.Name,
		Description: fd.Description,
		Type:        typeRefFromAST(fd.Type),
	}
	for _, arg := range fd.Arguments {
		f.Arguments = append(f.Arguments, &InputValue{
			Name:        arg.Name,
			Description: arg.Description,
			Type:        typeRefFromAST(arg.Type),
		})
	}
	for _, d := range fd.Directives {
		if d.Name != "derivedFrom" {
			continue
		}
		arg := d.Arguments.ForName("field")
		if arg == nil || arg.Value == nil || arg.Value.Raw == "" {
			return nil, fmt.Errorf("%s.%s: @derivedFrom requires a `field` argument", typeName, fd.Name)
		}
		f.DerivedFrom = arg.Value.Raw
	}
	return f, nil
}

func typeRefFromAST(t *language.Type) *TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return NonNullType(typeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return NamedType(t.NamedType)
	}
	return ListType(typeRefFromAST(t.Elem))
}

func hasIDField(t *Type) bool {
	f := t.Field("id")
	return f != nil && IsNonNull(f.Type) && GetNamedType(f.Type) == "ID"
}

func validateReferences(s *Schema) error {
	for _, t := range s.Types {
		for _, f := range t.Fields {
			named := GetNamedType(f.Type)
			target, ok := s.Types[named]
			if !ok {
				return fmt.Errorf("%s.%s references unknown type %s", t.Name, f.Name, named)
			}
			if f.DerivedFrom != "" {
				if !target.Entity {
					return fmt.Errorf("%s.%s: @derivedFrom target %s is not an entity", t.Name, f.Name, named)
				}
				if target.Field(f.DerivedFrom) == nil {
					return fmt.Errorf("%s.%s: @derivedFrom field %q not found on %s", t.Name, f.Name, f.DerivedFrom, named)
				}
			}
		}
		for _, in := range t.InputFields {
			if _, ok := s.Types[GetNamedType(in.Type)]; !ok {
				return fmt.Errorf("%s.%s references unknown type %s", t.Name, in.Name, GetNamedType(in.Type))
			}
		}
	}
	return nil
}

// buildRootType generates the root type exposing one singular and one plural
// field per entity. The Subscription root mirrors the Query root so that a
// subscription re-evaluates the same selection shape per block.
func buildRootType(name string, s *Schema) *Type {
	root := &Type{Name: name, Kind: TypeKindObject}
	for _, entity := range s.entityOrder {
		root.Fields = append(root.Fields,
			&Field{
				Name: singularField(entity),
				Type: NamedType(entity),
				Arguments: []*InputValue{
					{Name: "id", Type: NonNullType(NamedType("ID"))},
					{Name: "block", Type: NamedType("Block_height")},
				},
			},
			&Field{
				Name: pluralField(entity),
				Type: NonNullType(ListType(NonNullType(NamedType(entity)))),
				Arguments: []*InputValue{
					{Name: "first", Type: NamedType("Int")},
					{Name: "skip", Type: NamedType("Int")},
					{Name: "block", Type: NamedType("Block_height")},
				},
			},
		)
	}
	return root
}

func singularField(typeName string) string {
	r := []rune(typeName)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func pluralField(typeName string) string {
	n := singularField(typeName)
	switch {
	case strings.HasSuffix(n, "y"):
		return n[:len(n)-1] + "ies"
	case strings.HasSuffix(n, "s"):
		return n + "es"
	default:
		return n + "s"
	}
}
