package schema

var stringType = &Type{
	Name:        "String",
	Kind:        TypeKindScalar,
	Description: "The `String` scalar type represents textual data, represented as UTF-8 character sequences.",
}

var intType = &Type{
	Name:        "Int",
	Kind:        TypeKindScalar,
	Description: "The `Int` scalar type represents non-fractional signed whole numeric values.",
}

var floatType = &Type{
	Name:        "Float",
	Kind:        TypeKindScalar,
	Description: "The `Float` scalar type represents signed double-precision fractional values.",
}

var booleanType = &Type{
	Name:        "Boolean",
	Kind:        TypeKindScalar,
	Description: "The `Boolean` scalar type represents `true` or `false`.",
}

var idType = &Type{
	Name:        "ID",
	Kind:        TypeKindScalar,
	Description: "The `ID` scalar type represents a unique identifier, often used to refetch an object or as a key for caching.",
}

var bigIntType = &Type{
	Name:        "BigInt",
	Kind:        TypeKindScalar,
	Description: "An arbitrary-precision integer, serialized as a decimal string.",
}

var bytesType = &Type{
	Name:        "Bytes",
	Kind:        TypeKindScalar,
	Description: "A byte array, serialized as a 0x-prefixed hex string.",
}

// blockArgumentInput is the input type of the root-field `block` argument
// that pins a query to one snapshot.
var blockArgumentInput = &Type{
	Name:        "Block_height",
	Kind:        TypeKindInputObject,
	Description: "Selects the block a query is evaluated against. At most one of `number` and `hash` may be set; absent means the latest block.",
	InputFields: []*InputValue{
		{Name: "number", Description: "Block number to pin the query to.", Type: NamedType("Int")},
		{Name: "hash", Description: "Block hash to pin the query to.", Type: NamedType("Bytes")},
	},
}

var includeDirective = &Directive{
	Name:        "include",
	Description: "Directs the executor to include this field or fragment only when the `if` argument is true.",
	Arguments: []*InputValue{
		{
			Name:        "if",
			Description: "Included when true.",
			Type:        NonNullType(NamedType("Boolean")),
		},
	},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var skipDirective = &Directive{
	Name:        "skip",
	Description: "Directs the executor to skip this field or fragment when the `if` argument is true.",
	Arguments: []*InputValue{
		{
			Name:        "if",
			Description: "Skipped when true.",
			Type:        NonNullType(NamedType("Boolean")),
		},
	},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var entityDirective = &Directive{
	Name:        "entity",
	Description: "Marks an object type as a stored entity with block-versioned history.",
	Locations:   []string{"OBJECT"},
}

var derivedFromDirective = &Directive{
	Name:        "derivedFrom",
	Description: "Declares a reverse-lookup field resolved through the named field on the target entity.",
	Arguments: []*InputValue{
		{
			Name:        "field",
			Description: "Field on the target entity that references this entity.",
			Type:        NonNullType(NamedType("String")),
		},
	},
	Locations: []string{"FIELD_DEFINITION"},
}
