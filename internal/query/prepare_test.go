package query

import (
	"strings"
	"testing"

	schema "github.com/hanpama/blockgraph/internal/schema"
)

const testSDL = `
type Token @entity {
  id: ID!
  symbol: String!
  decimals: Int
  owner: Account!
}

type Account @entity {
  id: ID!
  address: Bytes!
  balance: BigInt!
  tokens: [Token!]! @derivedFrom(field: "owner")
}
`

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL("test-deployment", "test.graphql", testSDL)
	if err != nil {
		t.Fatalf("BuildFromSDL: %v", err)
	}
	return s
}

func mustParse(t *testing.T, sch *schema.Schema, source string, vars map[string]any) *Query {
	t.Helper()
	q, errs := Parse(sch, source, "", vars)
	if len(errs) > 0 {
		t.Fatalf("Parse: %v", errs[0])
	}
	return q
}

func uint64p(v uint64) *uint64 { return &v }

func TestPrepare(t *testing.T) {
	sch := testSchema(t)

	t.Run("Scores fields at cost one", func(t *testing.T) {
		q := mustParse(t, sch, `{ token(id: "t1") { id symbol } }`, nil)
		pq, errs := Prepare(q, nil, 255)
		if len(errs) > 0 {
			t.Fatalf("Prepare: %v", errs[0])
		}
		// token + id + symbol
		if pq.Complexity != 3 {
			t.Fatalf("Complexity = %d, want 3", pq.Complexity)
		}
	})

	t.Run("List fields multiply by first", func(t *testing.T) {
		q := mustParse(t, sch, `{ tokens(first: 10) { id symbol } }`, nil)
		pq, errs := Prepare(q, nil, 255)
		if len(errs) > 0 {
			t.Fatalf("Prepare: %v", errs[0])
		}
		// tokens + 10 * (id + symbol)
		if pq.Complexity != 21 {
			t.Fatalf("Complexity = %d, want 21", pq.Complexity)
		}
	})

	t.Run("List fields without first assume the default size", func(t *testing.T) {
		q := mustParse(t, sch, `{ tokens { id } }`, nil)
		pq, errs := Prepare(q, nil, 255)
		if len(errs) > 0 {
			t.Fatalf("Prepare: %v", errs[0])
		}
		// tokens + 100 * id
		if pq.Complexity != 101 {
			t.Fatalf("Complexity = %d, want 101", pq.Complexity)
		}
	})

	t.Run("Complexity over budget fails preparation", func(t *testing.T) {
		q := mustParse(t, sch, `{ tokens(first: 10) { id symbol } }`, nil)
		_, errs := Prepare(q, uint64p(20), 255)
		if len(errs) != 1 {
			t.Fatalf("expected one error, got %v", errs)
		}
		if errs[0].Kind != KindValidation {
			t.Fatalf("Kind = %s", errs[0].Kind)
		}
		if !strings.Contains(errs[0].Message, "complexity 21") || !strings.Contains(errs[0].Message, "maximum of 20") {
			t.Fatalf("message = %q", errs[0].Message)
		}
	})

	t.Run("Complexity exactly at budget passes", func(t *testing.T) {
		q := mustParse(t, sch, `{ tokens(first: 10) { id symbol } }`, nil)
		_, errs := Prepare(q, uint64p(21), 255)
		if len(errs) > 0 {
			t.Fatalf("Prepare: %v", errs[0])
		}
	})

	t.Run("Depth over budget fails with a single error", func(t *testing.T) {
		q := mustParse(t, sch, `{ token(id: "t1") { owner { tokens { owner { id address } } } } }`, nil)
		_, errs := Prepare(q, nil, 3)
		if len(errs) != 1 {
			t.Fatalf("expected exactly one depth error, got %v", errs)
		}
		if !strings.Contains(errs[0].Message, "exceeding the maximum of 3") {
			t.Fatalf("message = %q", errs[0].Message)
		}
	})

	t.Run("Unknown field", func(t *testing.T) {
		q := mustParse(t, sch, `{ token(id: "t1") { nope } }`, nil)
		_, errs := Prepare(q, nil, 255)
		if len(errs) == 0 || !strings.Contains(errs[0].Message, `cannot query field "nope"`) {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("Unknown argument", func(t *testing.T) {
		q := mustParse(t, sch, `{ tokens(limit: 3) { id } }`, nil)
		_, errs := Prepare(q, nil, 255)
		if len(errs) == 0 || !strings.Contains(errs[0].Message, `unknown argument "limit"`) {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("Mutations are rejected", func(t *testing.T) {
		q, errs := Parse(sch, `mutation { token }`, "", nil)
		if len(errs) > 0 {
			t.Fatalf("Parse: %v", errs[0])
		}
		_, errs = Prepare(q, nil, 255)
		if len(errs) == 0 || !strings.Contains(errs[0].Message, "mutations are not supported") {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("Named operation lookup", func(t *testing.T) {
		source := `query A { token(id: "t1") { id } } query B { tokens { id } }`
		q, errs := Parse(sch, source, "B", nil)
		if len(errs) > 0 {
			t.Fatalf("Parse: %v", errs[0])
		}
		pq, perrs := Prepare(q, nil, 255)
		if len(perrs) > 0 {
			t.Fatalf("Prepare: %v", perrs[0])
		}
		if pq.Operation.Name != "B" {
			t.Fatalf("Operation = %q", pq.Operation.Name)
		}

		q, errs = Parse(sch, source, "C", nil)
		if len(errs) > 0 {
			t.Fatalf("Parse: %v", errs[0])
		}
		if _, perrs = Prepare(q, nil, 255); len(perrs) == 0 {
			t.Fatal("expected error for unknown operation name")
		}
	})

	t.Run("Fragments expand without adding depth", func(t *testing.T) {
		source := `
			{ token(id: "t1") { ...tokenFields } }
			fragment tokenFields on Token { id symbol }
		`
		q := mustParse(t, sch, source, nil)
		pq, errs := Prepare(q, nil, 2)
		if len(errs) > 0 {
			t.Fatalf("Prepare: %v", errs[0])
		}
		if pq.Complexity != 3 {
			t.Fatalf("Complexity = %d, want 3", pq.Complexity)
		}
	})

	t.Run("Fragment cycle", func(t *testing.T) {
		source := `
			{ token(id: "t1") { ...a } }
			fragment a on Token { ...b }
			fragment b on Token { ...a }
		`
		q := mustParse(t, sch, source, nil)
		_, errs := Prepare(q, nil, 255)
		if len(errs) == 0 || !strings.Contains(errs[0].Message, "cycle") {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("Missing required variable", func(t *testing.T) {
		q := mustParse(t, sch, `query($id: ID!) { token(id: $id) { id } }`, nil)
		_, errs := Prepare(q, nil, 255)
		if len(errs) == 0 || !strings.Contains(errs[0].Message, "$id") {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("Variable default applies", func(t *testing.T) {
		q := mustParse(t, sch, `query($id: ID! = "t1") { token(id: $id) { id } }`, nil)
		pq, errs := Prepare(q, nil, 255)
		if len(errs) > 0 {
			t.Fatalf("Prepare: %v", errs[0])
		}
		if pq.Variables["id"] != "t1" {
			t.Fatalf("Variables = %v", pq.Variables)
		}
	})

	t.Run("Subscription operations prepare against the Subscription root", func(t *testing.T) {
		q := mustParse(t, sch, `subscription { tokens { id } }`, nil)
		pq, errs := Prepare(q, nil, 255)
		if len(errs) > 0 {
			t.Fatalf("Prepare: %v", errs[0])
		}
		if !pq.IsSubscription() {
			t.Fatal("IsSubscription() = false")
		}
	})
}
