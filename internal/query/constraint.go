package query

import (
	language "github.com/hanpama/blockgraph/internal/language"
)

// BlockConstraint identifies the snapshot one query execution reads from.
// It is derived once per execution and never mutated mid-flight: every field
// read within the execution observes this same snapshot.
type BlockConstraint struct {
	// Latest selects the store head at bind time.
	Latest bool
	// Number pins the query to a block height (when Hash is empty and
	// Latest is false).
	Number uint64
	// Hash pins the query to a specific block hash.
	Hash string
}

// LatestBlock is the constraint selecting the store head.
func LatestBlock() BlockConstraint { return BlockConstraint{Latest: true} }

// BlockByNumber pins to a height.
func BlockByNumber(n uint64) BlockConstraint { return BlockConstraint{Number: n} }

// BlockByHash pins to a hash.
func BlockByHash(h string) BlockConstraint { return BlockConstraint{Hash: h} }

func (bc BlockConstraint) String() string {
	switch {
	case bc.Latest:
		return "latest"
	case bc.Hash != "":
		return bc.Hash
	default:
		return "#" + itoa(bc.Number)
	}
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// BlockConstraint derives the snapshot constraint from the prepared query's
// root-field `block` arguments. All root fields must agree; absent means
// latest. Conflicts and malformed arguments are constraint errors.
func (pq *PreparedQuery) BlockConstraint() (BlockConstraint, *Error) {
	var (
		found      bool
		constraint BlockConstraint
	)
	for _, field := range pq.rootFields() {
		arg := field.Arguments.ForName("block")
		if arg == nil || arg.Value == nil {
			continue
		}
		bc, err := constraintFromArgument(ValueFromAST(arg.Value, pq.Variables))
		if err != nil {
			return BlockConstraint{}, err
		}
		if found && bc != constraint {
			return BlockConstraint{}, Constraintf("all root fields must be constrained to the same block, got %s and %s", constraint, bc)
		}
		constraint, found = bc, true
	}
	if !found {
		return LatestBlock(), nil
	}
	return constraint, nil
}

// rootFields flattens the operation's top-level selection into fields,
// expanding fragments. Fragment validity was established at preparation.
func (pq *PreparedQuery) rootFields() []*language.Field {
	var out []*language.Field
	var expand func(set language.SelectionSet, seen map[string]bool)
	expand = func(set language.SelectionSet, seen map[string]bool) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *language.Field:
				out = append(out, s)
			case *language.InlineFragment:
				expand(s.SelectionSet, seen)
			case *language.FragmentSpread:
				if seen[s.Name] {
					continue
				}
				seen[s.Name] = true
				if frag := pq.Fragments[s.Name]; frag != nil {
					expand(frag.SelectionSet, seen)
				}
			}
		}
	}
	expand(pq.Operation.SelectionSet, map[string]bool{})
	return out
}

func constraintFromArgument(v any) (BlockConstraint, *Error) {
	m, ok := v.(map[string]any)
	if !ok {
		return BlockConstraint{}, Constraintf("`block` argument must be an object with `number` or `hash`")
	}
	number, hasNumber := m["number"]
	hash, hasHash := m["hash"]
	switch {
	case hasNumber && hasHash:
		return BlockConstraint{}, Constraintf("`block` argument must not set both `number` and `hash`")
	case hasNumber:
		n, ok := toBlockNumber(number)
		if !ok {
			return BlockConstraint{}, Constraintf("`block.number` must be a non-negative integer, got %v", number)
		}
		return BlockByNumber(n), nil
	case hasHash:
		h, ok := hash.(string)
		if !ok || h == "" {
			return BlockConstraint{}, Constraintf("`block.hash` must be a non-empty hex string")
		}
		return BlockByHash(h), nil
	default:
		return LatestBlock(), nil
	}
}

// toBlockNumber accepts the integer shapes a number can arrive in: int64 from
// document literals, float64 from JSON-decoded variables.
func toBlockNumber(v any) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 || n != float64(int64(n)) {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}
