package store

import (
	query "github.com/hanpama/blockgraph/internal/query"
)

// Bind yields a resolver pinned to one (schema identity, block) pair. The
// constraint is resolved against chain state exactly once here; the returned
// resolver serves every read of one execution at that block.
//
// An unresolvable snapshot (future block, unknown hash) is a constraint
// error; an unavailable store or pruned block index is a bind error the
// caller may retry later.
func (s *Store) Bind(schemaID string, bc query.BlockConstraint) (*Resolver, *query.Error) {
	s.mu.RLock()
	closed, head, hasHead := s.closed, s.head, s.hasHead
	s.mu.RUnlock()
	if closed {
		return nil, query.Bindf("store is closed")
	}
	if !hasHead {
		return nil, query.Bindf("store has no indexed blocks yet")
	}

	switch {
	case bc.Latest:
		return &Resolver{store: s, schemaID: schemaID, block: head}, nil
	case bc.Hash != "":
		b, found, err := s.blockByHash(bc.Hash)
		if err != nil {
			return nil, query.Bindf("%s", err.Error())
		}
		if !found {
			return nil, query.Constraintf("no indexed block with hash %s", bc.Hash)
		}
		return &Resolver{store: s, schemaID: schemaID, block: b}, nil
	default:
		if bc.Number > head.Number {
			return nil, query.Constraintf("block #%d is beyond the latest indexed block #%d", bc.Number, head.Number)
		}
		b, found, err := s.blockByNumber(bc.Number)
		if err != nil {
			return nil, query.Bindf("%s", err.Error())
		}
		if !found {
			return nil, query.Bindf("block #%d has been pruned", bc.Number)
		}
		return &Resolver{store: s, schemaID: schemaID, block: b}, nil
	}
}

// BindLive yields a live-mode resolver for subscriptions: it tracks the
// advancing head instead of pinning a snapshot. Each re-evaluation cycle
// pins its own snapshot via AtHead.
func (s *Store) BindLive(schemaID string) (*LiveResolver, *query.Error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, query.Bindf("store is closed")
	}
	return &LiveResolver{store: s, schemaID: schemaID}, nil
}

// LiveResolver tracks the store head for a subscription.
type LiveResolver struct {
	store    *Store
	schemaID string
}

// AtHead pins a per-cycle snapshot at the current head.
func (l *LiveResolver) AtHead() (*Resolver, *query.Error) {
	return l.store.Bind(l.schemaID, query.LatestBlock())
}

// Updates returns the head-update channel driving re-evaluation cycles.
func (l *LiveResolver) Updates() (<-chan BlockPtr, func()) {
	return l.store.Subscribe()
}

// SchemaID returns the schema identity the live resolver serves.
func (l *LiveResolver) SchemaID() string { return l.schemaID }
