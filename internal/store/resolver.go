package store

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
)

// Resolver serves entity reads at exactly one (schema identity, block) pair.
// It is owned by a single execution and never reused: a different execution
// gets its own resolver at its own snapshot.
type Resolver struct {
	store    *Store
	schemaID string
	block    BlockPtr
}

// Block returns the snapshot every read through this resolver observes.
func (r *Resolver) Block() BlockPtr { return r.block }

// SchemaID returns the schema identity the resolver is bound to.
func (r *Resolver) SchemaID() string { return r.schemaID }

// Get returns the entity's state as of the resolver's block, or nil if the
// entity does not exist (or was deleted) at that block.
func (r *Resolver) Get(ctx context.Context, entityType, id string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data map[string]any
	err := r.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := entityIDPrefix(entityType, id)
		// Seek to the newest version at or before the snapshot; versions are
		// ordered newest-first within the id.
		it.Seek(entityVersionKey(entityType, id, r.block.Number))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(v []byte) error {
			if len(v) == 0 {
				return nil // deleted as of this block
			}
			return json.Unmarshal(v, &data)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: get %s %s at %s: %w", entityType, id, r.block, err)
	}
	return data, nil
}

// List returns up to first entities of the given type visible at the
// resolver's block, in id order, skipping the first skip matches. A
// non-empty filterField restricts results to entities whose field equals
// filterValue (used for @derivedFrom reverse lookups).
func (r *Resolver) List(ctx context.Context, entityType, filterField string, filterValue any, first, skip int) ([]map[string]any, error) {
	var filter *fieldFilter
	if filterField != "" {
		filter = &fieldFilter{Field: filterField, Value: filterValue}
	}
	if first < 0 || skip < 0 {
		return nil, fmt.Errorf("store: negative pagination bounds")
	}
	if first == 0 {
		return nil, nil
	}
	var out []map[string]any
	err := r.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := entityPrefix(entityType)
		skipped := 0
		var checked int
		for it.Seek(prefix); it.ValidForPrefix(prefix); {
			checked++
			if checked%64 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			id, ok := entityIDFromKey(it.Item().Key(), entityType)
			if !ok {
				it.Next()
				continue
			}
			idPrefix := entityIDPrefix(entityType, id)

			// Jump to this id's newest version at or before the snapshot.
			it.Seek(entityVersionKey(entityType, id, r.block.Number))
			if it.ValidForPrefix(idPrefix) {
				var data map[string]any
				err := it.Item().Value(func(v []byte) error {
					if len(v) == 0 {
						return nil
					}
					return json.Unmarshal(v, &data)
				})
				if err != nil {
					return err
				}
				if data != nil && filter.matches(data) {
					if skipped < skip {
						skipped++
					} else {
						out = append(out, data)
						if len(out) >= first {
							return nil
						}
					}
				}
			}

			// Advance past every remaining version of this id.
			it.Seek(append(idPrefix, 0xff))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list %s at %s: %w", entityType, r.block, err)
	}
	return out, nil
}

// fieldFilter restricts a List to entities whose field equals a value.
type fieldFilter struct {
	Field string
	Value any
}

func (f *fieldFilter) matches(data map[string]any) bool {
	if f == nil {
		return true
	}
	return data[f.Field] == f.Value
}

// entityIDFromKey extracts the id component from an entity version key.
func entityIDFromKey(key []byte, entityType string) (string, bool) {
	prefix := entityPrefix(entityType)
	if len(key) < len(prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	for i, c := range rest {
		if c == keySep {
			return string(rest[:i]), true
		}
	}
	return "", false
}
