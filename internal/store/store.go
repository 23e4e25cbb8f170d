// Package store implements the block-versioned entity store and the
// snapshot-bound resolvers the executor reads through. Every entity write is
// keyed by the block that produced it, so any past block can be read as a
// consistent snapshot.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	badger "github.com/dgraph-io/badger/v3"

	eventbus "github.com/hanpama/blockgraph/internal/eventbus"
	events "github.com/hanpama/blockgraph/internal/events"
)

// BlockPtr identifies one indexed block.
type BlockPtr struct {
	Number uint64
	Hash   string
}

func (b BlockPtr) String() string { return fmt.Sprintf("#%d (%s)", b.Number, b.Hash) }

// EntityChange is one entity mutation within a block. Nil Data deletes the
// entity as of that block.
type EntityChange struct {
	Type string
	ID   string
	Data map[string]any
}

// Store is a badger-backed versioned entity store. It is safe for concurrent
// use; reads at different snapshots do not interfere.
type Store struct {
	db *badger.DB

	mu      sync.RWMutex
	head    BlockPtr
	hasHead bool
	closed  bool

	subMu  sync.Mutex
	subs   map[int]chan BlockPtr
	nextID int
}

// Open opens (or creates) a store at dir.
func Open(dir string) (*Store, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenInMemory opens an ephemeral store, used in tests.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	s := &Store{db: db, subs: map[int]chan BlockPtr{}}
	if err := s.loadHead(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store. Pending binds and reads fail afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	return s.db.Close()
}

// Head returns the latest indexed block, if any block has been applied.
func (s *Store) Head() (BlockPtr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, s.hasHead
}

// ApplyBlock atomically writes the entity changes produced by block b and
// advances the head. Blocks must be applied in increasing block-number order.
func (s *Store) ApplyBlock(b BlockPtr, changes []EntityChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}
	if s.hasHead && b.Number <= s.head.Number {
		return fmt.Errorf("store: block #%d is not after head #%d", b.Number, s.head.Number)
	}
	if b.Hash == "" {
		return fmt.Errorf("store: block #%d has no hash", b.Number)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockNumberKey(b.Number), []byte(b.Hash)); err != nil {
			return err
		}
		if err := txn.Set(blockHashKey(b.Hash), encodeUint64(b.Number)); err != nil {
			return err
		}
		for _, ch := range changes {
			var value []byte
			if ch.Data != nil {
				var err error
				value, err = json.Marshal(ch.Data)
				if err != nil {
					return fmt.Errorf("encode %s %s: %w", ch.Type, ch.ID, err)
				}
			}
			// Empty value is the deletion tombstone.
			if err := txn.Set(entityVersionKey(ch.Type, ch.ID, b.Number), value); err != nil {
				return err
			}
		}
		return txn.Set(headKey, append(encodeUint64(b.Number), []byte(b.Hash)...))
	})
	if err != nil {
		return fmt.Errorf("store: apply block #%d: %w", b.Number, err)
	}

	s.head = b
	s.hasHead = true
	s.notify(b)
	eventbus.Publish(context.Background(), events.BlockAdded{Number: b.Number, Hash: b.Hash, Changes: len(changes)})
	return nil
}

// Subscribe returns a channel that receives head updates. Slow receivers see
// a coalesced stream: intermediate heads may be skipped but the latest one is
// always delivered. The returned cancel releases the subscription.
func (s *Store) Subscribe() (<-chan BlockPtr, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan BlockPtr, 1)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) notify(b BlockPtr) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- b:
		default:
			// Replace the stale pending head with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- b:
			default:
			}
		}
	}
}

// blockByHash resolves a block hash to its pointer.
func (s *Store) blockByHash(hash string) (BlockPtr, bool, error) {
	var num uint64
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockHashKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			num = binary.BigEndian.Uint64(v)
			found = true
			return nil
		})
	})
	if err != nil {
		return BlockPtr{}, false, fmt.Errorf("store: block by hash: %w", err)
	}
	return BlockPtr{Number: num, Hash: hash}, found, nil
}

// blockByNumber resolves a block height to its pointer.
func (s *Store) blockByNumber(num uint64) (BlockPtr, bool, error) {
	var hash string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockNumberKey(num))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			hash = string(v)
			found = true
			return nil
		})
	})
	if err != nil {
		return BlockPtr{}, false, fmt.Errorf("store: block by number: %w", err)
	}
	return BlockPtr{Number: num, Hash: hash}, found, nil
}

func (s *Store) loadHead() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(headKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) < 8 {
				return fmt.Errorf("store: corrupt head record")
			}
			s.head = BlockPtr{Number: binary.BigEndian.Uint64(v[:8]), Hash: string(v[8:])}
			s.hasHead = true
			return nil
		})
	})
}

// Key layout. The separator byte must not occur in entity type names, ids,
// or block hashes.
//
//	h <head>                       -> number ++ hash
//	b 0x00 <number BE>             -> hash
//	x 0x00 <hash>                  -> number BE
//	e 0x00 <type> 0x00 <id> 0x00 <^number BE> -> JSON entity data ("" = deleted)
//
// Entity versions use the bitwise complement of the block number so that a
// forward iteration within one id visits newest versions first.
const keySep = 0x00

var headKey = []byte("h")

func blockNumberKey(num uint64) []byte {
	k := append([]byte{'b', keySep}, encodeUint64(num)...)
	return k
}

func blockHashKey(hash string) []byte {
	return append([]byte{'x', keySep}, hash...)
}

func entityPrefix(entityType string) []byte {
	k := append([]byte{'e', keySep}, entityType...)
	return append(k, keySep)
}

func entityIDPrefix(entityType, id string) []byte {
	k := append(entityPrefix(entityType), id...)
	return append(k, keySep)
}

func entityVersionKey(entityType, id string, number uint64) []byte {
	return append(entityIDPrefix(entityType, id), encodeUint64(math.MaxUint64-number)...)
}

func encodeUint64(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
