package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	query "github.com/hanpama/blockgraph/internal/query"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func apply(t *testing.T, s *Store, b BlockPtr, changes ...EntityChange) {
	t.Helper()
	if err := s.ApplyBlock(b, changes); err != nil {
		t.Fatalf("ApplyBlock(#%d): %v", b.Number, err)
	}
}

func TestApplyBlock(t *testing.T) {
	t.Run("Advances the head", func(t *testing.T) {
		s := openTestStore(t)
		if _, ok := s.Head(); ok {
			t.Fatal("fresh store should have no head")
		}
		apply(t, s, BlockPtr{Number: 1, Hash: "0x01"})
		head, ok := s.Head()
		if !ok || head != (BlockPtr{Number: 1, Hash: "0x01"}) {
			t.Fatalf("Head() = %v, %v", head, ok)
		}
	})

	t.Run("Rejects non-increasing block numbers", func(t *testing.T) {
		s := openTestStore(t)
		apply(t, s, BlockPtr{Number: 5, Hash: "0x05"})
		if err := s.ApplyBlock(BlockPtr{Number: 5, Hash: "0x05b"}, nil); err == nil {
			t.Fatal("expected error for same block number")
		}
		if err := s.ApplyBlock(BlockPtr{Number: 4, Hash: "0x04"}, nil); err == nil {
			t.Fatal("expected error for lower block number")
		}
	})

	t.Run("Rejects blocks without a hash", func(t *testing.T) {
		s := openTestStore(t)
		if err := s.ApplyBlock(BlockPtr{Number: 1}, nil); err == nil {
			t.Fatal("expected error for empty hash")
		}
	})

	t.Run("Fails after close", func(t *testing.T) {
		s, err := OpenInMemory()
		if err != nil {
			t.Fatalf("OpenInMemory: %v", err)
		}
		s.Close()
		if err := s.ApplyBlock(BlockPtr{Number: 1, Hash: "0x01"}, nil); err == nil {
			t.Fatal("expected error on closed store")
		}
	})
}

func TestSnapshotReads(t *testing.T) {
	s := openTestStore(t)
	apply(t, s, BlockPtr{Number: 10, Hash: "0x0a"},
		EntityChange{Type: "Token", ID: "t1", Data: map[string]any{"id": "t1", "symbol": "AAA"}},
	)
	apply(t, s, BlockPtr{Number: 20, Hash: "0x14"},
		EntityChange{Type: "Token", ID: "t1", Data: map[string]any{"id": "t1", "symbol": "BBB"}},
		EntityChange{Type: "Token", ID: "t2", Data: map[string]any{"id": "t2", "symbol": "CCC"}},
	)
	apply(t, s, BlockPtr{Number: 30, Hash: "0x1e"},
		EntityChange{Type: "Token", ID: "t1", Data: nil}, // delete
	)

	ctx := context.Background()

	bindAt := func(t *testing.T, bc query.BlockConstraint) *Resolver {
		t.Helper()
		r, berr := s.Bind("dep", bc)
		if berr != nil {
			t.Fatalf("Bind(%s): %v", bc, berr)
		}
		return r
	}

	t.Run("Reads the version as of the pinned block", func(t *testing.T) {
		r := bindAt(t, query.BlockByNumber(10))
		got, err := r.Get(ctx, "Token", "t1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got["symbol"] != "AAA" {
			t.Fatalf("symbol = %v, want AAA at block 10", got["symbol"])
		}

		r = bindAt(t, query.BlockByNumber(20))
		got, err = r.Get(ctx, "Token", "t1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got["symbol"] != "BBB" {
			t.Fatalf("symbol = %v, want BBB at block 20", got["symbol"])
		}
	})

	t.Run("Entity not yet created reads as nil", func(t *testing.T) {
		r := bindAt(t, query.BlockByNumber(10))
		got, err := r.Get(ctx, "Token", "t2")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != nil {
			t.Fatalf("t2 should not exist at block 10, got %v", got)
		}
	})

	t.Run("Deleted entity reads as nil from the deletion block on", func(t *testing.T) {
		r := bindAt(t, query.BlockByNumber(30))
		got, err := r.Get(ctx, "Token", "t1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != nil {
			t.Fatalf("t1 should be deleted at block 30, got %v", got)
		}
	})

	t.Run("List respects the snapshot", func(t *testing.T) {
		r := bindAt(t, query.BlockByNumber(20))
		got, err := r.List(ctx, "Token", "", nil, 10, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var symbols []string
		for _, e := range got {
			symbols = append(symbols, e["symbol"].(string))
		}
		if diff := cmp.Diff([]string{"BBB", "CCC"}, symbols); diff != "" {
			t.Fatalf("List at 20 mismatch (-want +got):\n%s", diff)
		}

		r = bindAt(t, query.BlockByNumber(30))
		got, err = r.List(ctx, "Token", "", nil, 10, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 1 || got[0]["symbol"] != "CCC" {
			t.Fatalf("List at 30 = %v", got)
		}
	})

	t.Run("List filter and pagination", func(t *testing.T) {
		r := bindAt(t, query.LatestBlock())
		got, err := r.List(ctx, "Token", "symbol", "CCC", 10, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 1 || got[0]["id"] != "t2" {
			t.Fatalf("filtered List = %v", got)
		}

		got, err = r.List(ctx, "Token", "", nil, 10, 1)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("skip past the end should be empty, got %v", got)
		}
	})

	t.Run("Context cancellation aborts reads", func(t *testing.T) {
		r := bindAt(t, query.LatestBlock())
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := r.Get(cancelled, "Token", "t2"); err == nil {
			t.Fatal("expected context error")
		}
	})
}

func TestBind(t *testing.T) {
	t.Run("No indexed blocks is a bind error", func(t *testing.T) {
		s := openTestStore(t)
		_, berr := s.Bind("dep", query.LatestBlock())
		if berr == nil || berr.Kind != query.KindBind {
			t.Fatalf("err = %v", berr)
		}
	})

	t.Run("Latest binds the head", func(t *testing.T) {
		s := openTestStore(t)
		apply(t, s, BlockPtr{Number: 7, Hash: "0x07"})
		r, berr := s.Bind("dep", query.LatestBlock())
		if berr != nil {
			t.Fatalf("Bind: %v", berr)
		}
		if r.Block() != (BlockPtr{Number: 7, Hash: "0x07"}) {
			t.Fatalf("Block() = %v", r.Block())
		}
		if r.SchemaID() != "dep" {
			t.Fatalf("SchemaID() = %q", r.SchemaID())
		}
	})

	t.Run("Future block number is a constraint error", func(t *testing.T) {
		s := openTestStore(t)
		apply(t, s, BlockPtr{Number: 7, Hash: "0x07"})
		_, berr := s.Bind("dep", query.BlockByNumber(8))
		if berr == nil || berr.Kind != query.KindConstraint {
			t.Fatalf("err = %v", berr)
		}
		if !strings.Contains(berr.Message, "beyond the latest indexed block") {
			t.Fatalf("message = %q", berr.Message)
		}
	})

	t.Run("Unknown hash is a constraint error", func(t *testing.T) {
		s := openTestStore(t)
		apply(t, s, BlockPtr{Number: 7, Hash: "0x07"})
		_, berr := s.Bind("dep", query.BlockByHash("0xff"))
		if berr == nil || berr.Kind != query.KindConstraint {
			t.Fatalf("err = %v", berr)
		}
	})

	t.Run("Known hash binds its block", func(t *testing.T) {
		s := openTestStore(t)
		apply(t, s, BlockPtr{Number: 7, Hash: "0x07"})
		apply(t, s, BlockPtr{Number: 8, Hash: "0x08"})
		r, berr := s.Bind("dep", query.BlockByHash("0x07"))
		if berr != nil {
			t.Fatalf("Bind: %v", berr)
		}
		if r.Block().Number != 7 {
			t.Fatalf("Block() = %v", r.Block())
		}
	})

	t.Run("Missing block index is a bind error", func(t *testing.T) {
		s := openTestStore(t)
		apply(t, s, BlockPtr{Number: 10, Hash: "0x0a"})
		// Block 5 was never indexed under this head.
		_, berr := s.Bind("dep", query.BlockByNumber(5))
		if berr == nil || berr.Kind != query.KindBind {
			t.Fatalf("err = %v", berr)
		}
	})

	t.Run("Closed store is a bind error", func(t *testing.T) {
		s, err := OpenInMemory()
		if err != nil {
			t.Fatalf("OpenInMemory: %v", err)
		}
		apply(t, s, BlockPtr{Number: 1, Hash: "0x01"})
		s.Close()
		if _, berr := s.Bind("dep", query.LatestBlock()); berr == nil || berr.Kind != query.KindBind {
			t.Fatalf("err = %v", berr)
		}
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("Delivers head updates", func(t *testing.T) {
		s := openTestStore(t)
		ch, cancel := s.Subscribe()
		defer cancel()

		apply(t, s, BlockPtr{Number: 1, Hash: "0x01"})
		select {
		case b := <-ch:
			if b.Number != 1 {
				t.Fatalf("got block %v", b)
			}
		case <-time.After(time.Second):
			t.Fatal("no head update delivered")
		}
	})

	t.Run("Slow receivers observe the newest head", func(t *testing.T) {
		s := openTestStore(t)
		ch, cancel := s.Subscribe()
		defer cancel()

		apply(t, s, BlockPtr{Number: 1, Hash: "0x01"})
		apply(t, s, BlockPtr{Number: 2, Hash: "0x02"})
		apply(t, s, BlockPtr{Number: 3, Hash: "0x03"})

		var last BlockPtr
		for {
			select {
			case b := <-ch:
				last = b
				continue
			case <-time.After(50 * time.Millisecond):
			}
			break
		}
		if last.Number != 3 {
			t.Fatalf("latest delivered head = %v, want #3", last)
		}
	})

	t.Run("Cancel closes the channel", func(t *testing.T) {
		s := openTestStore(t)
		ch, cancel := s.Subscribe()
		cancel()
		if _, ok := <-ch; ok {
			t.Fatal("channel should be closed after cancel")
		}
	})

	t.Run("Close closes all subscriber channels", func(t *testing.T) {
		s, err := OpenInMemory()
		if err != nil {
			t.Fatalf("OpenInMemory: %v", err)
		}
		ch, _ := s.Subscribe()
		s.Close()
		if _, ok := <-ch; ok {
			t.Fatal("channel should be closed after store close")
		}
	})
}

func TestLiveResolver(t *testing.T) {
	s := openTestStore(t)
	live, berr := s.BindLive("dep")
	if berr != nil {
		t.Fatalf("BindLive: %v", berr)
	}

	t.Run("AtHead before any block is a bind error", func(t *testing.T) {
		if _, err := live.AtHead(); err == nil || err.Kind != query.KindBind {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("AtHead pins the current head per call", func(t *testing.T) {
		apply(t, s, BlockPtr{Number: 1, Hash: "0x01"})
		r1, err := live.AtHead()
		if err != nil {
			t.Fatalf("AtHead: %v", err)
		}
		apply(t, s, BlockPtr{Number: 2, Hash: "0x02"})
		r2, err := live.AtHead()
		if err != nil {
			t.Fatalf("AtHead: %v", err)
		}
		if r1.Block().Number != 1 || r2.Block().Number != 2 {
			t.Fatalf("snapshots = %v, %v", r1.Block(), r2.Block())
		}
	})
}
