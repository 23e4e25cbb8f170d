// Package subscription runs prepared subscriptions as a live sequence of
// results, re-executing the query once per head-block advance.
package subscription

import (
	"context"
	"time"

	eventbus "github.com/hanpama/blockgraph/internal/eventbus"
	events "github.com/hanpama/blockgraph/internal/events"
	executor "github.com/hanpama/blockgraph/internal/executor"
	query "github.com/hanpama/blockgraph/internal/query"
	store "github.com/hanpama/blockgraph/internal/store"
)

// Live provides the per-cycle snapshots of one subscription: a fresh
// head-pinned resolver for each cycle and the update channel that triggers
// re-evaluation.
type Live interface {
	AtHead() (executor.Resolver, *query.Error)
	Updates() (<-chan store.BlockPtr, func())
}

// FromStore adapts a store live resolver to the Live interface.
func FromStore(l *store.LiveResolver) Live { return storeLive{l} }

type storeLive struct{ l *store.LiveResolver }

func (s storeLive) AtHead() (executor.Resolver, *query.Error) {
	r, err := s.l.AtHead()
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s storeLive) Updates() (<-chan store.BlockPtr, func()) { return s.l.Updates() }

// Options carries the process-default limits a subscription runs under.
// Timeout bounds each re-evaluation cycle, not the subscription's lifetime.
type Options struct {
	Timeout  time.Duration
	MaxFirst uint32
}

// Execute starts the live evaluation loop. The first cycle runs immediately;
// afterwards one cycle runs per head update, always reading the head at
// cycle start so bursts coalesce. Cycle failures — including per-cycle
// deadline breaches — are emitted as error-valued elements and do not close
// the stream. The stream closes when ctx is cancelled, Cancel is called, or
// the store shuts down.
func Execute(ctx context.Context, pq *query.PreparedQuery, live Live, opts Options) *query.Stream {
	ctx, cancel := context.WithCancel(ctx)
	results := make(chan *query.Result, 1)
	updates, stop := live.Updates()

	eventbus.Publish(ctx, events.SubscriptionStart{OperationName: pq.Operation.Name})

	go func() {
		defer close(results)
		defer stop()

		if !runCycle(ctx, pq, live, opts, results) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-updates:
				if !ok {
					return
				}
				if !runCycle(ctx, pq, live, opts, results) {
					return
				}
			}
		}
	}()

	return &query.Stream{Results: results, Cancel: cancel}
}

// runCycle executes one re-evaluation cycle. It reports false when the
// subscription context ended and the loop should stop.
func runCycle(ctx context.Context, pq *query.PreparedQuery, live Live, opts Options, results chan<- *query.Result) bool {
	start := time.Now()

	resolver, bindErr := live.AtHead()
	if bindErr != nil {
		// Not fatal: the next head update retries the bind.
		return emit(ctx, results, query.ErrResult(query.Streamf("%s", bindErr.Message)))
	}

	execOpts := executor.Options{MaxFirst: opts.MaxFirst}
	if opts.Timeout > 0 {
		execOpts.Deadline = start.Add(opts.Timeout)
	}
	res := executor.Execute(ctx, pq, resolver, execOpts)

	var errs []error
	for _, e := range res.Errors {
		errs = append(errs, e)
	}
	eventbus.Publish(ctx, events.SubscriptionCycle{
		OperationName: pq.Operation.Name,
		Block:         blockOf(resolver),
		Errors:        errs,
		Duration:      time.Since(start),
	})

	return emit(ctx, results, res)
}

func emit(ctx context.Context, results chan<- *query.Result, res *query.Result) bool {
	select {
	case results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func blockOf(r executor.Resolver) string {
	if sr, ok := r.(*store.Resolver); ok {
		return sr.Block().String()
	}
	return ""
}
