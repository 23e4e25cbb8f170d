// Package runner is the execution front-end: it turns a parsed, untrusted
// query or subscription into a governed execution. It resolves the effective
// limits, prepares the query under them, selects the block snapshot, binds a
// resolver to it, and delegates execution under one absolute deadline.
//
// The runner holds no cross-invocation state and is safe for concurrent use;
// every invocation owns its own prepared query and resolver.
package runner

import (
	"context"
	"time"

	config "github.com/hanpama/blockgraph/internal/config"
	eventbus "github.com/hanpama/blockgraph/internal/eventbus"
	events "github.com/hanpama/blockgraph/internal/events"
	executor "github.com/hanpama/blockgraph/internal/executor"
	limits "github.com/hanpama/blockgraph/internal/limits"
	query "github.com/hanpama/blockgraph/internal/query"
	store "github.com/hanpama/blockgraph/internal/store"
	subscription "github.com/hanpama/blockgraph/internal/subscription"
)

// Binder yields resolvers bound to one (schema identity, snapshot) pair, or
// a live-mode handle for subscriptions.
type Binder interface {
	Bind(schemaID string, bc query.BlockConstraint) (executor.Resolver, *query.Error)
	BindLive(schemaID string) (subscription.Live, *query.Error)
}

// Runner orchestrates query and subscription execution.
type Runner struct {
	binder   Binder
	defaults limits.Defaults

	prepare      func(*query.Query, *uint64, uint8) (*query.PreparedQuery, []*query.Error)
	executeQuery func(context.Context, *query.PreparedQuery, executor.Resolver, executor.Options) *query.Result
	executeSub   func(context.Context, *query.PreparedQuery, subscription.Live, subscription.Options) *query.Stream
}

// Option adjusts a Runner, mainly as a test seam for the collaborator stages.
type Option func(*Runner)

// WithBinder replaces the resolver binder.
func WithBinder(b Binder) Option { return func(r *Runner) { r.binder = b } }

// WithPreparer replaces the query preparation stage.
func WithPreparer(f func(*query.Query, *uint64, uint8) (*query.PreparedQuery, []*query.Error)) Option {
	return func(r *Runner) { r.prepare = f }
}

// WithQueryExecutor replaces the query execution stage.
func WithQueryExecutor(f func(context.Context, *query.PreparedQuery, executor.Resolver, executor.Options) *query.Result) Option {
	return func(r *Runner) { r.executeQuery = f }
}

// WithSubscriptionExecutor replaces the subscription execution stage.
func WithSubscriptionExecutor(f func(context.Context, *query.PreparedQuery, subscription.Live, subscription.Options) *query.Stream) Option {
	return func(r *Runner) { r.executeSub = f }
}

// New creates a runner over the given store with the configured process
// defaults. The defaults are fixed here and treated as constants afterwards.
func New(st *store.Store, cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		binder:       storeBinder{st},
		defaults:     cfg.Limits(),
		prepare:      query.Prepare,
		executeQuery: executor.Execute,
		executeSub:   subscription.Execute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunQuery executes a one-shot query under the process-default limits.
func (r *Runner) RunQuery(ctx context.Context, q *query.Query) *query.Result {
	return r.execute(ctx, q, limits.Overrides{})
}

// RunQueryWithLimits executes a one-shot query with per-call limit
// overrides. An explicit override always wins over a configured default,
// which wins over the built-in fallback.
func (r *Runner) RunQueryWithLimits(ctx context.Context, q *query.Query, overrides limits.Overrides) *query.Result {
	return r.execute(ctx, q, overrides)
}

func (r *Runner) execute(ctx context.Context, q *query.Query, overrides limits.Overrides) *query.Result {
	// The deadline is anchored at call start and shared by every downstream
	// read; it is never re-armed per stage.
	now := time.Now()
	l := limits.Resolve(overrides, r.defaults)
	deadline, _ := l.Deadline(now)

	pq, verrs := r.prepare(q, l.MaxComplexity, l.MaxDepth)
	if len(verrs) > 0 {
		return query.ErrResult(verrs...)
	}
	if pq.IsSubscription() {
		return query.ErrResult(query.Validationf("subscriptions must be executed through RunSubscription"))
	}

	bc, cerr := pq.BlockConstraint()
	if cerr != nil {
		return query.ErrResult(cerr)
	}

	resolver, berr := r.binder.Bind(q.Schema.ID, bc)
	if berr != nil {
		return query.ErrResult(berr)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{
		OperationName: pq.Operation.Name,
		Complexity:    pq.Complexity,
		Block:         bc.String(),
	})
	res := r.executeQuery(ctx, pq, resolver, executor.Options{
		Deadline: deadline,
		MaxFirst: l.MaxFirst,
	})
	var errs []error
	for _, e := range res.Errors {
		errs = append(errs, e)
	}
	eventbus.Publish(ctx, events.QueryFinish{
		OperationName: pq.Operation.Name,
		Block:         bc.String(),
		Errors:        errs,
		Duration:      time.Since(start),
	})
	return res
}

// RunSubscription validates a subscription and starts its live stream.
// Limits always come from the process defaults: subscriptions are long-lived
// and accept no per-call overrides. A preparation failure fails the call; a
// failure during a later cycle surfaces inside the stream instead.
func (r *Runner) RunSubscription(ctx context.Context, sub *query.Subscription) (*query.Stream, []*query.Error) {
	l := limits.Resolve(limits.Overrides{}, r.defaults)

	pq, verrs := r.prepare(sub.Query, l.MaxComplexity, l.MaxDepth)
	if len(verrs) > 0 {
		return nil, verrs
	}
	if !pq.IsSubscription() {
		return nil, []*query.Error{query.Validationf("operation is not a subscription")}
	}

	// No block constraint is pinned up front: a subscription binds in live
	// mode and pins a fresh snapshot per re-evaluation cycle.
	live, berr := r.binder.BindLive(sub.Query.Schema.ID)
	if berr != nil {
		return nil, []*query.Error{berr}
	}

	stream := r.executeSub(ctx, pq, live, subscription.Options{
		Timeout:  l.Timeout,
		MaxFirst: l.MaxFirst,
	})
	return stream, nil
}

// storeBinder adapts the store's concrete binding API to the Binder seam.
type storeBinder struct{ st *store.Store }

func (b storeBinder) Bind(schemaID string, bc query.BlockConstraint) (executor.Resolver, *query.Error) {
	res, err := b.st.Bind(schemaID, bc)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b storeBinder) BindLive(schemaID string) (subscription.Live, *query.Error) {
	live, err := b.st.BindLive(schemaID)
	if err != nil {
		return nil, err
	}
	return subscription.FromStore(live), nil
}
