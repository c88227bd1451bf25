// Package environment sequences network calls, optimistic application and
// publish-queue commits for queries, mutations and subscriptions, and hands
// the caller a cancel handle for every in-flight operation.
package environment

import (
	"context"
	"sync"
	"time"

	eventbus "github.com/brandonmp/relay/internal/eventbus"
	events "github.com/brandonmp/relay/internal/events"
	normalize "github.com/brandonmp/relay/internal/normalize"
	opid "github.com/brandonmp/relay/internal/opid"
	publish "github.com/brandonmp/relay/internal/publish"
	store "github.com/brandonmp/relay/internal/store"
)

// Callbacks receives the outcome of one operation. Nil members are skipped.
type Callbacks struct {
	OnNext      func(map[string]any)
	OnError     func(error)
	OnCompleted func()
}

// Environment is the façade over the network, the publish queue and the
// record store. One mutex serializes every queue and store mutation, so
// concurrent operations interleave only between whole steps, never inside
// one.
type Environment struct {
	mu      sync.Mutex
	network Network
	store   *store.Store
	queue   *publish.Queue
}

func New(network Network, st *store.Store) *Environment {
	return &Environment{network: network, store: st, queue: publish.NewQueue(st)}
}

func (e *Environment) Store() *store.Store { return e.store }

// Lookup reads a snapshot of the current published state.
func (e *Environment) Lookup(sel store.Selector) *store.Snapshot { return e.store.Lookup(sel) }

// Retain pins the selector's records against store garbage collection.
func (e *Environment) Retain(sel store.Selector) store.Disposable { return e.store.Retain(sel) }

// runLocked flushes the publish queue. Callers hold e.mu. Commits are always
// enqueued and run inside one lock hold, so the returned error can only come
// from the caller's own commit entries.
func (e *Environment) runLocked(ctx context.Context) error {
	updated, err := e.queue.Run()
	if len(updated) > 0 {
		eventbus.Publish(ctx, events.StorePublish{UpdatedRecords: len(updated)})
	}
	return err
}

// CommitPayload writes an already-fetched response into the store as
// confirmed data, without stripped-null handling.
func (e *Environment) CommitPayload(op *Operation, variables map[string]any, data map[string]any) error {
	sel := op.RootSelector(variables)
	payload, err := normalize.Normalize(sel, data, normalize.Options{})
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.CommitPayload(sel, payload, nil)
	return e.runLocked(context.Background())
}

// CommitUpdate runs a local store edit as confirmed data.
func (e *Environment) CommitUpdate(fn store.UpdaterFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.CommitPayload(store.Selector{DataID: store.RootID}, nil, fn)
	return e.runLocked(context.Background())
}

// ApplyUpdate applies a standalone optimistic update immediately. Disposing
// the returned handle reverts it; disposing twice is a no-op. An updater
// failure on first application is returned; a later failure, when some
// commit's re-layering invalidates the update, drops it and surfaces as an
// OperationWarning event.
func (e *Environment) ApplyUpdate(fn store.UpdaterFunc) (Disposable, error) {
	u := &publish.OptimisticUpdate{Updater: fn}
	var err error
	applying := true
	u.Dropped = func(dropErr error) {
		// Runs under e.mu, from whichever Run drops the update.
		if applying {
			err = dropErr
			return
		}
		eventbus.Publish(context.Background(), events.OperationWarning{Kind: "update", Errors: []error{dropErr}})
	}
	e.mu.Lock()
	e.queue.ApplyUpdate(u)
	_ = e.runLocked(context.Background())
	applying = false
	e.mu.Unlock()
	var once sync.Once
	return DisposableFunc(func() {
		once.Do(func() {
			e.mu.Lock()
			e.queue.RevertUpdate(u)
			_ = e.runLocked(context.Background())
			e.mu.Unlock()
		})
	}), err
}

// liveOperation ties one in-flight operation to its cancellation state.
// terminal is guarded by env.mu; once set, no further store writes or
// callbacks may happen for this operation.
type liveOperation struct {
	env        *Environment
	optimistic *publish.OptimisticUpdate
	transport  Disposable
	terminal   bool
}

func (l *liveOperation) Dispose() {
	e := l.env
	e.mu.Lock()
	if l.terminal {
		e.mu.Unlock()
		return
	}
	l.terminal = true
	if l.optimistic != nil {
		e.queue.RevertUpdate(l.optimistic)
		l.optimistic = nil
		_ = e.runLocked(context.Background())
	}
	transport := l.transport
	l.transport = nil
	e.mu.Unlock()
	if transport != nil {
		transport.Dispose()
	}
}

// SendQuery fetches a query, commits the normalized response, and reports
// through cb. Disposing the returned handle before settlement suppresses
// every effect of the eventual response; the network call itself is not
// cancelled.
func (e *Environment) SendQuery(ctx context.Context, op *Operation, variables map[string]any, cfg CacheConfig, cb Callbacks) Disposable {
	ctx, _ = opid.NewContext(ctx)
	start := time.Now()
	eventbus.Publish(ctx, events.OperationStart{Kind: "query", Name: op.Name})

	live := &liveOperation{env: e}
	go func() {
		resp, err := e.network.Execute(ctx, op.request(variables, cfg))
		e.settleFetch(ctx, live, fetchSettle{
			kind:      "query",
			op:        op,
			variables: variables,
			resp:      resp,
			err:       err,
			stripped:  true,
			cb:        cb,
			start:     start,
		})
	}()
	return live
}

// MutationConfig configures SendMutation.
type MutationConfig struct {
	Operation *Operation
	Variables map[string]any

	// OptimisticUpdater, when set, is applied to the store before the network
	// round trip and reverted on any terminal transition.
	OptimisticUpdater store.UpdaterFunc

	// Updater runs with store-write access when the confirmed payload is
	// committed, after the payload's own writes.
	Updater store.UpdaterFunc

	Callbacks Callbacks
}

// SendMutation runs the optimistic-update protocol: apply the guess, force
// the network, then either replace the guess with the confirmed payload or
// roll it back. Disposal before settlement rolls back and marks the
// operation inert.
func (e *Environment) SendMutation(ctx context.Context, cfg MutationConfig) Disposable {
	ctx, _ = opid.NewContext(ctx)
	op := cfg.Operation
	start := time.Now()
	eventbus.Publish(ctx, events.OperationStart{Kind: "mutation", Name: op.Name})

	live := &liveOperation{env: e}
	if cfg.OptimisticUpdater != nil {
		u := &publish.OptimisticUpdate{Updater: cfg.OptimisticUpdater}
		u.Dropped = func(err error) {
			// Runs under e.mu, from whichever Run drops the guess: the
			// initial application below, or a later commit invalidating it.
			live.optimistic = nil
			eventbus.Publish(ctx, events.OperationWarning{Kind: "mutation", Name: op.Name, Errors: []error{err}})
		}
		live.optimistic = u
		e.mu.Lock()
		e.queue.ApplyUpdate(u)
		_ = e.runLocked(ctx)
		e.mu.Unlock()
	}

	go func() {
		// Mutations are never served from cache.
		resp, err := e.network.Execute(ctx, op.request(cfg.Variables, CacheConfig{Force: true}))
		e.settleFetch(ctx, live, fetchSettle{
			kind:      "mutation",
			op:        op,
			variables: cfg.Variables,
			resp:      resp,
			err:       err,
			updater:   cfg.Updater,
			cb:        cfg.Callbacks,
			start:     start,
		})
	}()
	return live
}

type fetchSettle struct {
	kind      string
	op        *Operation
	variables map[string]any
	resp      *Response
	err       error
	updater   store.UpdaterFunc
	stripped  bool
	cb        Callbacks
	start     time.Time
}

// settleFetch is the single terminal transition for queries and mutations.
func (e *Environment) settleFetch(ctx context.Context, live *liveOperation, s fetchSettle) {
	e.mu.Lock()
	if live.terminal {
		e.mu.Unlock()
		eventbus.Publish(ctx, events.OperationFinish{
			Kind: s.kind, Name: s.op.Name, Suppressed: true, Duration: time.Since(s.start),
		})
		return
	}

	err := s.err
	var warnings []error
	if err == nil && s.resp.Data == nil {
		err = newResponseError(s.op.Name, s.variables, s.resp.Errors)
	}
	if err == nil {
		sel := s.op.RootSelector(s.variables)
		payload, nerr := normalize.Normalize(sel, s.resp.Data, normalize.Options{HandleStrippedNulls: s.stripped})
		if nerr != nil {
			err = nerr
		} else {
			if live.optimistic != nil {
				e.queue.RevertUpdate(live.optimistic)
				live.optimistic = nil
			}
			e.queue.CommitPayload(sel, payload, s.updater)
			err = e.runLocked(ctx)
			for _, ge := range s.resp.Errors {
				warnings = append(warnings, ge)
			}
		}
	}
	if err != nil && live.optimistic != nil {
		// Rollback is unconditional on any terminal failure.
		e.queue.RevertUpdate(live.optimistic)
		live.optimistic = nil
		_ = e.runLocked(ctx)
	}
	live.terminal = true
	e.mu.Unlock()

	if len(warnings) > 0 {
		eventbus.Publish(ctx, events.OperationWarning{Kind: s.kind, Name: s.op.Name, Errors: warnings})
	}
	if err != nil {
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
	} else {
		if s.cb.OnNext != nil {
			s.cb.OnNext(s.resp.Data)
		}
		if s.cb.OnCompleted != nil {
			s.cb.OnCompleted()
		}
	}
	eventbus.Publish(ctx, events.OperationFinish{
		Kind: s.kind, Name: s.op.Name, Err: err, Duration: time.Since(s.start),
	})
}

// SendSubscription opens a payload stream. Each arriving payload is
// committed independently; disposal stops future processing without undoing
// already-committed payloads.
func (e *Environment) SendSubscription(ctx context.Context, op *Operation, variables map[string]any, cb Callbacks) (Disposable, error) {
	ctx, _ = opid.NewContext(ctx)
	start := time.Now()
	eventbus.Publish(ctx, events.OperationStart{Kind: "subscription", Name: op.Name})

	live := &liveOperation{env: e}
	finish := func(err error, suppressed bool) {
		eventbus.Publish(ctx, events.OperationFinish{
			Kind: "subscription", Name: op.Name, Err: err, Suppressed: suppressed, Duration: time.Since(start),
		})
	}

	obs := Observer{
		OnNext: func(resp *Response) {
			e.mu.Lock()
			if live.terminal {
				e.mu.Unlock()
				return
			}
			if resp.Data == nil {
				e.mu.Unlock()
				var errs []error
				for _, ge := range resp.Errors {
					errs = append(errs, ge)
				}
				eventbus.Publish(ctx, events.OperationWarning{Kind: "subscription", Name: op.Name, Errors: errs})
				return
			}
			sel := op.RootSelector(variables)
			payload, nerr := normalize.Normalize(sel, resp.Data, normalize.Options{HandleStrippedNulls: true})
			if nerr != nil {
				live.terminal = true
				transport := live.transport
				live.transport = nil
				e.mu.Unlock()
				if transport != nil {
					transport.Dispose()
				}
				if cb.OnError != nil {
					cb.OnError(nerr)
				}
				finish(nerr, false)
				return
			}
			e.queue.CommitPayload(sel, payload, nil)
			_ = e.runLocked(ctx)
			warn := len(resp.Errors) > 0
			e.mu.Unlock()

			if warn {
				var errs []error
				for _, ge := range resp.Errors {
					errs = append(errs, ge)
				}
				eventbus.Publish(ctx, events.OperationWarning{Kind: "subscription", Name: op.Name, Errors: errs})
			}
			if cb.OnNext != nil {
				cb.OnNext(resp.Data)
			}
		},
		OnError: func(err error) {
			e.mu.Lock()
			if live.terminal {
				e.mu.Unlock()
				finish(err, true)
				return
			}
			live.terminal = true
			e.mu.Unlock()
			if cb.OnError != nil {
				cb.OnError(err)
			}
			finish(err, false)
		},
		OnCompleted: func() {
			e.mu.Lock()
			if live.terminal {
				e.mu.Unlock()
				finish(nil, true)
				return
			}
			live.terminal = true
			e.mu.Unlock()
			if cb.OnCompleted != nil {
				cb.OnCompleted()
			}
			finish(nil, false)
		},
	}

	transport, err := e.network.Subscribe(ctx, op.request(variables, CacheConfig{}), obs)
	if err != nil {
		finish(err, false)
		return nil, err
	}

	e.mu.Lock()
	if live.terminal {
		// Stream already ended before Subscribe returned.
		e.mu.Unlock()
		transport.Dispose()
		return live, nil
	}
	live.transport = transport
	e.mu.Unlock()
	return live, nil
}
