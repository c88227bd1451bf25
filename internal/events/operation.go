package events

import "time"

// OperationStart is emitted when the environment begins a query, mutation or
// subscription.
type OperationStart struct {
	Kind string // "query", "mutation", "subscription"
	Name string
}

// OperationFinish is emitted when an operation reaches a terminal state.
// Suppressed marks a resolution that arrived after the caller disposed the
// operation and therefore produced no observable effect.
type OperationFinish struct {
	Kind       string
	Name       string
	Err        error
	Suppressed bool
	Duration   time.Duration
}

// OperationWarning is emitted for errors that do not fail an operation: a
// response that carried both data and errors (the payload was committed), or
// an optimistic updater whose re-run failed and whose update was dropped.
type OperationWarning struct {
	Kind   string
	Name   string
	Errors []error
}

// StorePublish is emitted after a publish-queue run flushed a batch to the
// store.
type StorePublish struct {
	UpdatedRecords int
}
