package events

import "time"

// QueryStart is emitted before a query execution begins.
type QueryStart struct {
	OperationName string
	Complexity    uint64
	Block         string
}

// QueryFinish is emitted after a query execution completes.
type QueryFinish struct {
	OperationName string
	Block         string
	Errors        []error
	Duration      time.Duration
}

// SubscriptionStart is emitted when a subscription stream is established.
type SubscriptionStart struct {
	OperationName string
}

// SubscriptionCycle is emitted after each subscription re-evaluation cycle.
type SubscriptionCycle struct {
	OperationName string
	Block         string
	Errors        []error
	Duration      time.Duration
}
