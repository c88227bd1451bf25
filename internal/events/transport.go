package events

import "time"

// FetchStart is emitted before an HTTP fetch of one operation.
type FetchStart struct {
	URL           string
	OperationName string
}

// FetchFinish is emitted after an HTTP fetch settles.
type FetchFinish struct {
	URL           string
	OperationName string
	Status        int
	Err           error
	Duration      time.Duration
}

// SocketConnect is emitted after a websocket session is established and
// acknowledged.
type SocketConnect struct {
	URL string
}

// SocketClose is emitted when a websocket session ends. Err is nil on a
// clean close.
type SocketClose struct {
	URL string
	Err error
}

// SubscribeStart is emitted when a subscription is registered on a socket.
type SubscribeStart struct {
	ID            string
	OperationName string
}

// SubscribeFinish is emitted when a subscription ends, by server completion,
// error, or client dispose.
type SubscribeFinish struct {
	ID            string
	OperationName string
	Err           error
	Duration      time.Duration
}
