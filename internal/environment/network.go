package environment

import "context"

// CacheConfig carries cache directives for one request. The transport may
// interpret Force to bypass intermediary caching; the environment always
// forces mutations.
type CacheConfig struct {
	Force bool
}

// Request is the wire-level shape of one operation.
type Request struct {
	Text          string
	OperationName string
	Variables     map[string]any
	CacheConfig   CacheConfig
}

// GraphQLError is one entry of a response's errors list.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string { return e.Message }

// Response is the raw payload a transport returns: {data, errors}.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// Observer receives payloads from a streaming transport.
type Observer struct {
	OnNext      func(*Response)
	OnError     func(error)
	OnCompleted func()
}

// Disposable is a caller-held cancellation handle. Dispose is idempotent and
// suppresses every further observable effect of the operation it belongs to;
// it never cancels an in-flight network call.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a function to Disposable. The function itself must
// be idempotent.
type DisposableFunc func()

func (f DisposableFunc) Dispose() { f() }

// Fetcher executes one request and settles once.
type Fetcher interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Subscriber opens a stream of payloads for one request.
type Subscriber interface {
	Subscribe(ctx context.Context, req *Request, obs Observer) (Disposable, error)
}

// Network is the full transport contract.
type Network interface {
	Fetcher
	Subscriber
}

// SplitNetwork pairs a fetch-only transport with a subscribe-only one, e.g.
// HTTP for queries and mutations plus a websocket for subscriptions.
// Subscriber may be nil when the application never subscribes.
type SplitNetwork struct {
	Fetcher    Fetcher
	Subscriber Subscriber
}

var _ Network = SplitNetwork{}

func (n SplitNetwork) Execute(ctx context.Context, req *Request) (*Response, error) {
	return n.Fetcher.Execute(ctx, req)
}

func (n SplitNetwork) Subscribe(ctx context.Context, req *Request, obs Observer) (Disposable, error) {
	if n.Subscriber == nil {
		return nil, ErrSubscriptionsUnsupported
	}
	return n.Subscriber.Subscribe(ctx, req, obs)
}
