package environment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockNetwork implements Network with caller-controlled settlement: each
// Execute blocks until the test resolves or rejects the recorded call, and
// each Subscribe hands the test the observer to push payloads through.
type MockNetwork struct {
	mu     sync.Mutex
	calls  []*MockCall
	subs   []*MockSubscription
	callCh chan *MockCall
	subCh  chan *MockSubscription
}

func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		callCh: make(chan *MockCall, 16),
		subCh:  make(chan *MockSubscription, 16),
	}
}

type mockResult struct {
	resp *Response
	err  error
}

// MockCall is one pending Execute invocation.
type MockCall struct {
	Request *Request
	result  chan mockResult
}

func (c *MockCall) Resolve(resp *Response) { c.result <- mockResult{resp: resp} }
func (c *MockCall) Reject(err error)       { c.result <- mockResult{err: err} }

func (n *MockNetwork) Execute(ctx context.Context, req *Request) (*Response, error) {
	call := &MockCall{Request: req, result: make(chan mockResult, 1)}
	n.mu.Lock()
	n.calls = append(n.calls, call)
	n.mu.Unlock()
	n.callCh <- call
	r := <-call.result
	return r.resp, r.err
}

// AwaitCall waits for the next Execute to be issued. Returns nil on timeout.
func (n *MockNetwork) AwaitCall(timeout time.Duration) *MockCall {
	select {
	case c := <-n.callCh:
		return c
	case <-time.After(timeout):
		return nil
	}
}

// Calls returns every Execute recorded so far.
func (n *MockNetwork) Calls() []*MockCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*MockCall(nil), n.calls...)
}

// MockSubscription is one open Subscribe stream.
type MockSubscription struct {
	Request  *Request
	Observer Observer
	disposed atomic.Bool
}

func (s *MockSubscription) Push(resp *Response) { s.Observer.OnNext(resp) }
func (s *MockSubscription) Fail(err error)      { s.Observer.OnError(err) }
func (s *MockSubscription) Complete()           { s.Observer.OnCompleted() }
func (s *MockSubscription) Disposed() bool      { return s.disposed.Load() }

func (n *MockNetwork) Subscribe(ctx context.Context, req *Request, obs Observer) (Disposable, error) {
	sub := &MockSubscription{Request: req, Observer: obs}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	n.subCh <- sub
	return DisposableFunc(func() { sub.disposed.Store(true) }), nil
}

// AwaitSubscription waits for the next Subscribe. Returns nil on timeout.
func (n *MockNetwork) AwaitSubscription(timeout time.Duration) *MockSubscription {
	select {
	case s := <-n.subCh:
		return s
	case <-time.After(timeout):
		return nil
	}
}
