// Package wstp is a graphql-transport-ws subscription transport. One
// websocket session multiplexes any number of live subscriptions, each keyed
// by a client-assigned id.
package wstp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	environment "github.com/brandonmp/relay/internal/environment"
	eventbus "github.com/brandonmp/relay/internal/eventbus"
	events "github.com/brandonmp/relay/internal/events"
)

// Subprotocol is the websocket subprotocol this client speaks.
const Subprotocol = "graphql-transport-ws"

// Message types of the graphql-transport-ws protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

var ErrClosed = errors.New("wstp: client closed")

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client lazily opens one websocket session on first Subscribe and reuses it
// until it drops; a later Subscribe reconnects.
type Client struct {
	opts *Options

	mu     sync.Mutex // session + registry state
	conn   *websocket.Conn
	subs   map[string]*subscription
	closed bool

	writeMu sync.Mutex // serializes frame writes
}

type subscription struct {
	id    string
	name  string
	obs   environment.Observer
	start time.Time
}

func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Client{opts: o, subs: make(map[string]*subscription)}
}

// Ensure we satisfy environment.Subscriber
var _ environment.Subscriber = (*Client)(nil)

// Subscribe registers the operation on the session and streams payloads to
// obs until the server completes, the session drops, or the returned handle
// is disposed. Disposing sends a complete frame and stops delivery; it is
// idempotent.
func (c *Client) Subscribe(ctx context.Context, req *environment.Request, obs environment.Observer) (environment.Disposable, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if err := c.ensureSessionLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sub := &subscription{id: uuid.NewString(), name: req.OperationName, obs: obs, start: time.Now()}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"query":         req.Text,
		"operationName": req.OperationName,
		"variables":     req.Variables,
	})
	if err != nil {
		c.unregister(sub.id)
		return nil, fmt.Errorf("wstp: encode subscribe: %w", err)
	}
	if err := c.write(wsMessage{ID: sub.id, Type: msgSubscribe, Payload: payload}); err != nil {
		c.unregister(sub.id)
		return nil, err
	}
	eventbus.Publish(ctx, events.SubscribeStart{ID: sub.id, OperationName: req.OperationName})

	var once sync.Once
	return environment.DisposableFunc(func() {
		once.Do(func() {
			if c.unregister(sub.id) == nil {
				return // already finished by the server
			}
			_ = c.write(wsMessage{ID: sub.id, Type: msgComplete})
			eventbus.Publish(context.Background(), events.SubscribeFinish{
				ID: sub.id, OperationName: sub.name, Duration: time.Since(sub.start),
			})
		})
	}), nil
}

// Close tears the session down. Live subscriptions observe ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// ensureSessionLocked dials and performs the init/ack handshake if no
// session is live. Caller holds c.mu.
func (c *Client) ensureSessionLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if c.opts.URL == "" {
		return fmt.Errorf("wstp: url not configured")
	}

	dialer := *c.opts.Dialer
	dialer.Subprotocols = []string{Subprotocol}
	dialer.HandshakeTimeout = c.opts.HandshakeTimeout
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return fmt.Errorf("wstp: dial %s: %w", c.opts.URL, err)
	}

	init := wsMessage{Type: msgConnectionInit}
	if c.opts.ConnectionParams != nil {
		if init.Payload, err = json.Marshal(c.opts.ConnectionParams); err != nil {
			conn.Close()
			return fmt.Errorf("wstp: encode connection params: %w", err)
		}
	}
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return fmt.Errorf("wstp: connection_init: %w", err)
	}
	_ = conn.SetReadDeadline(deadline)
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("wstp: awaiting connection_ack: %w", err)
	}
	if ack.Type != msgConnectionAck {
		conn.Close()
		return fmt.Errorf("wstp: expected connection_ack, got %q", ack.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	c.conn = conn
	eventbus.Publish(ctx, events.SocketConnect{URL: c.opts.URL})
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.sessionLost(conn, err)
			return
		}
		switch msg.Type {
		case msgPing:
			_ = c.write(wsMessage{Type: msgPong})
		case msgNext:
			var resp environment.Response
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				if sub := c.unregister(msg.ID); sub != nil {
					c.finish(sub, fmt.Errorf("wstp: decode next payload: %w", err))
				}
				continue
			}
			c.mu.Lock()
			sub := c.subs[msg.ID]
			c.mu.Unlock()
			if sub != nil {
				sub.obs.OnNext(&resp)
			}
		case msgError:
			var gqlErrs []environment.GraphQLError
			_ = json.Unmarshal(msg.Payload, &gqlErrs)
			if sub := c.unregister(msg.ID); sub != nil {
				c.finish(sub, subscriptionError(gqlErrs))
			}
		case msgComplete:
			if sub := c.unregister(msg.ID); sub != nil {
				c.finish(sub, nil)
			}
		}
	}
}

// sessionLost fails every live subscription once and clears the session so a
// later Subscribe reconnects.
func (c *Client) sessionLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn && !c.closed {
		c.mu.Unlock()
		return
	}
	if c.closed {
		err = ErrClosed
	}
	c.conn = nil
	orphans := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		orphans = append(orphans, sub)
	}
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	conn.Close()
	eventbus.Publish(context.Background(), events.SocketClose{URL: c.opts.URL, Err: err})
	for _, sub := range orphans {
		c.finish(sub, err)
	}
}

func (c *Client) finish(sub *subscription, err error) {
	if err != nil {
		sub.obs.OnError(err)
	} else {
		sub.obs.OnCompleted()
	}
	eventbus.Publish(context.Background(), events.SubscribeFinish{
		ID: sub.id, OperationName: sub.name, Err: err, Duration: time.Since(sub.start),
	})
}

// unregister removes and returns the subscription under id, or nil if it is
// no longer live.
func (c *Client) unregister(id string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.subs[id]
	delete(c.subs, id)
	return sub
}

func (c *Client) write(msg wsMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wstp: no live session")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return conn.WriteJSON(msg)
}

func subscriptionError(errs []environment.GraphQLError) error {
	if len(errs) == 0 {
		return fmt.Errorf("wstp: subscription failed")
	}
	msgs := make([]error, len(errs))
	for i, ge := range errs {
		msgs[i] = ge
	}
	return fmt.Errorf("wstp: subscription failed: %w", errors.Join(msgs...))
}
