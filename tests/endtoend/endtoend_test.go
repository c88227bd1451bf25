package endtoend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	environment "github.com/brandonmp/relay/internal/environment"
	httptp "github.com/brandonmp/relay/internal/httptp"
	store "github.com/brandonmp/relay/internal/store"
	wstp "github.com/brandonmp/relay/internal/wstp"
)

const awaitTimeout = 5 * time.Second

// counterServer is a toy GraphQL backend: one counter, queryable and
// settable over HTTP, streaming updates over graphql-transport-ws.
type counterServer struct {
	mu    sync.Mutex
	likes int

	httpSrv *httptest.Server
	wsSrv   *httptest.Server
}

func newCounterServer(t *testing.T) *counterServer {
	t.Helper()
	s := &counterServer{likes: 10}
	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.handleHTTP))
	t.Cleanup(s.httpSrv.Close)
	s.wsSrv = httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(s.wsSrv.Close)
	return s
}

func (s *counterServer) counterData() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"counter": map[string]any{"__typename": "Counter", "id": "counter:1", "likeCount": s.likes},
	}
}

func (s *counterServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OperationName string         `json:"operationName"`
		Variables     map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch req.OperationName {
	case "CounterQuery":
	case "SetLikes":
		value, ok := req.Variables["value"].(float64)
		if !ok {
			http.Error(w, "missing value", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.likes = int(value)
		s.mu.Unlock()
	default:
		http.Error(w, "unknown operation", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": s.counterData()})
}

// handleWS speaks just enough graphql-transport-ws to serve one
// subscription: ack the handshake, then push two counter values and
// complete.
func (s *counterServer) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{Subprotocols: []string{wstp.Subprotocol}}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var msg struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "connection_init" {
		return
	}
	if err := conn.WriteJSON(map[string]any{"type": "connection_ack"}); err != nil {
		return
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "subscribe" {
		return
	}
	for _, likes := range []int{11, 12} {
		payload := map[string]any{"data": map[string]any{
			"counter": map[string]any{"__typename": "Counter", "id": "counter:1", "likeCount": likes},
		}}
		if err := conn.WriteJSON(map[string]any{"id": msg.ID, "type": "next", "payload": payload}); err != nil {
			return
		}
	}
	_ = conn.WriteJSON(map[string]any{"id": msg.ID, "type": "complete"})

	// Hold the socket open until the client goes away.
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
	}
}

// gatedFetcher holds each Execute until the test releases it, so the test
// can observe pre-settlement state without racing the server.
type gatedFetcher struct {
	inner environment.Fetcher
	allow chan struct{}
}

func (g *gatedFetcher) Execute(ctx context.Context, req *environment.Request) (*environment.Response, error) {
	<-g.allow
	return g.inner.Execute(ctx, req)
}

func newClient(t *testing.T, s *counterServer, fetchGate chan struct{}) *environment.Environment {
	t.Helper()
	var fetcher environment.Fetcher = httptp.New(httptp.WithEndpoint(s.httpSrv.URL))
	if fetchGate != nil {
		fetcher = &gatedFetcher{inner: fetcher, allow: fetchGate}
	}
	return environment.New(environment.SplitNetwork{
		Fetcher:    fetcher,
		Subscriber: wstp.New(wstp.WithURL("ws" + strings.TrimPrefix(s.wsSrv.URL, "http"))),
	}, store.New())
}

func mustOp(t *testing.T, text, name string) *environment.Operation {
	t.Helper()
	op, err := environment.ParseOperation(text, name)
	require.NoError(t, err)
	return op
}

func likeCount(t *testing.T, env *environment.Environment) any {
	t.Helper()
	record, ok := env.Store().RecordCopy("counter:1")
	require.True(t, ok, "counter record missing")
	return record["likeCount"]
}

func await(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(awaitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestQueryThenMutationRoundTrip(t *testing.T) {
	srv := newCounterServer(t)
	gate := make(chan struct{}, 2)
	env := newClient(t, srv, gate)

	query := mustOp(t, `query CounterQuery { counter { id likeCount } }`, "CounterQuery")
	queried := make(chan struct{})
	gate <- struct{}{}
	env.SendQuery(context.Background(), query, nil, environment.CacheConfig{}, environment.Callbacks{
		OnCompleted: func() { close(queried) },
		OnError:     func(err error) { t.Errorf("query failed: %v", err) },
	})
	await(t, queried, "query completion")
	require.Equal(t, float64(10), likeCount(t, env))

	mutation := mustOp(t, `mutation SetLikes($value: Int!) { counter { id likeCount } }`, "SetLikes")
	mutated := make(chan struct{})
	env.SendMutation(context.Background(), environment.MutationConfig{
		Operation: mutation,
		Variables: map[string]any{"value": 42},
		OptimisticUpdater: func(m *store.Mutator) error {
			return m.SetValue("counter:1", "likeCount", float64(11))
		},
		Callbacks: environment.Callbacks{
			OnCompleted: func() { close(mutated) },
			OnError:     func(err error) { t.Errorf("mutation failed: %v", err) },
		},
	})
	// The optimistic guess lands before the server answers.
	require.Equal(t, float64(11), likeCount(t, env))

	gate <- struct{}{}
	await(t, mutated, "mutation completion")
	require.Equal(t, float64(42), likeCount(t, env))
}

func TestSubscriptionStreamsIntoStore(t *testing.T) {
	srv := newCounterServer(t)
	env := newClient(t, srv, nil)

	sub := mustOp(t, `subscription CounterFeed { counter { id likeCount } }`, "CounterFeed")
	payloads := make(chan map[string]any, 4)
	completed := make(chan struct{})
	d, err := env.SendSubscription(context.Background(), sub, nil, environment.Callbacks{
		OnNext:      func(data map[string]any) { payloads <- data },
		OnError:     func(err error) { t.Errorf("subscription failed: %v", err) },
		OnCompleted: func() { close(completed) },
	})
	require.NoError(t, err)
	defer d.Dispose()

	for _, want := range []float64{11, 12} {
		select {
		case data := <-payloads:
			counter := data["counter"].(map[string]any)
			require.Equal(t, want, counter["likeCount"])
		case <-time.After(awaitTimeout):
			t.Fatal("timed out waiting for subscription payload")
		}
	}
	await(t, completed, "subscription completion")
	require.Equal(t, float64(12), likeCount(t, env))
}
