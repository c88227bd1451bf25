// Package httptp is a GraphQL-over-HTTP fetch transport: one POST per
// operation, JSON request and response bodies.
package httptp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	environment "github.com/brandonmp/relay/internal/environment"
	eventbus "github.com/brandonmp/relay/internal/eventbus"
	events "github.com/brandonmp/relay/internal/events"
)

type Transport struct {
	opts *Options
}

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Transport{opts: o}
}

// Ensure we satisfy environment.Fetcher
var _ environment.Fetcher = (*Transport)(nil)

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

func (t *Transport) Execute(ctx context.Context, req *environment.Request) (*environment.Response, error) {
	if t.opts.Endpoint == "" {
		return nil, fmt.Errorf("httptp: endpoint not configured")
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(graphQLRequest{
		Query:         req.Text,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("httptp: encode request: %w", err)
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httptp: build request: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	for key, values := range t.opts.Headers {
		for _, v := range values {
			hr.Header.Add(key, v)
		}
	}
	if req.CacheConfig.Force {
		hr.Header.Set("Cache-Control", "no-store")
	}

	start := time.Now()
	eventbus.Publish(ctx, events.FetchStart{URL: t.opts.Endpoint, OperationName: req.OperationName})
	resp, err := t.opts.Client.Do(hr)
	if err != nil {
		eventbus.Publish(ctx, events.FetchFinish{
			URL: t.opts.Endpoint, OperationName: req.OperationName, Err: err, Duration: time.Since(start),
		})
		return nil, fmt.Errorf("httptp: %w", err)
	}
	defer resp.Body.Close()

	raw, rerr := io.ReadAll(resp.Body)
	if rerr == nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		rerr = fmt.Errorf("httptp: server returned %s", resp.Status)
	}
	var out environment.Response
	if rerr == nil {
		if uerr := json.Unmarshal(raw, &out); uerr != nil {
			rerr = fmt.Errorf("httptp: decode response: %w", uerr)
		}
	}
	eventbus.Publish(ctx, events.FetchFinish{
		URL: t.opts.Endpoint, OperationName: req.OperationName,
		Status: resp.StatusCode, Err: rerr, Duration: time.Since(start),
	})
	if rerr != nil {
		return nil, rerr
	}
	return &out, nil
}
