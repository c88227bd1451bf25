package httptp

import (
	"net/http"
	"time"
)

// Options configures the HTTP transport behavior.
//
// Defaults:
// - Client:         http.DefaultClient
// - RequestTimeout: 10s (applied only when the context has no deadline)
type Options struct {
	Endpoint       string
	Client         *http.Client
	RequestTimeout time.Duration
	Headers        http.Header
}

// Option mutates Options
//
// Keep these tiny and orthogonal.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client:         http.DefaultClient,
		RequestTimeout: 10 * time.Second,
	}
}

func WithEndpoint(url string) Option            { return func(o *Options) { o.Endpoint = url } }
func WithClient(c *http.Client) Option          { return func(o *Options) { o.Client = c } }
func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }
func WithHeader(key, value string) Option {
	return func(o *Options) {
		if o.Headers == nil {
			o.Headers = http.Header{}
		}
		o.Headers.Add(key, value)
	}
}
