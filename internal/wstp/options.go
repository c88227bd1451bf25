package wstp

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Options configures the websocket transport behavior.
//
// Defaults:
// - Dialer:           websocket.DefaultDialer
// - HandshakeTimeout: 10s (dial + connection_ack)
// - WriteTimeout:     10s
type Options struct {
	URL              string
	Dialer           *websocket.Dialer
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// ConnectionParams is sent as the connection_init payload; servers
	// commonly use it for auth.
	ConnectionParams map[string]any
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Dialer:           websocket.DefaultDialer,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

func WithURL(url string) Option                      { return func(o *Options) { o.URL = url } }
func WithDialer(d *websocket.Dialer) Option          { return func(o *Options) { o.Dialer = d } }
func WithHeader(h http.Header) Option                { return func(o *Options) { o.Header = h } }
func WithHandshakeTimeout(d time.Duration) Option    { return func(o *Options) { o.HandshakeTimeout = d } }
func WithWriteTimeout(d time.Duration) Option        { return func(o *Options) { o.WriteTimeout = d } }
func WithConnectionParams(p map[string]any) Option   { return func(o *Options) { o.ConnectionParams = p } }
