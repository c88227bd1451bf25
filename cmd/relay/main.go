package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/brandonmp/relay/internal/environment"
	"github.com/brandonmp/relay/internal/eventbus"
	"github.com/brandonmp/relay/internal/httptp"
	"github.com/brandonmp/relay/internal/otel"
	"github.com/brandonmp/relay/internal/store"
	"github.com/brandonmp/relay/internal/wstp"
)

const rootUsage = `relay — client-side GraphQL data layer & tools

USAGE:
  relay <command> [flags]

COMMANDS:
  exec             Run a query or mutation through the record store
  watch            Run a subscription and print each payload
  help             Show help for any command
`

const execUsage = `exec FLAGS:
  -endpoint <url>          GraphQL HTTP endpoint (required)
  -doc <file>              Executable document file, or "-" for stdin (required)
  -operation <name>        Operation name (required when the document has several)
  -variables <json>        Variable values as a JSON object
  -header <name: value>    Extra HTTP header. Repeatable
  -timeout <duration>      Request timeout, e.g. 10s (default: 10s)
  -pretty                  Pretty-print the JSON result
  -otel.endpoint <addr>    OTLP collector endpoint
  -otel.service <name>     OpenTelemetry service name (default: relay)
`

const watchUsage = `watch FLAGS:
  -ws.endpoint <url>       graphql-transport-ws endpoint (required)
  -doc <file>              Executable document file, or "-" for stdin (required)
  -operation <name>        Operation name (required when the document has several)
  -variables <json>        Variable values as a JSON object
  -pretty                  Pretty-print each JSON payload
  -otel.endpoint <addr>    OTLP collector endpoint
  -otel.service <name>     OpenTelemetry service name (default: relay)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}
	cmd := args[0]
	cmdArgs := args[1:]
	switch cmd {
	case "exec":
		return cmdExec(cmdArgs)
	case "watch":
		return cmdWatch(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "exec":
		fmt.Print(execUsage)
	case "watch":
		fmt.Print(watchUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type headerFlag []string

func (h *headerFlag) String() string { return "" }

func (h *headerFlag) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("invalid header %q", v)
	}
	*h = append(*h, v)
	return nil
}

func readDocument(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

func parseVariables(raw string) (map[string]any, error) {
	vars := map[string]any{}
	if raw == "" {
		return vars, nil
	}
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, fmt.Errorf("invalid -variables JSON: %w", err)
	}
	return vars, nil
}

func printJSON(v any, pretty bool) {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func cmdExec(args []string) error {
	endpoint := ""
	docPath := ""
	opName := ""
	variablesJSON := ""
	timeout := 10 * time.Second
	pretty := false
	otelEndpoint := ""
	otelService := "relay"
	var headers headerFlag

	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&endpoint, "endpoint", endpoint, "GraphQL HTTP endpoint")
	fs.StringVar(&docPath, "doc", docPath, "Executable document file")
	fs.StringVar(&opName, "operation", opName, "Operation name")
	fs.StringVar(&variablesJSON, "variables", variablesJSON, "Variable values as JSON")
	fs.Var(&headers, "header", "Extra HTTP header")
	fs.DurationVar(&timeout, "timeout", timeout, "Request timeout")
	fs.BoolVar(&pretty, "pretty", pretty, "Pretty-print the JSON result")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, execUsage)
		return err
	}
	if endpoint == "" || docPath == "" {
		fmt.Fprint(os.Stderr, execUsage)
		return fmt.Errorf("-endpoint and -doc are required")
	}

	text, err := readDocument(docPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	vars, err := parseVariables(variablesJSON)
	if err != nil {
		return err
	}
	op, err := environment.ParseOperation(text, opName)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	tpOpts := []httptp.Option{httptp.WithEndpoint(endpoint), httptp.WithRequestTimeout(timeout)}
	for _, h := range headers {
		parts := strings.SplitN(h, ":", 2)
		tpOpts = append(tpOpts, httptp.WithHeader(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])))
	}
	env := environment.New(environment.SplitNetwork{Fetcher: httptp.New(tpOpts...)}, store.New())

	done := make(chan error, 1)
	cb := environment.Callbacks{
		OnNext:      func(data map[string]any) { printJSON(data, pretty) },
		OnError:     func(err error) { done <- err },
		OnCompleted: func() { done <- nil },
	}

	ctx := context.Background()
	switch op.Kind() {
	case "mutation":
		env.SendMutation(ctx, environment.MutationConfig{
			Operation: op,
			Variables: vars,
			Callbacks: cb,
		})
	case "subscription":
		return fmt.Errorf("use 'relay watch' for subscriptions")
	default:
		env.SendQuery(ctx, op, vars, environment.CacheConfig{}, cb)
	}
	return <-done
}

func cmdWatch(args []string) error {
	wsEndpoint := ""
	docPath := ""
	opName := ""
	variablesJSON := ""
	pretty := false
	otelEndpoint := ""
	otelService := "relay"

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&wsEndpoint, "ws.endpoint", wsEndpoint, "graphql-transport-ws endpoint")
	fs.StringVar(&docPath, "doc", docPath, "Executable document file")
	fs.StringVar(&opName, "operation", opName, "Operation name")
	fs.StringVar(&variablesJSON, "variables", variablesJSON, "Variable values as JSON")
	fs.BoolVar(&pretty, "pretty", pretty, "Pretty-print each JSON payload")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, watchUsage)
		return err
	}
	if wsEndpoint == "" || docPath == "" {
		fmt.Fprint(os.Stderr, watchUsage)
		return fmt.Errorf("-ws.endpoint and -doc are required")
	}

	text, err := readDocument(docPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	vars, err := parseVariables(variablesJSON)
	if err != nil {
		return err
	}
	op, err := environment.ParseOperation(text, opName)
	if err != nil {
		return err
	}
	if op.Kind() != "subscription" {
		return fmt.Errorf("'relay watch' runs subscriptions; use 'relay exec' instead")
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	client := wstp.New(wstp.WithURL(wsEndpoint))
	defer client.Close()
	env := environment.New(environment.SplitNetwork{Subscriber: client}, store.New())

	done := make(chan error, 1)
	handle, err := env.SendSubscription(context.Background(), op, vars, environment.Callbacks{
		OnNext:      func(data map[string]any) { printJSON(data, pretty) },
		OnError:     func(err error) { done <- err },
		OnCompleted: func() { done <- nil },
	})
	if err != nil {
		return err
	}
	defer handle.Dispose()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	select {
	case err := <-done:
		return err
	case <-interrupt:
		log.Println("interrupted")
		return nil
	}
}
