package environment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSubscriptionsUnsupported is returned when the configured network has
	// no streaming transport.
	ErrSubscriptionsUnsupported = errors.New("environment: network does not support subscriptions")
)

// ResponseError reports a response that carried no data. It keeps the
// original errors list and the operation context for diagnosis.
type ResponseError struct {
	Operation string
	Variables map[string]any
	Errors    []GraphQLError
}

func (e *ResponseError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("environment: no data returned for operation %q", e.Operation)
	}
	msgs := make([]string, len(e.Errors))
	for i, ge := range e.Errors {
		msgs[i] = ge.Message
	}
	return fmt.Sprintf("environment: operation %q failed: %s", e.Operation, strings.Join(msgs, "; "))
}

// newResponseError builds a ResponseError, inserting a placeholder entry
// when the server returned neither data nor errors.
func newResponseError(operation string, variables map[string]any, errs []GraphQLError) *ResponseError {
	if len(errs) == 0 {
		errs = []GraphQLError{{Message: "server did not return data or errors"}}
	}
	return &ResponseError{Operation: operation, Variables: variables, Errors: errs}
}
