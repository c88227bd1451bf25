package environment

import (
	"fmt"

	language "github.com/brandonmp/relay/internal/language"
	store "github.com/brandonmp/relay/internal/store"
)

// Operation is a parsed executable document plus the name of the definition
// to execute.
type Operation struct {
	Text     string
	Document *language.QueryDocument
	Name     string
}

// ParseOperation parses text and selects the named operation. An empty name
// is allowed when the document holds exactly one operation.
func ParseOperation(text, name string) (*Operation, error) {
	doc, err := language.ParseQuery(text)
	if err != nil {
		return nil, fmt.Errorf("environment: parse operation: %w", err)
	}
	op := &Operation{Text: text, Document: doc, Name: name}
	if op.Definition() == nil {
		return nil, fmt.Errorf("environment: operation %q not found in document", name)
	}
	return op, nil
}

// Definition returns the selected operation definition.
func (o *Operation) Definition() *language.OperationDefinition {
	def := o.Document.Operations.ForName(o.Name)
	if def == nil && o.Name == "" && len(o.Document.Operations) == 1 {
		def = o.Document.Operations[0]
	}
	return def
}

// Kind returns the operation type: query, mutation or subscription.
func (o *Operation) Kind() language.Operation {
	return o.Definition().Operation
}

// RootSelector builds the store selector for this operation's result.
func (o *Operation) RootSelector(variables map[string]any) store.Selector {
	return store.Selector{
		DataID:     store.RootID,
		Selections: o.Definition().SelectionSet,
		Fragments:  o.Document.Fragments,
		Variables:  variables,
	}
}

func (o *Operation) request(variables map[string]any, cfg CacheConfig) *Request {
	return &Request{
		Text:          o.Text,
		OperationName: o.Name,
		Variables:     variables,
		CacheConfig:   cfg,
	}
}
