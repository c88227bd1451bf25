package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	language "github.com/brandonmp/relay/internal/language"
)

// Selector identifies what to read from (or write into) the record set: a
// root identity, a selection shape, the fragments the shape may spread, and
// the variable values the shape was issued with.
type Selector struct {
	DataID     DataID
	Selections language.SelectionSet
	Fragments  language.FragmentDefinitionList
	Variables  map[string]any
}

// OperationSelector builds the root selector for one operation of a parsed
// document.
func OperationSelector(doc *language.QueryDocument, operationName string, variables map[string]any) (Selector, error) {
	op := doc.Operations.ForName(operationName)
	if op == nil && operationName == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return Selector{}, fmt.Errorf("store: operation %q not found in document", operationName)
	}
	return Selector{
		DataID:     RootID,
		Selections: op.SelectionSet,
		Fragments:  doc.Fragments,
		Variables:  variables,
	}, nil
}

// Child derives a selector for a linked record using the same fragments and
// variables.
func (s Selector) Child(id DataID, selections language.SelectionSet) Selector {
	return Selector{DataID: id, Selections: selections, Fragments: s.Fragments, Variables: s.Variables}
}

// collectedField groups the AST fields that share one response key, in
// document order.
type collectedField struct {
	ResponseKey string
	Fields      []*language.Field
}

type collectedFieldMap struct {
	fields []collectedField
	index  map[string]int
}

func (cfm *collectedFieldMap) add(responseKey string, field *language.Field) {
	if idx, ok := cfm.index[responseKey]; ok {
		cfm.fields[idx].Fields = append(cfm.fields[idx].Fields, field)
		return
	}
	cfm.index[responseKey] = len(cfm.fields)
	cfm.fields = append(cfm.fields, collectedField{ResponseKey: responseKey, Fields: []*language.Field{field}})
}

// CollectFields flattens a selection set into ordered response-key groups,
// expanding fragments and honoring @skip/@include. typename is the concrete
// type of the record being read; fragments whose type condition names a
// different type are skipped. Without a schema the client cannot match
// interface conditions, so an unknown record typename matches every
// condition.
func (s Selector) CollectFields(typename string) []collectedField {
	cfm := &collectedFieldMap{index: make(map[string]int)}
	visited := make(map[string]bool)
	s.collect(s.Selections, typename, cfm, visited)
	return cfm.fields
}

func (s Selector) collect(selections language.SelectionSet, typename string, cfm *collectedFieldMap, visited map[string]bool) {
	for _, selection := range selections {
		switch sel := selection.(type) {
		case *language.Field:
			if !s.includes(sel.Directives) {
				continue
			}
			responseKey := sel.Alias
			if responseKey == "" {
				responseKey = sel.Name
			}
			cfm.add(responseKey, sel)

		case *language.InlineFragment:
			if !s.includes(sel.Directives) {
				continue
			}
			if !typeConditionMatches(sel.TypeCondition, typename) {
				continue
			}
			s.collect(sel.SelectionSet, typename, cfm, visited)

		case *language.FragmentSpread:
			if !s.includes(sel.Directives) {
				continue
			}
			if visited[sel.Name] {
				continue
			}
			visited[sel.Name] = true
			def := s.Fragments.ForName(sel.Name)
			if def == nil {
				continue
			}
			if !typeConditionMatches(def.TypeCondition, typename) {
				continue
			}
			if !s.includes(def.Directives) {
				continue
			}
			s.collect(def.SelectionSet, typename, cfm, visited)
		}
	}
}

func typeConditionMatches(condition, typename string) bool {
	return condition == "" || typename == "" || condition == typename
}

func (s Selector) includes(directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := directiveIf(skip, s.Variables); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := directiveIf(include, s.Variables); ok && !v {
			return false
		}
	}
	return true
}

func directiveIf(directive *language.Directive, variables map[string]any) (bool, bool) {
	for _, arg := range directive.Arguments {
		if arg.Name == "if" {
			v, ok := language.ValueToGo(arg.Value, variables).(bool)
			return v, ok
		}
	}
	return false, false
}

// StorageKey computes the key a field's value is stored under: the field name
// plus a canonical rendering of its argument values. Two fields with the same
// name and argument values share one storage slot regardless of alias.
func (s Selector) StorageKey(field *language.Field) string {
	if len(field.Arguments) == 0 {
		return field.Name
	}
	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		args[arg.Name] = language.ValueToGo(arg.Value, s.Variables)
	}
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(field.Name)
	b.WriteByte('(')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte(':')
		enc, err := json.Marshal(args[name])
		if err != nil {
			enc = []byte(fmt.Sprintf("%v", args[name]))
		}
		b.Write(enc)
	}
	b.WriteByte(')')
	return b.String()
}
