package language

import (
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ParseQuery parses an executable GraphQL document (queries, mutations,
// subscriptions, fragments). No schema validation is performed; the client
// trusts the server to reject documents it cannot serve.
func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ValueToGo converts an AST value to a plain Go value, resolving variable
// references through the supplied variable map.
func ValueToGo(value *Value, variables map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case Variable:
		if v, ok := variables[value.Raw]; ok {
			return v
		}
		return nil
	case IntValue:
		iv, _ := strconv.Atoi(value.Raw)
		return iv
	case FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case StringValue, BlockValue:
		return value.Raw
	case BooleanValue:
		return value.Raw == "true"
	case NullValue:
		return nil
	case EnumValue:
		return value.Raw
	case ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = ValueToGo(c.Value, variables)
		}
		return out
	case ObjectValue:
		m := make(map[string]any)
		for _, f := range value.Children {
			m[f.Name] = ValueToGo(f.Value, variables)
		}
		return m
	default:
		return nil
	}
}
