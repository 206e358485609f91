package parse

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/thought-machine/forge/core"
)

// toGo converts a starlark.Value produced by evaluating a build file into
// its plain-Go representation, the form core.RawTargetNode.Attrs stores
// values in. Lists become []interface{}, dicts become map[string]interface{},
// and selectValue unwraps to a core.SelectorList so the resolver (which
// operates purely on core types, never on starlark.Value) can treat it
// uniformly regardless of whether it came from a literal or a select().
func toGo(v starlark.Value) (interface{}, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		i, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", x.String())
		}
		return int(i), nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		out := make([]interface{}, 0, x.Len())
		for i := 0; i < x.Len(); i++ {
			elem, err := toGo(x.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]interface{}, 0, len(x))
		for _, elem := range x {
			conv, err := toGo(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, conv)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, x.Len())
		for _, item := range x.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("non-string dict key %v is not supported", item[0])
			}
			val, err := toGo(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil
	case *selectValue:
		return x.list, nil
	case *structValue:
		return x.fields, nil
	default:
		return nil, fmt.Errorf("value of type %s is not a supported build-file attribute type", v.Type())
	}
}

// toStringSlice coerces a raw attribute value (already run through toGo)
// into a []string, the common shape for srcs/deps/visibility.
func toStringSlice(raw interface{}) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		if s, ok := raw.(string); ok {
			return []string{s}, nil
		}
		return nil, fmt.Errorf("expected a list of strings, got %T", raw)
	}
	out := make([]string, 0, len(list))
	for _, elem := range list {
		s, ok := elem.(string)
		if !ok {
			return nil, fmt.Errorf("expected string list element, got %T", elem)
		}
		out = append(out, s)
	}
	return out, nil
}

// selectValue wraps a core.SelectorList so it can flow through Starlark
// kwargs as an opaque value, to be unwrapped again by toGo.
type selectValue struct {
	list core.SelectorList
}

func (s *selectValue) String() string        { return "select(...)" }
func (s *selectValue) Type() string          { return "select" }
func (s *selectValue) Freeze()               {}
func (s *selectValue) Truth() starlark.Bool  { return starlark.True }
func (s *selectValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: select") }

// structValue implements the struct(...) builtin: an immutable bag of
// named fields.
type structValue struct {
	fields map[string]interface{}
}

func (s *structValue) String() string       { return "struct(...)" }
func (s *structValue) Type() string         { return "struct" }
func (s *structValue) Freeze()              {}
func (s *structValue) Truth() starlark.Bool { return starlark.Bool(len(s.fields) > 0) }
func (s *structValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: struct")
}
