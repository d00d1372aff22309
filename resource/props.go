package resource

import (
	"fmt"

	"github.com/pkg/errors"
)

// Reserved properties present in every has map once a resource is read.
const (
	Exists = "exists"
	Active = "active"
)

// Props maps property names to values.
type Props map[string]interface{}

func (p Props) clone() Props {
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = copyValue(v)
	}
	return out
}

func (p Props) flag(name string) bool {
	b, _ := p[name].(bool)
	return b
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []string:
		if t == nil {
			return t
		}
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []interface{}:
		if t == nil {
			return t
		}
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// Strings converts a list property value to a string slice.
func Strings(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = fmt.Sprint(e)
		}
		return out, nil
	case string:
		return []string{t}, nil
	default:
		return nil, errors.Errorf("%T is not a list", v)
	}
}

// DiffList returns the items of should missing from has, and the items of has missing
// from should, each in their original order and without duplicates.
func DiffList(has, should []string) (added, removed []string) {
	inHas := make(map[string]bool, len(has))
	for _, h := range has {
		inHas[h] = true
	}
	inShould := make(map[string]bool, len(should))
	for _, s := range should {
		inShould[s] = true
	}
	seen := map[string]bool{}
	for _, s := range should {
		if !inHas[s] && !seen[s] {
			added = append(added, s)
			seen[s] = true
		}
	}
	seen = map[string]bool{}
	for _, h := range has {
		if !inShould[h] && !seen[h] {
			removed = append(removed, h)
			seen[h] = true
		}
	}
	return added, removed
}
