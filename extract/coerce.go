// Package extract resolves compiled field specs against raw records: XML subtrees,
// blocks of command output and rows of columnar output.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/schema"
)

// Coerce converts the text located by f to the field's declared type.
func Coerce(text string, f *schema.FieldSpec) (interface{}, error) {
	switch f.Type {
	case schema.IntType:
		v, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return nil, &common.ExtractionError{Locator: f.Locator, Reason: fmt.Sprintf("%q is not an int", text)}
		}
		return v, nil
	case schema.FloatType:
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, &common.ExtractionError{Locator: f.Locator, Reason: fmt.Sprintf("%q is not a float", text)}
		}
		return v, nil
	case schema.BoolType:
		// A located value is a match.
		return true, nil
	case schema.PredicateType:
		return f.Predicate.Match(text), nil
	default:
		return text, nil
	}
}

// coerceAll coerces each text in turn, returning the ordered list of values.
func coerceAll(texts []string, f *schema.FieldSpec) (interface{}, error) {
	out := make([]interface{}, 0, len(texts))
	for _, t := range texts {
		v, err := Coerce(t, f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Missing is the value of a field whose locator matched nothing.
func Missing(f *schema.FieldSpec) interface{} {
	if f.Type == schema.BoolType {
		return false
	}
	return f.Default
}
