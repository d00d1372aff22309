package extract

import (
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/pkg/errors"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/schema"
)

// Find returns the nodes matched by expr, evaluated relative to node, in document order.
func Find(node *xmlquery.Node, expr *xpath.Expr) []*xmlquery.Node {
	if node == nil || expr == nil {
		return nil
	}
	return xmlquery.QuerySelectorAll(node, expr)
}

// FindLocator compiles locator and returns the nodes it matches relative to node.
func FindLocator(node *xmlquery.Node, locator string) ([]*xmlquery.Node, error) {
	expr, err := xpath.Compile(locator)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid xpath %q", locator)
	}
	return Find(node, expr), nil
}

// FindOne returns the single node matched by expr, nil when nothing matches.
// More than one match is an extraction error.
func FindOne(node *xmlquery.Node, expr *xpath.Expr, locator string) (*xmlquery.Node, error) {
	matches := Find(node, expr)
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, &common.ExtractionError{Locator: locator, Reason: "matched more than one node"}
	}
}

// Text returns the trimmed text of a matched node, or its tag when the text is blank.
// Junos reports presence flags as empty elements, so the tag is the value.
func Text(n *xmlquery.Node) string {
	text := strings.TrimSpace(n.InnerText())
	if text == "" && n.Type == xmlquery.ElementNode {
		return n.Data
	}
	return text
}

// Value resolves an xpath field against node.
// No match yields nil (or the declared default), one match a coerced scalar and
// several an ordered list of coerced scalars. Bool fields report whether anything matched.
func Value(node *xmlquery.Node, f *schema.FieldSpec) (interface{}, error) {
	matches := Find(node, f.XPath())
	if f.Type == schema.BoolType {
		return len(matches) > 0, nil
	}
	switch len(matches) {
	case 0:
		return Missing(f), nil
	case 1:
		return Coerce(Text(matches[0]), f)
	default:
		texts := make([]string, len(matches))
		for i, m := range matches {
			texts[i] = Text(m)
		}
		return coerceAll(texts, f)
	}
}
