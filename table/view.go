package table

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/expr-lang/expr"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/extract"
	"github.com/damianoneill/nettables/schema"
)

// record is one raw record of a table; exactly one of node and text is set.
type record struct {
	node *xmlquery.Node
	text *extract.TextRecord
}

// Item is a single named value of a view.
type Item struct {
	Name  string
	Value interface{}
}

// View is a lazy projection of one record through a view descriptor.
// Field values are resolved on first access and memoised.
type View struct {
	table *Table
	desc  *schema.ViewDescriptor
	rec   record
	cache map[string]interface{}
}

func newView(t *Table, desc *schema.ViewDescriptor, rec record) *View {
	return &View{table: t, desc: desc, rec: rec, cache: map[string]interface{}{}}
}

// Table returns the table the view belongs to.
func (v *View) Table() *Table {
	return v.table
}

// Descriptor returns the view descriptor, nil for a table declared without a view.
func (v *View) Descriptor() *schema.ViewDescriptor {
	return v.desc
}

// Node returns the XML record, nil for command output.
func (v *View) Node() *xmlquery.Node {
	return v.rec.node
}

// Text returns the command output of the record, empty for XML.
func (v *View) Text() string {
	if v.rec.text == nil {
		return ""
	}
	return v.rec.text.Text()
}

// Fields lists the field names in declaration order.
func (v *View) Fields() []string {
	if v.desc == nil {
		return nil
	}
	return v.desc.FieldNames()
}

// Key resolves the record key.
func (v *View) Key() (interface{}, error) {
	return v.table.keyOf(v)
}

// Get returns the value of the named field.
func (v *View) Get(name string) (interface{}, error) {
	if val, ok := v.cache[name]; ok {
		return val, nil
	}
	if v.desc == nil {
		return nil, &common.PropertyError{Name: name}
	}
	f, ok := v.desc.Field(name)
	if !ok {
		return nil, &common.PropertyError{Name: name, Known: v.desc.FieldNames()}
	}
	val, err := v.resolve(f)
	if err != nil {
		return nil, err
	}
	v.cache[name] = val
	return val, nil
}

// Items returns every field and its value in declaration order.
func (v *View) Items() ([]Item, error) {
	names := v.Fields()
	out := make([]Item, 0, len(names))
	for _, n := range names {
		val, err := v.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, Item{Name: n, Value: val})
	}
	return out, nil
}

// Map returns the fields as a map, omitting filtered fields. Nested tables are rendered
// with Table.Map.
func (v *View) Map() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, n := range v.Fields() {
		if v.desc.Filtered(n) {
			continue
		}
		val, err := v.Get(n)
		if err != nil {
			return nil, err
		}
		if nested, ok := val.(*Table); ok {
			if val, err = nested.Map(); err != nil {
				return nil, err
			}
		}
		out[n] = val
	}
	return out, nil
}

func (v *View) String() string {
	k, err := v.Key()
	if err != nil {
		return fmt.Sprintf("%s:<%v>", v.name(), err)
	}
	return fmt.Sprintf("%s:%s", v.name(), KeyString(k))
}

func (v *View) name() string {
	if v.desc == nil {
		return v.table.desc.Name
	}
	return v.desc.Name
}

func (v *View) resolve(f *schema.FieldSpec) (interface{}, error) {
	switch f.Source {
	case schema.EvalSource:
		return v.eval(f)
	case schema.XPathSource:
		base, err := v.groupNode(f)
		if err != nil {
			return nil, err
		}
		if base == nil {
			return extract.Missing(f), nil
		}
		return extract.Value(base, f)
	case schema.TableSource:
		return v.nested(f)
	default:
		if v.rec.text == nil {
			return nil, &common.ExtractionError{Locator: f.Locator, Reason: "record is not command output"}
		}
		return v.rec.text.Value(f)
	}
}

// groupNode returns the node a field resolves against: the record, or the first match
// of the field's group locator.
func (v *View) groupNode(f *schema.FieldSpec) (*xmlquery.Node, error) {
	if v.rec.node == nil {
		return nil, nil
	}
	if f.Group == "" {
		return v.rec.node, nil
	}
	_, expr, _ := v.desc.Group(f.Group)
	matches := extract.Find(v.rec.node, expr)
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

func (v *View) nested(f *schema.FieldSpec) (interface{}, error) {
	base, err := v.groupNode(f)
	if err != nil || base == nil {
		return nil, err
	}
	if f.Locator != "." {
		matches := extract.Find(base, f.XPath())
		if len(matches) == 0 {
			return nil, nil
		}
		base = matches[0]
	}
	return newStatic(f.Nested(), &common.Payload{XML: base}), nil
}

// eval renders the field's sibling values into its expression environment and runs it.
func (v *View) eval(f *schema.FieldSpec) (interface{}, error) {
	ev := f.Eval()
	env := make(map[string]interface{}, len(ev.Vars))
	for id, name := range ev.Vars {
		val, err := v.Get(name)
		if err != nil {
			return nil, err
		}
		env[id] = literal(val)
	}
	out, err := expr.Run(ev.Program, env)
	if err != nil {
		return nil, &common.ExtractionError{Locator: ev.Template, Reason: err.Error()}
	}
	return out, nil
}

// literal reads a sibling value the way it would read written into the expression:
// numeric and boolean text becomes a number or bool, anything else is left as is.
func literal(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		if s == "true" || s == "false" {
			return s == "true"
		}
		return t
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = literal(e)
		}
		return out
	}
	return v
}
