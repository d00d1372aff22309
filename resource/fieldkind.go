package resource

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/pkg/errors"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/extract"
	"github.com/damianoneill/nettables/schema"
)

// PropType defines how a property is read from, and written to, the configuration.
type PropType int

// Define the property types.
const (
	// Scalar properties are the text of a single element; nil deletes the element.
	Scalar PropType = iota
	// Int properties are scalars delivered as integers.
	Int
	// Flag properties are true when an (empty) element is present.
	Flag
	// List properties are the texts of a repeated element, edited as a minimal difference.
	List
)

// Prop declares a property of a FieldKind.
type Prop struct {
	Name string
	// Locator is a slash separated element path relative to the object.
	Locator string
	Type    PropType
}

// FieldKind is a Kind built from declared property locators.
type FieldKind struct {
	// Path locates the object list below the configuration root, e.g. "system/login/user".
	Path string
	// KeyName is the element holding the object name.
	KeyName string
	Props   []Prop
}

var _ interface {
	Kind
	Lister
	Cataloger
} = (*FieldKind)(nil)

// KindFromTable builds a FieldKind from a writable configuration table, mapping each
// view field except the key onto a property.
func KindFromTable(t *schema.TableDescriptor) (*FieldKind, error) {
	if t.Kind != schema.ConfigTableKind || !t.Writable() {
		return nil, common.NewSchemaError(t.Name, "", "not a writable configuration table")
	}
	if len(t.KeyField) != 1 || t.View == nil {
		return nil, common.NewSchemaError(t.Name, "key-field", "a single key field is required")
	}
	k := &FieldKind{Path: t.Set}
	for _, f := range t.View.Fields() {
		if f.Source != schema.XPathSource || f.Group != "" || !plainPath(f.Locator) {
			return nil, common.NewSchemaError(t.View.Name, f.Name, "%s field cannot be written", f.Source)
		}
		if f.Name == t.KeyField[0] {
			k.KeyName = f.Locator
			continue
		}
		p := Prop{Name: f.Name, Locator: f.Locator}
		switch f.Type {
		case schema.IntType:
			p.Type = Int
		case schema.BoolType:
			p.Type = Flag
		}
		k.Props = append(k.Props, p)
	}
	if k.KeyName == "" {
		return nil, common.NewSchemaError(t.Name, "key-field", "unknown field %s", t.KeyField[0])
	}
	return k, nil
}

func plainPath(locator string) bool {
	return locator != "" && !strings.ContainsAny(locator, "[]@()|*:.") && !strings.HasPrefix(locator, "/")
}

// Properties implements Kind.
func (k *FieldKind) Properties() []string {
	names := make([]string, len(k.Props))
	for i, p := range k.Props {
		names[i] = p.Name
	}
	return names
}

// Key implements Kind.
func (k *FieldKind) Key() string {
	return k.KeyName
}

func (k *FieldKind) prop(name string) (Prop, bool) {
	for _, p := range k.Props {
		if p.Name == name {
			return p, true
		}
	}
	return Prop{}, false
}

// ParseValue converts the text form of a property value, as given on a command line, to
// the value Set expects. An empty text is nil; list items are comma separated.
func (k *FieldKind) ParseValue(name, text string) (interface{}, error) {
	p, ok := k.prop(name)
	if !ok {
		return nil, &common.PropertyError{Name: name, Known: k.Properties()}
	}
	if text == "" && p.Type != List {
		return nil, nil
	}
	switch p.Type {
	case Int:
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, errors.Errorf("%s: not an integer: %q", name, text)
		}
		return n, nil
	case Flag:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, errors.Errorf("%s: not a boolean: %q", name, text)
		}
		return b, nil
	case List:
		items := []string{}
		for _, it := range strings.Split(text, ",") {
			if it = strings.TrimSpace(it); it != "" {
				items = append(items, it)
			}
		}
		return items, nil
	}
	return text, nil
}

func (k *FieldKind) selector(name string) string {
	return fmt.Sprintf("%s[%s=%s]", k.Path, k.KeyName, literal(name))
}

// literal quotes s as an xpath string literal.
func literal(s string) string {
	if strings.Contains(s, "'") {
		return `"` + s + `"`
	}
	return "'" + s + "'"
}

// ReadRequest implements Kind.
func (k *FieldKind) ReadRequest(name string) *common.FetchRequest {
	return &common.FetchRequest{Kind: common.ConfigRequest, Locator: k.selector(name)}
}

// Locate implements Kind.
func (k *FieldKind) Locate(p *common.Payload, name string) (*xmlquery.Node, error) {
	if p.Empty() || p.XML == nil {
		return nil, nil
	}
	nodes, err := extract.FindLocator(p.XML, "//"+k.selector(name))
	if err != nil {
		return nil, err
	}
	if len(nodes) > 1 {
		return nil, &common.ExtractionError{Locator: k.selector(name), Reason: "matched more than one object"}
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// Edit implements Kind.
func (k *FieldKind) Edit(name string) (root, obj *common.Element) {
	root = common.NewElement("configuration")
	segs := strings.Split(k.Path, "/")
	obj = root.Ensure(segs[:len(segs)-1]...).Add(segs[len(segs)-1])
	obj.Add(k.KeyName, name)
	return root, obj
}

// ToHas implements Kind. Absent scalar properties are left unset.
func (k *FieldKind) ToHas(node *xmlquery.Node, has Props) error {
	for _, p := range k.Props {
		nodes, err := extract.FindLocator(node, p.Locator)
		if err != nil {
			return err
		}
		switch p.Type {
		case Flag:
			has[p.Name] = len(nodes) > 0
		case List:
			items := make([]string, len(nodes))
			for i, n := range nodes {
				items[i] = extract.Text(n)
			}
			has[p.Name] = items
		default:
			if len(nodes) == 0 {
				continue
			}
			text := strings.TrimSpace(nodes[0].InnerText())
			if p.Type == Int {
				i, err := strconv.Atoi(text)
				if err != nil {
					return &common.ExtractionError{Locator: p.Locator, Reason: "not an integer: " + text}
				}
				has[p.Name] = i
				continue
			}
			has[p.Name] = text
		}
	}
	return nil
}

// Change implements Kind.
func (k *FieldKind) Change(r *Resource, obj *common.Element, name string) (bool, error) {
	p, ok := k.prop(name)
	if !ok {
		return false, r.propertyError(name)
	}
	should, _ := r.ShouldValue(name)
	has := r.HasValue(name)

	switch p.Type {
	case Flag:
		want, _ := should.(bool)
		if got, _ := has.(bool); got == want {
			return false, nil
		}
		e := ensureLeaf(obj, p.Locator)
		if !want {
			e.SetAttr(attrDelete, attrDelete)
		}
		return true, nil
	case List:
		return changeList(obj, p.Locator, has, should)
	default:
		if should == nil {
			if has == nil {
				return false, nil
			}
			ensureLeaf(obj, p.Locator).SetAttr(attrDelete, attrDelete)
			return true, nil
		}
		if has != nil && fmt.Sprint(has) == fmt.Sprint(should) {
			return false, nil
		}
		ensureLeaf(obj, p.Locator).Text = fmt.Sprint(should)
		return true, nil
	}
}

// ensureLeaf adds the element at locator below obj, sharing existing parents.
func ensureLeaf(obj *common.Element, locator string) *common.Element {
	segs := strings.Split(locator, "/")
	return obj.Ensure(segs[:len(segs)-1]...).Add(segs[len(segs)-1])
}

// changeList adds the difference between two list values below obj; one element per
// added item and one deleted element per removed item.
func changeList(obj *common.Element, locator string, has, should interface{}) (bool, error) {
	hs, err := Strings(has)
	if err != nil {
		return false, err
	}
	ss, err := Strings(should)
	if err != nil {
		return false, err
	}
	added, removed := DiffList(hs, ss)
	for _, a := range added {
		ensureLeaf(obj, locator).Text = a
	}
	for _, d := range removed {
		e := ensureLeaf(obj, locator)
		e.Text = d
		e.SetAttr(attrDelete, attrDelete)
	}
	return len(added)+len(removed) > 0, nil
}

// ListRequest implements Lister.
func (k *FieldKind) ListRequest() *common.FetchRequest {
	return &common.FetchRequest{Kind: common.ConfigRequest, Locator: k.Path}
}

// ListNames implements Lister.
func (k *FieldKind) ListNames(p *common.Payload) ([]string, error) {
	if p.Empty() || p.XML == nil {
		return nil, nil
	}
	nodes, err := extract.FindLocator(p.XML, "//"+k.Path+"/"+k.KeyName)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = strings.TrimSpace(n.InnerText())
	}
	return names, nil
}

// CatalogRequest implements Cataloger.
func (k *FieldKind) CatalogRequest() *common.FetchRequest {
	return k.ListRequest()
}

// CatalogProps implements Cataloger.
func (k *FieldKind) CatalogProps(p *common.Payload) (map[string]Props, error) {
	out := map[string]Props{}
	if p.Empty() || p.XML == nil {
		return out, nil
	}
	nodes, err := extract.FindLocator(p.XML, "//"+k.Path)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		key := n.SelectElement(k.KeyName)
		if key == nil {
			continue
		}
		name := strings.TrimSpace(key.InnerText())
		props := Props{Exists: true, Active: n.SelectAttr(attrInactive) == ""}
		if err = k.ToHas(n, props); err != nil {
			return nil, errors.Wrapf(err, "catalog %s", name)
		}
		out[name] = props
	}
	return out, nil
}
