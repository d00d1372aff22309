package common

import (
	"encoding/xml"

	"github.com/google/uuid"
)

// ChangeDocument is an edit submitted to a device.
type ChangeDocument struct {
	// ID correlates trace events for a single submit.
	ID   string
	Root *Element
}

// NewChangeDocument creates a change document rooted at root.
func NewChangeDocument(root *Element) *ChangeDocument {
	return &ChangeDocument{ID: uuid.NewString(), Root: root}
}

// String delivers the XML text of the document.
func (d *ChangeDocument) String() string {
	if d == nil || d.Root == nil {
		return ""
	}
	return d.Root.String()
}

// Element is a node in a change document.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Text     string
	Children []*Element
}

// NewElement creates an element with optional text.
func NewElement(name string, text ...string) *Element {
	e := &Element{Name: name}
	if len(text) > 0 {
		e.Text = text[0]
	}
	return e
}

// Add appends a child element and returns it.
func (e *Element) Add(name string, text ...string) *Element {
	c := NewElement(name, text...)
	e.Children = append(e.Children, c)
	return c
}

// Append appends existing elements as children.
func (e *Element) Append(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// SetAttr sets (or replaces) an attribute value.
func (e *Element) SetAttr(name, value string) *Element {
	for i := range e.Attrs {
		if e.Attrs[i].Name.Local == name {
			e.Attrs[i].Value = value
			return e
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	return e
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child with the supplied name.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Leaf follows a path of child names from e, returning the final element or nil.
func (e *Element) Leaf(path ...string) *Element {
	cur := e
	for _, p := range path {
		if cur = cur.Child(p); cur == nil {
			return nil
		}
	}
	return cur
}

// Ensure follows a path of child names from e, creating missing elements, and returns the final element.
func (e *Element) Ensure(path ...string) *Element {
	cur := e
	for _, p := range path {
		next := cur.Child(p)
		if next == nil {
			next = cur.Add(p)
		}
		cur = next
	}
	return cur
}

// Empty returns true if the element carries no attributes, text or children.
func (e *Element) Empty() bool {
	return len(e.Attrs) == 0 && e.Text == "" && len(e.Children) == 0
}

// MarshalXML implements xml.Marshaler.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: e.Name}, Attr: e.Attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
	}
	for _, c := range e.Children {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// String delivers the XML text of the element.
func (e *Element) String() string {
	b, err := xml.Marshal(e)
	if err != nil {
		return ""
	}
	return string(b)
}
