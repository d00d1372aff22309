// Package schema loads declarative table and view definitions and compiles them into
// immutable descriptors.
package schema

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/damianoneill/nettables/common"
)

// Document is a set of named schema entries, in declaration order.
type Document struct {
	entries []*Entry
	index   map[string]*Entry
}

// Entry is a single named declaration; its attributes are kept as raw YAML until compiled.
type Entry struct {
	Name string
	// Source identifies where the entry was declared.
	Source string
	attrs  []attr
}

type attr struct {
	key   string
	value *yaml.Node
}

// Attr returns the raw value of the named attribute.
func (e *Entry) Attr(key string) (*yaml.Node, bool) {
	for _, a := range e.attrs {
		if a.key == key {
			return a.value, true
		}
	}
	return nil, false
}

// Has returns true if the entry declares the attribute.
func (e *Entry) Has(key string) bool {
	_, ok := e.Attr(key)
	return ok
}

// Keys lists the declared attribute names, in declaration order.
func (e *Entry) Keys() []string {
	keys := make([]string, 0, len(e.attrs))
	for _, a := range e.attrs {
		keys = append(keys, a.key)
	}
	return keys
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{index: map[string]*Entry{}}
}

// Entries lists the entries in declaration order.
func (d *Document) Entries() []*Entry {
	return d.entries
}

// Entry returns the named entry.
func (d *Document) Entry(name string) (*Entry, bool) {
	e, ok := d.index[name]
	return e, ok
}

// Len returns the number of entries.
func (d *Document) Len() int {
	return len(d.entries)
}

func (d *Document) add(e *Entry) error {
	if prev, ok := d.index[e.Name]; ok {
		return common.NewSchemaError(e.Name, "", "duplicate declaration (also in %s)", prev.Source)
	}
	d.index[e.Name] = e
	d.entries = append(d.entries, e)
	return nil
}

// Merge adds the entries of other to d; a name declared by both is a schema error.
func (d *Document) Merge(other *Document) error {
	for _, e := range other.entries {
		if err := d.add(e); err != nil {
			return err
		}
	}
	return nil
}

// Parse parses a schema document from YAML bytes. Multiple YAML documents
// separated by "---" contribute to the same schema document.
func Parse(data []byte) (*Document, error) {
	return parse(data, "<input>")
}

// ParseFile parses a schema document from a YAML file.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint: gosec
	if err != nil {
		return nil, errors.Wrapf(err, "read schema %s", path)
	}
	return parse(data, path)
}

// ParseFiles parses and merges several schema files.
func ParseFiles(paths ...string) (*Document, error) {
	doc := NewDocument()
	for _, p := range paths {
		d, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		if err = doc.Merge(d); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// ParseDir parses all .yaml/.yml files found beneath dir, in lexical order.
func ParseDir(dir string) (*Document, error) {
	paths, err := Files(dir)
	if err != nil {
		return nil, err
	}
	return ParseFiles(paths...)
}

// Files expands each directory in paths into the .yaml/.yml files beneath it, in lexical
// order. Other paths are returned as given.
func Files(paths ...string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read schema %s", p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, de os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !de.IsDir() && isSchemaFile(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "read schema dir %s", p)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isSchemaFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

func parse(data []byte, source string) (*Document, error) {
	doc := NewDocument()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var root yaml.Node
		err := dec.Decode(&root)
		if err == io.EOF {
			return doc, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "parse schema %s", source)
		}
		if err = doc.addNode(&root, source); err != nil {
			return nil, err
		}
	}
}

func (d *Document) addNode(root *yaml.Node, source string) error {
	top := root
	if top.Kind == yaml.DocumentNode {
		if len(top.Content) == 0 {
			return nil
		}
		top = top.Content[0]
	}
	if top.Kind == yaml.ScalarNode && top.Tag == "!!null" {
		return nil
	}
	if top.Kind != yaml.MappingNode {
		return common.NewSchemaError("", "", "%s: document must be a mapping of names to declarations", source)
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		value := resolveAlias(top.Content[i+1])
		if value.Kind != yaml.MappingNode {
			return common.NewSchemaError(name, "", "declaration must be a mapping (line %d)", value.Line)
		}
		e := &Entry{Name: name, Source: source}
		seen := map[string]bool{}
		for j := 0; j+1 < len(value.Content); j += 2 {
			k := value.Content[j].Value
			if seen[k] {
				return common.NewSchemaError(name, k, "attribute declared twice")
			}
			seen[k] = true
			e.attrs = append(e.attrs, attr{key: k, value: resolveAlias(value.Content[j+1])})
		}
		if err := d.add(e); err != nil {
			return err
		}
	}
	return nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// pair is a key/value from a YAML mapping, in declaration order.
type pair struct {
	key   string
	value *yaml.Node
}

func pairs(entry, field string, n *yaml.Node) ([]pair, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, common.NewSchemaError(entry, field, "expected a mapping (line %d)", n.Line)
	}
	out := make([]pair, 0, len(n.Content)/2)
	seen := map[string]bool{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		if seen[k] {
			return nil, common.NewSchemaError(entry, k, "declared twice in %s", field)
		}
		seen[k] = true
		out = append(out, pair{key: k, value: resolveAlias(n.Content[i+1])})
	}
	return out, nil
}

func scalar(entry, field string, n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", common.NewSchemaError(entry, field, "expected a scalar value (line %d)", n.Line)
	}
	return n.Value, nil
}

// scalarOrList decodes a value declared either as a single scalar or a list of scalars.
func scalarOrList(entry, field string, n *yaml.Node) (values []string, list bool, err error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{n.Value}, false, nil
	case yaml.SequenceNode:
		for _, c := range n.Content {
			v, err := scalar(entry, field, resolveAlias(c))
			if err != nil {
				return nil, true, err
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			return nil, true, common.NewSchemaError(entry, field, "empty list")
		}
		return values, true, nil
	default:
		return nil, false, common.NewSchemaError(entry, field, "expected a scalar or list (line %d)", n.Line)
	}
}
