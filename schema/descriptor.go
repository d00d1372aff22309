package schema

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/antchfx/xpath"
	"github.com/expr-lang/expr/vm"

	"github.com/damianoneill/nettables/common"
)

// Kind classifies a compiled descriptor.
type Kind int

// Define the descriptor kinds.
const (
	ViewKind Kind = iota
	TableKind
	OpTableKind
	ConfigTableKind
	CommandTableKind
)

func (k Kind) String() string {
	switch k {
	case ViewKind:
		return "view"
	case TableKind:
		return "table"
	case OpTableKind:
		return "op-table"
	case ConfigTableKind:
		return "config-table"
	case CommandTableKind:
		return "command-table"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Descriptor is a compiled schema entry.
type Descriptor interface {
	DescriptorName() string
	DescriptorKind() Kind
}

// Source identifies how a field value is located within a record.
type Source int

// Define the field sources.
const (
	// XPathSource fields are an xpath relative to an XML record (or its group).
	XPathSource Source = iota
	// RegexSource fields are a regex scanned over the lines of a text record.
	RegexSource
	// ColumnSource fields are the cell beneath a named column header.
	ColumnSource
	// ExistsSource fields test for a substring anywhere in a text record.
	ExistsSource
	// LabelSource fields are the value of a "label<delimiter>value" line in a text record.
	LabelSource
	// EvalSource fields are computed from sibling fields.
	EvalSource
	// TableSource fields are nested tables bound at the located node.
	TableSource
)

func (s Source) String() string {
	return [...]string{"xpath", "regex", "column", "exists", "label", "eval", "table"}[s]
}

// Type defines the coercion applied to a located value.
type Type int

// Define the coercion types.
const (
	StringType Type = iota
	IntType
	FloatType
	// BoolType fields are true when the locator matches at all.
	BoolType
	// PredicateType fields are true (or false) when the located text satisfies a predicate.
	PredicateType
)

var typeNames = map[string]Type{
	"str":    StringType,
	"string": StringType,
	"int":    IntType,
	"float":  FloatType,
	"bool":   BoolType,
	"flag":   BoolType,
}

func (t Type) String() string {
	return [...]string{"str", "int", "float", "bool", "predicate"}[t]
}

// Predicate is a compiled "True=value" or "True=regex(...)" coercion.
type Predicate struct {
	// Result is delivered when the predicate matches, its negation otherwise.
	Result  bool
	Value   string
	Pattern *regexp.Regexp
}

// Match applies the predicate to text.
func (p *Predicate) Match(text string) bool {
	var matched bool
	if p.Pattern != nil {
		matched = p.Pattern.MatchString(text)
	} else {
		matched = text == p.Value
	}
	if matched {
		return p.Result
	}
	return !p.Result
}

// Eval is a compiled expression computed from sibling fields.
type Eval struct {
	Template   string
	Expression string
	// Vars maps expression identifiers to the field names they stand for.
	Vars    map[string]string
	Program *vm.Program
}

// Fields lists the sibling fields referenced by the expression, sorted.
func (e *Eval) Fields() []string {
	names := make([]string, 0, len(e.Vars))
	for _, f := range e.Vars {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// FieldSpec is a single compiled field.
type FieldSpec struct {
	Name    string
	Source  Source
	Locator string
	Type    Type
	// Predicate is set for PredicateType fields.
	Predicate *Predicate
	// Default is returned when the locator matches nothing.
	Default interface{}
	// Group names the group locator the field resolves against; empty for the record root.
	Group string
	// Table names the nested table for TableSource fields.
	Table string

	eval    *Eval
	xpath   *xpath.Expr
	pattern *regexp.Regexp
	nested  *TableDescriptor
}

// Eval returns the compiled expression of an EvalSource field.
func (f *FieldSpec) Eval() *Eval {
	return f.eval
}

// XPath returns the compiled locator of an XPathSource or TableSource field.
func (f *FieldSpec) XPath() *xpath.Expr {
	return f.xpath
}

// Pattern returns the compiled locator of a RegexSource field.
func (f *FieldSpec) Pattern() *regexp.Regexp {
	return f.pattern
}

// Nested returns the descriptor of the nested table of a TableSource field.
func (f *FieldSpec) Nested() *TableDescriptor {
	return f.nested
}

func (f *FieldSpec) clone() *FieldSpec {
	c := *f
	return &c
}

// ViewDescriptor is the compiled field set for one record shape.
type ViewDescriptor struct {
	Name string
	// Extends names the base view, if any.
	Extends string
	// Text is true for views over command output rather than XML.
	Text bool
	// Filters lists fields suppressed from default serialization.
	Filters []string

	fields []*FieldSpec
	index  map[string]int
	groups map[string]*group
}

type group struct {
	locator string
	xpath   *xpath.Expr
}

// DescriptorName implements Descriptor.
func (v *ViewDescriptor) DescriptorName() string { return v.Name }

// DescriptorKind implements Descriptor.
func (v *ViewDescriptor) DescriptorKind() Kind { return ViewKind }

// Fields lists the fields in declaration order.
func (v *ViewDescriptor) Fields() []*FieldSpec {
	return v.fields
}

// FieldNames lists the field names in declaration order.
func (v *ViewDescriptor) FieldNames() []string {
	names := make([]string, len(v.fields))
	for i, f := range v.fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the named field.
func (v *ViewDescriptor) Field(name string) (*FieldSpec, bool) {
	i, ok := v.index[name]
	if !ok {
		return nil, false
	}
	return v.fields[i], true
}

// Group returns the locator of the named group.
func (v *ViewDescriptor) Group(name string) (string, *xpath.Expr, bool) {
	g, ok := v.groups[name]
	if !ok {
		return "", nil, false
	}
	return g.locator, g.xpath, true
}

// Groups lists the group names, sorted.
func (v *ViewDescriptor) Groups() []string {
	names := make([]string, 0, len(v.groups))
	for n := range v.groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Filtered returns true if the field is suppressed from default serialization.
func (v *ViewDescriptor) Filtered(name string) bool {
	for _, f := range v.Filters {
		if f == name {
			return true
		}
	}
	return false
}

// Columns lists the column headers used by ColumnSource fields, in declaration order.
func (v *ViewDescriptor) Columns() []string {
	var cols []string
	for _, f := range v.fields {
		if f.Source == ColumnSource {
			cols = append(cols, f.Locator)
		}
	}
	return cols
}

func newView(name string) *ViewDescriptor {
	return &ViewDescriptor{Name: name, index: map[string]int{}, groups: map[string]*group{}}
}

// Derive returns a new view named name holding the fields of v followed by the supplied fields.
// A supplied field replaces a base field of the same name, keeping its position.
// v is never modified.
func (v *ViewDescriptor) Derive(name string, fields ...*FieldSpec) (*ViewDescriptor, error) {
	d, err := v.deriveFields(name, fields)
	if err != nil {
		return nil, err
	}
	if err = prepareView(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (v *ViewDescriptor) deriveFields(name string, fields []*FieldSpec) (*ViewDescriptor, error) {
	d := newView(name)
	d.Extends = v.Name
	d.Text = v.Text
	d.Filters = append(d.Filters, v.Filters...)
	for k, g := range v.groups {
		d.groups[k] = g
	}
	for _, f := range v.fields {
		d.put(f)
	}
	seen := map[string]bool{}
	for _, f := range fields {
		if seen[f.Name] {
			return nil, common.NewSchemaError(name, f.Name, "field declared twice")
		}
		seen[f.Name] = true
		d.put(f.clone())
	}
	return d, nil
}

func (v *ViewDescriptor) put(f *FieldSpec) {
	if i, ok := v.index[f.Name]; ok {
		v.fields[i] = f
		return
	}
	v.index[f.Name] = len(v.fields)
	v.fields = append(v.fields, f)
}

// TableDescriptor is a compiled table declaration.
type TableDescriptor struct {
	Name string
	Kind Kind
	// Item locates each record; empty for a container table, "*" for blank-line separated text blocks.
	Item string
	// Key lists the key locators; CompositeKey is true if the key was declared as a list.
	Key          []string
	CompositeKey bool
	// KeyField lists the view fields that identify a record of a writable table.
	KeyField []string
	View     *ViewDescriptor

	RPC     string
	Args    map[string]string
	ArgsKey []string

	Get string
	Set string

	Command   string
	Title     string
	Delimiter string
	Target    string

	item    *xpath.Expr
	pattern *regexp.Regexp
	keys    [][]keyBranch
}

type keyBranch struct {
	locator string
	null    bool
	xpath   *xpath.Expr
}

// DescriptorName implements Descriptor.
func (t *TableDescriptor) DescriptorName() string { return t.Name }

// DescriptorKind implements Descriptor.
func (t *TableDescriptor) DescriptorKind() Kind { return t.Kind }

// Container returns true if the table exposes a single implicit record.
// Command tables over a columnar view hold one record per row, even without an item.
func (t *TableDescriptor) Container() bool {
	if t.Item != "" {
		return false
	}
	return !(t.Text() && t.View != nil && len(t.View.Columns()) > 0)
}

// Text returns true if the table reads command output.
func (t *TableDescriptor) Text() bool {
	return t.Kind == CommandTableKind
}

// Writable returns true if the table declares a set locator.
func (t *TableDescriptor) Writable() bool {
	return t.Set != ""
}

// ItemXPath returns the compiled item locator of an XML table.
func (t *TableDescriptor) ItemXPath() *xpath.Expr {
	return t.item
}

// ItemPattern returns the compiled item regex of a command table; nil for "*" or a container.
func (t *TableDescriptor) ItemPattern() *regexp.Regexp {
	return t.pattern
}

// KeyBranch is one alternative of a key locator declared as "a | b".
type KeyBranch struct {
	Locator string
	// Null is set for the "Null" branch, which omits the key slot when reached.
	Null  bool
	XPath *xpath.Expr
}

// KeyBranches returns the ordered alternatives of the i'th key locator.
func (t *TableDescriptor) KeyBranches(i int) []KeyBranch {
	out := make([]KeyBranch, len(t.keys[i]))
	for j, b := range t.keys[i] {
		out[j] = KeyBranch{Locator: b.locator, Null: b.null, XPath: b.xpath}
	}
	return out
}

// TargetArg is the request argument naming the component a command table runs on.
const TargetArg = "target"

// Request builds the fetch request for the table, merging params over declared args.
func (t *TableDescriptor) Request(params map[string]string) *common.FetchRequest {
	req := &common.FetchRequest{Args: map[string]string{}}
	for k, v := range t.Args {
		req.Args[k] = v
	}
	if t.Target != "" {
		req.Args[TargetArg] = t.Target
	}
	for k, v := range params {
		req.Args[k] = v
	}
	switch t.Kind {
	case OpTableKind:
		req.Kind, req.Locator = common.RPCRequest, t.RPC
	case ConfigTableKind:
		req.Kind, req.Locator = common.ConfigRequest, t.Get
		if req.Locator == "" {
			req.Locator = t.Set
		}
	case CommandTableKind:
		req.Kind, req.Locator, req.Format = common.CommandRequest, t.Command, "text"
	}
	return req
}

func splitBranches(locator string) []string {
	parts := strings.Split(locator, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Catalog is the compiled set of descriptors, keyed by name.
type Catalog struct {
	entries map[string]Descriptor
	order   []string
}

// Names lists the descriptor names in declaration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Lookup returns the named descriptor.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	d, ok := c.entries[name]
	return d, ok
}

// Table returns the named table descriptor.
func (c *Catalog) Table(name string) (*TableDescriptor, error) {
	if t, ok := c.entries[name].(*TableDescriptor); ok {
		return t, nil
	}
	return nil, &common.PropertyError{Name: name, Known: c.namesOf(false)}
}

// View returns the named view descriptor.
func (c *Catalog) View(name string) (*ViewDescriptor, error) {
	if v, ok := c.entries[name].(*ViewDescriptor); ok {
		return v, nil
	}
	return nil, &common.PropertyError{Name: name, Known: c.namesOf(true)}
}

// Tables lists the table names in declaration order.
func (c *Catalog) Tables() []string {
	return c.namesOf(false)
}

// Views lists the view names in declaration order.
func (c *Catalog) Views() []string {
	return c.namesOf(true)
}

func (c *Catalog) namesOf(views bool) []string {
	var names []string
	for _, n := range c.order {
		if (c.entries[n].DescriptorKind() == ViewKind) == views {
			names = append(names, n)
		}
	}
	return names
}

// Len returns the number of descriptors.
func (c *Catalog) Len() int {
	return len(c.order)
}
