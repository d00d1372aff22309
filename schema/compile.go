package schema

import (
	"regexp"
	"strings"

	"github.com/antchfx/xpath"
	"github.com/expr-lang/expr"
	"gopkg.in/yaml.v3"

	"github.com/damianoneill/nettables/common"
)

// Compile builds the catalog of descriptors declared by doc.
// Any error aborts the whole build; a catalog is only returned when every entry compiles.
func Compile(doc *Document) (*Catalog, error) {
	b := &builder{
		doc:      doc,
		built:    map[string]Descriptor{},
		building: map[string]bool{},
		textView: map[string]bool{},
	}
	if err := b.planViews(); err != nil {
		return nil, err
	}

	cat := &Catalog{entries: map[string]Descriptor{}}
	for _, e := range doc.entries {
		d, err := b.build(e.Name)
		if err != nil {
			return nil, err
		}
		cat.entries[e.Name] = d
		cat.order = append(cat.order, e.Name)
	}
	return cat, nil
}

// Load parses and compiles schema files, expanding directories with Files.
func Load(paths ...string) (*Catalog, error) {
	files, err := Files(paths...)
	if err != nil {
		return nil, err
	}
	doc, err := ParseFiles(files...)
	if err != nil {
		return nil, err
	}
	return Compile(doc)
}

// builder compiles entries on demand, memoised by name, so shared descriptors are built once.
type builder struct {
	doc      *Document
	built    map[string]Descriptor
	building map[string]bool
	// textView records whether each view is bound to command output.
	textView map[string]bool
}

func classify(e *Entry) Kind {
	switch {
	case e.Has("rpc"):
		return OpTableKind
	case e.Has("get") || e.Has("set"):
		return ConfigTableKind
	case e.Has("command") || e.Has("title") || wildcardItem(e):
		return CommandTableKind
	case e.Has("view") || e.Has("item"):
		return TableKind
	default:
		return ViewKind
	}
}

func wildcardItem(e *Entry) bool {
	n, ok := e.Attr("item")
	return ok && n.Kind == yaml.ScalarNode && n.Value == "*"
}

func (b *builder) isTable(name string) bool {
	e, ok := b.doc.Entry(name)
	return ok && classify(e) != ViewKind
}

// planViews decides, before any view is compiled, whether each view reads XML or text;
// views take the mode of the tables that use them.
func (b *builder) planViews() error {
	for _, e := range b.doc.entries {
		kind := classify(e)
		if kind == ViewKind {
			continue
		}
		n, ok := e.Attr("view")
		if !ok {
			continue
		}
		name, err := scalar(e.Name, "view", n)
		if err != nil {
			return err
		}
		ve, ok := b.doc.Entry(name)
		if !ok || classify(ve) != ViewKind {
			return common.NewSchemaError(e.Name, "view", "%q is not a declared view", name)
		}
		if err = b.setMode(name, kind == CommandTableKind); err != nil {
			return err
		}
	}

	// Views not used by any table take their mode from their own attributes.
	for _, e := range b.doc.entries {
		if classify(e) != ViewKind {
			continue
		}
		if _, ok := b.textView[e.Name]; !ok && (e.Has("regex") || e.Has("columns") || e.Has("exists")) {
			b.textView[e.Name] = true
		}
	}

	// Base views share the mode of the views extending them.
	for changed := true; changed; {
		changed = false
		for _, e := range b.doc.entries {
			n, ok := e.Attr("extends")
			if !ok || classify(e) != ViewKind {
				continue
			}
			text, planned := b.textView[e.Name]
			if !planned {
				continue
			}
			if _, done := b.textView[n.Value]; done {
				if err := b.setMode(n.Value, text); err != nil {
					return err
				}
				continue
			}
			b.textView[n.Value] = text
			changed = true
		}
	}

	for _, e := range b.doc.entries {
		if _, ok := b.textView[e.Name]; !ok && classify(e) == ViewKind {
			b.textView[e.Name] = false
		}
	}
	return nil
}

func (b *builder) setMode(view string, text bool) error {
	if prev, ok := b.textView[view]; ok && prev != text {
		return common.NewSchemaError(view, "", "view is used by both XML and command tables")
	}
	b.textView[view] = text
	return nil
}

func (b *builder) build(name string) (Descriptor, error) {
	if d, ok := b.built[name]; ok {
		return d, nil
	}
	if b.building[name] {
		return nil, common.NewSchemaError(name, "", "circular reference")
	}
	e, ok := b.doc.Entry(name)
	if !ok {
		return nil, common.NewSchemaError(name, "", "undefined entry")
	}

	b.building[name] = true
	defer delete(b.building, name)

	var d Descriptor
	var err error
	if kind := classify(e); kind == ViewKind {
		d, err = b.buildView(e)
	} else {
		d, err = b.buildTable(e, kind)
	}
	if err != nil {
		return nil, err
	}
	b.built[name] = d
	return d, nil
}

func (b *builder) buildTable(e *Entry, kind Kind) (*TableDescriptor, error) {
	t := &TableDescriptor{Name: e.Name, Kind: kind}
	var err error
	for _, a := range e.attrs {
		switch a.key {
		case "item":
			t.Item, err = scalar(e.Name, a.key, a.value)
		case "key":
			t.Key, t.CompositeKey, err = scalarOrList(e.Name, a.key, a.value)
		case "key-field":
			t.KeyField, _, err = scalarOrList(e.Name, a.key, a.value)
		case "view":
			t.View, err = b.viewRef(e.Name, a.value)
		case "rpc":
			t.RPC, err = scalar(e.Name, a.key, a.value)
		case "args":
			t.Args, err = args(e.Name, a.value)
		case "args_key":
			t.ArgsKey, _, err = scalarOrList(e.Name, a.key, a.value)
		case "get":
			t.Get, err = scalar(e.Name, a.key, a.value)
		case "set":
			t.Set, err = scalar(e.Name, a.key, a.value)
		case "command":
			t.Command, err = scalar(e.Name, a.key, a.value)
		case "title":
			t.Title, err = scalar(e.Name, a.key, a.value)
		case "delimiter":
			t.Delimiter, err = scalar(e.Name, a.key, a.value)
		case "target":
			t.Target, err = scalar(e.Name, a.key, a.value)
		default:
			err = common.NewSchemaError(e.Name, a.key, "unknown %s attribute", kind)
		}
		if err != nil {
			return nil, err
		}
	}

	if kind == ConfigTableKind {
		if t.Item == "" {
			t.Item = t.Get
			if t.Item == "" {
				t.Item = t.Set
			}
		}
		if t.Set != "" && len(t.KeyField) == 0 {
			return nil, common.NewSchemaError(e.Name, "key-field", "writable table requires key-field")
		}
	}

	if t.Text() {
		err = b.textKeys(t)
	} else {
		err = b.xmlKeys(t)
	}
	if err != nil {
		return nil, err
	}

	for _, kf := range t.KeyField {
		if t.View == nil {
			return nil, common.NewSchemaError(e.Name, "key-field", "key-field requires a view")
		}
		if _, ok := t.View.Field(kf); !ok {
			return nil, common.NewSchemaError(e.Name, "key-field", "%q is not a field of view %s", kf, t.View.Name)
		}
	}
	return t, nil
}

func (b *builder) viewRef(entry string, n *yaml.Node) (*ViewDescriptor, error) {
	name, err := scalar(entry, "view", n)
	if err != nil {
		return nil, err
	}
	d, err := b.build(name)
	if err != nil {
		return nil, err
	}
	v, ok := d.(*ViewDescriptor)
	if !ok {
		return nil, common.NewSchemaError(entry, "view", "%q is not a view", name)
	}
	return v, nil
}

func args(entry string, n *yaml.Node) (map[string]string, error) {
	ps, err := pairs(entry, "args", n)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(ps))
	for _, p := range ps {
		if p.value.Kind != yaml.ScalarNode {
			return nil, common.NewSchemaError(entry, p.key, "rpc argument must be a scalar")
		}
		switch {
		case p.value.Tag == "!!bool" && strings.EqualFold(p.value.Value, "true"):
			// Flag arguments are sent as empty elements.
			out[p.key] = ""
		case p.value.Tag == "!!bool":
		default:
			out[p.key] = p.value.Value
		}
	}
	return out, nil
}

func (b *builder) xmlKeys(t *TableDescriptor) error {
	if t.Container() {
		return nil
	}
	expr, err := xpath.Compile(t.Item)
	if err != nil {
		return common.NewSchemaError(t.Name, "item", "invalid xpath %q: %v", t.Item, err)
	}
	t.item = expr

	if len(t.Key) == 0 {
		t.Key = []string{"name"}
	}
	for _, k := range t.Key {
		var branches []keyBranch
		for _, loc := range splitBranches(k) {
			if loc == "Null" {
				branches = append(branches, keyBranch{locator: loc, null: true})
				continue
			}
			x, err := xpath.Compile(loc)
			if err != nil {
				return common.NewSchemaError(t.Name, "key", "invalid xpath %q: %v", loc, err)
			}
			branches = append(branches, keyBranch{locator: loc, xpath: x})
		}
		if len(branches) == 0 {
			return common.NewSchemaError(t.Name, "key", "empty key locator")
		}
		t.keys = append(t.keys, branches)
	}
	return nil
}

// textKeys resolves the keys of a command table, which name view fields rather than locators.
func (b *builder) textKeys(t *TableDescriptor) error {
	if t.Item != "" && t.Item != "*" {
		re, err := regexp.Compile(t.Item)
		if err != nil {
			return common.NewSchemaError(t.Name, "item", "invalid regex %q: %v", t.Item, err)
		}
		t.pattern = re
	}
	if t.View == nil {
		if len(t.Key) > 0 {
			return common.NewSchemaError(t.Name, "key", "key requires a view")
		}
		return nil
	}
	if len(t.Key) == 0 && (!t.Container() || len(t.View.Columns()) > 0) {
		if cols := t.View.Columns(); len(cols) > 0 {
			for _, f := range t.View.fields {
				if f.Source == ColumnSource {
					t.Key = []string{f.Name}
					break
				}
			}
		} else if len(t.View.fields) > 0 {
			t.Key = []string{t.View.fields[0].Name}
		}
	}
	for _, k := range t.Key {
		var branches []keyBranch
		for _, name := range splitBranches(k) {
			if name == "Null" {
				branches = append(branches, keyBranch{locator: name, null: true})
				continue
			}
			if _, ok := t.View.Field(name); !ok {
				return common.NewSchemaError(t.Name, "key", "%q is not a field of view %s", name, t.View.Name)
			}
			branches = append(branches, keyBranch{locator: name})
		}
		t.keys = append(t.keys, branches)
	}
	return nil
}

func (b *builder) buildView(e *Entry) (*ViewDescriptor, error) {
	text := b.textView[e.Name]
	v := newView(e.Name)
	v.Text = text

	var base *ViewDescriptor
	var own []*FieldSpec
	groups := map[string]string{}

	if n, ok := e.Attr("extends"); ok {
		name, err := scalar(e.Name, "extends", n)
		if err != nil {
			return nil, err
		}
		d, err := b.build(name)
		if err != nil {
			return nil, err
		}
		if base, ok = d.(*ViewDescriptor); !ok {
			return nil, common.NewSchemaError(e.Name, "extends", "%q is not a view", name)
		}
	}

	if n, ok := e.Attr("groups"); ok {
		ps, err := pairs(e.Name, "groups", n)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			if groups[p.key], err = scalar(e.Name, p.key, p.value); err != nil {
				return nil, err
			}
		}
	}

	for _, a := range e.attrs {
		var source Source
		var grp string
		switch {
		case a.key == "fields":
			source = XPathSource
			if text {
				source = LabelSource
			}
		case strings.HasPrefix(a.key, "fields_"):
			source, grp = XPathSource, strings.TrimPrefix(a.key, "fields_")
			if text {
				return nil, common.NewSchemaError(e.Name, a.key, "field groups are not supported in command views")
			}
		case a.key == "eval":
			source = EvalSource
		case a.key == "exists":
			source = ExistsSource
		case a.key == "regex":
			source = RegexSource
		case a.key == "columns":
			source = ColumnSource
		case a.key == "filters":
			filters, _, err := scalarOrList(e.Name, a.key, a.value)
			if err != nil {
				return nil, err
			}
			v.Filters = append(v.Filters, filters...)
			continue
		case a.key == "extends" || a.key == "groups":
			continue
		default:
			return nil, common.NewSchemaError(e.Name, a.key, "unknown view attribute")
		}

		ps, err := pairs(e.Name, a.key, a.value)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			f, groupLocator, err := b.field(e.Name, p.key, grp, source, p.value)
			if err != nil {
				return nil, err
			}
			if f == nil {
				if _, dup := groups[p.key]; dup {
					return nil, common.NewSchemaError(e.Name, p.key, "group declared twice")
				}
				groups[p.key] = groupLocator
				continue
			}
			own = append(own, f)
		}
	}

	if base != nil {
		if base.Text != text {
			return nil, common.NewSchemaError(e.Name, "extends", "cannot extend %s across XML and command views", base.Name)
		}
		derived, err := base.deriveFields(e.Name, own)
		if err != nil {
			return nil, err
		}
		derived.Filters = append(derived.Filters, v.Filters...)
		v = derived
	} else {
		for _, f := range own {
			if _, dup := v.index[f.Name]; dup {
				return nil, common.NewSchemaError(e.Name, f.Name, "field declared twice")
			}
			v.put(f)
		}
	}

	for name, loc := range groups {
		v.groups[name] = &group{locator: loc}
	}
	if err := prepareView(v); err != nil {
		return nil, err
	}
	return v, nil
}

var predicateRe = regexp.MustCompile(`^(?i)(true|false)=(.*)$`)
var regexOptionRe = regexp.MustCompile(`^regex\((.*)\)$`)

// field compiles a single field declaration. A nil spec with a locator means the
// declaration registers a group.
func (b *builder) field(entry, name, grp string, source Source, n *yaml.Node) (*FieldSpec, string, error) {
	f := &FieldSpec{Name: name, Source: source, Group: grp, Type: StringType}
	if source == ExistsSource {
		f.Type = BoolType
	}

	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!bool" {
			if !strings.EqualFold(n.Value, "true") {
				return nil, "", common.NewSchemaError(entry, name, "field may not be declared false")
			}
			f.Locator = name
			break
		}
		f.Locator = n.Value
		if source == EvalSource {
			break
		}
		if (source == XPathSource || source == LabelSource) && b.isTable(n.Value) {
			f.Source, f.Table, f.Locator = TableSource, n.Value, "."
		}

	case yaml.MappingNode:
		ps, err := pairs(entry, name, n)
		if err != nil {
			return nil, "", err
		}
		if len(ps) != 1 {
			return nil, "", common.NewSchemaError(entry, name, "field mapping must have exactly one locator, found %d", len(ps))
		}
		f.Locator = ps[0].key
		isGroup, err := b.option(entry, f, ps[0].value)
		if err != nil {
			return nil, "", err
		}
		if isGroup {
			if grp != "" || source != XPathSource {
				return nil, "", common.NewSchemaError(entry, name, "group may only be declared in fields")
			}
			return nil, f.Locator, nil
		}

	default:
		return nil, "", common.NewSchemaError(entry, name, "unsupported field declaration (line %d)", n.Line)
	}

	if f.Source == TableSource {
		d, err := b.build(f.Table)
		if err != nil {
			return nil, "", err
		}
		f.nested = d.(*TableDescriptor)
	}
	return f, "", nil
}

// option applies the option of a "{locator: option}" declaration.
func (b *builder) option(entry string, f *FieldSpec, opt *yaml.Node) (bool, error) {
	switch opt.Kind {
	case yaml.ScalarNode:
		v := opt.Value
		if v == "group" {
			return true, nil
		}
		if ok, err := applyType(entry, f, v); ok || err != nil {
			return false, err
		}
		if (f.Source == XPathSource || f.Source == LabelSource) && b.isTable(v) {
			f.Source, f.Table = TableSource, v
			return false, nil
		}
		return false, common.NewSchemaError(entry, f.Name, "unrecognised field option %q", v)

	case yaml.MappingNode:
		ps, err := pairs(entry, f.Name, opt)
		if err != nil {
			return false, err
		}
		for _, p := range ps {
			switch p.key {
			case "type", "astype":
				v, err := scalar(entry, f.Name, p.value)
				if err != nil {
					return false, err
				}
				ok, err := applyType(entry, f, v)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, common.NewSchemaError(entry, f.Name, "unknown type %q", v)
				}
			case "default":
				if err := p.value.Decode(&f.Default); err != nil {
					return false, common.NewSchemaError(entry, f.Name, "invalid default: %v", err)
				}
			default:
				return false, common.NewSchemaError(entry, f.Name, "unknown field option %q", p.key)
			}
		}
		return false, nil

	default:
		return false, common.NewSchemaError(entry, f.Name, "unsupported field option (line %d)", opt.Line)
	}
}

// applyType applies a scalar type name or predicate expression, returning false if v is neither.
func applyType(entry string, f *FieldSpec, v string) (bool, error) {
	if t, ok := typeNames[v]; ok {
		f.Type = t
		return true, nil
	}
	m := predicateRe.FindStringSubmatch(v)
	if m == nil {
		return false, nil
	}
	p := &Predicate{Result: strings.EqualFold(m[1], "true"), Value: m[2]}
	if rm := regexOptionRe.FindStringSubmatch(m[2]); rm != nil {
		re, err := regexp.Compile(rm[1])
		if err != nil {
			return false, common.NewSchemaError(entry, f.Name, "invalid predicate regex %q: %v", rm[1], err)
		}
		p.Pattern = re
	}
	f.Type, f.Predicate = PredicateType, p
	return true, nil
}

// NewField creates a field for use with ViewDescriptor.Derive.
func NewField(name string, source Source, locator string, t Type) *FieldSpec {
	return &FieldSpec{Name: name, Source: source, Locator: locator, Type: t}
}

// NewEvalField creates an eval field for use with ViewDescriptor.Derive.
func NewEvalField(name, template string) *FieldSpec {
	return &FieldSpec{Name: name, Source: EvalSource, Locator: template}
}

// prepareView compiles the locators of every field and checks cross-field references.
func prepareView(v *ViewDescriptor) error {
	for name, g := range v.groups {
		if v.Text {
			return common.NewSchemaError(v.Name, name, "groups are not supported in command views")
		}
		if g.xpath != nil {
			continue
		}
		x, err := xpath.Compile(g.locator)
		if err != nil {
			return common.NewSchemaError(v.Name, name, "invalid group xpath %q: %v", g.locator, err)
		}
		v.groups[name] = &group{locator: g.locator, xpath: x}
	}

	for _, f := range v.fields {
		if err := prepareField(v, f); err != nil {
			return err
		}
	}

	for _, name := range v.Filters {
		if _, ok := v.index[name]; !ok {
			return common.NewSchemaError(v.Name, "filters", "%q is not a field", name)
		}
	}
	return checkEvalCycles(v)
}

func prepareField(v *ViewDescriptor, f *FieldSpec) error {
	switch f.Source {
	case XPathSource, TableSource:
		if f.Group != "" {
			if _, ok := v.groups[f.Group]; !ok {
				return common.NewSchemaError(v.Name, f.Name, "undefined group %q", f.Group)
			}
		}
		if v.Text || f.xpath != nil {
			break
		}
		x, err := xpath.Compile(f.Locator)
		if err != nil {
			return common.NewSchemaError(v.Name, f.Name, "invalid xpath %q: %v", f.Locator, err)
		}
		f.xpath = x
	case RegexSource, ColumnSource, ExistsSource, LabelSource:
		if !v.Text {
			return common.NewSchemaError(v.Name, f.Name, "%s fields require a command view", f.Source)
		}
		if f.Source == RegexSource && f.pattern == nil {
			re, err := regexp.Compile(f.Locator)
			if err != nil {
				return common.NewSchemaError(v.Name, f.Name, "invalid regex %q: %v", f.Locator, err)
			}
			f.pattern = re
		}
	case EvalSource:
		if f.eval == nil {
			ev, err := compileEval(v.Name, f.Name, f.Locator)
			if err != nil {
				return err
			}
			f.eval = ev
		}
		for _, ref := range f.eval.Vars {
			if _, ok := v.index[ref]; !ok {
				return common.NewSchemaError(v.Name, f.Name, "eval references unknown field %q", ref)
			}
		}
	}
	return nil
}

func checkEvalCycles(v *ViewDescriptor) error {
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var visit func(f *FieldSpec) error
	visit = func(f *FieldSpec) error {
		if f.Source != EvalSource {
			return nil
		}
		switch state[f.Name] {
		case visiting:
			return common.NewSchemaError(v.Name, f.Name, "eval expressions form a cycle")
		case done:
			return nil
		}
		state[f.Name] = visiting
		for _, ref := range f.eval.Fields() {
			dep, _ := v.Field(ref)
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[f.Name] = done
		return nil
	}
	for _, f := range v.fields {
		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

var evalVarRe = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// compileEval renders "{{ field }}" placeholders as expression variables and compiles the result.
func compileEval(entry, name, template string) (*Eval, error) {
	vars := map[string]string{}
	expression := evalVarRe.ReplaceAllStringFunc(template, func(m string) string {
		field := evalVarRe.FindStringSubmatch(m)[1]
		id := Identifier(field)
		vars[id] = field
		return id
	})
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, common.NewSchemaError(entry, name, "invalid eval expression %q: %v", template, err)
	}
	return &Eval{Template: template, Expression: expression, Vars: vars, Program: program}, nil
}

// Identifier maps a field name onto the expression variable standing for it.
func Identifier(field string) string {
	var sb strings.Builder
	sb.WriteString("f_")
	for _, r := range field {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
