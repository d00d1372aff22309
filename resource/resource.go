// Package resource manages individual configuration objects on a device, reconciling the
// observed state of an object (has) with the desired state staged by the caller (should).
package resource

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/damianoneill/nettables/common"
)

// Junos configuration attributes used by change documents.
const (
	attrDelete   = "delete"
	attrActive   = "active"
	attrInactive = "inactive"
	attrRename   = "rename"
	attrInsert   = "insert"
)

// Position places an object relative to a sibling when reordering.
type Position string

// Define the positions.
const (
	Before Position = "before"
	After  Position = "after"
)

// WriteResult reports the outcome of a write.
type WriteResult struct {
	// Changed is true if a change document was submitted and accepted.
	Changed bool
	// Warnings holds non-fatal errors returned by the device. When present, has is not
	// updated and should is kept.
	Warnings []*common.RPCError
}

// Option customises a resource.
type Option func(*Resource)

// WithMode sets the mode used to submit changes; merge by default.
func WithMode(mode common.Mode) Option {
	return func(r *Resource) {
		r.mode = mode
	}
}

// WithExtension adds the properties of ext to the resource.
func WithExtension(ext Extension) Option {
	return func(r *Resource) {
		r.exts = append(r.exts, ext)
	}
}

// Resource is either a manager, which lists and opens the objects of a kind, or an
// instance bound to a single named object. A Resource is not safe for concurrent use.
type Resource struct {
	kind   Kind
	target common.Target
	exts   []Extension
	mode   common.Mode
	opts   []Option

	name   string
	bound  bool
	isNew  bool
	has    Props
	should Props

	names     []string
	listed    bool
	catalog   map[string]Props
	cataloged bool
}

func newResource(target common.Target, kind Kind, opts []Option) *Resource {
	r := &Resource{kind: kind, target: target, mode: common.MergeMode, opts: opts, should: Props{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewManager creates a manager for the objects of kind.
func NewManager(target common.Target, kind Kind, opts ...Option) *Resource {
	return newResource(target, kind, opts)
}

// New creates an instance bound to the named object. The instance holds no state until Read.
func New(target common.Target, kind Kind, name string, opts ...Option) *Resource {
	r := newResource(target, kind, opts)
	r.name, r.bound = name, true
	r.has = Props{Exists: false, Active: false}
	return r
}

// Open creates an instance bound to the named object and reads it.
func Open(ctx context.Context, target common.Target, kind Kind, name string, opts ...Option) (*Resource, error) {
	r := New(target, kind, name, opts...)
	if err := r.Read(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Manager returns true if r is a manager rather than a bound instance.
func (r *Resource) Manager() bool {
	return !r.bound
}

// Name returns the name of the bound object.
func (r *Resource) Name() string {
	return r.name
}

// IsNew returns true if the last read found no object.
func (r *Resource) IsNew() bool {
	return r.isNew
}

// Exists returns true if the object exists on the device.
func (r *Resource) Exists() bool {
	return r.has.flag(Exists)
}

// Active returns true if the object is active on the device.
func (r *Resource) Active() bool {
	return r.has.flag(Active)
}

// Has returns a copy of the observed properties.
func (r *Resource) Has() Props {
	return r.has.clone()
}

// Should returns a copy of the staged properties.
func (r *Resource) Should() Props {
	return r.should.clone()
}

// HasValue returns the observed value of a property, for use by Kind and Extension
// change functions.
func (r *Resource) HasValue(name string) interface{} {
	return r.has[name]
}

// ShouldValue returns the staged value of a property, for use by Kind and Extension
// change functions.
func (r *Resource) ShouldValue(name string) (interface{}, bool) {
	v, ok := r.should[name]
	return v, ok
}

// Properties lists the declared properties of the kind and its extensions.
func (r *Resource) Properties() []string {
	props := append([]string(nil), r.kind.Properties()...)
	for _, e := range r.exts {
		props = append(props, e.Properties()...)
	}
	return props
}

func (r *Resource) declared(name string) bool {
	if name == Exists || name == Active {
		return true
	}
	for _, p := range r.Properties() {
		if p == name {
			return true
		}
	}
	return false
}

func (r *Resource) propertyError(name string) error {
	known := append(r.Properties(), Exists, Active)
	sort.Strings(known)
	return &common.PropertyError{Name: name, Known: known}
}

func (r *Resource) instanceOnly(op string) error {
	if !r.bound {
		return &common.StateError{Op: op, Reason: "not supported by a manager"}
	}
	return nil
}

// Get returns the staged value of a property, else its observed value. A declared
// property with neither yields nil.
func (r *Resource) Get(name string) (interface{}, error) {
	if err := r.instanceOnly("get"); err != nil {
		return nil, err
	}
	if v, ok := r.should[name]; ok {
		return v, nil
	}
	if v, ok := r.has[name]; ok {
		return v, nil
	}
	if r.declared(name) {
		return nil, nil
	}
	return nil, r.propertyError(name)
}

// Set stages a property value for the next write.
func (r *Resource) Set(name string, value interface{}) error {
	if err := r.instanceOnly("set"); err != nil {
		return err
	}
	if !r.declared(name) {
		return r.propertyError(name)
	}
	r.should[name] = value
	return nil
}

// PropCopy stages a copy of the observed value of a property, so a list may be edited
// in place and written as a minimal change.
func (r *Resource) PropCopy(name string) (interface{}, error) {
	if err := r.instanceOnly("propcopy"); err != nil {
		return nil, err
	}
	if !r.declared(name) {
		return nil, r.propertyError(name)
	}
	v := copyValue(r.has[name])
	r.should[name] = v
	return v, nil
}

// Read fetches the configuration of the object and replaces has.
func (r *Resource) Read(ctx context.Context) error {
	if err := r.instanceOnly("read"); err != nil {
		return err
	}
	req := r.kind.ReadRequest(r.name)
	p, err := common.TracedFetch(ctx, r.target, req)
	if err != nil {
		common.ContextTrace(ctx).Error("read "+r.name, req.Locator, err)
		return errors.Wrapf(err, "read %s", r.name)
	}
	node, err := r.kind.Locate(p, r.name)
	if err != nil {
		return errors.Wrapf(err, "locate %s", r.name)
	}

	has := Props{Exists: false, Active: false}
	if node == nil {
		r.has, r.isNew = has, true
		return nil
	}
	has[Exists] = true
	has[Active] = node.SelectAttr(attrInactive) == ""
	if err = r.kind.ToHas(node, has); err != nil {
		return errors.Wrapf(err, "map %s", r.name)
	}
	for _, e := range r.exts {
		if err = e.ToHas(node, has); err != nil {
			return errors.Wrapf(err, "map %s", r.name)
		}
	}
	r.has, r.isNew = has, false
	return nil
}

// Write submits the staged properties. Nothing is submitted if nothing is staged or the
// staged values make no change. On success has is updated and should cleared; a fatal
// device error is returned as *common.WriteConflict with both maps untouched.
func (r *Resource) Write(ctx context.Context) (*WriteResult, error) {
	if err := r.instanceOnly("write"); err != nil {
		return nil, err
	}
	if len(r.should) == 0 {
		return &WriteResult{}, nil
	}

	should := r.should.clone()
	if _, ok := should[Exists]; !ok {
		should[Exists] = true
	}
	if _, ok := should[Active]; !ok && r.isNew {
		should[Active] = true
	}

	// Change functions see the defaults applied above; r.should itself is untouched
	// until the write succeeds.
	staged := r.should
	r.should = should
	root, obj, err := r.changes()
	r.should = staged
	if err != nil {
		return nil, err
	}
	if obj == nil {
		common.ContextTrace(ctx).SubmitSkipped(r.name)
		return &WriteResult{}, nil
	}

	res, err := r.submit(ctx, root, r.mode)
	if err != nil {
		return nil, err
	}
	if len(res.Warnings) > 0 {
		return &WriteResult{Changed: true, Warnings: res.Warnings}, nil
	}

	for k, v := range should {
		r.has[k] = v
	}
	r.should = Props{}
	r.isNew = false
	return &WriteResult{Changed: true}, nil
}

// changes builds the change document for the staged properties, returning a nil obj if
// nothing would change.
func (r *Resource) changes() (root, obj *common.Element, err error) {
	root, obj = r.kind.Edit(r.name)
	base := len(obj.Children)
	changed := false

	if exists, ok := r.should[Exists].(bool); ok && !exists {
		obj.SetAttr(attrDelete, attrDelete)
		return root, obj, nil
	}
	// A new object is created active unless told otherwise.
	if active, ok := r.should[Active].(bool); ok && active != r.has.flag(Active) && !(r.isNew && active) {
		if active {
			obj.SetAttr(attrActive, attrActive)
		} else {
			obj.SetAttr(attrInactive, attrInactive)
		}
		changed = true
	}
	if r.isNew && r.should.flag(Exists) {
		changed = true
	}

	for _, p := range r.kind.Properties() {
		if _, ok := r.should[p]; !ok {
			continue
		}
		c, err := r.kind.Change(r, obj, p)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "change %s", p)
		}
		changed = changed || c
	}
	for _, e := range r.exts {
		for _, p := range e.Properties() {
			if _, ok := r.should[p]; !ok {
				continue
			}
			c, err := e.Change(r, obj, p)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "change %s", p)
			}
			changed = changed || c
		}
	}

	if !changed && len(obj.Children) == base {
		return nil, nil, nil
	}
	return root, obj, nil
}

// submit sends a change document, mapping fatal device errors onto WriteConflict.
func (r *Resource) submit(ctx context.Context, root *common.Element, mode common.Mode) (*common.Result, error) {
	doc := common.NewChangeDocument(root)
	res, err := common.TracedSubmit(ctx, r.target, doc, mode)
	if err != nil {
		common.ContextTrace(ctx).Error("write "+r.name, doc.ID, err)
		var rpcErr *common.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Fatal() {
			return nil, &common.WriteConflict{Err: rpcErr}
		}
		return nil, errors.Wrapf(err, "write %s", r.name)
	}
	if res == nil {
		res = &common.Result{}
	}
	return res, nil
}

// Activate marks the object active, doing nothing if it already is.
func (r *Resource) Activate(ctx context.Context) (*WriteResult, error) {
	return r.setActive(ctx, true)
}

// Deactivate marks the object inactive, doing nothing if it already is.
func (r *Resource) Deactivate(ctx context.Context) (*WriteResult, error) {
	return r.setActive(ctx, false)
}

func (r *Resource) setActive(ctx context.Context, active bool) (*WriteResult, error) {
	if err := r.instanceOnly("activate"); err != nil {
		return nil, err
	}
	if r.has.flag(Active) == active {
		return &WriteResult{}, nil
	}
	r.should[Active] = active
	return r.Write(ctx)
}

// Delete removes the object, returning false if it does not exist.
func (r *Resource) Delete(ctx context.Context) (bool, error) {
	if err := r.instanceOnly("delete"); err != nil {
		return false, err
	}
	if !r.Exists() {
		return false, nil
	}
	root, obj := r.kind.Edit(r.name)
	obj.SetAttr(attrDelete, attrDelete)
	if _, err := r.submit(ctx, root, r.mode); err != nil {
		return false, err
	}
	r.has = Props{Exists: false, Active: false}
	r.should = Props{}
	r.isNew = true
	return true, nil
}

// Rename renames the object, returning false if it does not exist.
func (r *Resource) Rename(ctx context.Context, newName string) (bool, error) {
	if err := r.instanceOnly("rename"); err != nil {
		return false, err
	}
	if !r.Exists() {
		return false, nil
	}
	root, obj := r.kind.Edit(r.name)
	obj.SetAttr(attrRename, attrRename)
	obj.SetAttr(r.kind.Key(), newName)
	if _, err := r.submit(ctx, root, r.mode); err != nil {
		return false, err
	}
	r.name = newName
	return true, nil
}

// Reorder moves the object before or after a sibling, returning false if it does not exist.
func (r *Resource) Reorder(ctx context.Context, pos Position, sibling string) (bool, error) {
	if err := r.instanceOnly("reorder"); err != nil {
		return false, err
	}
	if pos != Before && pos != After {
		return false, errors.Errorf("invalid position %q", pos)
	}
	if !r.Exists() {
		return false, nil
	}
	root, obj := r.kind.Edit(r.name)
	obj.SetAttr(attrInsert, string(pos))
	obj.SetAttr(r.kind.Key(), sibling)
	if _, err := r.submit(ctx, root, r.mode); err != nil {
		return false, err
	}
	return true, nil
}
