// Package table binds compiled table descriptors to raw payloads, exposing ordered,
// keyed collections of lazily resolved views.
package table

import (
	"context"

	"github.com/pkg/errors"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/extract"
	"github.com/damianoneill/nettables/schema"
)

// Table is an ordered, keyed collection of records bound to a fetcher or to a static payload.
// A Table is not safe for concurrent use.
type Table struct {
	desc    *schema.TableDescriptor
	fetcher common.Fetcher
	payload *common.Payload

	// views and keys are computed together on first access and replaced as a whole on fetch.
	views  []*View
	keys   []interface{}
	loaded bool
}

// Pair is a record key and its view.
type Pair struct {
	Key  interface{}
	View *View
}

// New creates a table that fetches its payload through f.
func New(desc *schema.TableDescriptor, f common.Fetcher) *Table {
	return &Table{desc: desc, fetcher: f}
}

func newStatic(desc *schema.TableDescriptor, p *common.Payload) *Table {
	return &Table{desc: desc, payload: p}
}

// FromPayload creates a static table over an existing payload. A static table supports
// every read operation except Fetch.
func FromPayload(desc *schema.TableDescriptor, p *common.Payload) (*Table, error) {
	if p == nil {
		return nil, errors.New("nil payload")
	}
	if desc.Text() && p.XML != nil {
		return nil, errors.Errorf("table %s reads command output, got xml", desc.Name)
	}
	if !desc.Text() && p.XML == nil && p.Text != "" {
		return nil, errors.Errorf("table %s reads xml, got text", desc.Name)
	}
	return newStatic(desc, p), nil
}

// FromXML creates a static table over an XML document.
func FromXML(desc *schema.TableDescriptor, text string) (*Table, error) {
	p, err := common.ParseXML(text)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s payload", desc.Name)
	}
	return FromPayload(desc, p)
}

// FromText creates a static table over command output.
func FromText(desc *schema.TableDescriptor, text string) (*Table, error) {
	return FromPayload(desc, &common.Payload{Text: text})
}

// Descriptor returns the table descriptor.
func (t *Table) Descriptor() *schema.TableDescriptor {
	return t.desc
}

// Payload returns the current payload, nil before the first fetch.
func (t *Table) Payload() *common.Payload {
	return t.payload
}

// Static returns true if the table was built over a fixed payload.
func (t *Table) Static() bool {
	return t.fetcher == nil
}

// Fetch issues the table request, merging params over the declared arguments, and replaces
// the payload. On error the previous payload and keys are kept.
func (t *Table) Fetch(ctx context.Context, params map[string]string) error {
	if t.Static() {
		return &common.StateError{Op: "fetch", Reason: "table " + t.desc.Name + " is bound to a static payload"}
	}
	req := t.desc.Request(params)
	p, err := common.TracedFetch(ctx, t.fetcher, req)
	if err != nil {
		common.ContextTrace(ctx).Error("fetch "+t.desc.Name, req.Locator, err)
		return errors.Wrapf(err, "fetch %s", t.desc.Name)
	}
	t.payload = p
	t.views, t.keys, t.loaded = nil, nil, false
	return nil
}

// FetchKey fetches with the first args_key argument set to key.
func (t *Table) FetchKey(ctx context.Context, key string, params map[string]string) error {
	if len(t.desc.ArgsKey) == 0 {
		return &common.StateError{Op: "fetch", Reason: "table " + t.desc.Name + " declares no args_key"}
	}
	merged := map[string]string{t.desc.ArgsKey[0]: key}
	for k, v := range params {
		merged[k] = v
	}
	return t.Fetch(ctx, merged)
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.load())
}

// Values returns the views in record order.
func (t *Table) Values() []*View {
	return append([]*View(nil), t.load()...)
}

// Keys returns the record keys in record order.
func (t *Table) Keys() ([]interface{}, error) {
	if err := t.loadKeys(); err != nil {
		return nil, err
	}
	return append([]interface{}(nil), t.keys...), nil
}

// Items returns the key and view of each record, in record order.
func (t *Table) Items() ([]Pair, error) {
	if err := t.loadKeys(); err != nil {
		return nil, err
	}
	out := make([]Pair, len(t.views))
	for i, v := range t.views {
		out[i] = Pair{Key: t.keys[i], View: v}
	}
	return out, nil
}

// Lookup returns the first view whose key matches, or nil. A composite key is supplied
// either as its slots or as a Tuple.
func (t *Table) Lookup(key ...interface{}) (*View, error) {
	if len(key) == 0 {
		return nil, errors.New("lookup requires a key")
	}
	if err := t.loadKeys(); err != nil {
		return nil, err
	}
	for i, k := range t.keys {
		if matchKey(k, key) {
			return t.views[i], nil
		}
	}
	return nil, nil
}

// Contains returns true if a record has the key.
func (t *Table) Contains(key ...interface{}) (bool, error) {
	v, err := t.Lookup(key...)
	return v != nil, err
}

// Index returns the i'th view; a negative index counts from the end.
func (t *Table) Index(i int) (*View, error) {
	views := t.load()
	if i < 0 {
		i += len(views)
	}
	if i < 0 || i >= len(views) {
		return nil, errors.Errorf("index %d out of range [0, %d)", i, len(views))
	}
	return views[i], nil
}

// Slice returns the views in [a, b), with negative bounds counting from the end and
// out of range bounds clamped.
func (t *Table) Slice(a, b int) []*View {
	views := t.load()
	a, b = clamp(a, len(views)), clamp(b, len(views))
	if a >= b {
		return []*View{}
	}
	return append([]*View(nil), views[a:b]...)
}

func clamp(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// Map renders every record with View.Map, keyed by KeyString of its key.
func (t *Table) Map() (map[string]interface{}, error) {
	items, err := t.Items()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(items))
	for _, it := range items {
		m, err := it.View.Map()
		if err != nil {
			return nil, err
		}
		out[KeyString(it.Key)] = m
	}
	return out, nil
}

func (t *Table) String() string {
	return t.desc.Name
}

func (t *Table) load() []*View {
	if t.loaded {
		return t.views
	}
	for _, r := range t.records() {
		t.views = append(t.views, newView(t, t.desc.View, r))
	}
	t.loaded = true
	return t.views
}

func (t *Table) loadKeys() error {
	views := t.load()
	if t.keys != nil || len(views) == 0 {
		return nil
	}
	keys := make([]interface{}, len(views))
	for i, v := range views {
		k, err := v.Key()
		if err != nil {
			return errors.Wrapf(err, "key of %s record %d", t.desc.Name, i)
		}
		keys[i] = k
	}
	t.keys = keys
	return nil
}

// records splits the payload into raw records.
func (t *Table) records() []record {
	if t.payload == nil {
		return nil
	}
	if t.desc.Text() {
		return t.textRecords()
	}
	return t.xmlRecords()
}

func (t *Table) xmlRecords() []record {
	ctx := t.payload.XML
	if ctx != nil && ctx.Parent == nil {
		ctx = common.RootElement(ctx)
	}
	if t.desc.Container() {
		return []record{{node: ctx}}
	}
	if ctx == nil {
		return nil
	}
	nodes := extract.Find(ctx, t.desc.ItemXPath())
	out := make([]record, len(nodes))
	for i, n := range nodes {
		out[i] = record{node: n}
	}
	return out
}

func (t *Table) textRecords() []record {
	lines := extract.Block(extract.Lines(t.payload.Text), t.desc.Title)
	if t.desc.View != nil {
		if cols := t.desc.View.Columns(); len(cols) > 0 {
			// Output without the header row holds no records.
			rows, err := extract.ParseColumns(lines, cols)
			if err != nil {
				return nil
			}
			out := make([]record, len(rows))
			for i, row := range rows {
				out[i] = record{text: &extract.TextRecord{Row: row, Delimiter: t.desc.Delimiter}}
			}
			return out
		}
	}
	if t.desc.Container() {
		return []record{{text: extract.NewTextRecord(lines, t.desc.Delimiter)}}
	}
	items := extract.Items(lines, t.desc.Item, t.desc.ItemPattern())
	out := make([]record, len(items))
	for i, it := range items {
		out[i] = record{text: extract.NewTextRecord(it, t.desc.Delimiter)}
	}
	return out
}
