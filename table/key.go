package table

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/damianoneill/nettables/extract"
	"github.com/damianoneill/nettables/schema"
)

// Tuple is the key of a table declaring a list of key locators, one slot per locator.
// A slot whose locator matched nothing holds nil; a slot reaching a "Null" branch is omitted.
type Tuple []interface{}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = fmt.Sprint(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// KeyString renders a key for use as a map key.
func KeyString(key interface{}) string {
	switch k := key.(type) {
	case nil:
		return ""
	case Tuple:
		parts := make([]string, len(k))
		for i, v := range k {
			if v != nil {
				parts[i] = fmt.Sprint(v)
			}
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(k)
	}
}

// keyOf resolves the key of a view, which is a scalar or a Tuple.
func (t *Table) keyOf(v *View) (interface{}, error) {
	d := t.desc
	if d.Container() || len(d.Key) == 0 {
		return nil, nil
	}
	slots := make(Tuple, 0, len(d.Key))
	for i := range d.Key {
		val, omit, err := t.slot(v, d, i)
		if err != nil {
			return nil, err
		}
		if !omit {
			slots = append(slots, val)
		}
	}
	if !d.CompositeKey {
		if len(slots) == 0 {
			return nil, nil
		}
		return slots[0], nil
	}
	return slots, nil
}

// slot resolves the i'th key locator, trying its branches in order.
func (t *Table) slot(v *View, d *schema.TableDescriptor, i int) (val interface{}, omit bool, err error) {
	for _, b := range d.KeyBranches(i) {
		if b.Null {
			return nil, true, nil
		}
		if d.Text() {
			val, err = v.Get(b.Locator)
			if err != nil {
				return nil, false, err
			}
		} else {
			node, err := extract.FindOne(v.rec.node, b.XPath, b.Locator)
			if err != nil {
				return nil, false, err
			}
			if node != nil {
				val = extract.Text(node)
			}
		}
		if val != nil {
			return val, false, nil
		}
	}
	return nil, false, nil
}

// matchKey compares a record key against the key supplied to a lookup. Values are
// compared by their printed form so a text key "10" matches the int 10.
func matchKey(key interface{}, want []interface{}) bool {
	if len(want) == 1 {
		if tup, ok := want[0].(Tuple); ok {
			want = tup
		} else if _, composite := key.(Tuple); !composite {
			return sameValue(key, want[0])
		}
	}
	tup, ok := key.(Tuple)
	if !ok || len(tup) != len(want) {
		return false
	}
	for i := range tup {
		if !sameValue(tup[i], want[i]) {
			return false
		}
	}
	return true
}

func sameValue(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
