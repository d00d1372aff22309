package table

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	assert "github.com/stretchr/testify/require"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/schema"
)

const testSchema = `
UserTable:
  rpc: get-users
  item: user
  key: n
  view: UserView
UserView:
  fields:
    name: n
    uid: u

LacpTable:
  rpc: get-lacp-interface-information
  item: lag
  key:
    - name
    - port | Null
  view: LacpView
PairTable:
  rpc: get-pairs
  item: lag
  key:
    - name
    - port
  view: LacpView
LacpView:
  fields:
    name: name

PhyPortTable:
  rpc: get-interface-information
  args:
    extensive: true
  args_key: interface_name
  item: physical-interface
  view: PhyPortView
PhyPortView:
  groups:
    mac_stats: ethernet-mac-statistics
  fields:
    name: name
    mtu: { mtu: int }
    logical: LogicalTable
    first_unit: { logical-interface: UnitTable }
  fields_mac_stats:
    rx: { input-bytes: int }
    tx: { output-bytes: int }
  eval:
    total: '{{ rx }} + {{ tx }}'
    broken: '{{ name }} * 2'
  filters: [broken]
LogicalTable:
  item: logical-interface
  view: LogicalView
UnitTable:
  view: LogicalView
LogicalView:
  fields:
    name: name
    address: address-family/interface-address/ifa-local

VersionTable:
  rpc: get-software-information
  view: VersionView
VersionView:
  fields:
    host: host-name
    model: product-model

ArpTable:
  command: show arp no-resolve
  view: ArpView
ArpView:
  columns:
    mac: MAC Address
    ip: Address
    interface: Interface

ProcTable:
  command: show processes
  item: '*'
  view: ProcView
ProcView:
  regex:
    name: 'Name:\s+(\S+)'
    pid: { 'PID:\s+(\d+)': int }
  exists:
    running: 'State: running'

CounterTable:
  rpc: get-port-counters
  item: port
  key: name
  view: CounterView
CounterView:
  groups:
    stats: statistics
  fields:
    name: name
    rx: rx
    tx: tx
    load: load
  fields_stats:
    errored: { errors: bool }
  eval:
    total: '{{ rx }} + {{ tx }}'
    half: '{{ load }} / 2'
    label: '{{ name }} + "-in"'

ShowVersionTable:
  command: show version
  title: 'Hostname and model'
  view: ShowVersionView
ShowVersionView:
  fields:
    hostname: Hostname
    model: Model
`

const usersXML = `<users>
  <user><n>a</n><u>1</u></user>
  <user><n>b</n><u>2</u></user>
</users>`

const interfacesXML = `<interface-information>
  <physical-interface>
    <name>ge-0/0/0</name>
    <mtu>1514</mtu>
    <ethernet-mac-statistics>
      <input-bytes>10</input-bytes>
      <output-bytes>20</output-bytes>
    </ethernet-mac-statistics>
    <logical-interface>
      <name>ge-0/0/0.0</name>
      <address-family><interface-address><ifa-local>10.0.0.1</ifa-local></interface-address></address-family>
    </logical-interface>
    <logical-interface>
      <name>ge-0/0/0.1</name>
    </logical-interface>
  </physical-interface>
  <physical-interface>
    <name>lo0</name>
    <mtu>65535</mtu>
  </physical-interface>
</interface-information>`

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, req *common.FetchRequest) (*common.Payload, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(*common.Payload)
	return p, args.Error(1)
}

func catalog(t *testing.T) *schema.Catalog {
	t.Helper()
	doc, err := schema.Parse([]byte(testSchema))
	assert.NoError(t, err)
	cat, err := schema.Compile(doc)
	assert.NoError(t, err)
	return cat
}

func descriptor(t *testing.T, name string) *schema.TableDescriptor {
	t.Helper()
	d, err := catalog(t).Table(name)
	assert.NoError(t, err)
	return d
}

func get(t *testing.T, v *View, name string) interface{} {
	t.Helper()
	assert.NotNil(t, v)
	val, err := v.Get(name)
	assert.NoError(t, err, name)
	return val
}

func TestTwoRecords(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "UserTable"), usersXML)
	assert.NoError(t, err)

	keys, err := tbl.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, keys)
	assert.Equal(t, 2, tbl.Len())

	b, err := tbl.Lookup("b")
	assert.NoError(t, err)
	assert.Equal(t, "2", get(t, b, "uid"))

	k, err := b.Key()
	assert.NoError(t, err)
	assert.Equal(t, "b", k)
	assert.Equal(t, "UserView:b", b.String())

	missing, err := tbl.Lookup("z")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := tbl.Contains("a")
	assert.NoError(t, err)
	assert.True(t, ok)
	ok, err = tbl.Contains("z")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = tbl.Lookup()
	assert.Error(t, err)
}

func TestIndexAndSlice(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "UserTable"), usersXML)
	assert.NoError(t, err)

	last, err := tbl.Index(-1)
	assert.NoError(t, err)
	assert.Equal(t, "b", get(t, last, "name"))

	first, err := tbl.Index(0)
	assert.NoError(t, err)
	assert.Equal(t, "a", get(t, first, "name"))

	_, err = tbl.Index(2)
	assert.Error(t, err)
	_, err = tbl.Index(-3)
	assert.Error(t, err)

	keys, err := tbl.Keys()
	assert.NoError(t, err)
	for _, bounds := range [][2]int{{0, 2}, {1, 2}, {0, 1}, {-1, 2}, {0, 10}, {1, 1}} {
		slice := tbl.Slice(bounds[0], bounds[1])
		a, b := clamp(bounds[0], len(keys)), clamp(bounds[1], len(keys))
		var want []*View
		for _, k := range keys[a:b] {
			v, err := tbl.Lookup(k)
			assert.NoError(t, err)
			want = append(want, v)
		}
		assert.Len(t, slice, len(want))
		for i := range want {
			assert.Same(t, want[i], slice[i])
		}
	}

	items, err := tbl.Items()
	assert.NoError(t, err)
	assert.Equal(t, "a", items[0].Key)
	assert.Same(t, first, items[0].View)
	assert.Len(t, tbl.Values(), 2)
}

func TestUnknownField(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "UserTable"), usersXML)
	assert.NoError(t, err)
	v, _ := tbl.Index(0)

	_, err = v.Get("gid")
	var pe *common.PropertyError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "gid", pe.Name)
	assert.Equal(t, []string{"name", "uid"}, pe.Known)
}

func TestCompositeKeys(t *testing.T) {
	payload := `<lacp>
  <lag><name>ae0</name><port>ge-0/0/1</port></lag>
  <lag><name>ae1</name></lag>
</lacp>`

	tbl, err := FromXML(descriptor(t, "PairTable"), payload)
	assert.NoError(t, err)
	keys, err := tbl.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{Tuple{"ae0", "ge-0/0/1"}, Tuple{"ae1", nil}}, keys)

	v, err := tbl.Lookup("ae1", nil)
	assert.NoError(t, err)
	assert.Equal(t, "ae1", get(t, v, "name"))
	v, err = tbl.Lookup(Tuple{"ae0", "ge-0/0/1"})
	assert.NoError(t, err)
	assert.NotNil(t, v)

	tbl, err = FromXML(descriptor(t, "LacpTable"), payload)
	assert.NoError(t, err)
	keys, err = tbl.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{Tuple{"ae0", "ge-0/0/1"}, Tuple{"ae1"}}, keys)
	assert.Equal(t, "ae0,ge-0/0/1", KeyString(keys[0]))
	assert.Equal(t, "(ae1)", keys[1].(Tuple).String())
}

func TestAmbiguousScalarKey(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "UserTable"), `<users><user><n>a</n><n>b</n></user></users>`)
	assert.NoError(t, err)

	_, err = tbl.Keys()
	var ee *common.ExtractionError
	assert.True(t, errors.As(err, &ee))
	assert.Equal(t, "n", ee.Locator)
}

func TestGroupsEvalAndNestedTables(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "PhyPortTable"), interfacesXML)
	assert.NoError(t, err)

	ge, err := tbl.Lookup("ge-0/0/0")
	assert.NoError(t, err)
	assert.Equal(t, 10, get(t, ge, "rx"))
	assert.Equal(t, 20, get(t, ge, "tx"))
	assert.Equal(t, 30, get(t, ge, "total"))

	_, err = ge.Get("broken")
	var ee *common.ExtractionError
	assert.True(t, errors.As(err, &ee))

	logical, ok := get(t, ge, "logical").(*Table)
	assert.True(t, ok)
	assert.True(t, logical.Static())
	keys, err := logical.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{"ge-0/0/0.0", "ge-0/0/0.1"}, keys)
	unit, _ := logical.Lookup("ge-0/0/0.0")
	assert.Equal(t, "10.0.0.1", get(t, unit, "address"))

	first, ok := get(t, ge, "first_unit").(*Table)
	assert.True(t, ok)
	assert.Equal(t, 1, first.Len())
	only, _ := first.Index(0)
	assert.Equal(t, "ge-0/0/0.0", get(t, only, "name"))

	lo, err := tbl.Lookup("lo0")
	assert.NoError(t, err)
	assert.Nil(t, get(t, lo, "rx"))
	assert.Nil(t, get(t, lo, "first_unit"))
	emptyLogical := get(t, lo, "logical").(*Table)
	assert.Equal(t, 0, emptyLogical.Len())

	m, err := lo.Map()
	assert.Error(t, err)
	assert.Nil(t, m)
}

func TestEvalUntypedFields(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "CounterTable"), `<ports>
  <port><name>et-0</name><rx>10</rx><tx>20</tx><load>0.5</load><statistics><errors/></statistics></port>
  <port><name>et-1</name><rx>1</rx><tx>2</tx><load>3</load></port>
</ports>`)
	assert.NoError(t, err)

	p, err := tbl.Lookup("et-0")
	assert.NoError(t, err)
	assert.Equal(t, "10", get(t, p, "rx"))
	assert.Equal(t, 30, get(t, p, "total"))
	assert.Equal(t, 0.25, get(t, p, "half"))
	assert.Equal(t, "et-0-in", get(t, p, "label"))
	assert.Equal(t, true, get(t, p, "errored"))

	p, err = tbl.Lookup("et-1")
	assert.NoError(t, err)
	assert.Equal(t, 3, get(t, p, "total"))
	assert.Equal(t, 1.5, get(t, p, "half"))
	// The statistics group is absent, so the flag reads false.
	assert.Equal(t, false, get(t, p, "errored"))
}

func TestEvalIsMemoised(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "PhyPortTable"), interfacesXML)
	assert.NoError(t, err)
	ge, _ := tbl.Index(0)

	assert.Equal(t, 30, get(t, ge, "total"))
	ge.cache["rx"] = 100
	assert.Equal(t, 100, get(t, ge, "rx"))
	assert.Equal(t, 30, get(t, ge, "total"))
}

func TestMapHonoursFilters(t *testing.T) {
	d := descriptor(t, "UserTable")
	tbl, err := FromXML(d, usersXML)
	assert.NoError(t, err)

	m, err := tbl.Map()
	assert.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"name": "a", "uid": "1"},
		"b": map[string]interface{}{"name": "b", "uid": "2"},
	}, m)

	ge, err := FromXML(descriptor(t, "PhyPortTable"), interfacesXML)
	assert.NoError(t, err)
	v, _ := ge.Index(0)
	vm, err := v.Map()
	assert.NoError(t, err)
	assert.NotContains(t, vm, "broken")
	assert.Equal(t, 30, vm["total"])
	assert.Equal(t, map[string]interface{}{
		"ge-0/0/0.0": map[string]interface{}{"name": "ge-0/0/0.0", "address": "10.0.0.1"},
		"ge-0/0/0.1": map[string]interface{}{"name": "ge-0/0/0.1", "address": nil},
	}, vm["logical"])

	items, err := v.Items()
	assert.Error(t, err)
	assert.Nil(t, items)
}

func TestContainerTable(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "VersionTable"),
		`<rpc-reply><software-information><host-name>r1</host-name><product-model>srx300</product-model></software-information></rpc-reply>`)
	assert.NoError(t, err)

	assert.Equal(t, 1, tbl.Len())
	keys, err := tbl.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{nil}, keys)

	v, err := tbl.Index(0)
	assert.NoError(t, err)
	items, err := v.Items()
	assert.NoError(t, err)
	assert.Equal(t, []Item{{Name: "host", Value: nil}, {Name: "model", Value: nil}}, items)
	assert.Equal(t, "rpc-reply", v.Node().Data)

	tbl, err = FromXML(descriptor(t, "VersionTable"),
		`<software-information><host-name>r1</host-name><product-model>srx300</product-model></software-information>`)
	assert.NoError(t, err)
	v, _ = tbl.Index(0)
	assert.Equal(t, "r1", get(t, v, "host"))
	assert.Equal(t, []string{"host", "model"}, v.Fields())
}

func TestCommandTables(t *testing.T) {
	arp, err := FromText(descriptor(t, "ArpTable"), `MAC Address       Address         Interface     Flags
00:0c:29:5f:1c:5a 10.0.0.1        ge-0/0/0.0    none
00:0c:29:5f:1c:5b 10.0.0.2        ge-0/0/1.0    none
`)
	assert.NoError(t, err)
	keys, err := arp.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{"00:0c:29:5f:1c:5a", "00:0c:29:5f:1c:5b"}, keys)
	v, _ := arp.Lookup("00:0c:29:5f:1c:5b")
	assert.Equal(t, "ge-0/0/1.0", get(t, v, "interface"))

	proc, err := FromText(descriptor(t, "ProcTable"), "Name: rpd\nPID: 1402\nState: running\n\nName: mgd\nPID: 1388\nState: sleeping\n")
	assert.NoError(t, err)
	keys, err = proc.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{"rpd", "mgd"}, keys)
	mgd, _ := proc.Lookup("mgd")
	assert.Equal(t, 1388, get(t, mgd, "pid"))
	assert.Equal(t, false, get(t, mgd, "running"))
	assert.Contains(t, mgd.Text(), "PID: 1388")

	ver, err := FromText(descriptor(t, "ShowVersionTable"), "Banner\n\nHostname and model\n\nHostname: r1\nModel: srx300\n\nJunos: 21.4R1\n")
	assert.NoError(t, err)
	assert.Equal(t, 1, ver.Len())
	v, _ = ver.Index(0)
	assert.Equal(t, "r1", get(t, v, "hostname"))
	assert.Equal(t, "srx300", get(t, v, "model"))
}

func TestFromPayloadMismatch(t *testing.T) {
	_, err := FromText(descriptor(t, "UserTable"), "Name: rpd")
	assert.Error(t, err)

	p, err := common.ParseXML(usersXML)
	assert.NoError(t, err)
	_, err = FromPayload(descriptor(t, "ProcTable"), p)
	assert.Error(t, err)

	_, err = FromPayload(descriptor(t, "ProcTable"), nil)
	assert.Error(t, err)
}

func TestFetchOnStaticTable(t *testing.T) {
	tbl, err := FromXML(descriptor(t, "UserTable"), usersXML)
	assert.NoError(t, err)

	err = tbl.Fetch(context.Background(), nil)
	var se *common.StateError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "fetch", se.Op)
}

func TestFetch(t *testing.T) {
	users, err := common.ParseXML(usersXML)
	assert.NoError(t, err)
	one, err := common.ParseXML(`<users><user><n>c</n><u>3</u></user></users>`)
	assert.NoError(t, err)

	f := &mockFetcher{}
	ctx := context.Background()
	f.On("Fetch", ctx, &common.FetchRequest{Kind: common.RPCRequest, Locator: "get-users", Args: map[string]string{}}).Return(users, nil).Once()
	f.On("Fetch", ctx, &common.FetchRequest{Kind: common.RPCRequest, Locator: "get-users", Args: map[string]string{"all": ""}}).Return(one, nil).Once()
	f.On("Fetch", ctx, &common.FetchRequest{Kind: common.RPCRequest, Locator: "get-users", Args: map[string]string{"fail": "1"}}).Return(nil, &common.RPCError{Severity: "error", Message: "boom"}).Once()

	tbl := New(descriptor(t, "UserTable"), f)
	assert.False(t, tbl.Static())
	assert.Equal(t, 0, tbl.Len())

	assert.NoError(t, tbl.Fetch(ctx, nil))
	keys, _ := tbl.Keys()
	assert.Equal(t, []interface{}{"a", "b"}, keys)

	assert.NoError(t, tbl.Fetch(ctx, map[string]string{"all": ""}))
	keys, _ = tbl.Keys()
	assert.Equal(t, []interface{}{"c"}, keys)

	err = tbl.Fetch(ctx, map[string]string{"fail": "1"})
	var re *common.RPCError
	assert.True(t, errors.As(err, &re))
	keys, _ = tbl.Keys()
	assert.Equal(t, []interface{}{"c"}, keys)

	f.AssertExpectations(t)
}

func TestFetchKey(t *testing.T) {
	interfaces, err := common.ParseXML(interfacesXML)
	assert.NoError(t, err)

	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, mock.MatchedBy(func(req *common.FetchRequest) bool {
		return req.Locator == "get-interface-information" &&
			req.Args["interface_name"] == "ge-0/0/0" && req.Args["extensive"] == ""
	})).Return(interfaces, nil).Once()

	tbl := New(descriptor(t, "PhyPortTable"), f)
	assert.NoError(t, tbl.FetchKey(context.Background(), "ge-0/0/0", nil))
	assert.Equal(t, 2, tbl.Len())
	f.AssertExpectations(t)

	err = New(descriptor(t, "UserTable"), f).FetchKey(context.Background(), "a", nil)
	var se *common.StateError
	assert.True(t, errors.As(err, &se))
}
