package extract

import (
	"errors"
	"testing"

	"github.com/antchfx/xmlquery"
	assert "github.com/stretchr/testify/require"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/schema"
)

const interfaceXML = `
<interface-information>
  <physical-interface>
    <name kind="phy">ge-0/0/0</name>
    <oper-status>
up
    </oper-status>
    <mtu>1514</mtu>
    <speed>1000mbps</speed>
    <if-device-flags>
      <ifdf-running/>
      <ifdf-present/>
    </if-device-flags>
    <address>10.0.0.1</address>
    <address>10.0.0.2</address>
    <counter>1</counter>
    <counter>2</counter>
  </physical-interface>
</interface-information>`

const interfaceView = `
InterfaceView:
  fields:
    name: name
    kind: name/@kind
    oper: oper-status
    up: { oper-status: True=up }
    down: { oper-status: False=up }
    mtu: { mtu: int }
    speed: { speed: { type: str, default: auto } }
    bad_mtu: { speed: int }
    running: { if-device-flags/ifdf-running: flag }
    admin_down: { if-device-flags/ifdf-down: flag }
    first_flag: if-device-flags/ifdf-running
    addresses: address
    counters: { counter: int }
    missing: description
`

func compileView(t *testing.T, text, name string) *schema.ViewDescriptor {
	t.Helper()
	doc, err := schema.Parse([]byte(text))
	assert.NoError(t, err)
	cat, err := schema.Compile(doc)
	assert.NoError(t, err)
	v, err := cat.View(name)
	assert.NoError(t, err)
	return v
}

func record(t *testing.T) *xmlquery.Node {
	t.Helper()
	p, err := common.ParseXML(interfaceXML)
	assert.NoError(t, err)
	nodes, err := FindLocator(p.XML, "//physical-interface")
	assert.NoError(t, err)
	assert.Len(t, nodes, 1)
	return nodes[0]
}

func value(t *testing.T, v *schema.ViewDescriptor, node *xmlquery.Node, name string) interface{} {
	t.Helper()
	f, ok := v.Field(name)
	assert.True(t, ok, name)
	val, err := Value(node, f)
	assert.NoError(t, err, name)
	return val
}

func TestXMLValue(t *testing.T) {
	v := compileView(t, interfaceView, "InterfaceView")
	node := record(t)

	assert.Equal(t, "ge-0/0/0", value(t, v, node, "name"))
	assert.Equal(t, "phy", value(t, v, node, "kind"))
	assert.Equal(t, "up", value(t, v, node, "oper"))
	assert.Equal(t, true, value(t, v, node, "up"))
	assert.Equal(t, false, value(t, v, node, "down"))
	assert.Equal(t, 1514, value(t, v, node, "mtu"))
	assert.Equal(t, "1000mbps", value(t, v, node, "speed"))
	assert.Equal(t, true, value(t, v, node, "running"))
	assert.Equal(t, false, value(t, v, node, "admin_down"))
	assert.Equal(t, "ifdf-running", value(t, v, node, "first_flag"))
	assert.Equal(t, []interface{}{"10.0.0.1", "10.0.0.2"}, value(t, v, node, "addresses"))
	assert.Equal(t, []interface{}{1, 2}, value(t, v, node, "counters"))
	assert.Nil(t, value(t, v, node, "missing"))
}

func TestXMLValueDefault(t *testing.T) {
	v := compileView(t, interfaceView, "InterfaceView")
	p, err := common.ParseXML(`<physical-interface><name>lo0</name></physical-interface>`)
	assert.NoError(t, err)
	node := common.RootElement(p.XML)

	assert.Equal(t, "auto", value(t, v, node, "speed"))
	assert.Nil(t, value(t, v, node, "up"))
	assert.Equal(t, false, value(t, v, node, "running"))
}

func TestXMLValueCoercionError(t *testing.T) {
	v := compileView(t, interfaceView, "InterfaceView")
	f, _ := v.Field("bad_mtu")

	_, err := Value(record(t), f)
	var ee *common.ExtractionError
	assert.True(t, errors.As(err, &ee))
	assert.Equal(t, "speed", ee.Locator)
}

func TestFindOne(t *testing.T) {
	node := record(t)
	v := compileView(t, interfaceView, "InterfaceView")

	name, _ := v.Field("name")
	n, err := FindOne(node, name.XPath(), name.Locator)
	assert.NoError(t, err)
	assert.Equal(t, "ge-0/0/0", Text(n))

	missing, _ := v.Field("missing")
	n, err = FindOne(node, missing.XPath(), missing.Locator)
	assert.NoError(t, err)
	assert.Nil(t, n)

	addresses, _ := v.Field("addresses")
	_, err = FindOne(node, addresses.XPath(), addresses.Locator)
	assert.Error(t, err)

	_, err = FindLocator(node, "a[[")
	assert.Error(t, err)
	assert.Empty(t, Find(nil, name.XPath()))
}
