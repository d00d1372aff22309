package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	assert "github.com/stretchr/testify/require"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/schema"
)

var listRequest = &common.FetchRequest{Kind: common.ConfigRequest, Locator: "system/login/user"}

func TestManagerList(t *testing.T) {
	target := &mockTarget{}
	target.On("Fetch", mock.Anything, listRequest).Return(payload(usersXML), nil).Once()

	m := NewManager(target, userKind)
	assert.True(t, m.Manager())

	names, err := m.List(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)

	// Cached.
	names, err = m.List(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)

	target.AssertExpectations(t)
}

func TestManagerCatalog(t *testing.T) {
	target := &mockTarget{}
	target.On("Fetch", mock.Anything, listRequest).Return(payload(usersXML), nil).Once()

	m := NewManager(target, userKind)
	cat, err := m.Catalog(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, map[string]Props{
		"alice": {Exists: true, Active: true, "uid": 2001, "class": "super-user", "locked": false, "groups": []string{}},
		"bob":   {Exists: true, Active: false, "uid": 2002, "class": "operator", "locked": true, "groups": []string{}},
	}, cat)

	cat["alice"]["class"] = "changed"
	cat, err = m.Catalog(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "super-user", cat["alice"]["class"])

	target.AssertExpectations(t)
}

func TestManagerRefresh(t *testing.T) {
	target := &mockTarget{}
	target.On("Fetch", mock.Anything, listRequest).Return(payload(usersXML), nil).Times(3)
	target.On("Fetch", mock.Anything, listRequest).
		Return(payload(`<configuration><system><login><user><name>carol</name></user></login></system></configuration>`), nil).Twice()

	m := NewManager(target, userKind)
	ctx := context.Background()
	names, err := m.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, names, 2)

	assert.NoError(t, m.Refresh(ctx))
	assert.NoError(t, m.Refresh(ctx))
	names, err = m.List(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"carol"}, names)
	cat, err := m.Catalog(ctx)
	assert.NoError(t, err)
	assert.Contains(t, cat, "carol")

	target.AssertExpectations(t)
}

func TestManagerOpen(t *testing.T) {
	target := &mockTarget{}
	target.On("Fetch", mock.Anything, listRequest).Return(payload(usersXML), nil).Once()
	target.onRead("bob", inactiveXML).Twice()

	m := NewManager(target, userKind, WithMode(common.ReplaceMode))
	ctx := context.Background()

	bob, err := m.OpenAt(ctx, -1)
	assert.NoError(t, err)
	assert.Equal(t, "bob", bob.Name())
	assert.False(t, bob.Active())
	assert.Equal(t, common.ReplaceMode, bob.mode)

	again, err := m.Open(ctx, "bob")
	assert.NoError(t, err)
	assert.NotSame(t, bob, again)

	_, err = m.OpenAt(ctx, 2)
	assert.EqualError(t, err, "index 2 out of range [0, 2)")

	target.AssertExpectations(t)
}

func TestManagerStateErrors(t *testing.T) {
	target := &mockTarget{}
	ctx := context.Background()
	m := NewManager(target, userKind)
	r := New(target, userKind, "alice")

	var se *common.StateError
	_, err := m.Get("uid")
	assert.True(t, errors.As(err, &se))
	assert.True(t, errors.As(m.Set("uid", 1), &se))
	assert.True(t, errors.As(m.Read(ctx), &se))
	_, err = m.Write(ctx)
	assert.True(t, errors.As(err, &se))
	_, err = m.Delete(ctx)
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "delete", se.Op)

	_, err = r.List(ctx)
	assert.True(t, errors.As(err, &se))
	_, err = r.Catalog(ctx)
	assert.True(t, errors.As(err, &se))
	assert.True(t, errors.As(r.Refresh(ctx), &se))
	_, err = r.Open(ctx, "bob")
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "open", se.Op)

	// A kind without the listing capabilities.
	plain := NewManager(target, struct{ Kind }{userKind})
	_, err = plain.List(ctx)
	assert.True(t, errors.As(err, &se))
	_, err = plain.Catalog(ctx)
	assert.True(t, errors.As(err, &se))
	assert.NoError(t, plain.Refresh(ctx))

	target.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestKindFromTable(t *testing.T) {
	doc, err := schema.Parse([]byte(`
UserTable:
  get: system/login/user
  set: system/login/user
  key-field: username
  view: UserView
UserView:
  fields:
    username: name
    uid: { uid: int }
    class: class
    locked: { locked: flag }

StatusTable:
  rpc: get-status
  item: status
  view: StatusView
StatusView:
  fields:
    state: state

AddressTable:
  get: interfaces/interface
  set: interfaces/interface
  key-field: name
  view: AddressView
AddressView:
  fields:
    name: name
    address: unit[name='0']/family/inet/address/name
`))
	assert.NoError(t, err)
	cat, err := schema.Compile(doc)
	assert.NoError(t, err)

	users, err := cat.Table("UserTable")
	assert.NoError(t, err)
	k, err := KindFromTable(users)
	assert.NoError(t, err)
	assert.Equal(t, &FieldKind{
		Path:    "system/login/user",
		KeyName: "name",
		Props: []Prop{
			{Name: "uid", Locator: "uid", Type: Int},
			{Name: "class", Locator: "class", Type: Scalar},
			{Name: "locked", Locator: "locked", Type: Flag},
		},
	}, k)
	assert.Equal(t, []string{"uid", "class", "locked"}, k.Properties())
	assert.Equal(t, "name", k.Key())

	status, err := cat.Table("StatusTable")
	assert.NoError(t, err)
	_, err = KindFromTable(status)
	var schemaErr *common.SchemaError
	assert.True(t, errors.As(err, &schemaErr))

	addresses, err := cat.Table("AddressTable")
	assert.NoError(t, err)
	_, err = KindFromTable(addresses)
	assert.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "address", schemaErr.Field)
}

func TestFieldKindDocuments(t *testing.T) {
	root, obj := userKind.Edit("alice")
	assert.Equal(t, "user", obj.Name)
	assert.Equal(t, `<configuration><system><login><user><name>alice</name></user></login></system></configuration>`, root.String())

	req := userKind.ReadRequest("o'brien")
	assert.Equal(t, `system/login/user[name="o'brien"]`, req.Locator)

	n, err := userKind.Locate(&common.Payload{}, "alice")
	assert.NoError(t, err)
	assert.Nil(t, n)

	_, err = userKind.Locate(payload(`<configuration><system><login>
<user><name>a</name></user><user><name>a</name></user></login></system></configuration>`), "a")
	var ee *common.ExtractionError
	assert.True(t, errors.As(err, &ee))

	has := Props{}
	err = userKind.ToHas(common.RootElement(payload(`<user><name>a</name><uid>x</uid></user>`).XML), has)
	assert.True(t, errors.As(err, &ee))
}

const zoneXML = `<configuration><security><zones><security-zone>
<name>trust</name>
<host-inbound-traffic>
<system-services><name>ssh</name></system-services>
<system-services><name>ping</name></system-services>
<protocols><name>ospf</name></protocols>
</host-inbound-traffic>
</security-zone></zones></security></configuration>`

func TestHostInboundTraffic(t *testing.T) {
	zoneKind := &FieldKind{Path: "security/zones/security-zone", KeyName: "name"}
	target := &mockTarget{}
	target.On("Fetch", mock.Anything, &common.FetchRequest{
		Kind:    common.ConfigRequest,
		Locator: "security/zones/security-zone[name='trust']",
	}).Return(payload(zoneXML), nil).Once()

	ctx := context.Background()
	z, err := Open(ctx, target, zoneKind, "trust", WithExtension(HostInboundTraffic{}))
	assert.NoError(t, err)
	assert.Equal(t, []string{Services, Protocols}, z.Properties())

	services, err := z.Get(Services)
	assert.NoError(t, err)
	assert.Equal(t, []string{"ssh", "ping"}, services)

	assert.NoError(t, z.Set(Services, []string{"ssh", "https"}))
	assert.NoError(t, z.Set(Protocols, []interface{}{"ospf"}))

	target.onSubmit(`<configuration><security><zones><security-zone><name>trust</name><host-inbound-traffic>`+
		`<system-services><name>https</name></system-services>`+
		`<system-services delete="delete"><name>ping</name></system-services>`+
		`</host-inbound-traffic></security-zone></zones></security></configuration>`, common.MergeMode).
		Return(&common.Result{}, nil).Once()

	res, err := z.Write(ctx)
	assert.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"ssh", "https"}, z.Has()[Services])

	target.AssertExpectations(t)
}

func TestFieldKindParseValue(t *testing.T) {
	for _, tc := range []struct {
		name, prop, text string
		want             interface{}
	}{
		{"int", "uid", "2001", 2001},
		{"scalar", "class", "operator", "operator"},
		{"empty scalar deletes", "class", "", nil},
		{"flag", "locked", "true", true},
		{"list", "groups", "ops, admin,", []string{"ops", "admin"}},
		{"empty list", "groups", "", []string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, err := userKind.ParseValue(tc.prop, tc.text)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}

	_, err := userKind.ParseValue("uid", "many")
	assert.Error(t, err)
	_, err = userKind.ParseValue("locked", "maybe")
	assert.Error(t, err)
	_, err = userKind.ParseValue("shell", "bash")
	var pe *common.PropertyError
	assert.True(t, errors.As(err, &pe))
}
