package resource

import (
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/extract"
)

// Properties contributed by HostInboundTraffic.
const (
	Services  = "services"
	Protocols = "protocols"
)

const hostInbound = "host-inbound-traffic"

var hostInboundLists = map[string]string{
	Services:  "system-services",
	Protocols: "protocols",
}

// HostInboundTraffic adds the system services and protocols a zone or interface
// accepts, each a list edited as a minimal difference.
type HostInboundTraffic struct{}

// Properties implements Extension.
func (HostInboundTraffic) Properties() []string {
	return []string{Services, Protocols}
}

// ToHas implements Extension.
func (HostInboundTraffic) ToHas(node *xmlquery.Node, has Props) error {
	for _, prop := range []string{Services, Protocols} {
		nodes, err := extract.FindLocator(node, hostInbound+"/"+hostInboundLists[prop]+"/name")
		if err != nil {
			return err
		}
		items := make([]string, len(nodes))
		for i, n := range nodes {
			items[i] = strings.TrimSpace(n.InnerText())
		}
		has[prop] = items
	}
	return nil
}

// Change implements Extension.
func (HostInboundTraffic) Change(r *Resource, obj *common.Element, prop string) (bool, error) {
	list, ok := hostInboundLists[prop]
	if !ok {
		return false, r.propertyError(prop)
	}
	should, _ := r.ShouldValue(prop)
	hs, err := Strings(r.HasValue(prop))
	if err != nil {
		return false, err
	}
	ss, err := Strings(should)
	if err != nil {
		return false, err
	}
	added, removed := DiffList(hs, ss)
	for _, a := range added {
		obj.Ensure(hostInbound).Add(list).Add("name", a)
	}
	for _, d := range removed {
		obj.Ensure(hostInbound).Add(list).SetAttr(attrDelete, attrDelete).Add("name", d)
	}
	return len(added)+len(removed) > 0, nil
}
