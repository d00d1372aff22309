package resource

import (
	"github.com/antchfx/xmlquery"

	"github.com/damianoneill/nettables/common"
)

// Kind supplies the object specific behaviour of a resource.
type Kind interface {
	// Properties lists the declared properties, in the order their changes are written.
	Properties() []string
	// Key names the element identifying an object within its list.
	Key() string
	// ReadRequest builds the request fetching the configuration of the named object.
	ReadRequest(name string) *common.FetchRequest
	// Locate finds the named object in a fetched payload, returning nil when it is absent.
	Locate(p *common.Payload, name string) (*xmlquery.Node, error)
	// Edit builds the configuration hierarchy of a change document down to the element
	// of the named object, returning the root and that element.
	Edit(name string) (root, obj *common.Element)
	// ToHas maps the configuration of an object into has.
	ToHas(node *xmlquery.Node, has Props) error
	// Change adds the edit of a single staged property to obj, returning false if the
	// property made no change.
	Change(r *Resource, obj *common.Element, prop string) (bool, error)
}

// Lister is implemented by kinds able to list the names of every object.
type Lister interface {
	ListRequest() *common.FetchRequest
	ListNames(p *common.Payload) ([]string, error)
}

// Cataloger is implemented by kinds able to snapshot every object in a single read.
type Cataloger interface {
	CatalogRequest() *common.FetchRequest
	CatalogProps(p *common.Payload) (map[string]Props, error)
}

// Extension contributes additional properties to a kind.
type Extension interface {
	Properties() []string
	ToHas(node *xmlquery.Node, has Props) error
	Change(r *Resource, obj *common.Element, prop string) (bool, error)
}
