package resource

import (
	"context"

	"github.com/pkg/errors"

	"github.com/damianoneill/nettables/common"
)

func (r *Resource) managerOnly(op string) error {
	if r.bound {
		return &common.StateError{Op: op, Reason: "not supported by instance " + r.name}
	}
	return nil
}

// List returns the names of every object, reading them on first use.
func (r *Resource) List(ctx context.Context) ([]string, error) {
	if err := r.managerOnly("list"); err != nil {
		return nil, err
	}
	if !r.listed {
		l, ok := r.kind.(Lister)
		if !ok {
			return nil, &common.StateError{Op: "list", Reason: "kind does not support listing"}
		}
		req := l.ListRequest()
		p, err := common.TracedFetch(ctx, r.target, req)
		if err != nil {
			return nil, errors.Wrap(err, "list")
		}
		names, err := l.ListNames(p)
		if err != nil {
			return nil, errors.Wrap(err, "list")
		}
		r.names, r.listed = names, true
	}
	return append([]string(nil), r.names...), nil
}

// Catalog returns the properties of every object keyed by name, reading them on first use.
func (r *Resource) Catalog(ctx context.Context) (map[string]Props, error) {
	if err := r.managerOnly("catalog"); err != nil {
		return nil, err
	}
	if !r.cataloged {
		c, ok := r.kind.(Cataloger)
		if !ok {
			return nil, &common.StateError{Op: "catalog", Reason: "kind does not support cataloging"}
		}
		req := c.CatalogRequest()
		p, err := common.TracedFetch(ctx, r.target, req)
		if err != nil {
			return nil, errors.Wrap(err, "catalog")
		}
		cat, err := c.CatalogProps(p)
		if err != nil {
			return nil, errors.Wrap(err, "catalog")
		}
		r.catalog, r.cataloged = cat, true
	}
	out := make(map[string]Props, len(r.catalog))
	for k, v := range r.catalog {
		out[k] = v.clone()
	}
	return out, nil
}

// Refresh discards the cached list and catalog and reads whichever the kind supports.
func (r *Resource) Refresh(ctx context.Context) error {
	if err := r.managerOnly("refresh"); err != nil {
		return err
	}
	r.names, r.listed = nil, false
	r.catalog, r.cataloged = nil, false
	if _, ok := r.kind.(Lister); ok {
		if _, err := r.List(ctx); err != nil {
			return err
		}
	}
	if _, ok := r.kind.(Cataloger); ok {
		if _, err := r.Catalog(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Open creates and reads a new instance for the named object. The instance is not cached.
func (r *Resource) Open(ctx context.Context, name string) (*Resource, error) {
	if err := r.managerOnly("open"); err != nil {
		return nil, err
	}
	return Open(ctx, r.target, r.kind, name, r.opts...)
}

// OpenAt opens the i'th listed object; a negative index counts from the end.
func (r *Resource) OpenAt(ctx context.Context, i int) (*Resource, error) {
	if err := r.managerOnly("open"); err != nil {
		return nil, err
	}
	names, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		i += len(names)
	}
	if i < 0 || i >= len(names) {
		return nil, errors.Errorf("index %d out of range [0, %d)", i, len(names))
	}
	return r.Open(ctx, names[i])
}
