package tilegraph

import (
	"github.com/janelia-flyem/tilegraph/combiner"
	"github.com/janelia-flyem/tilegraph/filter"
	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/source"
)

// Version of the tilegraph module.
const Version = "0.9.0"

// NewRegistry returns a registry holding every built-in node type.
func NewRegistry() (*node.Registry, error) {
	reg := node.NewRegistry()
	for _, register := range []func(*node.Registry) error{
		source.RegisterTypes,
		filter.RegisterTypes,
		combiner.RegisterTypes,
	} {
		if err := register(reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
