package gen

import (
	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/ir"
	"github.com/syssam/subgen/compiler/load"
)

// MapTemplates declares one template unit per data source template. Source
// keeps the manifest name the runtime instantiates the template by.
func MapTemplates(templates []*load.Template) (*ir.Group, error) {
	units := make([]*ir.Unit, len(templates))
	for i, t := range templates {
		units[i] = &ir.Unit{Name: typeName(memberName(t.Name, i)), Kind: ir.KindTemplate, Source: t.Name}
	}
	g, err := ir.Link(units)
	if err != nil {
		return nil, subgen.NewAbiMappingError("", "", "template name collision: "+err.Error())
	}
	return g, nil
}
