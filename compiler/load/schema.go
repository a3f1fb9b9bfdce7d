package load

import (
	"errors"
	"os"
	"sort"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/syssam/subgen"
)

// Schema is a validated GraphQL entity schema.
type Schema struct {
	Path string
	AST  *ast.Schema
	// Types holds the types declared in the schema file, in declaration order.
	Types []*ast.Definition
}

// Type returns the declared type with the given name.
func (s *Schema) Type(name string) (*ast.Definition, bool) {
	def, ok := s.AST.Types[name]
	return def, ok
}

// graphPrelude declares the directives and scalars the indexing runtime
// provides to every schema.
var graphPrelude = &ast.Source{
	Name:    "graph-prelude.graphql",
	BuiltIn: true,
	Input: `directive @entity(immutable: Boolean, timeseries: Boolean) on OBJECT
directive @derivedFrom(field: String!) on FIELD_DEFINITION
scalar BigInt
scalar BigDecimal
scalar Bytes
scalar Int8
scalar Timestamp
`,
}

// LoadSchema reads and validates the GraphQL schema at path.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, subgen.NewParseError(path, "read schema", err)
	}
	return ParseSchema(path, string(data))
}

// ParseSchema parses and validates schema text. path names the source in
// errors and positions.
func ParseSchema(path, input string) (*Schema, error) {
	src := &ast.Source{Name: path, Input: input}
	s, err := gqlparser.LoadSchema(graphPrelude, src)
	if err != nil {
		perr := subgen.NewParseError(path, "", err)
		var gerr *gqlerror.Error
		if errors.As(err, &gerr) {
			perr.Message = gerr.Message
			perr.Cause = nil
			if len(gerr.Locations) > 0 {
				perr.Line = gerr.Locations[0].Line
				perr.Column = gerr.Locations[0].Column
			}
		}
		return nil, perr
	}
	doc := &Schema{Path: path, AST: s}
	for _, def := range s.Types {
		if def.BuiltIn || def.Position == nil || def.Position.Src == nil || def.Position.Src.Name != src.Name {
			continue
		}
		doc.Types = append(doc.Types, def)
	}
	sort.Slice(doc.Types, func(i, j int) bool {
		return doc.Types[i].Position.Start < doc.Types[j].Position.Start
	})
	return doc, nil
}
