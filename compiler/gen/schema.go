package gen

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/ir"
	"github.com/syssam/subgen/compiler/load"
)

// Directive and argument names recognized on entity types.
const (
	entityDirective  = "entity"
	derivedDirective = "derivedFrom"
	derivedArgument  = "field"
	idField          = "id"
)

// graphScalars maps schema scalars to IR scalars.
var graphScalars = map[string]ir.Scalar{
	"ID":         ir.String,
	"String":     ir.String,
	"Int":        ir.Int32,
	"Int8":       ir.Int64,
	"Timestamp":  ir.Int64,
	"BigInt":     ir.BigInt,
	"BigDecimal": ir.BigDecimal,
	"Bytes":      ir.Bytes,
	"Boolean":    ir.Boolean,
}

// idScalars lists the scalars an entity id may have.
var idScalars = map[string]bool{"ID": true, "String": true, "Bytes": true, "Int8": true}

type schemaMapper struct {
	doc *load.Schema
	// ids holds the stored id scalar of every entity type.
	ids map[string]ir.Scalar
}

// MapSchema maps every @entity object type of the schema to an entity unit,
// in declaration order. Entity references are stored as the id of the
// referenced entity; @derivedFrom fields become read-only derived members.
func MapSchema(doc *load.Schema) (*ir.Group, error) {
	m := &schemaMapper{doc: doc, ids: make(map[string]ir.Scalar)}
	var entities []*ast.Definition
	for _, def := range doc.Types {
		if !isEntity(def) {
			continue
		}
		id, err := entityID(def)
		if err != nil {
			return nil, err
		}
		m.ids[def.Name] = id
		entities = append(entities, def)
	}
	units := make([]*ir.Unit, 0, len(entities))
	for _, def := range entities {
		u, err := m.entity(def)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	g, err := ir.Link(units)
	if err != nil {
		var lerr *ir.LinkError
		if errors.As(err, &lerr) {
			return nil, &subgen.SchemaMappingError{Type: lerr.Unit, Field: lerr.Member, Message: "link", Cause: err}
		}
		return nil, err
	}
	return g, nil
}

func isEntity(def *ast.Definition) bool {
	return def.Kind == ast.Object && def.Directives.ForName(entityDirective) != nil
}

// entityID validates the id field of an entity and returns its stored scalar.
func entityID(def *ast.Definition) (ir.Scalar, error) {
	f := def.Fields.ForName(idField)
	if f == nil {
		return ir.Invalid, subgen.NewSchemaMappingError(def.Name, idField, "entity has no id field")
	}
	if f.Type.Elem != nil || !idScalars[f.Type.NamedType] {
		return ir.Invalid, subgen.NewSchemaMappingError(def.Name, idField,
			fmt.Sprintf("id must be ID, String, Bytes or Int8, got %s", f.Type.String()))
	}
	return graphScalars[f.Type.NamedType], nil
}

func (m *schemaMapper) entity(def *ast.Definition) (*ir.Unit, error) {
	u := &ir.Unit{Name: def.Name, Kind: ir.KindEntity, Source: def.Name, Members: make([]ir.Member, 0, len(def.Fields))}
	for i, f := range def.Fields {
		t, err := m.typeRef(f.Type)
		if err != nil {
			return nil, subgen.NewSchemaMappingError(def.Name, f.Name, err.Error())
		}
		member := ir.Member{Name: f.Name, Key: f.Name, Index: i, Type: t, Access: ir.ReadWrite}
		if d := f.Directives.ForName(derivedDirective); d != nil {
			if member.DerivedFrom, err = m.derived(def, f, d); err != nil {
				return nil, err
			}
			member.Access = ir.Derived
		}
		u.Members = append(u.Members, member)
	}
	return u, nil
}

// derived resolves the back-reference field named by a @derivedFrom directive.
func (m *schemaMapper) derived(def *ast.Definition, f *ast.FieldDefinition, d *ast.Directive) (string, error) {
	arg := d.Arguments.ForName(derivedArgument)
	if arg == nil || arg.Value == nil || arg.Value.Raw == "" {
		return "", subgen.NewSchemaMappingError(def.Name, f.Name, "@derivedFrom requires a field argument")
	}
	field := arg.Value.Raw
	target := f.Type.Name()
	tdef, ok := m.doc.Type(target)
	if !ok || !isEntity(tdef) {
		return "", subgen.NewSchemaMappingError(def.Name, f.Name,
			fmt.Sprintf("@derivedFrom target %s is not an entity", target))
	}
	if tdef.Fields.ForName(field) == nil {
		return "", subgen.NewSchemaMappingError(def.Name, f.Name,
			fmt.Sprintf("@derivedFrom target %s has no field %q", target, field))
	}
	return field, nil
}

// typeRef maps a field type. Only one level of list nesting is allowed.
func (m *schemaMapper) typeRef(t *ast.Type) (ir.TypeRef, error) {
	if t.Elem == nil {
		return m.named(t)
	}
	if t.Elem.Elem != nil {
		return ir.TypeRef{}, fmt.Errorf("nested list %s is not supported", t.String())
	}
	elem, err := m.named(t.Elem)
	if err != nil {
		return ir.TypeRef{}, err
	}
	return ir.TypeRef{Elem: &elem, Nullable: !t.NonNull}, nil
}

func (m *schemaMapper) named(t *ast.Type) (ir.TypeRef, error) {
	ref := ir.TypeRef{Nullable: !t.NonNull}
	def, ok := m.doc.Type(t.NamedType)
	if !ok {
		return ir.TypeRef{}, fmt.Errorf("undeclared type %s", t.NamedType)
	}
	switch def.Kind {
	case ast.Scalar:
		s, ok := graphScalars[def.Name]
		if !ok {
			return ir.TypeRef{}, fmt.Errorf("unsupported scalar %s", def.Name)
		}
		ref.Scalar = s
	case ast.Enum:
		ref.Scalar = ir.String
	case ast.Object:
		id, ok := m.ids[def.Name]
		if !ok {
			return ir.TypeRef{}, fmt.Errorf("%s is not an entity", def.Name)
		}
		ref.Unit, ref.Scalar = def.Name, id
	default:
		return ir.TypeRef{}, fmt.Errorf("unsupported %s type %s", def.Kind, def.Name)
	}
	return ref, nil
}
