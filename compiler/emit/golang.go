package emit

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/subgen/compiler/ir"
)

const (
	runtimePkg = "github.com/syssam/subgen/runtime"
	commonPkg  = "github.com/ethereum/go-ethereum/common"
	decimalPkg = "github.com/shopspring/decimal"
)

// Go renders bindings against the subgen runtime package. The package
// name of a file is derived from its directory.
type Go struct{}

// Ext implements Emitter.
func (Go) Ext() string { return ".go" }

// Render implements Emitter.
func (Go) Render(f *File) ([]byte, error) {
	g := &goFile{
		File:   jen.NewFile(packageName(f.Path)),
		owners: make(map[string]string),
		types:  make(map[string]string),
	}
	g.HeaderComment("Code generated by subgen. DO NOT EDIT.")
	for _, u := range f.Group.Units {
		if err := g.declare(u.Name); err != nil {
			return nil, err
		}
		if u.Kind == ir.KindEvent || u.Kind == ir.KindCall {
			for _, m := range u.Members {
				g.owners[m.Type.Unit] = u.Name
			}
		}
	}
	for _, u := range f.Group.Units {
		if err := g.unit(u); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := g.Render(&buf); err != nil {
		return nil, &FormatError{Message: err.Error()}
	}
	return buf.Bytes(), nil
}

// Declared implements Namespaced. Files in one directory form one package.
func (Go) Declared(f *File) []string {
	var names []string
	for _, u := range f.Group.Units {
		name := goName(u.Name)
		names = append(names, name)
		if u.Kind == ir.KindEntity {
			names = append(names, "New"+name, "Load"+name)
		}
	}
	return names
}

type goFile struct {
	*jen.File
	owners map[string]string
	// types maps Go type names to the unit they were derived from.
	types map[string]string
}

// declare reserves the Go type name of a unit.
func (g *goFile) declare(unit string) error {
	name := goName(unit)
	if prev, ok := g.types[name]; ok {
		return fmt.Errorf("units %s and %s both map to Go type %s", prev, unit, name)
	}
	g.types[name] = unit
	return nil
}

// goName returns the exported Go identifier for an IR name.
func goName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || r == '$' {
			continue
		}
		if b.Len() == 0 {
			r = unicode.ToUpper(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// methodName returns the accessor name for a member.
func methodName(m ir.Member) string {
	if m.Name == "id" {
		return "ID"
	}
	if name := goName(m.Name); name != "" {
		return name
	}
	return fmt.Sprintf("Value%d", m.Index)
}

func (g *goFile) unit(u *ir.Unit) error {
	methods := make(map[string]bool)
	reserve := func(names ...string) error {
		for _, n := range names {
			if methods[n] {
				return fmt.Errorf("%s: accessor %s is declared twice", u.Name, n)
			}
			methods[n] = true
		}
		return nil
	}
	name := goName(u.Name)
	switch u.Kind {
	case ir.KindEvent, ir.KindCall:
		embed, recv, field := "Event", "e", "event"
		if u.Kind == ir.KindCall {
			embed, recv, field = "Call", "c", "call"
		}
		g.Commentf("%s is the %s %s.", name, u.Signature, u.Kind)
		g.Type().Id(name).Struct(jen.Qual(runtimePkg, embed))
		for _, m := range u.Members {
			if err := reserve(methodName(m)); err != nil {
				return err
			}
			target := goName(m.Type.Unit)
			g.Func().Params(jen.Id(recv).Op("*").Id(name)).Id(methodName(m)).Params().Op("*").Id(target).Block(
				jen.Return(jen.Op("&").Id(target).Values(keyed(field, jen.Id(recv)))),
			)
		}
	case ir.KindEventParams, ir.KindCallInputs, ir.KindCallOutputs:
		field, values := "call", "InputValues"
		switch u.Kind {
		case ir.KindEventParams:
			field, values = "event", "Parameters"
		case ir.KindCallOutputs:
			values = "OutputValues"
		}
		g.Type().Id(name).Struct(jen.Id(field).Op("*").Id(goName(g.owners[u.Name])))
		for _, m := range u.Members {
			if err := reserve(methodName(m)); err != nil {
				return err
			}
			value := jen.Id("p").Dot(field).Dot(values).Index(jen.Lit(m.Index)).Dot("Value")
			g.Func().Params(jen.Id("p").Op("*").Id(name)).Id(methodName(m)).Params().Add(goType(m.Type)).Block(
				jen.Return(convert(value, m.Type)),
			)
		}
	case ir.KindTuple:
		g.Type().Id(name).Qual(runtimePkg, "Tuple")
		for _, m := range u.Members {
			if err := reserve(methodName(m)); err != nil {
				return err
			}
			g.Func().Params(jen.Id("t").Id(name)).Id(methodName(m)).Params().Add(goType(m.Type)).Block(
				jen.Return(convert(jen.Id("t").Index(jen.Lit(m.Index)), m.Type)),
			)
		}
	case ir.KindEntity:
		return g.entity(u, name, reserve)
	case ir.KindTemplate:
		g.template(u, name)
	default:
		return fmt.Errorf("%s: unexpected unit kind %s", u.Name, u.Kind)
	}
	return nil
}

func (g *goFile) entity(u *ir.Unit, name string, reserve func(...string) error) error {
	idMember, _ := u.Member("id")
	id := idMember.Type
	ctx := jen.Id("ctx").Qual("context", "Context")
	store := jen.Id("s").Qual(runtimePkg, "Store")
	recv := jen.Id("e").Op("*").Id(name)
	entity := jen.Id("e").Dot("Entity")
	if err := reserve("Save", "Entity"); err != nil {
		return err
	}

	g.Commentf("%s is the %s entity.", name, u.Source)
	g.Type().Id(name).Struct(jen.Op("*").Qual(runtimePkg, "Entity"))

	g.Commentf("New%s returns an unsaved %s with the given id.", name, name)
	g.Func().Id("New"+name).Params(jen.Id("id").Add(goType(id))).Op("*").Id(name).Block(
		jen.Id("e").Op(":=").Op("&").Id(name).Values(keyed("Entity", jen.Qual(runtimePkg, "NewEntity").Call())),
		entity.Clone().Dot("Set").Call(jen.Lit("id"), jen.Id("id")),
		jen.Return(jen.Id("e")),
	)

	g.Commentf("Load%s returns the stored %s, or nil if there is none.", name, name)
	g.Func().Id("Load"+name).Params(ctx, store, jen.Id("id").Add(goType(id))).Params(jen.Op("*").Id(name), jen.Error()).Block(
		jen.List(jen.Id("e"), jen.Err()).Op(":=").Id("s").Dot("Get").Call(jen.Id("ctx"), jen.Lit(u.Source), jen.Qual(runtimePkg, "IDString").Call(jen.Id("id"))),
		jen.If(jen.Err().Op("!=").Nil().Op("||").Id("e").Op("==").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
		jen.Return(jen.Op("&").Id(name).Values(keyed("Entity", jen.Id("e"))), jen.Nil()),
	)

	g.Comment("Save stores the entity.")
	g.Func().Params(recv).Id("Save").Params(ctx, store).Error().Block(
		jen.Return(jen.Id("s").Dot("Set").Call(
			jen.Id("ctx"), jen.Lit(u.Source),
			jen.Qual(runtimePkg, "IDString").Call(entity.Clone().Dot("MustGet").Call(jen.Lit("id"))),
			entity.Clone(),
		)),
	)

	for _, m := range u.Members {
		method := methodName(m)
		if m.Access == ir.Derived {
			if err := reserve(method); err != nil {
				return err
			}
			g.derived(name, method, m)
			continue
		}
		if err := reserve(method, "Set"+method); err != nil {
			return err
		}
		key := jen.Lit(m.Key)
		if m.Type.Nullable {
			if err := reserve("Unset" + method); err != nil {
				return err
			}
			g.Func().Params(recv).Id(method).Params().Params(jen.Id("v").Add(goType(m.Type)), jen.Id("ok").Bool()).Block(
				jen.List(jen.Id("raw"), jen.Id("ok")).Op(":=").Add(entity.Clone()).Dot("Get").Call(key),
				jen.If(jen.Id("ok")).Block(jen.Id("v").Op("=").Add(convert(jen.Id("raw"), m.Type))),
				jen.Return(jen.Id("v"), jen.Id("ok")),
			)
		} else {
			g.Func().Params(recv).Id(method).Params().Add(goType(m.Type)).Block(
				jen.Return(convert(entity.Clone().Dot("MustGet").Call(key), m.Type)),
			)
		}
		value := jen.Id("v")
		if m.Type.IsList() {
			value = jen.Qual(runtimePkg, "ListOf").Call(jen.Id("v"))
		}
		g.Func().Params(recv).Id("Set"+method).Params(jen.Id("v").Add(goType(m.Type))).Block(
			entity.Clone().Dot("Set").Call(key, value),
		)
		if m.Type.Nullable {
			g.Func().Params(recv).Id("Unset" + method).Params().Block(
				entity.Clone().Dot("Unset").Call(key),
			)
		}
	}
	return nil
}

// derived emits a reverse lookup of the entities whose back-reference
// field holds this entity's id.
func (g *goFile) derived(name, method string, m ir.Member) {
	target := m.Type.Base().Unit
	lookup := jen.List(jen.Id("related"), jen.Err()).Op(":=").Id("s").Dot("LoadRelated").Call(
		jen.Id("ctx"), jen.Lit(target), jen.Lit(m.DerivedFrom), jen.Id("e").Dot("Entity").Dot("MustGet").Call(jen.Lit("id")),
	)
	params := []jen.Code{jen.Id("ctx").Qual("context", "Context"), jen.Id("s").Qual(runtimePkg, "Store")}
	g.Commentf("%s loads the %s entities whose %s field references e.", method, target, m.DerivedFrom)
	if m.Type.IsList() {
		g.Func().Params(jen.Id("e").Op("*").Id(name)).Id(method).Params(params...).Params(jen.Index().Op("*").Id(goName(target)), jen.Error()).Block(
			lookup,
			jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
			jen.Id("out").Op(":=").Make(jen.Index().Op("*").Id(goName(target)), jen.Len(jen.Id("related"))),
			jen.For(jen.List(jen.Id("i"), jen.Id("r")).Op(":=").Range().Id("related")).Block(
				jen.Id("out").Index(jen.Id("i")).Op("=").Op("&").Id(goName(target)).Values(keyed("Entity", jen.Id("r"))),
			),
			jen.Return(jen.Id("out"), jen.Nil()),
		)
		return
	}
	g.Func().Params(jen.Id("e").Op("*").Id(name)).Id(method).Params(params...).Params(jen.Op("*").Id(goName(target)), jen.Error()).Block(
		lookup,
		jen.If(jen.Err().Op("!=").Nil().Op("||").Len(jen.Id("related")).Op("==").Lit(0)).Block(jen.Return(jen.Nil(), jen.Err())),
		jen.Return(jen.Op("&").Id(goName(target)).Values(keyed("Entity", jen.Id("related").Index(jen.Lit(0)))), jen.Nil()),
	)
}

func (g *goFile) template(u *ir.Unit, name string) {
	ctx := jen.Id("ctx").Qual("context", "Context")
	creator := jen.Id("c").Qual(runtimePkg, "DataSourceCreator")
	address := jen.Id("address").Qual(commonPkg, "Address")
	params := jen.Index().String().Values(jen.Id("address").Dot("Hex").Call())

	g.Commentf("%s instantiates the %s data source template.", name, u.Source)
	g.Type().Id(name).Struct()
	g.Func().Params(jen.Id(name)).Id("Create").Params(ctx, creator, address).Error().Block(
		jen.Return(jen.Id("c").Dot("CreateDataSource").Call(jen.Id("ctx"), jen.Lit(u.Source), params, jen.Nil())),
	)
	g.Func().Params(jen.Id(name)).Id("CreateWithContext").Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("c").Qual(runtimePkg, "DataSourceCreator"),
		jen.Id("address").Qual(commonPkg, "Address"),
		jen.Id("dsContext").Qual(runtimePkg, "DataSourceContext"),
	).Error().Block(
		jen.Return(jen.Id("c").Dot("CreateDataSource").Call(jen.Id("ctx"), jen.Lit(u.Source), params.Clone(), jen.Id("dsContext"))),
	)
}

// keyed renders a single-field composite literal element, key: value.
func keyed(key string, value jen.Code) jen.Code {
	return jen.Id(key).Op(":").Add(value)
}

// goType returns the Go type of t, ignoring nullability.
func goType(t ir.TypeRef) jen.Code {
	switch {
	case t.IsList():
		return jen.Index().Add(goType(*t.Elem))
	case t.IsRef() && t.Scalar == ir.Invalid:
		return jen.Id(goName(t.Unit))
	}
	switch t.Scalar {
	case ir.BigInt:
		return jen.Op("*").Qual("math/big", "Int")
	case ir.BigDecimal:
		return jen.Qual(decimalPkg, "Decimal")
	case ir.Bytes:
		return jen.Index().Byte()
	case ir.Address:
		return jen.Qual(commonPkg, "Address")
	case ir.String:
		return jen.String()
	case ir.Boolean:
		return jen.Bool()
	case ir.Int32:
		return jen.Int32()
	case ir.Int64:
		return jen.Int64()
	}
	return jen.Qual(runtimePkg, "Value")
}

var goConverters = map[ir.Scalar]string{
	ir.BigInt:     "ToBigInt",
	ir.BigDecimal: "ToBigDecimal",
	ir.Bytes:      "ToBytes",
	ir.Address:    "ToAddress",
	ir.String:     "ToString",
	ir.Boolean:    "ToBool",
	ir.Int32:      "ToInt32",
	ir.Int64:      "ToInt64",
}

// convert converts the runtime.Value expr to the Go type of t.
func convert(expr jen.Code, t ir.TypeRef) jen.Code {
	switch {
	case t.IsList():
		elem := *t.Elem
		if !elem.IsList() && !(elem.IsRef() && elem.Scalar == ir.Invalid) {
			return jen.Qual(runtimePkg, "MapArray").Call(expr, jen.Qual(runtimePkg, goConverters[elem.Scalar]))
		}
		return jen.Qual(runtimePkg, "MapArray").Call(expr,
			jen.Func().Params(jen.Id("v").Qual(runtimePkg, "Value")).Add(goType(elem)).Block(
				jen.Return(convert(jen.Id("v"), elem)),
			),
		)
	case t.IsRef() && t.Scalar == ir.Invalid:
		return jen.Id(goName(t.Unit)).Call(jen.Qual(runtimePkg, "ToTuple").Call(expr))
	}
	return jen.Qual(runtimePkg, goConverters[t.Scalar]).Call(expr)
}
