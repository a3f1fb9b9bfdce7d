package emit

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/syssam/subgen/compiler/ir"
)

// AssemblyScript renders bindings against @graphprotocol/graph-ts.
type AssemblyScript struct{}

// Ext implements Emitter.
func (AssemblyScript) Ext() string { return ".ts" }

// Render implements Emitter.
func (AssemblyScript) Render(f *File) ([]byte, error) {
	data := newTSFile(f.Group)
	var buf bytes.Buffer
	if err := tsTemplates.ExecuteTemplate(&buf, "file", data); err != nil {
		return nil, fmt.Errorf("execute template for %s: %w", f.Path, err)
	}
	return formatTS(buf.Bytes())
}

// tsFile is the template data of one file.
type tsFile struct {
	Units   []*ir.Unit
	Imports []string
	owners  map[string]string
}

func newTSFile(g *ir.Group) *tsFile {
	f := &tsFile{Units: g.Units, owners: make(map[string]string)}
	imports := make(map[string]bool)
	for _, u := range g.Units {
		switch u.Kind {
		case ir.KindEvent, ir.KindCall:
			imports["ethereum"] = true
			for _, m := range u.Members {
				f.owners[m.Type.Unit] = u.Name
			}
		case ir.KindTuple:
			imports["ethereum"] = true
		case ir.KindEntity:
			for _, name := range []string{"Entity", "Value", "ValueKind", "store"} {
				imports[name] = true
			}
		case ir.KindTemplate:
			for _, name := range []string{"Address", "DataSourceTemplate", "DataSourceContext"} {
				imports[name] = true
			}
		}
		for _, m := range u.Members {
			switch s := m.Type.Base().Scalar; s {
			case ir.Address, ir.BigInt, ir.BigDecimal, ir.Bytes:
				imports[s.String()] = true
			}
		}
	}
	for name := range imports {
		f.Imports = append(f.Imports, name)
	}
	sort.Strings(f.Imports)
	return f
}

// Owner returns the event or call unit exposing the named parameter unit.
func (f *tsFile) Owner(name string) string { return f.owners[name] }

// ID returns the id member type of an entity.
func (f *tsFile) ID(u *ir.Unit) ir.TypeRef {
	m, _ := u.Member("id")
	return m.Type
}

var tsScalars = map[ir.Scalar]struct{ typ, conv string }{
	ir.BigInt:     {"BigInt", "BigInt"},
	ir.BigDecimal: {"BigDecimal", "BigDecimal"},
	ir.Bytes:      {"Bytes", "Bytes"},
	ir.Address:    {"Address", "Address"},
	ir.String:     {"string", "String"},
	ir.Boolean:    {"boolean", "Boolean"},
	ir.Int32:      {"i32", "I32"},
	ir.Int64:      {"i64", "I64"},
}

// tsType returns the AssemblyScript type of t, ignoring nullability.
func tsType(t ir.TypeRef) string {
	switch {
	case t.IsList():
		return "Array<" + tsType(*t.Elem) + ">"
	case t.IsRef() && t.Scalar == ir.Invalid:
		return t.Unit
	default:
		return tsScalars[t.Scalar].typ
	}
}

// valueType reports whether values of t cannot be null in AssemblyScript.
func valueType(t ir.TypeRef) bool {
	if t.IsList() {
		return false
	}
	switch t.Scalar {
	case ir.Boolean, ir.Int32, ir.Int64:
		return true
	}
	return false
}

// nullable reports whether an entity accessor of t returns null when unset.
func nullable(t ir.TypeRef) bool { return t.Nullable && !valueType(t) }

// fieldType returns the accessor type of an entity member.
func fieldType(t ir.TypeRef) string {
	if nullable(t) {
		return tsType(t) + " | null"
	}
	return tsType(t)
}

func zero(t ir.TypeRef) string {
	if t.Scalar == ir.Boolean {
		return "false"
	}
	return "0"
}

// abiValue converts the ethereum.Value expr to the type of t.
func abiValue(expr string, t ir.TypeRef) string {
	base := t.Base()
	if base.IsRef() {
		switch t.Depth() {
		case 0:
			return fmt.Sprintf("changetype<%s>(%s.toTuple())", base.Unit, expr)
		case 1:
			return fmt.Sprintf("%s.toTupleArray<%s>()", expr, base.Unit)
		case 2:
			return fmt.Sprintf("%s.toTupleMatrix<%s>()", expr, base.Unit)
		}
	} else {
		conv := tsScalars[base.Scalar].conv
		switch t.Depth() {
		case 0:
			return fmt.Sprintf("%s.to%s()", expr, conv)
		case 1:
			return fmt.Sprintf("%s.to%sArray()", expr, conv)
		case 2:
			return fmt.Sprintf("%s.to%sMatrix()", expr, conv)
		}
	}
	elem := tsType(*t.Elem)
	return fmt.Sprintf("%s.toArray().map<%s>((value: ethereum.Value): %s => %s)", expr, elem, elem, abiValue("value", *t.Elem))
}

func valueConv(t ir.TypeRef) string {
	if t.IsList() {
		return tsScalars[t.Elem.Scalar].conv + "Array"
	}
	return tsScalars[t.Scalar].conv
}

// valueFrom wraps expr of type t in a store Value.
func valueFrom(t ir.TypeRef, expr string) string {
	return fmt.Sprintf("Value.from%s(%s)", valueConv(t), expr)
}

// valueTo unwraps the store Value expr to the type of t.
func valueTo(t ir.TypeRef, expr string) string {
	return fmt.Sprintf("%s.to%s()", expr, valueConv(t))
}

var valueKinds = map[ir.Scalar]string{
	ir.String: "STRING",
	ir.Bytes:  "BYTES",
	ir.Int64:  "INT8",
}

// idKey converts a typed id expression to its store key.
func idKey(t ir.TypeRef, expr string) string {
	switch t.Scalar {
	case ir.Bytes:
		return expr + ".toHexString()"
	case ir.Int64:
		return expr + ".toString()"
	}
	return expr
}

// derivedType returns the accessor type of a derived member.
func derivedType(t ir.TypeRef) string {
	if t.IsList() {
		return "Array<" + t.Base().Unit + ">"
	}
	return t.Unit + " | null"
}

var tsTemplates = template.Must(template.New("ts").Funcs(template.FuncMap{
	"abiValue":    abiValue,
	"derived":     func(m ir.Member) bool { return m.Access == ir.Derived },
	"derivedType": derivedType,
	"fieldType":   fieldType,
	"idKey":       idKey,
	"kind":        func(u *ir.Unit) string { return u.Kind.String() },
	"list":        func(args ...any) []any { return args },
	"nullable":    nullable,
	"tsType":      tsType,
	"valueFrom":   valueFrom,
	"valueKind":   func(t ir.TypeRef) string { return "ValueKind." + valueKinds[t.Scalar] },
	"valueTo":     valueTo,
	"valueType":   valueType,
	"zero":        zero,
	"param":       func(format string, i int) string { return fmt.Sprintf(format, i) },
	"quote":       func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"` },
}).Parse(tsSource))

const tsSource = `
{{- define "file" -}}
// THIS IS AN AUTOGENERATED FILE. DO NOT EDIT THIS FILE DIRECTLY.

{{ if .Imports -}}
import {
{{ range .Imports }}{{ . }},
{{ end -}}
} from "@graphprotocol/graph-ts";
{{ end }}
{{- range .Units }}
{{ if eq (kind .) "event" }}{{ template "event" . }}
{{- else if eq (kind .) "event params" }}{{ template "params" (list $ . "_event" "event" "parameters") }}
{{- else if eq (kind .) "call" }}{{ template "call" . }}
{{- else if eq (kind .) "call inputs" }}{{ template "params" (list $ . "_call" "call" "inputValues") }}
{{- else if eq (kind .) "call outputs" }}{{ template "params" (list $ . "_call" "call" "outputValues") }}
{{- else if eq (kind .) "tuple" }}{{ template "tuple" . }}
{{- else if eq (kind .) "entity" }}{{ template "entity" (list $ .) }}
{{- else if eq (kind .) "template" }}{{ template "template" . }}
{{- end }}
{{ end }}
{{- end }}

{{ define "event" -}}
export class {{ .Name }} extends ethereum.Event {
{{ range .Members -}}
get {{ .Name }}(): {{ .Type.Unit }} {
return new {{ .Type.Unit }}(this);
}
{{ end -}}
}
{{- end }}

{{ define "call" -}}
export class {{ .Name }} extends ethereum.Call {
{{ range .Members }}
get {{ .Name }}(): {{ .Type.Unit }} {
return new {{ .Type.Unit }}(this);
}
{{ end -}}
}
{{- end }}

{{ define "params" -}}
{{ $file := index . 0 }}{{ $u := index . 1 }}{{ $field := index . 2 }}{{ $arg := index . 3 }}{{ $values := index . 4 -}}
{{ $owner := $file.Owner $u.Name -}}
export class {{ $u.Name }} {
{{ $field }}: {{ $owner }};

constructor({{ $arg }}: {{ $owner }}) {
this.{{ $field }} = {{ $arg }};
}
{{ range $u.Members }}
get {{ .Name }}(): {{ tsType .Type }} {
return {{ abiValue (printf "this.%s.%s[%d].value" $field $values .Index) .Type }};
}
{{ end -}}
}
{{- end }}

{{ define "tuple" -}}
export class {{ .Name }} extends ethereum.Tuple {
{{ range .Members }}
get {{ .Name }}(): {{ tsType .Type }} {
return {{ abiValue (param "this[%d]" .Index) .Type }};
}
{{ end -}}
}
{{- end }}

{{ define "entity" -}}
{{ $file := index . 0 }}{{ $u := index . 1 }}{{ $id := $file.ID $u -}}
export class {{ $u.Name }} extends Entity {
constructor(id: {{ tsType $id }}) {
super();
this.set("id", {{ valueFrom $id "id" }});
}

save(): void {
let id = this.get("id");
assert(id != null, "Cannot save {{ $u.Name }} entity without an ID");
if (id) {
assert(
id.kind == {{ valueKind $id }},
` + "`" + `Entities of type {{ $u.Name }} must have an ID of type {{ $id.Scalar }} but the id '${id.displayData()}' is of type ${id.displayKind()}` + "`" + `,
);
store.set("{{ $u.Name }}", {{ idKey $id (valueTo $id "id") }}, this);
}
}

static load(id: {{ tsType $id }}): {{ $u.Name }} | null {
return changetype<{{ $u.Name }} | null>(store.get("{{ $u.Name }}", {{ idKey $id "id" }}));
}
{{ range $u.Members }}
{{ if derived . -}}
get {{ .Name }}(): {{ derivedType .Type }} {
{{ if .Type.IsList -}}
return changetype<{{ derivedType .Type }}>(store.loadRelated("{{ $u.Name }}", {{ idKey $id "this.id" }}, "{{ .Key }}"));
{{- else -}}
let related = store.loadRelated("{{ $u.Name }}", {{ idKey $id "this.id" }}, "{{ .Key }}");
return related.length > 0 ? changetype<{{ .Type.Unit }}>(related[0]) : null;
{{- end }}
}
{{- else -}}
get {{ .Name }}(): {{ fieldType .Type }} {
let value = this.get("{{ .Key }}");
if (!value || value.kind == ValueKind.NULL) {
{{ if valueType .Type }}return {{ zero .Type }};{{ else if nullable .Type }}return null;{{ else }}throw new Error("Cannot return null for a required field.");{{ end }}
} else {
return {{ valueTo .Type "value" }};
}
}

set {{ .Name }}(value: {{ fieldType .Type }}) {
{{ if nullable .Type -}}
if (!value) {
this.unset("{{ .Key }}");
} else {
this.set("{{ .Key }}", {{ valueFrom .Type (printf "<%s>value" (tsType .Type)) }});
}
{{- else -}}
this.set("{{ .Key }}", {{ valueFrom .Type "value" }});
{{- end }}
}
{{- end }}
{{ end -}}
}
{{- end }}

{{ define "template" -}}
export class {{ .Name }} extends DataSourceTemplate {
static create(address: Address): void {
DataSourceTemplate.create({{ quote .Source }}, [address.toHex()]);
}

static createWithContext(address: Address, context: DataSourceContext): void {
DataSourceTemplate.createWithContext({{ quote .Source }}, [address.toHex()], context);
}
}
{{- end }}
`
