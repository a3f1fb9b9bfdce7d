// Package ir defines the language-neutral representation of generated types.
//
// Mappers declare units first and reference other units by name; Link then
// resolves every reference in a single pass over the declarations. Units are
// not modified after Link and emitters treat them as read-only.
package ir

import (
	"fmt"
)

// Kind is the shape of a generated type.
type Kind uint8

// Unit kinds.
const (
	KindEvent       Kind = iota + 1 // event wrapper exposing its params unit
	KindEventParams                 // positional accessors over event parameters
	KindCall                        // call wrapper exposing inputs and outputs units
	KindCallInputs                  // positional accessors over call inputs
	KindCallOutputs                 // positional accessors over call outputs
	KindTuple                       // positional accessors over a decoded tuple
	KindEntity                      // keyed accessors over a stored entity
	KindTemplate                    // data source template factory
)

var kindNames = [...]string{
	KindEvent:       "event",
	KindEventParams: "event params",
	KindCall:        "call",
	KindCallInputs:  "call inputs",
	KindCallOutputs: "call outputs",
	KindTuple:       "tuple",
	KindEntity:      "entity",
	KindTemplate:    "template",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Scalar is a primitive value wrapper shared by ABI and schema bindings.
type Scalar uint8

// Scalars.
const (
	Invalid Scalar = iota
	BigInt
	BigDecimal
	Bytes
	Address
	String
	Boolean
	Int32
	Int64
)

var scalarNames = [...]string{
	Invalid:    "invalid",
	BigInt:     "BigInt",
	BigDecimal: "BigDecimal",
	Bytes:      "Bytes",
	Address:    "Address",
	String:     "String",
	Boolean:    "Boolean",
	Int32:      "Int32",
	Int64:      "Int64",
}

// String returns the scalar name.
func (s Scalar) String() string {
	if int(s) < len(scalarNames) {
		return scalarNames[s]
	}
	return fmt.Sprintf("Scalar(%d)", s)
}

// TypeRef is the type of a member. Exactly one of Scalar, Elem and Unit
// describes it: a list when Elem is set, a unit reference when Unit is set,
// a scalar otherwise. Entity references also carry the Scalar of the
// referenced entity's id, which is what is stored.
type TypeRef struct {
	Scalar   Scalar
	Elem     *TypeRef
	Unit     string
	Nullable bool
}

// IsList reports whether the type is an ordered sequence.
func (t TypeRef) IsList() bool { return t.Elem != nil }

// IsRef reports whether the type references another unit.
func (t TypeRef) IsRef() bool { return t.Unit != "" }

// Depth returns the list nesting depth.
func (t TypeRef) Depth() int {
	d := 0
	for e := t.Elem; e != nil; e = e.Elem {
		d++
	}
	return d
}

// Base returns the innermost element type.
func (t TypeRef) Base() TypeRef {
	for t.Elem != nil {
		t = *t.Elem
	}
	return t
}

// String returns a readable form, e.g. [BigInt] or Transfer__Params_0Struct.
func (t TypeRef) String() string {
	var s string
	switch {
	case t.Elem != nil:
		s = "[" + t.Elem.String() + "]"
	case t.Unit != "":
		s = t.Unit
	default:
		s = t.Scalar.String()
	}
	if !t.Nullable {
		s += "!"
	}
	return s
}

// Access controls which accessors are generated for a member.
type Access uint8

// Access modes.
const (
	ReadOnly  Access = iota // getter only
	ReadWrite               // getter and setter
	Derived                 // getter backed by a reverse lookup
)

// Member is one accessor of a unit.
type Member struct {
	// Name is the accessor name.
	Name string
	// Key is the stored field name for entities.
	Key string
	// Index is the position in the decoded value list for ABI-derived units.
	Index int
	Type  TypeRef
	// Access is ReadOnly for ABI-derived members.
	Access Access
	// DerivedFrom names the back-reference field for Derived members.
	DerivedFrom string
}

// Unit is one generated type.
type Unit struct {
	Name string
	Kind Kind
	// Source is the ABI entry, entity or template name the unit was derived from.
	Source string
	// Signature is the canonical signature for events and calls.
	Signature string
	// IndexedSignature is the event signature with indexed parameters marked.
	IndexedSignature string
	Members          []Member
}

// Member returns the member with the given name.
func (u *Unit) Member(name string) (Member, bool) {
	for _, m := range u.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// Group is a linked, ordered set of units emitted together.
type Group struct {
	Units []*Unit
	index map[string]*Unit
}

// Lookup returns the unit with the given name.
func (g *Group) Lookup(name string) (*Unit, bool) {
	u, ok := g.index[name]
	return u, ok
}

// ByKind returns the units of kind k in declaration order.
func (g *Group) ByKind(k Kind) []*Unit {
	var out []*Unit
	for _, u := range g.Units {
		if u.Kind == k {
			out = append(out, u)
		}
	}
	return out
}

// LinkError reports a duplicate unit name or an unresolved reference.
type LinkError struct {
	Unit      string
	Member    string
	Reference string
	Duplicate bool
}

// Error implements the error interface.
func (e *LinkError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("duplicate type name %s", e.Unit)
	}
	return fmt.Sprintf("%s.%s references undeclared type %s", e.Unit, e.Member, e.Reference)
}

// Link indexes units by name and resolves every member reference. The
// declaration order of units is preserved.
func Link(units []*Unit) (*Group, error) {
	g := &Group{Units: units, index: make(map[string]*Unit, len(units))}
	for _, u := range units {
		if _, ok := g.index[u.Name]; ok {
			return nil, &LinkError{Unit: u.Name, Duplicate: true}
		}
		g.index[u.Name] = u
	}
	for _, u := range units {
		for _, m := range u.Members {
			base := m.Type.Base()
			if base.Unit == "" {
				continue
			}
			if _, ok := g.index[base.Unit]; !ok {
				return nil, &LinkError{Unit: u.Name, Member: m.Name, Reference: base.Unit}
			}
		}
	}
	return g, nil
}
