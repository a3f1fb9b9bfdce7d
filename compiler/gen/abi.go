package gen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/ir"
	"github.com/syssam/subgen/compiler/load"
)

// Unit name suffixes for ABI-derived units.
const (
	paramsSuffix  = "__Params"
	callSuffix    = "Call"
	inputsSuffix  = "__Inputs"
	outputsSuffix = "__Outputs"
)

// pending is a tuple unit that was referenced but not yet declared.
type pending struct {
	name   string
	kind   ir.Kind
	params []*load.Param
	event  bool
}

// abiMapper declares the units of one ABI document.
type abiMapper struct {
	doc   *load.ABI
	units []*ir.Unit
	// queue holds the parameter units of the entry being mapped.
	queue []pending
}

// MapABI maps the events and functions of an ABI document to IR units.
// Constructors, fallbacks and other entry kinds have no bindings. Units are
// declared in ABI order; each entry's tuple units follow the entry.
func MapABI(doc *load.ABI) (*ir.Group, error) {
	m := &abiMapper{doc: doc}
	events, funcs := doc.Events(), doc.Functions()
	overloaded := overloads(events)
	shared := sharedSignatures(events)
	for _, e := range events {
		key := ""
		if overloaded[e.Name] {
			key = e.Signature()
			if shared[key] {
				key = e.IndexedSignature()
			}
		}
		if err := m.event(e, key); err != nil {
			return nil, err
		}
	}
	overloaded = overloads(funcs)
	for _, e := range funcs {
		key := ""
		if overloaded[e.Name] {
			key = e.Signature()
		}
		if err := m.call(e, key); err != nil {
			return nil, err
		}
	}
	g, err := ir.Link(m.units)
	if err != nil {
		var lerr *ir.LinkError
		if errors.As(err, &lerr) && lerr.Duplicate {
			return nil, subgen.NewAbiMappingError(doc.Name, "", "name collision: "+err.Error())
		}
		return nil, &subgen.AbiMappingError{ABI: doc.Name, Message: "link", Cause: err}
	}
	return g, nil
}

// overloads reports the entry names declared more than once.
func overloads(entries []*load.Entry) map[string]bool {
	count := make(map[string]int, len(entries))
	for _, e := range entries {
		count[e.Name]++
	}
	out := make(map[string]bool)
	for name, n := range count {
		if n > 1 {
			out[name] = true
		}
	}
	return out
}

// sharedSignatures reports the canonical signatures declared by more than
// one entry. Events that differ only in their indexed parameters share one.
func sharedSignatures(entries []*load.Entry) map[string]bool {
	count := make(map[string]int, len(entries))
	for _, e := range entries {
		count[e.Signature()]++
	}
	out := make(map[string]bool)
	for sig, n := range count {
		if n > 1 {
			out[sig] = true
		}
	}
	return out
}

// entryName returns the unit base name of an entry. Overloaded entries are
// suffixed with the discriminator of key, the signature that sets them apart.
func entryName(e *load.Entry, key string) string {
	name := typeName(e.Name)
	if key != "" {
		name += discriminator(key)
	}
	return name
}

func (m *abiMapper) event(e *load.Entry, key string) error {
	name := entryName(e, key)
	params := name + paramsSuffix
	m.units = append(m.units, &ir.Unit{
		Name:             name,
		Kind:             ir.KindEvent,
		Source:           e.Name,
		Signature:        e.Signature(),
		IndexedSignature: e.IndexedSignature(),
		Members:          []ir.Member{{Name: "params", Type: ir.TypeRef{Unit: params}}},
	})
	m.queue = append(m.queue[:0], pending{name: params, kind: ir.KindEventParams, params: e.Inputs, event: true})
	return m.drain(e)
}

func (m *abiMapper) call(e *load.Entry, key string) error {
	name := entryName(e, key) + callSuffix
	inputs, outputs := name+inputsSuffix, name+outputsSuffix
	m.units = append(m.units, &ir.Unit{
		Name:      name,
		Kind:      ir.KindCall,
		Source:    e.Name,
		Signature: e.Signature(),
		Members: []ir.Member{
			{Name: "inputs", Type: ir.TypeRef{Unit: inputs}},
			{Name: "outputs", Type: ir.TypeRef{Unit: outputs}},
		},
	})
	m.queue = append(m.queue[:0],
		pending{name: inputs, kind: ir.KindCallInputs, params: e.Inputs},
		pending{name: outputs, kind: ir.KindCallOutputs, params: e.Outputs},
	)
	return m.drain(e)
}

// drain declares queued units until the queue is empty. Tuple parameters
// append their own unit to the queue, so nesting depth never grows the stack.
func (m *abiMapper) drain(e *load.Entry) error {
	for len(m.queue) > 0 {
		p := m.queue[0]
		m.queue = m.queue[1:]
		names := make([]string, len(p.params))
		for i, param := range p.params {
			names[i] = memberName(param.Name, i)
		}
		names = uniqueMembers(names)
		u := &ir.Unit{Name: p.name, Kind: p.kind, Source: e.Name, Members: make([]ir.Member, len(p.params))}
		for i, param := range p.params {
			t, err := m.typeRef(p.name, i, param, p.event && param.Indexed)
			if err != nil {
				return subgen.NewAbiMappingError(m.doc.Name, e.Signature(), fmt.Sprintf("%s.%s: %v", p.name, names[i], err))
			}
			u.Members[i] = ir.Member{Name: names[i], Index: i, Type: t, Access: ir.ReadOnly}
		}
		m.units = append(m.units, u)
	}
	return nil
}

// typeRef maps a parameter type. Nested tuples are queued under the name
// <owner>_<i>Struct. Indexed dynamic event parameters are only available as
// their topic hash and map to Bytes.
func (m *abiMapper) typeRef(owner string, i int, p *load.Param, indexed bool) (ir.TypeRef, error) {
	if indexed && isDynamic(p.Type) {
		return ir.TypeRef{Scalar: ir.Bytes}, nil
	}
	t, depth := p.Type, 0
	for t.T == abi.SliceTy || t.T == abi.ArrayTy {
		t = *t.Elem
		depth++
	}
	var base ir.TypeRef
	switch t.T {
	case abi.IntTy, abi.UintTy:
		base.Scalar = ir.BigInt
	case abi.BoolTy:
		base.Scalar = ir.Boolean
	case abi.StringTy:
		base.Scalar = ir.String
	case abi.AddressTy:
		base.Scalar = ir.Address
	case abi.FixedBytesTy, abi.BytesTy, abi.HashTy:
		base.Scalar = ir.Bytes
	case abi.TupleTy:
		base.Unit = fmt.Sprintf("%s_%dStruct", owner, i)
		m.queue = append(m.queue, pending{name: base.Unit, kind: ir.KindTuple, params: p.Components})
	case abi.FixedPointTy:
		return ir.TypeRef{}, fmt.Errorf("unsupported fixed-point type %s", p.Type.String())
	case abi.FunctionTy:
		return ir.TypeRef{}, fmt.Errorf("unsupported function type %s", p.Type.String())
	default:
		return ir.TypeRef{}, fmt.Errorf("unsupported type %s", p.Type.String())
	}
	for ; depth > 0; depth-- {
		elem := base
		base = ir.TypeRef{Elem: &elem}
	}
	return base, nil
}

func isDynamic(t abi.Type) bool {
	switch t.T {
	case abi.StringTy, abi.BytesTy, abi.SliceTy, abi.ArrayTy, abi.TupleTy:
		return true
	}
	return false
}

// BindEventHandlers checks that every handler names an event of the group.
// Signatures are compared without indexed markers. When several events share
// that signature, the markers select the event and must match exactly. An
// explicit topic0 must equal the keccak256 hash of the matched signature.
func BindEventHandlers(abiName string, g *ir.Group, handlers []*load.EventHandler) error {
	events := make(map[string][]*ir.Unit)
	for _, u := range g.ByKind(ir.KindEvent) {
		events[u.Signature] = append(events[u.Signature], u)
	}
	for _, h := range handlers {
		sig := NormalizeSignature(h.Event)
		candidates := events[sig]
		switch len(candidates) {
		case 0:
			return subgen.NewAbiMappingError(abiName, h.Event, fmt.Sprintf("event not found for handler %s", h.Handler))
		case 1:
		default:
			if !hasIndexed(candidates, MarkIndexed(h.Event)) {
				alts := make([]string, len(candidates))
				for i, u := range candidates {
					alts[i] = u.IndexedSignature
				}
				return subgen.NewAbiMappingError(abiName, h.Event, fmt.Sprintf(
					"handler %s matches several events, mark indexed parameters to select one of %s",
					h.Handler, strings.Join(alts, ", ")))
			}
		}
		if h.Topic0 != "" && !strings.EqualFold(h.Topic0, topic0(sig)) {
			return subgen.NewAbiMappingError(abiName, h.Event, fmt.Sprintf("topic0 %s does not match %s", h.Topic0, topic0(sig)))
		}
	}
	return nil
}

func hasIndexed(units []*ir.Unit, sig string) bool {
	for _, u := range units {
		if u.IndexedSignature == sig {
			return true
		}
	}
	return false
}

// BindCallHandlers checks that every call handler names a function of the group.
func BindCallHandlers(abiName string, g *ir.Group, handlers []*load.CallHandler) error {
	calls := make(map[string]bool)
	for _, u := range g.ByKind(ir.KindCall) {
		calls[u.Signature] = true
	}
	for _, h := range handlers {
		if !calls[NormalizeSignature(h.Function)] {
			return subgen.NewAbiMappingError(abiName, h.Function, fmt.Sprintf("function not found for handler %s", h.Handler))
		}
	}
	return nil
}
