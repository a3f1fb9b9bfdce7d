package load

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/syssam/subgen"
)

// EntryType is the kind of an ABI entry.
type EntryType string

// ABI entry kinds.
const (
	EntryFunction    EntryType = "function"
	EntryEvent       EntryType = "event"
	EntryConstructor EntryType = "constructor"
	EntryFallback    EntryType = "fallback"
	EntryReceive     EntryType = "receive"
	EntryError       EntryType = "error"
)

// ABI is a parsed contract interface.
type ABI struct {
	Name    string
	Path    string
	Entries []*Entry
}

// Entry is one function, event, constructor or fallback of an ABI.
type Entry struct {
	Type            EntryType
	Name            string
	Inputs          []*Param
	Outputs         []*Param
	Anonymous       bool
	StateMutability string
}

// Param is an entry parameter. Type is the recursive descriptor; for tuple
// parameters Components mirrors Type.TupleElems with the raw component names.
type Param struct {
	Name       string
	Indexed    bool
	Type       abi.Type
	Components []*Param
}

// Signature returns the canonical signature, e.g. Transfer(address,address,uint256).
func (e *Entry) Signature() string {
	types := make([]string, len(e.Inputs))
	for i, p := range e.Inputs {
		types[i] = p.Type.String()
	}
	return e.Name + "(" + strings.Join(types, ",") + ")"
}

// IndexedSignature returns the canonical signature with indexed parameters
// marked, e.g. Transfer(indexed address,indexed address,uint256). It tells
// apart events whose canonical signatures are equal.
func (e *Entry) IndexedSignature() string {
	types := make([]string, len(e.Inputs))
	for i, p := range e.Inputs {
		types[i] = p.Type.String()
		if p.Indexed {
			types[i] = "indexed " + types[i]
		}
	}
	return e.Name + "(" + strings.Join(types, ",") + ")"
}

// Events returns the event entries in declaration order.
func (a *ABI) Events() []*Entry { return a.entries(EntryEvent) }

// Functions returns the function entries in declaration order.
func (a *ABI) Functions() []*Entry { return a.entries(EntryFunction) }

func (a *ABI) entries(typ EntryType) []*Entry {
	var out []*Entry
	for _, e := range a.Entries {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type jsonEntry struct {
	Type            string      `json:"type"`
	Name            string      `json:"name"`
	Inputs          []jsonParam `json:"inputs"`
	Outputs         []jsonParam `json:"outputs"`
	Anonymous       bool        `json:"anonymous"`
	StateMutability string      `json:"stateMutability"`
	Constant        bool        `json:"constant"`
	Payable         bool        `json:"payable"`
}

type jsonParam struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	InternalType string      `json:"internalType"`
	Components   []jsonParam `json:"components"`
	Indexed      bool        `json:"indexed"`
}

// LoadABI reads the ABI at path. The file is either a bare JSON array of
// entries or a build artifact object carrying the array under "abi".
func LoadABI(name, path string) (*ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, subgen.NewParseError(path, "read ABI", err)
	}
	return ParseABI(name, path, data)
}

// ParseABI parses ABI JSON. path is used for error attribution only.
func ParseABI(name, path string, data []byte) (*ABI, error) {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, subgen.NewParseError(path, "", err)
		}
		if len(artifact.ABI) == 0 {
			return nil, subgen.NewParseError(path, `artifact has no "abi" key`, nil)
		}
		raw = artifact.ABI
	}
	var entries []jsonEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, subgen.NewParseError(path, "", err)
	}
	doc := &ABI{Name: name, Path: path, Entries: make([]*Entry, 0, len(entries))}
	for i, je := range entries {
		e, err := newEntry(je)
		if err != nil {
			return nil, subgen.NewParseError(path, fmt.Sprintf("entry %d", i), err)
		}
		doc.Entries = append(doc.Entries, e)
	}
	return doc, nil
}

func newEntry(je jsonEntry) (*Entry, error) {
	e := &Entry{
		Type:            EntryType(je.Type),
		Name:            je.Name,
		Anonymous:       je.Anonymous,
		StateMutability: je.StateMutability,
	}
	switch e.Type {
	case "":
		e.Type = EntryFunction
	case EntryFunction, EntryEvent, EntryConstructor, EntryFallback, EntryReceive, EntryError:
	default:
		return nil, fmt.Errorf("unknown entry type %q", je.Type)
	}
	if (e.Type == EntryFunction || e.Type == EntryEvent) && e.Name == "" {
		return nil, fmt.Errorf("%s entry without a name", e.Type)
	}
	if e.StateMutability == "" {
		switch {
		case je.Constant:
			e.StateMutability = "view"
		case je.Payable:
			e.StateMutability = "payable"
		default:
			e.StateMutability = "nonpayable"
		}
	}
	var err error
	if e.Inputs, err = newParams(je.Inputs); err != nil {
		return nil, fmt.Errorf("%s inputs: %w", e.Name, err)
	}
	if e.Outputs, err = newParams(je.Outputs); err != nil {
		return nil, fmt.Errorf("%s outputs: %w", e.Name, err)
	}
	return e, nil
}

func newParams(jps []jsonParam) ([]*Param, error) {
	params := make([]*Param, 0, len(jps))
	for _, jp := range jps {
		typ, err := abi.NewType(jp.Type, jp.InternalType, marshaling(jp.Components))
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", jp.Name, err)
		}
		p := &Param{Name: jp.Name, Indexed: jp.Indexed, Type: typ}
		if p.Components, err = newParams(jp.Components); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", jp.Name, err)
		}
		params = append(params, p)
	}
	return params, nil
}

// marshaling converts components for abi.NewType, which rejects tuple
// components whose names do not camel-case to a Go identifier. Such
// components are given positional names; the raw names stay on Param.
func marshaling(jps []jsonParam) []abi.ArgumentMarshaling {
	if len(jps) == 0 {
		return nil
	}
	out := make([]abi.ArgumentMarshaling, len(jps))
	for i, jp := range jps {
		name := jp.Name
		if abi.ToCamelCase(name) == "" {
			name = fmt.Sprintf("value%d", i)
		}
		out[i] = abi.ArgumentMarshaling{
			Name:         name,
			Type:         jp.Type,
			InternalType: jp.InternalType,
			Components:   marshaling(jp.Components),
			Indexed:      jp.Indexed,
		}
	}
	return out
}
