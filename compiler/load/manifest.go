// Package load reads subgraph manifests, contract ABIs and GraphQL entity
// schemas into validated in-memory documents.
package load

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/syssam/subgen"
)

// Manifest is a decoded and validated subgraph manifest.
// All file references are resolved against Dir.
type Manifest struct {
	SpecVersion string        `yaml:"specVersion"`
	Description string        `yaml:"description,omitempty"`
	Repository  string        `yaml:"repository,omitempty"`
	Features    []string      `yaml:"features,omitempty"`
	Schema      *SchemaRef    `yaml:"schema"`
	DataSources []*DataSource `yaml:"dataSources"`

	// Path is the absolute manifest path and Dir its directory.
	Path string `yaml:"-"`
	Dir  string `yaml:"-"`
}

// SchemaRef points at the GraphQL entity schema.
type SchemaRef struct {
	File string `yaml:"file"`
}

// DataSource binds one contract to its ABI and handler mapping.
type DataSource struct {
	Kind      string      `yaml:"kind"`
	Name      string      `yaml:"name"`
	Network   string      `yaml:"network,omitempty"`
	Source    *Source     `yaml:"source"`
	Mapping   *Mapping    `yaml:"mapping"`
	Templates []*Template `yaml:"templates,omitempty"`
}

// Source is the contract a data source indexes.
type Source struct {
	Address    string `yaml:"address,omitempty"`
	ABI        string `yaml:"abi"`
	StartBlock uint64 `yaml:"startBlock,omitempty"`
}

// Template is a data source shape that is instantiated at runtime
// without a fixed address.
type Template struct {
	Kind    string          `yaml:"kind"`
	Name    string          `yaml:"name"`
	Network string          `yaml:"network,omitempty"`
	Source  *TemplateSource `yaml:"source"`
	Mapping *Mapping        `yaml:"mapping"`
}

// TemplateSource names the ABI of a template. Templates carry no address.
type TemplateSource struct {
	ABI string `yaml:"abi"`
}

// Mapping describes the handler module of a data source or template.
type Mapping struct {
	Kind          string          `yaml:"kind"`
	APIVersion    string          `yaml:"apiVersion"`
	Language      string          `yaml:"language"`
	File          string          `yaml:"file"`
	Entities      []string        `yaml:"entities"`
	ABIs          []*ABIRef       `yaml:"abis"`
	EventHandlers []*EventHandler `yaml:"eventHandlers,omitempty"`
	CallHandlers  []*CallHandler  `yaml:"callHandlers,omitempty"`
	BlockHandlers []*BlockHandler `yaml:"blockHandlers,omitempty"`
}

// ABIRef names an ABI file.
type ABIRef struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

// EventHandler binds an event signature to a handler function.
type EventHandler struct {
	Event   string `yaml:"event"`
	Topic0  string `yaml:"topic0,omitempty"`
	Handler string `yaml:"handler"`
	Receipt bool   `yaml:"receipt,omitempty"`
}

// CallHandler binds a function signature to a handler function.
type CallHandler struct {
	Function string `yaml:"function"`
	Handler  string `yaml:"handler"`
}

// BlockHandler binds a block trigger to a handler function.
type BlockHandler struct {
	Handler string          `yaml:"handler"`
	Filter  *BlockFilterRef `yaml:"filter,omitempty"`
}

// BlockFilterRef restricts a block handler.
type BlockFilterRef struct {
	Kind string `yaml:"kind"`
}

// ABI returns the reference whose name matches the source ABI.
func (m *Mapping) ABI(name string) (*ABIRef, bool) {
	for _, ref := range m.ABIs {
		if ref.Name == name {
			return ref, true
		}
	}
	return nil, false
}

// Files returns the manifest, schema and every ABI file it references, in
// declaration order and without duplicates.
func (m *Manifest) Files() []string {
	var (
		files []string
		seen  = make(map[string]struct{})
	)
	add := func(p string) {
		if _, ok := seen[p]; ok || p == "" {
			return
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}
	add(m.Path)
	if m.Schema != nil {
		add(m.Schema.File)
	}
	for _, ds := range m.DataSources {
		for _, ref := range ds.Mapping.ABIs {
			add(ref.File)
		}
		for _, tmpl := range ds.Templates {
			for _, ref := range tmpl.Mapping.ABIs {
				add(ref.File)
			}
		}
	}
	return files
}

// RawManifest is the undecoded YAML tree of a manifest. Migrations operate
// on it before it is decoded into a Manifest.
type RawManifest struct {
	Path string
	doc  *yaml.Node
}

// ReadManifest reads the manifest at path without decoding it.
func ReadManifest(path string) (*RawManifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, subgen.NewParseError(path, "resolve manifest path", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, subgen.NewParseError(abs, "read manifest", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, subgen.NewParseError(abs, "", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, subgen.NewValidationError(abs, "", "manifest must be a mapping")
	}
	return &RawManifest{Path: abs, doc: &doc}, nil
}

// Root returns the top-level mapping node of the manifest.
func (r *RawManifest) Root() *yaml.Node {
	return r.doc.Content[0]
}

// Bytes encodes the current tree.
func (r *RawManifest) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r.doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write persists the current tree to Path.
func (r *RawManifest) Write() error {
	data, err := r.Bytes()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(r.Path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Decode decodes the tree into a Manifest. Unknown keys are rejected and
// the result is validated.
func (r *RawManifest) Decode() (*Manifest, error) {
	data, err := r.Bytes()
	if err != nil {
		return nil, subgen.NewParseError(r.Path, "encode manifest", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	m := &Manifest{}
	if err := dec.Decode(m); err != nil {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return nil, &subgen.ValidationError{Path: r.Path, Message: "unexpected manifest shape", Cause: err}
		}
		return nil, subgen.NewParseError(r.Path, "", err)
	}
	m.Path = r.Path
	m.Dir = filepath.Dir(r.Path)
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.resolve()
	return m, nil
}

// LoadManifest reads and decodes the manifest at path. It does not migrate.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	return raw.Decode()
}

// safeName matches names that are usable as a single path segment.
var safeName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// templatesDir is the output directory reserved for template bindings.
const templatesDir = "templates"

func (m *Manifest) validate() error {
	fail := func(field, format string, args ...any) error {
		return subgen.NewValidationError(m.Path, field, fmt.Sprintf(format, args...))
	}
	if m.SpecVersion == "" {
		return fail("specVersion", "required key is missing")
	}
	if m.Schema == nil || m.Schema.File == "" {
		return fail("schema.file", "required key is missing")
	}
	if len(m.DataSources) == 0 {
		return fail("dataSources", "at least one data source is required")
	}
	var (
		sources   = make(map[string]struct{})
		templates = make(map[string]struct{})
	)
	for i, ds := range m.DataSources {
		at := fmt.Sprintf("dataSources[%d]", i)
		if ds == nil {
			return fail(at, "empty data source")
		}
		if ds.Kind == "" {
			return fail(at+".kind", "required key is missing")
		}
		if err := checkName(ds.Name); err != nil {
			return fail(at+".name", "%v", err)
		}
		if ds.Name == templatesDir {
			return fail(at+".name", "%q is reserved for template bindings", ds.Name)
		}
		if _, ok := sources[ds.Name]; ok {
			return fail(at+".name", "duplicate data source name %q", ds.Name)
		}
		sources[ds.Name] = struct{}{}
		if ds.Source == nil {
			return fail(at+".source", "data source must have exactly one source")
		}
		if err := m.validateMapping(at, ds.Source.ABI, ds.Mapping); err != nil {
			return err
		}
		if len(ds.Templates) > 0 {
			// <ds>/templates holds the template bindings of the data source.
			for k, ref := range ds.Mapping.ABIs {
				if ref.Name == templatesDir {
					return fail(fmt.Sprintf("%s.mapping.abis[%d].name", at, k),
						"%q is reserved for template bindings in a data source with templates", ref.Name)
				}
			}
		}
		for j, tmpl := range ds.Templates {
			tat := fmt.Sprintf("%s.templates[%d]", at, j)
			if tmpl == nil {
				return fail(tat, "empty template")
			}
			if tmpl.Kind == "" {
				return fail(tat+".kind", "required key is missing")
			}
			if err := checkName(tmpl.Name); err != nil {
				return fail(tat+".name", "%v", err)
			}
			if _, ok := templates[tmpl.Name]; ok {
				return fail(tat+".name", "duplicate template name %q", tmpl.Name)
			}
			templates[tmpl.Name] = struct{}{}
			if tmpl.Source == nil {
				return fail(tat+".source", "template must have exactly one source")
			}
			if err := m.validateMapping(tat, tmpl.Source.ABI, tmpl.Mapping); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manifest) validateMapping(at, sourceABI string, mp *Mapping) error {
	fail := func(field, format string, args ...any) error {
		return subgen.NewValidationError(m.Path, at+field, fmt.Sprintf(format, args...))
	}
	if sourceABI == "" {
		return fail(".source.abi", "required key is missing")
	}
	if mp == nil {
		return fail(".mapping", "exactly one mapping is required")
	}
	for _, kv := range [][2]string{
		{"kind", mp.Kind},
		{"apiVersion", mp.APIVersion},
		{"language", mp.Language},
		{"file", mp.File},
	} {
		if kv[1] == "" {
			return fail(".mapping."+kv[0], "required key is missing")
		}
	}
	if len(mp.ABIs) == 0 {
		return fail(".mapping.abis", "at least one ABI is required")
	}
	names := make(map[string]struct{}, len(mp.ABIs))
	for i, ref := range mp.ABIs {
		field := fmt.Sprintf(".mapping.abis[%d]", i)
		if ref == nil || ref.File == "" {
			return fail(field+".file", "required key is missing")
		}
		if err := checkName(ref.Name); err != nil {
			return fail(field+".name", "%v", err)
		}
		if _, ok := names[ref.Name]; ok {
			return fail(field+".name", "duplicate ABI name %q", ref.Name)
		}
		names[ref.Name] = struct{}{}
	}
	if _, ok := names[sourceABI]; !ok {
		return fail(".source.abi", "ABI %q is not listed in mapping.abis", sourceABI)
	}
	for i, h := range mp.EventHandlers {
		field := fmt.Sprintf(".mapping.eventHandlers[%d]", i)
		switch {
		case h == nil || h.Event == "":
			return fail(field+".event", "required key is missing")
		case h.Handler == "":
			return fail(field+".handler", "required key is missing")
		}
	}
	for i, h := range mp.CallHandlers {
		field := fmt.Sprintf(".mapping.callHandlers[%d]", i)
		switch {
		case h == nil || h.Function == "":
			return fail(field+".function", "required key is missing")
		case h.Handler == "":
			return fail(field+".handler", "required key is missing")
		}
	}
	for i, h := range mp.BlockHandlers {
		if h == nil || h.Handler == "" {
			return fail(fmt.Sprintf(".mapping.blockHandlers[%d].handler", i), "required key is missing")
		}
	}
	return nil
}

func checkName(name string) error {
	switch {
	case name == "":
		return errors.New("required key is missing")
	case !safeName.MatchString(name):
		return fmt.Errorf("name %q cannot be used as a file name", name)
	}
	return nil
}

// resolve rewrites every file reference relative to the manifest directory.
func (m *Manifest) resolve() {
	m.Schema.File = m.path(m.Schema.File)
	for _, ds := range m.DataSources {
		m.resolveMapping(ds.Mapping)
		for _, tmpl := range ds.Templates {
			m.resolveMapping(tmpl.Mapping)
		}
	}
}

func (m *Manifest) resolveMapping(mp *Mapping) {
	mp.File = m.path(mp.File)
	for _, ref := range mp.ABIs {
		ref.File = m.path(ref.File)
	}
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(m.Dir, p)
}
