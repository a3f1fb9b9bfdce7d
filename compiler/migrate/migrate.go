// Package migrate upgrades subgraph manifests to the current spec version.
//
// A migration declares the version it upgrades from and transforms the raw
// YAML tree in place. The engine applies migrations one at a time until the
// detected version has no migration left, which is the current version.
package migrate

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/load"
)

// Migration upgrades a manifest from one spec version to the next.
type Migration struct {
	Name string
	From string
	// Apply transforms the top-level manifest mapping in place. It must be
	// safe to call on a manifest it has already transformed.
	Apply func(root *yaml.Node) error
}

// Report describes the outcome of a migration run.
type Report struct {
	From    string   // version detected before the first step
	To      string   // version detected after the last step
	Applied []string // names of applied migrations, in order
}

// Changed reports whether any migration was applied.
func (r Report) Changed() bool { return len(r.Applied) > 0 }

// Engine applies an ordered list of migrations.
type Engine struct {
	migrations []Migration
	current    string
	log        *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger applied migrations are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMigrations replaces the built-in migration chain. current is the
// version the chain terminates at.
func WithMigrations(current string, ms ...Migration) Option {
	return func(e *Engine) {
		e.current = current
		e.migrations = ms
	}
}

// New returns an engine with the built-in migration chain.
func New(opts ...Option) *Engine {
	e := &Engine{
		migrations: Builtin(),
		current:    CurrentVersion,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Current returns the version the engine migrates to.
func (e *Engine) Current() string { return e.current }

// Run migrates root until no migration applies. It fails on an unknown
// version and when the chain does not settle within len(migrations)+1 steps.
func (e *Engine) Run(root *yaml.Node) (Report, error) {
	version := DetectVersion(root)
	report := Report{From: version, To: version}
	limit := len(e.migrations) + 1
	for step := 0; ; step++ {
		m, ok := e.lookup(version)
		if !ok {
			if version != e.current {
				return report, subgen.NewMigrationError(version, "", "unknown spec version", nil)
			}
			return report, nil
		}
		if step >= limit {
			return report, subgen.NewMigrationError(version, m.Name,
				fmt.Sprintf("no current version after %d steps", limit), nil)
		}
		if err := m.Apply(root); err != nil {
			return report, subgen.NewMigrationError(version, m.Name, "transform failed", err)
		}
		next := DetectVersion(root)
		e.log.Info("applied manifest migration",
			zap.String("migration", m.Name),
			zap.String("from", version),
			zap.String("to", next),
		)
		report.Applied = append(report.Applied, m.Name)
		report.To = next
		version = next
	}
}

// Migrate runs the engine over raw and, when anything changed and
// writeBack is set, persists the migrated manifest to its source file.
func (e *Engine) Migrate(raw *load.RawManifest, writeBack bool) (Report, error) {
	report, err := e.Run(raw.Root())
	if err != nil {
		return report, err
	}
	if report.Changed() && writeBack {
		if err := raw.Write(); err != nil {
			return report, subgen.NewMigrationError(report.To, "", "persist migrated manifest", err)
		}
		e.log.Info("migrated manifest written", zap.String("path", raw.Path), zap.String("version", report.To))
	}
	return report, nil
}

func (e *Engine) lookup(version string) (Migration, bool) {
	for _, m := range e.migrations {
		if m.From == version {
			return m, true
		}
	}
	return Migration{}, false
}

// DetectVersion returns the manifest's specVersion, or the oldest version
// when the key is absent.
func DetectVersion(root *yaml.Node) string {
	if v := lookup(root, "specVersion"); v != nil && v.Kind == yaml.ScalarNode && v.Value != "" {
		return v.Value
	}
	return OldestVersion
}

// lookup returns the value node of key in a mapping node.
func lookup(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// setScalar sets key to a string scalar, inserting it first when absent.
func setScalar(m *yaml.Node, key, value string) {
	if v := lookup(m, key); v != nil {
		v.Kind, v.Tag, v.Value, v.Content = yaml.ScalarNode, "!!str", value, nil
		return
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	v := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	m.Content = append([]*yaml.Node{k, v}, m.Content...)
}

// renameKey renames key to name in a mapping node unless name already exists.
func renameKey(m *yaml.Node, key, name string) {
	if lookup(m, name) != nil {
		return
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i].Value = name
			return
		}
	}
}

// items returns the elements of the sequence stored under key.
func items(m *yaml.Node, key string) []*yaml.Node {
	if v := lookup(m, key); v != nil && v.Kind == yaml.SequenceNode {
		return v.Content
	}
	return nil
}
