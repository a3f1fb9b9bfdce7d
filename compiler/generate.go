// Package compiler runs code generation for a subgraph manifest.
package compiler

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/emit"
	"github.com/syssam/subgen/compiler/gen"
	"github.com/syssam/subgen/compiler/ir"
	"github.com/syssam/subgen/compiler/load"
	"github.com/syssam/subgen/compiler/migrate"
)

// Generator generates bindings for one manifest.
type Generator struct {
	cfg    *Config
	engine *migrate.Engine
}

// Result is the outcome of one generation run.
type Result struct {
	// OK is false if any unit failed.
	OK bool
	// Failures holds the failed units in task order.
	Failures []*subgen.UnitError
	// Files lists the written files in task order.
	Files []string
	// Dependencies lists the manifest, schema and ABI files the run read.
	Dependencies []string
	// Migration reports the migrations applied to the manifest.
	Migration migrate.Report
}

// New returns a generator configured by opts. A manifest is required.
func New(opts ...Option) (*Generator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Manifest == "" {
		return nil, subgen.NewValidationError("", "manifest", "manifest path is required")
	}
	engine := migrate.New(append([]migrate.Option{migrate.WithLogger(cfg.Logger)}, cfg.Migrations...)...)
	return &Generator{cfg: cfg, engine: engine}, nil
}

// Config returns the generator configuration.
func (g *Generator) Config() *Config { return g.cfg }

// task generates one unit.
type task struct {
	kind subgen.UnitKind
	name string
	abi  string
	file string
	run  func(ctx context.Context) (*emit.File, error)
}

// String describes the unit the way failures are attributed.
func (t task) String() string {
	s := string(t.kind)
	if t.name != "" {
		s += fmt.Sprintf(" %q", t.name)
	}
	if t.abi != "" {
		s += fmt.Sprintf(" (abi %s)", t.abi)
	}
	return s
}

// slot is the outcome of one task. Each task writes only its own slot.
type slot struct {
	file *emit.File
	path string
	err  error
	done bool
}

// Generate loads and migrates the manifest, then generates every unit.
// Manifest and migration failures are returned as errors. Unit failures
// are collected in the result and do not stop sibling units.
//
// Units are mapped concurrently, checked against each other for clashing
// output paths and declarations, then written concurrently.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := g.cfg.Logger.With(zap.String("run", uuid.NewString()), zap.String("manifest", g.cfg.Manifest))
	res := &Result{}
	if abs, err := filepath.Abs(g.cfg.Manifest); err == nil {
		res.Dependencies = []string{abs}
	} else {
		res.Dependencies = []string{g.cfg.Manifest}
	}

	raw, err := load.ReadManifest(g.cfg.Manifest)
	if err != nil {
		return res, err
	}
	if res.Migration, err = g.engine.Migrate(raw, g.cfg.WriteBack); err != nil {
		return res, err
	}
	m, err := raw.Decode()
	if err != nil {
		return res, err
	}
	res.Dependencies = m.Files()

	tasks := g.tasks(m)
	slots := make([]slot, len(tasks))
	g.each(ctx, slots, func(s *slot, i int) {
		s.done = true
		s.file, s.err = tasks[i].run(ctx)
	})
	g.check(tasks, slots)
	g.each(ctx, slots, func(s *slot, _ int) {
		if s.err == nil {
			s.path, s.err = emit.Write(ctx, g.cfg.Emitter, s.file, g.cfg.OutputDir)
		}
	})

	for i, t := range tasks {
		s := slots[i]
		switch {
		case !s.done:
		case s.err != nil:
			uerr := &subgen.UnitError{Kind: t.kind, Name: t.name, ABI: t.abi, Err: s.err}
			res.Failures = append(res.Failures, uerr)
			log.Warn("unit failed", zap.String("unit", t.file), zap.Error(s.err))
		default:
			res.Files = append(res.Files, s.path)
			log.Debug("unit generated", zap.String("unit", t.file), zap.String("path", s.path))
		}
	}
	res.OK = len(res.Failures) == 0
	if err := ctx.Err(); err != nil {
		res.OK = false
		return res, err
	}
	log.Info("generation finished",
		zap.Int("files", len(res.Files)),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

// each calls fn for every slot on the bounded worker pool. Slots are
// skipped once ctx is done.
func (g *Generator) each(ctx context.Context, slots []slot, fn func(s *slot, i int)) {
	eg := new(errgroup.Group)
	eg.SetLimit(g.cfg.Workers)
	for i := range slots {
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(&slots[i], i)
			return nil
		})
	}
	_ = eg.Wait()
}

// check fails units whose output would overwrite an earlier unit's file or,
// for emitters that share a namespace per directory, redeclare one of its
// identifiers. The earlier unit in task order keeps the output.
func (g *Generator) check(tasks []task, slots []slot) {
	ns, _ := g.cfg.Emitter.(emit.Namespaced)
	paths := make(map[string]int)
	owners := make(map[string]map[string]int)
	for i := range slots {
		s := &slots[i]
		if !s.done || s.err != nil {
			continue
		}
		target := filepath.Join(g.cfg.OutputDir, filepath.FromSlash(s.file.Path)+g.cfg.Emitter.Ext())
		if j, ok := paths[s.file.Path]; ok {
			s.err = subgen.NewEmissionError(target, fmt.Sprintf("output is also written by %s", tasks[j]), nil)
			continue
		}
		paths[s.file.Path] = i
		if ns == nil {
			continue
		}
		dir := path.Dir(s.file.Path)
		declared := owners[dir]
		if declared == nil {
			declared = make(map[string]int)
			owners[dir] = declared
		}
		names := ns.Declared(s.file)
		for _, name := range names {
			if j, ok := declared[name]; ok {
				s.err = subgen.NewEmissionError(target, fmt.Sprintf("%s is also declared by %s in %s", name, tasks[j], dir), nil)
				break
			}
		}
		if s.err != nil {
			continue
		}
		for _, name := range names {
			declared[name] = i
		}
	}
}

// tasks lists the units of a manifest in output order: the ABI bindings of
// each data source and its templates, the template factories of each data
// source, then the schema.
func (g *Generator) tasks(m *load.Manifest) []task {
	var tasks []task
	for _, ds := range m.DataSources {
		for _, ref := range ds.Mapping.ABIs {
			tasks = append(tasks, task{
				kind: subgen.UnitDataSource,
				name: ds.Name,
				abi:  ref.Name,
				file: path.Join(ds.Name, ref.Name),
				run:  abiTask(path.Join(ds.Name, ref.Name), ref, ds.Source.ABI, ds.Mapping),
			})
		}
	}
	for _, ds := range m.DataSources {
		for _, tmpl := range ds.Templates {
			for _, ref := range tmpl.Mapping.ABIs {
				file := path.Join("templates", tmpl.Name, ref.Name)
				tasks = append(tasks, task{
					kind: subgen.UnitTemplate,
					name: tmpl.Name,
					abi:  ref.Name,
					file: file,
					run:  abiTask(file, ref, tmpl.Source.ABI, tmpl.Mapping),
				})
			}
		}
	}
	for _, ds := range m.DataSources {
		if len(ds.Templates) == 0 {
			continue
		}
		file := path.Join(ds.Name, "templates")
		templates := ds.Templates
		tasks = append(tasks, task{
			kind: subgen.UnitDataSource,
			name: ds.Name,
			file: file,
			run: func(context.Context) (*emit.File, error) {
				grp, err := gen.MapTemplates(templates)
				if err != nil {
					return nil, err
				}
				return &emit.File{Path: file, Group: grp}, nil
			},
		})
	}
	if m.Schema != nil {
		schema := m.Schema.File
		tasks = append(tasks, task{
			kind: subgen.UnitSchema,
			file: "schema",
			run: func(context.Context) (*emit.File, error) {
				doc, err := load.LoadSchema(schema)
				if err != nil {
					return nil, err
				}
				grp, err := gen.MapSchema(doc)
				if err != nil {
					return nil, err
				}
				return &emit.File{Path: "schema", Group: grp}, nil
			},
		})
	}
	return tasks
}

// abiTask maps one ABI. Handlers are bound only against the ABI named by
// the source, which is the contract that emits the handled triggers.
func abiTask(file string, ref *load.ABIRef, sourceABI string, mapping *load.Mapping) func(context.Context) (*emit.File, error) {
	return func(context.Context) (*emit.File, error) {
		doc, err := load.LoadABI(ref.Name, ref.File)
		if err != nil {
			return nil, err
		}
		grp, err := gen.MapABI(doc)
		if err != nil {
			return nil, err
		}
		if ref.Name == sourceABI {
			if err := bind(ref.Name, grp, mapping); err != nil {
				return nil, err
			}
		}
		return &emit.File{Path: file, Group: grp}, nil
	}
}

func bind(abi string, grp *ir.Group, mapping *load.Mapping) error {
	if err := gen.BindEventHandlers(abi, grp, mapping.EventHandlers); err != nil {
		return err
	}
	return gen.BindCallHandlers(abi, grp, mapping.CallHandlers)
}
