package compiler

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/emit"
	"github.com/syssam/subgen/compiler/migrate"
)

// DefaultOutputDir is the output root used when none is configured.
const DefaultOutputDir = "generated"

// Config holds the generator configuration.
type Config struct {
	// Manifest is the path of the subgraph manifest.
	Manifest string
	// OutputDir is the root all files are written under.
	OutputDir string
	// Emitter renders the target language.
	Emitter emit.Emitter
	// Workers bounds the number of units generated concurrently.
	Workers int
	// WriteBack persists a migrated manifest to its source file.
	WriteBack bool
	Logger    *zap.Logger
	// Migrations replaces the built-in migration chain when set.
	Migrations []migrate.Option
}

// Option configures the generator.
type Option func(*Config) error

// WithManifest sets the manifest path.
func WithManifest(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return subgen.NewValidationError("", "manifest", "manifest path cannot be empty")
		}
		c.Manifest = path
		return nil
	}
}

// WithOutputDir sets the output root.
func WithOutputDir(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return subgen.NewValidationError("", "output_dir", "output directory cannot be empty")
		}
		c.OutputDir = dir
		return nil
	}
}

// WithEmitter sets the target language.
func WithEmitter(e emit.Emitter) Option {
	return func(c *Config) error {
		if e == nil {
			return subgen.NewValidationError("", "target", "emitter cannot be nil")
		}
		c.Emitter = e
		return nil
	}
}

// WithWorkers sets the number of concurrent units.
func WithWorkers(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return subgen.NewValidationError("", "workers", "workers must be at least 1")
		}
		c.Workers = n
		return nil
	}
}

// WithWriteBack controls whether a migrated manifest is written back.
func WithWriteBack(on bool) Option {
	return func(c *Config) error {
		c.WriteBack = on
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return subgen.NewValidationError("", "logger", "logger cannot be nil")
		}
		c.Logger = l
		return nil
	}
}

// WithMigrations replaces the built-in migration chain.
func WithMigrations(current string, ms ...migrate.Migration) Option {
	return func(c *Config) error {
		if current == "" {
			return subgen.NewValidationError("", "migrations", "current version cannot be empty")
		}
		c.Migrations = []migrate.Option{migrate.WithMigrations(current, ms...)}
		return nil
	}
}

func defaultConfig() *Config {
	return &Config{
		OutputDir: DefaultOutputDir,
		Emitter:   emit.AssemblyScript{},
		Workers:   runtime.GOMAXPROCS(0),
		WriteBack: true,
		Logger:    zap.NewNop(),
	}
}
