package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler"
	"github.com/syssam/subgen/compiler/emit"
	"github.com/syssam/subgen/compiler/watch"
)

// Config is the CLI configuration, read from subgen.yaml, SUBGEN_*
// environment variables and flags, in increasing precedence.
type Config struct {
	Manifest  string        `mapstructure:"manifest"`
	OutputDir string        `mapstructure:"output_dir"`
	Target    string        `mapstructure:"target"`
	Workers   int           `mapstructure:"workers"`
	Debounce  time.Duration `mapstructure:"debounce"`
	WriteBack bool          `mapstructure:"write_back"`
}

// flagKeys maps command flags to configuration keys.
var flagKeys = map[string]string{
	"output-dir": "output_dir",
	"target":     "target",
	"workers":    "workers",
	"debounce":   "debounce",
	"write-back": "write_back",
}

// loadConfig reads the configuration for cmd. file overrides the default
// subgen.yaml lookup in the working directory. A manifest given as an
// argument takes precedence over every other source.
func loadConfig(cmd *cobra.Command, file string, args []string) (*Config, error) {
	v := viper.New()
	v.SetDefault("manifest", "subgraph.yaml")
	v.SetDefault("output_dir", compiler.DefaultOutputDir)
	v.SetDefault("target", "assemblyscript")
	v.SetDefault("workers", 0)
	v.SetDefault("debounce", watch.DefaultDebounce)
	v.SetDefault("write_back", true)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("subgen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SUBGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	if len(args) > 0 {
		v.Set("manifest", args[0])
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// emitter returns the emitter for the configured target.
func (c *Config) emitter() (emit.Emitter, error) {
	switch strings.ToLower(c.Target) {
	case "assemblyscript", "as", "ts":
		return emit.AssemblyScript{}, nil
	case "go", "golang":
		return emit.Go{}, nil
	default:
		return nil, subgen.NewValidationError("", "target", fmt.Sprintf("unknown target %q", c.Target))
	}
}

// options converts the configuration to generator options.
func (c *Config) options(log *zap.Logger) ([]compiler.Option, error) {
	e, err := c.emitter()
	if err != nil {
		return nil, err
	}
	opts := []compiler.Option{
		compiler.WithManifest(c.Manifest),
		compiler.WithOutputDir(c.OutputDir),
		compiler.WithEmitter(e),
		compiler.WithWriteBack(c.WriteBack),
		compiler.WithLogger(log),
	}
	if c.Workers != 0 {
		opts = append(opts, compiler.WithWorkers(c.Workers))
	}
	return opts, nil
}
