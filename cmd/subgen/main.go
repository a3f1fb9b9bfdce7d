// Command subgen generates typed bindings for subgraph manifests.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/syssam/subgen/compiler"
	"github.com/syssam/subgen/compiler/load"
	"github.com/syssam/subgen/compiler/migrate"
	"github.com/syssam/subgen/compiler/watch"
)

// errFailed reports that some units failed. The failures are printed
// before it is returned.
var errFailed = errors.New("generation failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

type rootFlags struct {
	config  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "subgen",
		Short:         "Generate typed bindings for subgraph manifests",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&flags.config, "config", "", "config file (default: ./subgen.yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "development logging")
	cmd.AddCommand(newCodegenCmd(flags), newMigrateCmd(flags))
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newCodegenCmd(flags *rootFlags) *cobra.Command {
	var watchMode bool
	cmd := &cobra.Command{
		Use:   "codegen [manifest]",
		Short: "Generate bindings for the manifest's ABIs, templates and schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags.config, args)
			if err != nil {
				return err
			}
			log, err := newLogger(flags.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			opts, err := cfg.options(log)
			if err != nil {
				return err
			}
			g, err := compiler.New(opts...)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if watchMode {
				return watchLoop(ctx, g, cfg, log, cmd.ErrOrStderr())
			}
			res, err := g.Generate(ctx)
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)
			if !res.OK {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "regenerate when the manifest, schema or an ABI changes")
	cmd.Flags().StringP("output-dir", "o", compiler.DefaultOutputDir, "output root")
	cmd.Flags().String("target", "assemblyscript", "output language: assemblyscript|go")
	cmd.Flags().Int("workers", 0, "concurrent units (default: GOMAXPROCS)")
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before a watch rerun")
	cmd.Flags().Bool("write-back", true, "write a migrated manifest back to its file")
	return cmd
}

// watchLoop regenerates until ctx is done. Failed runs are reported and
// watching resumes.
func watchLoop(ctx context.Context, g *compiler.Generator, cfg *Config, log *zap.Logger, stderr io.Writer) error {
	w := watch.New(func(ctx context.Context) []string {
		res, err := g.Generate(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			fmt.Fprintf(stderr, "Error: %s\n", err)
		case err == nil:
			report(io.Discard, stderr, res)
		}
		return res.Dependencies
	}, watch.WithDebounce(cfg.Debounce), watch.WithLogger(log))
	return w.Run(ctx)
}

// report prints written files to stdout and failures to stderr.
func report(stdout, stderr io.Writer, res *compiler.Result) {
	for _, f := range res.Files {
		fmt.Fprintf(stdout, "wrote %s\n", f)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(stderr, "Error: %s\n", f)
	}
	if !res.OK {
		fmt.Fprintf(stderr, "%d of %d units failed\n", len(res.Failures), len(res.Failures)+len(res.Files))
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [manifest]",
		Short: "Upgrade the manifest to the current spec version in place",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags.config, args)
			if err != nil {
				return err
			}
			log, err := newLogger(flags.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			raw, err := load.ReadManifest(cfg.Manifest)
			if err != nil {
				return err
			}
			rep, err := migrate.New(migrate.WithLogger(log)).Migrate(raw, true)
			if err != nil {
				return err
			}
			if !rep.Changed() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is current (%s)\n", raw.Path, rep.To)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s from %s to %s: %s\n",
				raw.Path, rep.From, rep.To, strings.Join(rep.Applied, ", "))
			return nil
		},
	}
}
