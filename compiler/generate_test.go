package compiler

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/emit"
	"github.com/syssam/subgen/compiler/ir"
	"github.com/syssam/subgen/compiler/migrate"
)

const erc20ABI = `[
  {
    "type": "event",
    "name": "Transfer",
    "inputs": [
      { "name": "from", "type": "address", "indexed": true },
      { "name": "to", "type": "address", "indexed": true },
      { "name": "value", "type": "uint256" }
    ]
  }
]`

const accountSchema = "type Account @entity {\n  id: ID!\n}\n"

func tokenManifest(version string) string {
	return `specVersion: ` + version + `
schema:
  file: ./schema.graphql
dataSources:
` + dataSource("Token", "ERC20", "./abis/ERC20.json")
}

func dataSource(name, abi, file string) string {
	return `  - kind: ethereum/contract
    name: ` + name + `
    source:
      abi: ` + abi + `
    mapping:
      kind: ethereum/events
      apiVersion: 0.0.2
      language: wasm/assemblyscript
      file: ./src/mapping.ts
      entities:
        - Account
      abis:
        - name: ` + abi + `
          file: ` + file + `
      eventHandlers:
        - event: Transfer(address,address,uint256)
          handler: handleTransfer
`
}

// writeTree writes files relative to dir and returns dir.
func writeTree(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func tokenProject(t *testing.T) string {
	return writeTree(t, t.TempDir(), map[string]string{
		"subgraph.yaml":   tokenManifest(migrate.CurrentVersion),
		"schema.graphql":  accountSchema,
		"abis/ERC20.json": erc20ABI,
	})
}

// listFiles returns every file under root as slash-separated relative paths.
func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return files
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func generate(t *testing.T, opts ...Option) (*Result, error) {
	t.Helper()
	g, err := New(opts...)
	require.NoError(t, err)
	return g.Generate(context.Background())
}

func TestGenerate(t *testing.T) {
	t.Run("single data source with one entity", func(t *testing.T) {
		dir := tokenProject(t)
		out := filepath.Join(dir, "generated")
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out))
		require.NoError(t, err)
		require.True(t, res.OK)
		assert.Empty(t, res.Failures)
		assert.Equal(t, []string{"Token/ERC20.ts", "schema.ts"}, listFiles(t, out))
		assert.Equal(t, []string{
			filepath.Join(out, "Token", "ERC20.ts"),
			filepath.Join(out, "schema.ts"),
		}, res.Files)

		binding := readFile(t, filepath.Join(out, "Token", "ERC20.ts"))
		assert.Contains(t, binding, "export class Transfer extends ethereum.Event {")
		assert.Contains(t, binding, "export class Transfer__Params {")
		schema := readFile(t, filepath.Join(out, "schema.ts"))
		assert.Contains(t, schema, "export class Account extends Entity {")
		assert.Contains(t, schema, "  get id(): string {")
	})

	t.Run("dependencies cover manifest schema and abis", func(t *testing.T) {
		dir := tokenProject(t)
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(t.TempDir()))
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(dir, "subgraph.yaml"),
			filepath.Join(dir, "schema.graphql"),
			filepath.Join(dir, "abis", "ERC20.json"),
		}, res.Dependencies)
	})

	t.Run("repeated runs write identical bytes", func(t *testing.T) {
		dir := tokenProject(t)
		out := filepath.Join(dir, "generated")
		_, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out))
		require.NoError(t, err)
		first := map[string]string{}
		for _, f := range listFiles(t, out) {
			first[f] = readFile(t, filepath.Join(out, f))
		}
		_, err = generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out), WithWorkers(1))
		require.NoError(t, err)
		for _, f := range listFiles(t, out) {
			assert.Equal(t, first[f], readFile(t, filepath.Join(out, f)), f)
		}
	})

	t.Run("a malformed abi fails only its data source", func(t *testing.T) {
		dir := writeTree(t, t.TempDir(), map[string]string{
			"subgraph.yaml": "specVersion: 0.0.4\nschema:\n  file: ./schema.graphql\ndataSources:\n" +
				dataSource("A", "TokenA", "./abis/A.json") +
				dataSource("B", "TokenB", "./abis/B.json") +
				dataSource("C", "TokenC", "./abis/C.json"),
			"schema.graphql": accountSchema,
			"abis/A.json":    erc20ABI,
			"abis/B.json":    `[{"type": "event", "name": `,
			"abis/C.json":    erc20ABI,
		})
		out := filepath.Join(dir, "generated")
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out))
		require.NoError(t, err)
		assert.False(t, res.OK)
		require.Len(t, res.Failures, 1)
		failure := res.Failures[0]
		assert.Equal(t, subgen.UnitDataSource, failure.Kind)
		assert.Equal(t, "B", failure.Name)
		assert.Equal(t, "TokenB", failure.ABI)
		assert.True(t, subgen.IsParseError(failure))
		assert.Equal(t, []string{"A/TokenA.ts", "C/TokenC.ts", "schema.ts"}, listFiles(t, out))
		assert.Contains(t, readFile(t, filepath.Join(out, "C", "TokenC.ts")), "export class Transfer extends ethereum.Event {")
	})

	t.Run("an unknown event handler fails its data source", func(t *testing.T) {
		dir := writeTree(t, t.TempDir(), map[string]string{
			"subgraph.yaml":   strings.Replace(tokenManifest("0.0.4"), "Transfer(address,address,uint256)", "Approval(address,address,uint256)", 1),
			"schema.graphql":  accountSchema,
			"abis/ERC20.json": erc20ABI,
		})
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(t.TempDir()))
		require.NoError(t, err)
		require.Len(t, res.Failures, 1)
		assert.True(t, errors.Is(res.Failures[0], subgen.ErrAbiMapping))
		assert.Contains(t, res.Failures[0].Error(), `data source "Token" (abi ERC20)`)
	})

	t.Run("schema failures are attributed to the schema", func(t *testing.T) {
		dir := writeTree(t, t.TempDir(), map[string]string{
			"subgraph.yaml":   tokenManifest("0.0.4"),
			"schema.graphql":  "type Account @entity {\n  name: String!\n}\n",
			"abis/ERC20.json": erc20ABI,
		})
		out := filepath.Join(dir, "generated")
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out))
		require.NoError(t, err)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, subgen.UnitSchema, res.Failures[0].Kind)
		assert.True(t, subgen.IsSchemaMappingError(res.Failures[0]))
		assert.Equal(t, []string{"Token/ERC20.ts"}, listFiles(t, out))
	})

	t.Run("templates", func(t *testing.T) {
		out := t.TempDir()
		res, err := generate(t, WithManifest(filepath.Join("load", "testdata", "subgraph.yaml")), WithOutputDir(out))
		require.NoError(t, err)
		require.True(t, res.OK, "%v", res.Failures)
		assert.Equal(t, []string{
			filepath.Join(out, "Token", "ERC20.ts"),
			filepath.Join(out, "templates", "Vault", "ERC20.ts"),
			filepath.Join(out, "Token", "templates.ts"),
			filepath.Join(out, "schema.ts"),
		}, res.Files)
		assert.Contains(t, readFile(t, filepath.Join(out, "Token", "templates.ts")), "export class Vault extends DataSourceTemplate {")
		assert.Contains(t, readFile(t, filepath.Join(out, "templates", "Vault", "ERC20.ts")), "export class BalanceOfCall extends ethereum.Call {")
	})

	t.Run("go target", func(t *testing.T) {
		dir := tokenProject(t)
		out := filepath.Join(dir, "generated")
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out), WithEmitter(emit.Go{}))
		require.NoError(t, err)
		require.True(t, res.OK, "%v", res.Failures)
		assert.Equal(t, []string{"Token/ERC20.go", "schema.go"}, listFiles(t, out))
		assert.Contains(t, readFile(t, filepath.Join(out, "Token", "ERC20.go")), "package token")
	})

	t.Run("go target rejects types redeclared in one package", func(t *testing.T) {
		dir := tokenProject(t)
		manifest := strings.Replace(tokenManifest(migrate.CurrentVersion), "          file: ./abis/ERC20.json\n",
			"          file: ./abis/ERC20.json\n        - name: Pair\n          file: ./abis/Pair.json\n", 1)
		writeTree(t, dir, map[string]string{
			"subgraph.yaml":  manifest,
			"abis/Pair.json": erc20ABI,
		})
		out := filepath.Join(dir, "generated")
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out), WithEmitter(emit.Go{}))
		require.NoError(t, err)
		require.False(t, res.OK)
		require.Len(t, res.Failures, 1)
		failure := res.Failures[0]
		assert.Equal(t, subgen.UnitDataSource, failure.Kind)
		assert.Equal(t, "Token", failure.Name)
		assert.Equal(t, "Pair", failure.ABI)
		assert.True(t, subgen.IsEmissionError(failure))
		assert.Contains(t, failure.Error(), `Transfer is also declared by data source "Token" (abi ERC20) in Token`)
		assert.Equal(t, []string{"Token/ERC20.go", "schema.go"}, listFiles(t, out))
	})

	t.Run("assemblyscript target keeps one module per abi", func(t *testing.T) {
		dir := tokenProject(t)
		manifest := strings.Replace(tokenManifest(migrate.CurrentVersion), "          file: ./abis/ERC20.json\n",
			"          file: ./abis/ERC20.json\n        - name: Pair\n          file: ./abis/Pair.json\n", 1)
		writeTree(t, dir, map[string]string{
			"subgraph.yaml":  manifest,
			"abis/Pair.json": erc20ABI,
		})
		out := filepath.Join(dir, "generated")
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out))
		require.NoError(t, err)
		require.True(t, res.OK, "%v", res.Failures)
		assert.Equal(t, []string{"Token/ERC20.ts", "Token/Pair.ts", "schema.ts"}, listFiles(t, out))
	})

	t.Run("canceled context", func(t *testing.T) {
		dir := tokenProject(t)
		out := filepath.Join(dir, "generated")
		g, err := New(WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(out))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := g.Generate(ctx)
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, res.OK)
		assert.Empty(t, res.Files)
		assert.NoDirExists(t, out)
	})
}

func TestGenerateMigration(t *testing.T) {
	legacy := strings.Replace(tokenManifest("0.0.1"), "schema:\n  file: ./schema.graphql", "schema: ./schema.graphql", 1)

	t.Run("legacy manifest is migrated and written back", func(t *testing.T) {
		dir := writeTree(t, t.TempDir(), map[string]string{
			"subgraph.yaml":   legacy,
			"schema.graphql":  accountSchema,
			"abis/ERC20.json": erc20ABI,
		})
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(t.TempDir()))
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, []string{"topic0-key", "mapping-api-version", "schema-file-ref"}, res.Migration.Applied)
		written := readFile(t, filepath.Join(dir, "subgraph.yaml"))
		assert.Contains(t, written, "specVersion: 0.0.4")
		assert.Contains(t, written, "file: ./schema.graphql")
	})

	t.Run("write back can be disabled", func(t *testing.T) {
		dir := writeTree(t, t.TempDir(), map[string]string{
			"subgraph.yaml":   legacy,
			"schema.graphql":  accountSchema,
			"abis/ERC20.json": erc20ABI,
		})
		res, err := generate(t, WithManifest(filepath.Join(dir, "subgraph.yaml")), WithOutputDir(t.TempDir()), WithWriteBack(false))
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.True(t, res.Migration.Changed())
		assert.Equal(t, legacy, readFile(t, filepath.Join(dir, "subgraph.yaml")))
	})

	t.Run("current manifest is not rewritten", func(t *testing.T) {
		dir := tokenProject(t)
		path := filepath.Join(dir, "subgraph.yaml")
		before, err := os.Stat(path)
		require.NoError(t, err)
		res, err := generate(t, WithManifest(path), WithOutputDir(t.TempDir()))
		require.NoError(t, err)
		assert.False(t, res.Migration.Changed())
		after, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, before.ModTime(), after.ModTime())
		assert.Equal(t, tokenManifest(migrate.CurrentVersion), readFile(t, path))
	})

	t.Run("custom chain", func(t *testing.T) {
		dir := tokenProject(t)
		res, err := generate(t,
			WithManifest(filepath.Join(dir, "subgraph.yaml")),
			WithOutputDir(t.TempDir()),
			WithMigrations("0.0.4"),
		)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, "0.0.4", res.Migration.To)
	})
}

func TestGenerateFatal(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		check    func(error) bool
	}{
		{
			name:     "malformed yaml",
			manifest: "specVersion: [",
			check:    subgen.IsParseError,
		},
		{
			name:     "missing mapping",
			manifest: "specVersion: 0.0.4\nschema:\n  file: ./schema.graphql\ndataSources:\n  - kind: ethereum/contract\n    name: Token\n    source:\n      abi: ERC20\n",
			check:    subgen.IsValidationError,
		},
		{
			name:     "unknown version",
			manifest: strings.Replace(tokenManifest("0.0.4"), "0.0.4", "9.9.9", 1),
			check:    subgen.IsMigrationError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeTree(t, t.TempDir(), map[string]string{"subgraph.yaml": tt.manifest})
			path := filepath.Join(dir, "subgraph.yaml")
			out := filepath.Join(dir, "generated")
			res, err := generate(t, WithManifest(path), WithOutputDir(out))
			require.Error(t, err)
			assert.True(t, tt.check(err), "%v", err)
			assert.False(t, res.OK)
			assert.Equal(t, []string{path}, res.Dependencies)
			assert.NoDirExists(t, out)
		})
	}

	t.Run("missing manifest", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "subgraph.yaml")
		res, err := generate(t, WithManifest(path))
		require.Error(t, err)
		assert.True(t, subgen.IsParseError(err))
		assert.Equal(t, []string{path}, res.Dependencies)
	})
}

func TestOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		g, err := New(WithManifest("subgraph.yaml"))
		require.NoError(t, err)
		cfg := g.Config()
		assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
		assert.Equal(t, emit.AssemblyScript{}, cfg.Emitter)
		assert.True(t, cfg.WriteBack)
		assert.GreaterOrEqual(t, cfg.Workers, 1)
		assert.NotNil(t, cfg.Logger)
	})

	t.Run("overrides", func(t *testing.T) {
		log := zap.NewExample()
		g, err := New(
			WithManifest("subgraph.yaml"),
			WithOutputDir("out"),
			WithEmitter(emit.Go{}),
			WithWorkers(3),
			WithWriteBack(false),
			WithLogger(log),
		)
		require.NoError(t, err)
		cfg := g.Config()
		assert.Equal(t, "out", cfg.OutputDir)
		assert.Equal(t, emit.Go{}, cfg.Emitter)
		assert.Equal(t, 3, cfg.Workers)
		assert.False(t, cfg.WriteBack)
		assert.Same(t, log, cfg.Logger)
	})

	tests := []struct {
		name  string
		opts  []Option
		field string
	}{
		{name: "manifest is required", field: "manifest"},
		{name: "empty manifest", opts: []Option{WithManifest("")}, field: "manifest"},
		{name: "empty output", opts: []Option{WithManifest("m"), WithOutputDir("")}, field: "output_dir"},
		{name: "nil emitter", opts: []Option{WithManifest("m"), WithEmitter(nil)}, field: "target"},
		{name: "zero workers", opts: []Option{WithManifest("m"), WithWorkers(0)}, field: "workers"},
		{name: "nil logger", opts: []Option{WithManifest("m"), WithLogger(nil)}, field: "logger"},
		{name: "empty migration target", opts: []Option{WithManifest("m"), WithMigrations("")}, field: "migrations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			var verr *subgen.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestGenerateCheck(t *testing.T) {
	file := func(p string) *emit.File {
		return &emit.File{Path: p, Group: &ir.Group{}}
	}

	t.Run("later unit writing the same output fails", func(t *testing.T) {
		g, err := New(WithManifest("subgraph.yaml"), WithOutputDir("out"))
		require.NoError(t, err)
		tasks := []task{
			{kind: subgen.UnitTemplate, name: "Vault", abi: "ERC20"},
			{kind: subgen.UnitDataSource, name: "Token"},
		}
		slots := []slot{
			{file: file("Token/templates"), done: true},
			{file: file("Token/templates"), done: true},
		}
		g.check(tasks, slots)
		require.NoError(t, slots[0].err)
		require.Error(t, slots[1].err)
		assert.True(t, subgen.IsEmissionError(slots[1].err))
		assert.Contains(t, slots[1].err.Error(), filepath.Join("out", "Token", "templates.ts"))
		assert.Contains(t, slots[1].err.Error(), `output is also written by template "Vault" (abi ERC20)`)
	})

	t.Run("failed and skipped units are not checked", func(t *testing.T) {
		g, err := New(WithManifest("subgraph.yaml"))
		require.NoError(t, err)
		tasks := []task{{kind: subgen.UnitDataSource, name: "A"}, {kind: subgen.UnitDataSource, name: "B"}, {kind: subgen.UnitSchema}}
		slots := []slot{
			{err: errors.New("boom"), done: true},
			{},
			{file: file("schema"), done: true},
		}
		g.check(tasks, slots)
		assert.EqualError(t, slots[0].err, "boom")
		assert.NoError(t, slots[1].err)
		assert.NoError(t, slots[2].err)
	})

	t.Run("declarations are scoped to their directory", func(t *testing.T) {
		g, err := New(WithManifest("subgraph.yaml"), WithEmitter(emit.Go{}))
		require.NoError(t, err)
		unit := func(p string) *emit.File {
			return &emit.File{Path: p, Group: &ir.Group{Units: []*ir.Unit{{Name: "Transfer", Kind: ir.KindEvent}}}}
		}
		tasks := []task{
			{kind: subgen.UnitDataSource, name: "A", abi: "ERC20"},
			{kind: subgen.UnitDataSource, name: "B", abi: "ERC20"},
		}
		slots := []slot{{file: unit("A/ERC20"), done: true}, {file: unit("B/ERC20"), done: true}}
		g.check(tasks, slots)
		assert.NoError(t, slots[0].err)
		assert.NoError(t, slots[1].err)
	})
}
