// Package emit renders IR groups to source files.
package emit

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"

	"github.com/syssam/subgen"
	"github.com/syssam/subgen/compiler/ir"
)

// File is one output unit: a linked group and the slash-separated path it
// is written to, relative to the output root and without extension.
type File struct {
	Path  string
	Group *ir.Group
}

// Emitter renders files for one target language.
type Emitter interface {
	// Ext returns the output file extension, including the dot.
	Ext() string
	// Render returns the formatted source of f. Identical groups render
	// identical bytes.
	Render(f *File) ([]byte, error)
}

// Namespaced is implemented by emitters whose files in one directory share
// a namespace, such as a Go package.
type Namespaced interface {
	// Declared returns the top-level identifiers f declares, in unit order.
	Declared(f *File) []string
}

// Write renders f and writes it under root, creating directories as needed.
// It returns the written path. When formatting fails the unformatted text is
// written next to the target with an .error suffix and nothing is written
// to the target itself.
func Write(ctx context.Context, e Emitter, f *File, root string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(f.Path)+e.Ext())
	if err := ctx.Err(); err != nil {
		return "", subgen.NewEmissionError(target, "canceled", err)
	}
	src, err := e.Render(f)
	if err != nil {
		var ferr *FormatError
		if errors.As(err, &ferr) && len(ferr.Source) > 0 {
			debug := target + ".error"
			_ = os.MkdirAll(filepath.Dir(debug), 0o755)
			_ = os.WriteFile(debug, ferr.Source, 0o644)
			return "", subgen.NewEmissionError(target, "format (unformatted written to "+debug+")", err)
		}
		return "", subgen.NewEmissionError(target, "render", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", subgen.NewEmissionError(target, "create directory", err)
	}
	if err := os.WriteFile(target, src, 0o644); err != nil {
		return "", subgen.NewEmissionError(target, "write", err)
	}
	return target, nil
}

// packageName derives a Go package name from the directory of a file path.
// Files at the root go to package generated.
func packageName(p string) string {
	dir := path.Base(path.Dir(p))
	if dir == "." || dir == "/" {
		return "generated"
	}
	var b []rune
	for _, r := range dir {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9' && len(b) > 0:
			b = append(b, r)
		case r >= 'A' && r <= 'Z':
			b = append(b, r+'a'-'A')
		}
	}
	if len(b) == 0 {
		return "generated"
	}
	return string(b)
}
