// Package subgen generates typed bindings for subgraph manifests.
//
// The root package holds the error kinds shared by every stage of the
// pipeline. Each kind matches a sentinel through errors.Is, so callers can
// branch on the failure class without knowing the concrete type:
//
//	if errors.Is(err, subgen.ErrAbiMapping) {
//		// unresolved event handler, unmappable type, name collision
//	}
package subgen

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for each failure class.
var (
	// ErrParse indicates malformed manifest, ABI or schema text.
	ErrParse = errors.New("subgen: parse error")
	// ErrValidation indicates a well-formed document that violates a required invariant.
	ErrValidation = errors.New("subgen: validation failed")
	// ErrAbiMapping indicates an ABI that cannot be mapped to bindings.
	ErrAbiMapping = errors.New("subgen: abi mapping failed")
	// ErrSchemaMapping indicates a GraphQL schema that cannot be mapped to bindings.
	ErrSchemaMapping = errors.New("subgen: schema mapping failed")
	// ErrMigration indicates a manifest that cannot be migrated to the current version.
	ErrMigration = errors.New("subgen: migration failed")
	// ErrEmission indicates a formatting or write failure.
	ErrEmission = errors.New("subgen: emission failed")
)

// ParseError represents malformed input text.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("subgen: parse error")
	if e.Path != "" {
		b.WriteString(" in ")
		b.WriteString(e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
	}
	writeTail(&b, e.Message, e.Cause)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Cause }

// Is reports whether the target matches ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// NewParseError creates a new ParseError.
func NewParseError(path, message string, cause error) *ParseError {
	return &ParseError{Path: path, Message: message, Cause: cause}
}

// ValidationError represents a structurally valid document that breaks an invariant.
type ValidationError struct {
	Path    string // file the document was read from
	Field   string // dotted key path, e.g. dataSources[0].mapping
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("subgen: validation error")
	if e.Path != "" {
		b.WriteString(" in ")
		b.WriteString(e.Path)
	}
	if e.Field != "" {
		b.WriteString(" at ")
		b.WriteString(e.Field)
	}
	writeTail(&b, e.Message, e.Cause)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.Cause }

// Is reports whether the target matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a new ValidationError.
func NewValidationError(path, field, message string) *ValidationError {
	return &ValidationError{Path: path, Field: field, Message: message}
}

// AbiMappingError represents an ABI construct that cannot be mapped.
type AbiMappingError struct {
	ABI       string // ABI name as declared in the manifest
	Signature string // offending entry or handler signature
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *AbiMappingError) Error() string {
	var b strings.Builder
	b.WriteString("subgen: abi mapping error")
	if e.ABI != "" {
		b.WriteString(" in ")
		b.WriteString(e.ABI)
	}
	if e.Signature != "" {
		fmt.Fprintf(&b, " (%s)", e.Signature)
	}
	writeTail(&b, e.Message, e.Cause)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *AbiMappingError) Unwrap() error { return e.Cause }

// Is reports whether the target matches ErrAbiMapping.
func (e *AbiMappingError) Is(target error) bool { return target == ErrAbiMapping }

// NewAbiMappingError creates a new AbiMappingError.
func NewAbiMappingError(abi, signature, message string) *AbiMappingError {
	return &AbiMappingError{ABI: abi, Signature: signature, Message: message}
}

// SchemaMappingError represents a schema construct that cannot be mapped.
type SchemaMappingError struct {
	Type    string
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SchemaMappingError) Error() string {
	var b strings.Builder
	b.WriteString("subgen: schema mapping error")
	if e.Type != "" {
		b.WriteString(" on type ")
		b.WriteString(e.Type)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	writeTail(&b, e.Message, e.Cause)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *SchemaMappingError) Unwrap() error { return e.Cause }

// Is reports whether the target matches ErrSchemaMapping.
func (e *SchemaMappingError) Is(target error) bool { return target == ErrSchemaMapping }

// NewSchemaMappingError creates a new SchemaMappingError.
func NewSchemaMappingError(typeName, field, message string) *SchemaMappingError {
	return &SchemaMappingError{Type: typeName, Field: field, Message: message}
}

// MigrationError represents a manifest that cannot be brought to the current version.
type MigrationError struct {
	Version string // detected version when the failure occurred
	Step    string // migration name, if one was running
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	var b strings.Builder
	b.WriteString("subgen: migration error")
	if e.Version != "" {
		b.WriteString(" at version ")
		b.WriteString(e.Version)
	}
	if e.Step != "" {
		b.WriteString(" in step ")
		b.WriteString(e.Step)
	}
	writeTail(&b, e.Message, e.Cause)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error { return e.Cause }

// Is reports whether the target matches ErrMigration.
func (e *MigrationError) Is(target error) bool { return target == ErrMigration }

// NewMigrationError creates a new MigrationError.
func NewMigrationError(version, step, message string, cause error) *MigrationError {
	return &MigrationError{Version: version, Step: step, Message: message, Cause: cause}
}

// EmissionError represents a failure to format or write generated output.
type EmissionError struct {
	File    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EmissionError) Error() string {
	var b strings.Builder
	b.WriteString("subgen: emission error")
	if e.File != "" {
		b.WriteString(" (file: ")
		b.WriteString(e.File)
		b.WriteString(")")
	}
	writeTail(&b, e.Message, e.Cause)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *EmissionError) Unwrap() error { return e.Cause }

// Is reports whether the target matches ErrEmission.
func (e *EmissionError) Is(target error) bool { return target == ErrEmission }

// NewEmissionError creates a new EmissionError.
func NewEmissionError(file, message string, cause error) *EmissionError {
	return &EmissionError{File: file, Message: message, Cause: cause}
}

// UnitKind identifies the kind of generation unit a failure belongs to.
type UnitKind string

// Generation unit kinds.
const (
	UnitDataSource UnitKind = "data source"
	UnitTemplate   UnitKind = "template"
	UnitSchema     UnitKind = "schema"
)

// UnitError attributes a failure to one independently generated unit.
type UnitError struct {
	Kind UnitKind
	Name string // data source or template name; empty for the schema
	ABI  string // ABI name, if the unit is an ABI binding
	Err  error
}

// Error implements the error interface.
func (e *UnitError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.ABI != "" {
		fmt.Fprintf(&b, " (abi %s)", e.ABI)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

// Unwrap returns the underlying error.
func (e *UnitError) Unwrap() error { return e.Err }

// IsParseError reports whether the error is a ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsValidationError reports whether the error is a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsAbiMappingError reports whether the error is an AbiMappingError.
func IsAbiMappingError(err error) bool {
	var target *AbiMappingError
	return errors.As(err, &target)
}

// IsSchemaMappingError reports whether the error is a SchemaMappingError.
func IsSchemaMappingError(err error) bool {
	var target *SchemaMappingError
	return errors.As(err, &target)
}

// IsMigrationError reports whether the error is a MigrationError.
func IsMigrationError(err error) bool {
	var target *MigrationError
	return errors.As(err, &target)
}

// IsEmissionError reports whether the error is an EmissionError.
func IsEmissionError(err error) bool {
	var target *EmissionError
	return errors.As(err, &target)
}

func writeTail(b *strings.Builder, message string, cause error) {
	if message != "" {
		b.WriteString(": ")
		b.WriteString(message)
	}
	if cause != nil {
		b.WriteString(": ")
		b.WriteString(cause.Error())
	}
}
