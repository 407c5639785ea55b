// Parses entity schema and query manifest YAML files.

package manifest

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/maruel/recdb/internal/schema"
	"gopkg.in/yaml.v3"
)

// Schema describes an entity whose layout is only known at runtime.
type Schema struct {
	Version   int           `yaml:"version"`
	Entity    string        `yaml:"entity"`
	Delimiter string        `yaml:"delimiter,omitempty"`
	Check     *bool         `yaml:"check,omitempty"` // nil means true
	Fields    []FieldConfig `yaml:"fields"`
}

// FieldConfig defines one field of the entity.
type FieldConfig struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Constraints []string `yaml:"constraints,omitempty"`
}

// ParseSchema reads and parses a schema manifest from a file.
// The path is provided by the CLI user, so file inclusion is expected.
func ParseSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified manifest path
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseSchemaBytes(data)
}

// ParseSchemaBytes parses a schema manifest from bytes.
func ParseSchemaBytes(data []byte) (*Schema, error) {
	var m Schema
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Validate checks that the manifest is valid.
func (m *Schema) Validate() error {
	if m.Version != 1 {
		return fmt.Errorf("unsupported manifest version: %d", m.Version)
	}
	if m.Entity == "" {
		return errors.New("entity is required")
	}
	if m.Delimiter != "" && utf8.RuneCountInString(m.Delimiter) != 1 {
		return fmt.Errorf("delimiter %q must be a single character", m.Delimiter)
	}
	if len(m.Fields) == 0 {
		return errors.New("at least one field is required")
	}
	seen := map[string]bool{}
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d: name is required", i)
		}
		key := schema.Fold(f.Name)
		if seen[key] {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[key] = true
		if _, err := f.Kind(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		if _, err := f.Constraint(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

// CheckOnLoad reports whether loaded rows must pass validation.
func (m *Schema) CheckOnLoad() bool {
	return m.Check == nil || *m.Check
}

// Comma returns the configured delimiter, or 0 for the default.
func (m *Schema) Comma() rune {
	r, _ := utf8.DecodeRuneInString(m.Delimiter)
	if r == utf8.RuneError {
		return 0
	}
	return r
}

// Kind returns the field's semantic type. An empty type means text.
func (f *FieldConfig) Kind() (schema.Kind, error) {
	if f.Type == "" {
		return schema.Text, nil
	}
	return schema.ParseKind(f.Type)
}

// Constraint returns the union of the field's constraints.
func (f *FieldConfig) Constraint() (schema.Constraint, error) {
	var c schema.Constraint
	for _, s := range f.Constraints {
		x, err := schema.ParseConstraint(s)
		if err != nil {
			return 0, err
		}
		c |= x
	}
	return c, nil
}
