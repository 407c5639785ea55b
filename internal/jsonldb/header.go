package jsonldb

import (
	"errors"
	"fmt"

	"github.com/maruel/recdb/internal/schema"
)

var errSchemaVersionRequired = errors.New("schema version is required")

// currentVersion is the current version of the JSONL table format.
const currentVersion = "1.0"

// column describes one field in the header line.
type column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Constraints string `json:"constraints,omitempty"`
}

// schemaHeader is the first line of a JSONL data file.
type schemaHeader struct {
	Version string   `json:"version"`
	Entity  string   `json:"entity"`
	Columns []column `json:"columns"`
}

// Validate checks that the schema header is well-formed.
func (h *schemaHeader) Validate() error {
	if h.Version == "" {
		return errSchemaVersionRequired
	}
	if h.Version != currentVersion {
		return fmt.Errorf("unsupported schema version %q", h.Version)
	}
	for i, col := range h.Columns {
		if col.Name == "" {
			return fmt.Errorf("column %d: name is required", i)
		}
		if col.Type == "" {
			return fmt.Errorf("column %d: type is required", i)
		}
	}
	return nil
}

func headerFor[T any](reg *schema.Registry[T]) schemaHeader {
	h := schemaHeader{Version: currentVersion, Entity: reg.Entity()}
	for _, f := range reg.Fields() {
		h.Columns = append(h.Columns, column{Name: f.Name, Type: f.Kind.String(), Constraints: f.Constraints.String()})
	}
	return h
}

// checkHeader verifies that every column of h exists in reg with the same
// kind. Fields missing from the header are allowed.
func checkHeader[T any](h *schemaHeader, reg *schema.Registry[T]) error {
	for _, col := range h.Columns {
		f, ok := reg.Lookup(col.Name)
		if !ok {
			return fmt.Errorf("column %s: no such field in %s", col.Name, reg.Entity())
		}
		k, err := schema.ParseKind(col.Type)
		if err != nil {
			return fmt.Errorf("column %s: %w", col.Name, err)
		}
		if k != f.Kind {
			return fmt.Errorf("column %s: type %s does not match field type %s", col.Name, k, f.Kind)
		}
	}
	return nil
}
