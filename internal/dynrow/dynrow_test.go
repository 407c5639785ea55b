package dynrow

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/maruel/recdb/internal/csvio"
	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/manifest"
	"github.com/maruel/recdb/internal/table"
)

const personSchema = `version: 1
entity: Person
fields:
  - {name: id, type: int, constraints: [primary_key]}
  - {name: name, type: text, constraints: [not_null]}
  - {name: email, type: text, constraints: [unique]}
  - {name: age, type: int}
`

func TestRegistry(t *testing.T) {
	m, err := manifest.ParseSchemaBytes([]byte(personSchema))
	if err != nil {
		t.Fatalf("ParseSchemaBytes failed: %v", err)
	}
	reg, err := Registry(m)
	if err != nil {
		t.Fatalf("Registry failed: %v", err)
	}
	if reg.Entity() != "Person" || reg.PrimaryKeyCount() != 1 {
		t.Fatalf("registry %s has %d primary keys", reg.Entity(), reg.PrimaryKeyCount())
	}

	t.Run("accessors", func(t *testing.T) {
		age, _ := reg.Lookup("AGE")
		var r Row
		if err := age.Assign(&r, "42"); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		if len(r.Values) != 4 || r.At(3) != 42 || r.At(0) != nil {
			t.Errorf("row = %v", r)
		}
		shared := r
		name, _ := reg.Lookup("name")
		if err := name.Assign(&r, "Alice"); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		if shared.At(1) != nil {
			t.Error("Assign wrote into a copy")
		}
		if got := r.String(); got != "[ Alice  42]" {
			t.Errorf("String() = %q", got)
		}
	})

	t.Run("csv scenario", func(t *testing.T) {
		src := "id,name,email\n1,Alice,a@x.com\n2,Bob,a@x.com\n"
		entries, names, err := csvio.Read(strings.NewReader(src), reg)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		tbl := table.New(reg, table.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		if n := tbl.Load(entries, table.LoadOptions{}); n != 1 {
			t.Fatalf("Load() = %d, want 1", n)
		}
		if tbl.Log().Count(errors.ErrDuplicateValue) != 1 {
			t.Errorf("errors = %v", tbl.Log().Messages())
		}
		got := tbl.Query().Where(table.Field[Row]("name", table.Equals, "Alice")).ToList()
		if len(got) != 1 || got[0].At(0) != 1 {
			t.Errorf("query = %v", got)
		}
		var buf bytes.Buffer
		if err := csvio.Write(&buf, reg, tbl.Rows(), names); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if want := "id,name,email,age\n1,Alice,a@x.com,\n"; buf.String() != want {
			t.Errorf("Write() = %q, want %q", buf.String(), want)
		}
	})

	t.Run("invalid manifest", func(t *testing.T) {
		if _, err := Registry(&manifest.Schema{Version: 1}); err == nil {
			t.Error("Registry succeeded")
		}
	})
}
