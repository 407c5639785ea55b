package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/maruel/recdb/internal/errors"
)

type item struct {
	ID    int
	Name  string
	Price float32
}

type opaque struct {
	id int
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.bin")
	rows := []item{{1, "pen", 1.5}, {2, "ink", 3}}
	if err := Save(path, rows); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load[item](path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !slices.Equal(got, rows) {
		t.Errorf("Load() = %+v, want %+v", got, rows)
	}

	t.Run("not serializable", func(t *testing.T) {
		bad := filepath.Join(dir, "opaque.bin")
		err := Save(bad, []opaque{{id: 1}})
		if !errors.HasCode(err, errors.ErrNotSerializable) {
			t.Fatalf("Save() = %v, want NOT_SERIALIZABLE", err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Name() != "items.bin" {
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			t.Errorf("partial output left behind: %v", names)
		}
	})
	t.Run("corrupt", func(t *testing.T) {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		data[len(data)-1] ^= 0xff
		if _, err := Decode[item](bytes.NewReader(data)); !errors.HasCode(err, errors.ErrFormat) {
			t.Errorf("Decode(corrupt) = %v, want FORMAT_ERROR", err)
		}
		if _, err := Decode[item](bytes.NewReader([]byte("id,name\n"))); !errors.HasCode(err, errors.ErrFormat) {
			t.Errorf("Decode(csv) = %v, want FORMAT_ERROR", err)
		}
	})
	t.Run("missing", func(t *testing.T) {
		if _, err := Load[item](filepath.Join(dir, "nope.bin")); !errors.HasCode(err, errors.ErrIO) {
			t.Errorf("Load(missing) = %v, want IO_FAILURE", err)
		}
	})
}
