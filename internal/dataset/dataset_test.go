package dataset

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/history"
	"github.com/maruel/recdb/internal/schema"
)

type person struct {
	ID    int
	Name  string
	Email string
}

var personRegistry = schema.MustNew("Person",
	schema.IntField("id", func(p person) int { return p.ID }, func(p *person, v int) { p.ID = v }).With(schema.PrimaryKey),
	schema.TextField("name", func(p person) string { return p.Name }, func(p *person, v string) { p.Name = v }).With(schema.NotNull),
	schema.TextField("email", func(p person) string { return p.Email }, func(p *person, v string) { p.Email = v }).With(schema.Unique),
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"a.csv", CSV},
		{"a.TSV", CSV},
		{"dir/a.jsonl", JSONL},
		{"a.gob", Binary},
		{"a.bin", Binary},
		{"a.db", SQLite},
		{"a.sqlite", SQLite},
	}
	for _, tt := range tests {
		got, err := FormatFor(tt.path)
		if err != nil || got != tt.want {
			t.Errorf("FormatFor(%q) = %q, %v", tt.path, got, err)
		}
	}
	if _, err := FormatFor("a.xml"); err == nil {
		t.Error("FormatFor(a.xml) succeeded")
	}
	if f, err := ParseFormat("JSONL"); err != nil || f != JSONL {
		t.Errorf("ParseFormat = %q, %v", f, err)
	}
}

func TestDataset(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	src := filepath.Join(dir, "people.csv")
	// Header titles map to field names after normalization.
	writeTestFile(t, src, "ID,Name,E Mail\n1,Alice,a@x.com\n2,Bob,a@x.com\n3,\"Smith, J\",j@x.com\n")
	d, err := New(personRegistry, src, Options{Logger: quiet()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := d.Table().Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if got := d.Log().Count(errors.ErrDuplicateValue); got != 1 {
		t.Fatalf("DUPLICATE_VALUE count = %d", got)
	}

	t.Run("save refused", func(t *testing.T) {
		if err := d.Save(ctx); !errors.HasCode(err, errors.ErrUnsavedErrors) {
			t.Errorf("Save() = %v, want UNSAVED_ERRORS", err)
		}
		if err := d.ExportTo(ctx, filepath.Join(dir, "x.jsonl")); !errors.HasCode(err, errors.ErrUnsavedErrors) {
			t.Errorf("ExportTo() = %v, want UNSAVED_ERRORS", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "x.jsonl")); !os.IsNotExist(err) {
			t.Error("refused export created a file")
		}
	})

	d.Log().Reset()
	want := d.Table().Rows()

	t.Run("round trip", func(t *testing.T) {
		for _, name := range []string{"out.csv", "out.tsv", "out.jsonl", "out.bin", "out.db"} {
			t.Run(name, func(t *testing.T) {
				path := filepath.Join(dir, name)
				if err := d.ExportTo(ctx, path); err != nil {
					t.Fatalf("ExportTo failed: %v", err)
				}
				d2, err := New(personRegistry, path, Options{Logger: quiet()})
				if err != nil {
					t.Fatalf("New failed: %v", err)
				}
				if err := d2.Load(ctx); err != nil {
					t.Fatalf("Load failed: %v", err)
				}
				if got := d2.Table().Rows(); !slices.Equal(got, want) {
					t.Errorf("round trip = %+v, want %+v", got, want)
				}
				if d2.Log().HasErrors() {
					t.Errorf("errors = %v", d2.Log().Messages())
				}
			})
		}
	})

	t.Run("source titles", func(t *testing.T) {
		if err := d.Save(ctx); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		data, err := os.ReadFile(src)
		if err != nil {
			t.Fatal(err)
		}
		if want := "ID,Name,E Mail\n1,Alice,a@x.com\n3,\"Smith, J\",j@x.com\n"; string(data) != want {
			t.Errorf("saved =\n%s\nwant\n%s", data, want)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		d, err := New(personRegistry, filepath.Join(dir, "nope.csv"), Options{Logger: quiet()})
		if err != nil {
			t.Fatal(err)
		}
		if err := d.Load(ctx); !errors.HasCode(err, errors.ErrIO) {
			t.Errorf("Load() = %v, want IO_FAILURE", err)
		}
		if !d.Log().HasErrors() {
			t.Error("failure not recorded")
		}
	})
}

func TestSkipValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	writeTestFile(t, path, "id;name;email\n1;Alice;a@x.com\n1;;a@x.com\n")
	d, err := New(personRegistry, path, Options{Delimiter: ';', SkipValidation: true, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Load(t.Context()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d.Table().Len() != 2 || d.Log().HasErrors() {
		t.Errorf("Len() = %d, errors = %v", d.Table().Len(), d.Log().Messages())
	}
}

type secret struct {
	id int
}

func TestNotSerializable(t *testing.T) {
	reg := schema.MustNew("Secret",
		schema.IntField("id", func(s secret) int { return s.id }, func(s *secret, v int) { s.id = v }).With(schema.PrimaryKey),
	)
	dir := t.TempDir()
	d, err := New(reg, filepath.Join(dir, "s.csv"), Options{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	d.Table().Insert(secret{id: 1})
	if err := d.ExportTo(t.Context(), filepath.Join(dir, "s.bin")); !errors.HasCode(err, errors.ErrNotSerializable) {
		t.Fatalf("ExportTo() = %v, want NOT_SERIALIZABLE", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("partial output left behind: %d files", len(entries))
	}
	if !d.Log().HasErrors() {
		t.Error("failure not recorded")
	}
}

func TestHistory(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	repo, err := history.Open(dir, "recdb", "recdb@localhost")
	if err != nil {
		t.Fatalf("history.Open failed: %v", err)
	}
	path := filepath.Join(dir, "people.jsonl")
	d, err := New(personRegistry, path, Options{History: repo, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	d.Table().Insert(person{ID: 1, Name: "Alice"})
	if err := d.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	d.Table().Insert(person{ID: 2, Name: "Bob"})
	if err := d.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	commits, err := repo.Log(ctx, path, 0)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(commits) != 2 || commits[0].Message != "save Person: 2 records" {
		t.Errorf("commits = %+v", commits)
	}
}

func TestAdd(t *testing.T) {
	ctx := t.Context()
	for _, name := range []string{"people.csv", "people.jsonl", "people.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			d, err := New(personRegistry, path, Options{Logger: quiet()})
			if err != nil {
				t.Fatal(err)
			}
			for _, p := range []person{{ID: 1, Name: "Alice", Email: "a@x.com"}, {ID: 2, Name: "Bob"}} {
				if err := d.Add(ctx, p); err != nil {
					t.Fatalf("Add(%+v) failed: %v", p, err)
				}
			}
			before, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := d.Add(ctx, person{ID: 3, Name: "Eve", Email: "a@x.com"}); !errors.HasCode(err, errors.ErrDuplicateValue) {
				t.Fatalf("Add(duplicate) = %v, want DUPLICATE_VALUE", err)
			}
			after, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(before) != string(after) {
				t.Error("rejected record changed the file")
			}
			if err := d.Add(ctx, person{ID: 4, Name: "Zed"}); !errors.HasCode(err, errors.ErrUnsavedErrors) {
				t.Errorf("Add with recorded errors = %v, want UNSAVED_ERRORS", err)
			}

			d2, err := New(personRegistry, path, Options{Logger: quiet()})
			if err != nil {
				t.Fatal(err)
			}
			if err := d2.Load(ctx); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			want := []person{{ID: 1, Name: "Alice", Email: "a@x.com"}, {ID: 2, Name: "Bob"}}
			if got := d2.Table().Rows(); !slices.Equal(got, want) {
				t.Errorf("reloaded = %+v, want %+v", got, want)
			}
		})
	}
}

func TestRestore(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	path := filepath.Join(dir, "people.csv")
	d, err := New(personRegistry, path, Options{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Revisions(ctx, 0); err == nil {
		t.Error("Revisions without history succeeded")
	}
	if err := d.Restore(ctx, "HEAD"); err == nil {
		t.Error("Restore without history succeeded")
	}

	repo, err := history.Open(dir, "recdb", "recdb@localhost")
	if err != nil {
		t.Fatal(err)
	}
	d, err = New(personRegistry, path, Options{History: repo, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Add(ctx, person{ID: 1, Name: "Alice"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := d.Add(ctx, person{ID: 2, Name: "Bob"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	revs, err := d.Revisions(ctx, 0)
	if err != nil {
		t.Fatalf("Revisions failed: %v", err)
	}
	if len(revs) != 2 || revs[1].Message != "save Person: 1 records" {
		t.Fatalf("revisions = %+v", revs)
	}
	if err := d.Restore(ctx, revs[1].Hash); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := d.Table().Rows(); !slices.Equal(got, []person{{ID: 1, Name: "Alice"}}) {
		t.Errorf("restored = %+v", got)
	}
	revs, err = d.Revisions(ctx, 1)
	if err != nil || len(revs) != 1 || !strings.HasPrefix(revs[0].Message, "restore Person to ") {
		t.Errorf("latest revision = %+v, %v", revs, err)
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	writeTestFile(t, path, "id,name\n1,Alice\n")
	d, err := New(personRegistry, path, Options{ReloadInterval: 10 * time.Millisecond, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Load(t.Context()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	reloaded := make(chan error, 16)
	done := make(chan error, 1)
	go func() {
		done <- d.Watch(ctx, func(err error) { reloaded <- err })
	}()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for d.Table().Len() != 2 {
		select {
		case <-reloaded:
			// A reload may observe a partially written file; only the
			// final content matters.
		case <-tick.C:
			// The watcher may not be registered yet: keep touching the file.
			writeTestFile(t, path, "id,name\n1,Alice\n2,Bob\n")
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() = %v", err)
	}
}
