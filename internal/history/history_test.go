package history

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRepo(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	r, err := Open(dir, "recdb", "recdb@localhost")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	path := filepath.Join(dir, "people.csv")

	if err := os.WriteFile(path, []byte("id,name\n1,Alice\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	first, err := r.Record(ctx, "save people", path)
	if err != nil || first == "" {
		t.Fatalf("Record failed: %q, %v", first, err)
	}
	// Nothing changed.
	if h, err := r.Record(ctx, "save people", "people.csv"); err != nil || h != "" {
		t.Errorf("Record on a clean tree = %q, %v", h, err)
	}

	if err := os.WriteFile(path, []byte("id,name\n1,Alice\n2,Bob\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Record(ctx, "add Bob", path); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	commits, err := r.Log(ctx, path, 0)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(commits) != 2 || commits[0].Message != "add Bob" || commits[1].Hash != first {
		t.Errorf("Log() = %+v", commits)
	}
	old, err := r.FileAt(ctx, first, "people.csv")
	if err != nil {
		t.Fatalf("FileAt failed: %v", err)
	}
	if string(old) != "id,name\n1,Alice\n" {
		t.Errorf("FileAt() = %q", old)
	}
	head, err := r.FileAt(ctx, "HEAD", path)
	if err != nil || len(head) <= len(old) {
		t.Errorf("FileAt(HEAD) = %q, %v", head, err)
	}

	// Re-open keeps history.
	r2, err := Open(dir, "other", "other@localhost")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if commits, _ := r2.Log(ctx, "", 1); len(commits) != 1 {
		t.Errorf("Log after reopen = %+v", commits)
	}

	if _, err := r.Record(ctx, "outside", filepath.Join(t.TempDir(), "x.csv")); err == nil {
		t.Error("Record outside the repository succeeded")
	}
}
