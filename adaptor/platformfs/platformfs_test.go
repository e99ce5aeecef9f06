package platformfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathInfo_MissingIsNotError(t *testing.T) {
	op := New()
	info, err := op.PathInfo(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Exists {
		t.Fatal("expected Exists=false for missing path")
	}
}

func TestPathInfo_Symlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	link := filepath.Join(dir, "link.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	op := New()
	info, err := op.PathInfo(link)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.IsSymlink {
		t.Fatal("expected IsSymlink=true")
	}
}

func TestMkdirAllAndListDir_SortedOrder(t *testing.T) {
	dir := t.TempDir()
	op := New()
	if err := op.MkdirAll(filepath.Join(dir, "sub")); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := op.ListDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"a.txt", "b.txt", "c.txt", "sub"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestRename_Replace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	op := New()
	if err := op.Rename(src, dst, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Fatalf("dst = %q, want %q", data, "new")
	}
}

func TestRename_NoReplaceFailsWhenDestExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	_ = os.WriteFile(src, []byte("a"), 0o644)
	_ = os.WriteFile(dst, []byte("b"), 0o644)

	op := New()
	if err := op.Rename(src, dst, false); err == nil {
		t.Fatal("expected error when destination exists and replace=false")
	}
}

func TestRmdir_OnlyRemovesEmpty(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	op := New()
	if err := op.MkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := op.Rmdir(sub); err == nil {
		t.Fatal("expected error removing non-empty directory")
	}
	if err := os.Remove(filepath.Join(sub, "f.txt")); err != nil {
		t.Fatal(err)
	}
	if err := op.Rmdir(sub); err != nil {
		t.Fatalf("unexpected error removing empty directory: %v", err)
	}
}

func TestDiskFreeBytes_Positive(t *testing.T) {
	op := New()
	free, err := op.DiskFreeBytes(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if free == 0 {
		t.Fatal("expected non-zero free disk space")
	}
}
