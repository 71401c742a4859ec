package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Roundtrip(t *testing.T) {
	fsys := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "out.txt")

	if fsys.Exists(path) {
		t.Fatal("Exists() = true before creation")
	}

	w, err := fsys.Create(path)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	a, err := fsys.Append(path)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if _, err := a.Write([]byte("world\n")); err != nil {
		t.Fatalf("append Write() failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("append Close() failed: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if got, want := string(data), "hello\nworld\n"; got != want {
		t.Errorf("ReadFile() = %q, want %q", got, want)
	}

	if !fsys.Exists(path) {
		t.Error("Exists() = false after creation")
	}
}

func TestOSFileSystem_ReadFileMissing(t *testing.T) {
	fsys := OSFileSystem{}
	if _, err := fsys.ReadFile(filepath.Join(t.TempDir(), "nope")); !os.IsNotExist(err) {
		t.Errorf("ReadFile() error = %v, want not-exist", err)
	}
}

func TestMemoryFileSystem_TouchDelete(t *testing.T) {
	m := NewMemoryFileSystem()

	if m.Exists("busy.flag") {
		t.Fatal("Exists() = true on empty filesystem")
	}

	m.Touch("busy.flag")
	if !m.Exists("busy.flag") {
		t.Error("Exists() = false after Touch")
	}

	m.Delete("busy.flag")
	if m.Exists("busy.flag") {
		t.Error("Exists() = true after Delete")
	}
}

func TestMemoryFileSystem_CreateAppendRead(t *testing.T) {
	m := NewMemoryFileSystem()

	w, _ := m.Create("log.txt")
	w.Write([]byte("a\n"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	a, _ := m.Append("log.txt")
	a.Write([]byte("b\n"))
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := m.ReadFile("log.txt")
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if got, want := string(data), "a\nb\n"; got != want {
		t.Errorf("ReadFile() = %q, want %q", got, want)
	}
}

func TestMemoryFileSystem_TouchIsIdempotent(t *testing.T) {
	m := NewMemoryFileSystem()

	w, _ := m.Create("f")
	w.Write([]byte("content"))
	w.Close()

	m.Touch("f")

	data, _ := m.ReadFile("f")
	if string(data) != "content" {
		t.Errorf("Touch() truncated existing file: %q", data)
	}
}
