package atomicio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "valid absolute path", path: "/tmp/test.txt", wantErr: false},
		{name: "relative path rejected", path: "test.txt", wantErr: true},
		{name: "traversal rejected", path: "/tmp/../etc/passwd", wantErr: true},
		{name: "clean absolute path", path: "/var/lib/lpm/state.db", wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestWriteFileIsAtomicAndDurable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	want := []byte(`{"installed":["bash==5.2.0"]}`)
	if err := WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after WriteFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("content = %q, want %q", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "state.json" {
			t.Fatalf("leftover temp file after WriteFile: %s", e.Name())
		}
	}
}

func TestWriteFileOverwritesExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first WriteFile: %v", err)
	}
	if err := WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second WriteFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("content = %q, want %q", got, "second")
	}
}

func TestReadFileRejectsRelativePath(t *testing.T) {
	if _, err := ReadFile("relative/path.txt"); err == nil {
		t.Fatalf("expected error for relative path")
	}
}
