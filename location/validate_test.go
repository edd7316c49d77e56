package location

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckFullLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	t.Run("fills in size and mtime", func(t *testing.T) {
		loc, err := CheckFullLocal(FullLocal{FileType: FileTypeDocument, Path: path}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if loc.Size != 10 {
			t.Errorf("Size = %d, want 10", loc.Size)
		}
		if loc.MTime == 0 {
			t.Error("MTime must be stamped")
		}
	})

	t.Run("accepts matching expected size", func(t *testing.T) {
		if _, err := CheckFullLocal(FullLocal{Path: path}, 10); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects size mismatch", func(t *testing.T) {
		_, err := CheckFullLocal(FullLocal{Path: path}, 11)
		if !errors.Is(err, ErrWrongLocalLocation) {
			t.Errorf("error = %v, want ErrWrongLocalLocation", err)
		}
	})

	t.Run("rejects missing file", func(t *testing.T) {
		_, err := CheckFullLocal(FullLocal{Path: filepath.Join(dir, "absent")}, 0)
		if !errors.Is(err, ErrFileNotFound) {
			t.Errorf("error = %v, want ErrFileNotFound", err)
		}
	})

	t.Run("rejects directory", func(t *testing.T) {
		_, err := CheckFullLocal(FullLocal{Path: dir}, 0)
		if !errors.Is(err, ErrWrongLocalLocation) {
			t.Errorf("error = %v, want ErrWrongLocalLocation", err)
		}
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := CheckFullLocal(FullLocal{Path: "../escape/passwd"}, 0)
		if !errors.Is(err, ErrDirectoryTraversal) {
			t.Errorf("error = %v, want ErrDirectoryTraversal", err)
		}
	})
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"plain relative", "a/b/c", false},
		{"absolute", "/a/b/c", false},
		{"dot segments collapse", "a/./b", false},
		{"traversal rejected", "../secret", true},
		{"embedded traversal rejected", "a/../../secret", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CleanPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("CleanPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	os.WriteFile(a, []byte("same content"), 0o600)
	os.WriteFile(b, []byte("same content"), 0o600)
	os.WriteFile(c, []byte("other content"), 0o600)

	ha, err := HashFile(a)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	hb, _ := HashFile(b)
	hc, _ := HashFile(c)

	if ha.IsZero() {
		t.Error("hash of real content must not be zero")
	}
	if ha != hb {
		t.Error("identical content must hash identically")
	}
	if ha == hc {
		t.Error("different content must hash differently")
	}
	if _, err := HashFile(filepath.Join(dir, "absent")); err == nil {
		t.Error("hashing a missing file must fail")
	}
}
