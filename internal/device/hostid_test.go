package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestHostIDNotEmpty(t *testing.T) {
	if id := HostID(context.Background()); id == "" {
		t.Skip("host exposes neither a machine id nor a hostname")
	}
}

func TestReadSystemFileTrims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine-id")
	if err := os.WriteFile(path, []byte("  abc123\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	id, err := readSystemFile(path)
	if err != nil || id != "abc123" {
		t.Fatalf("readSystemFile = %q, %v", id, err)
	}
}
