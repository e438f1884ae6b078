package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "sub")
	_ = os.Mkdir(sub, 0755)
	if err := os.WriteFile(filepath.Join(sub, "b.bin"), make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := DiskUsageBytes(dir, filepath.Join(dir, "missing"), "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 150 {
		t.Errorf("DiskUsageBytes = %d, want 150", n)
	}
}
