package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareAndPlace(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "predictions")

	// Leftovers from a previous run
	if err := os.MkdirAll(filepath.Join(base, "9"), 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(base, "9", "stale.jpg"), []byte("old"), 0644)

	s, err := Prepare(base)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "9")); !os.IsNotExist(err) {
		t.Error("Expected previous contents to be removed")
	}

	src := filepath.Join(root, "bart_simpson", "pic_0042.jpg")
	os.MkdirAll(filepath.Dir(src), 0755)
	if err := os.WriteFile(src, []byte("eat my shorts"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		class int
		want  string
	}{
		{3, filepath.Join(base, "3", "pic_0042.jpg")},
		{3, filepath.Join(base, "3", "pic_0042.jpg")}, // existing class dir
		{0, filepath.Join(base, "0", "pic_0042.jpg")},
	}
	for _, tt := range tests {
		got, err := s.Place(tt.class, src)
		if err != nil {
			t.Fatalf("Place(%d) failed: %v", tt.class, err)
		}
		if got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
		data, _ := os.ReadFile(got)
		if string(data) != "eat my shorts" {
			t.Errorf("Copied file content mismatch: %q", data)
		}
	}
}

func TestPlaceMissingSource(t *testing.T) {
	s, err := Prepare(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Place(1, "/no/such/image.jpg"); err == nil {
		t.Error("Expected error for missing source image")
	}
}
