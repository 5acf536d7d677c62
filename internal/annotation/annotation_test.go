package annotation

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andresmejia3/simpsons/internal/types"
)

// writeFixture creates the annotation file plus any image files it names.
func writeFixture(t *testing.T, csv string, images ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, img := range images {
		p := filepath.Join(dir, img)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("fake image"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, "annotation.txt")
	if err := os.WriteFile(path, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadAllSkipsMissingFiles(t *testing.T) {
	path := writeFixture(t,
		"imgs/a.jpg,1,2,30,40,A\n"+
			"imgs/b.jpg,5,6,70,80,B\n"+
			"imgs/gone.jpg,0,0,10,10,A\n",
		"imgs/a.jpg", "imgs/b.jpg")

	records, skipped, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if skipped != 1 {
		t.Errorf("Expected 1 skipped row, got %d", skipped)
	}

	want := types.Annotation{
		Path:  filepath.Join(filepath.Dir(path), "imgs", "a.jpg"),
		X1:    1,
		Y1:    2,
		X2:    30,
		Y2:    40,
		Label: "A",
	}
	if records[0] != want {
		t.Errorf("Expected %+v, got %+v", want, records[0])
	}
	if !filepath.IsAbs(records[1].Path) {
		t.Errorf("Expected absolute path, got %s", records[1].Path)
	}
}

func TestReadAllMalformedRows(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"Non-integer coordinate", "a.jpg,1,two,3,4,A\n"},
		{"Too few columns", "a.jpg,1,2,3,A\n"},
		{"Too many columns", "a.jpg,1,2,3,4,A,extra\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFixture(t, tt.csv, "a.jpg")
			if _, _, err := ReadAll(path); err == nil {
				t.Error("Expected error for malformed row, got nil")
			}
		})
	}
}

func TestReaderIsLazy(t *testing.T) {
	path := writeFixture(t, "a.jpg,0,0,1,1,A\nb.jpg,0,0,1,1,B\n", "a.jpg", "b.jpg")

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first.Label != "A" {
		t.Errorf("Expected first label A, got %s", first.Label)
	}
}

func TestVocabularySortedAndDeduplicated(t *testing.T) {
	records := []types.Annotation{
		{Label: "marge_simpson"},
		{Label: " bart_simpson"},
		{Label: "homer_simpson "},
		{Label: "bart_simpson"},
		{Label: "marge_simpson"},
	}

	v := NewVocabulary(records)
	want := Vocabulary{"bart_simpson", "homer_simpson", "marge_simpson"}
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("Expected %v, got %v", want, v)
	}

	// Reversed input must give the same vocabulary
	reversed := make([]types.Annotation, len(records))
	for i := range records {
		reversed[len(records)-1-i] = records[i]
	}
	if again := NewVocabulary(reversed); !reflect.DeepEqual(again, v) {
		t.Errorf("Vocabulary is not deterministic. Got %v, then %v", v, again)
	}
}

func TestOneHot(t *testing.T) {
	v := Vocabulary{"A", "B", "C"}

	for want, label := range v {
		vec, err := v.OneHot(label)
		if err != nil {
			t.Fatalf("OneHot(%s) failed: %v", label, err)
		}
		if len(vec) != v.Len() {
			t.Fatalf("Expected length %d, got %d", v.Len(), len(vec))
		}
		ones := 0
		for i, x := range vec {
			switch x {
			case 1.0:
				ones++
				if i != want {
					t.Errorf("Expected 1.0 at %d, found at %d", want, i)
				}
			case 0.0:
			default:
				t.Errorf("Unexpected value %f at %d", x, i)
			}
		}
		if ones != 1 {
			t.Errorf("Expected exactly one 1.0, got %d", ones)
		}
	}

	if _, err := v.OneHot("D"); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("Expected ErrUnknownLabel, got %v", err)
	}
}

func TestVocabularyFileRoundTrip(t *testing.T) {
	v := Vocabulary{"apu_nahasapeemapetilon", "bart_simpson", "lisa_simpson"}
	path := filepath.Join(t.TempDir(), "labels.txt")

	if err := v.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	got, err := ReadVocabularyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("Expected %v, got %v", v, got)
	}
	if got.Name(1) != "bart_simpson" || got.Name(7) != "" {
		t.Errorf("Name lookup mismatch: %q %q", got.Name(1), got.Name(7))
	}
}
