package annotation

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/andresmejia3/simpsons/internal/types"
)

// ErrUnknownLabel is returned when a label is not part of the vocabulary.
var ErrUnknownLabel = errors.New("label not in vocabulary")

// Vocabulary is the sorted, deduplicated set of labels. A label's class index
// is its position in the slice.
type Vocabulary []string

// NewVocabulary derives the vocabulary from a complete set of annotations.
// Labels are trimmed before deduplication; ordering comes from the sort, so the
// same annotations always produce the same vocabulary.
func NewVocabulary(records []types.Annotation) Vocabulary {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		seen[strings.TrimSpace(r.Label)] = struct{}{}
	}

	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return Vocabulary(labels)
}

func (v Vocabulary) Len() int {
	return len(v)
}

// Index looks up the class index of a label. The label is trimmed the same way
// it was when the vocabulary was built.
func (v Vocabulary) Index(label string) (int, error) {
	label = strings.TrimSpace(label)
	i := sort.SearchStrings(v, label)
	if i < len(v) && v[i] == label {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
}

// OneHot returns a vector of length Len() with a single 1.0 at the label's index.
func (v Vocabulary) OneHot(label string) ([]float32, error) {
	idx, err := v.Index(label)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(v))
	out[idx] = 1.0
	return out, nil
}

// Name returns the label for a class index, or an empty string when out of range.
func (v Vocabulary) Name(class int) string {
	if class < 0 || class >= len(v) {
		return ""
	}
	return v[class]
}

// WriteFile stores one label per line; line number is the class index.
func (v Vocabulary) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range v {
		fmt.Fprintln(w, l)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadVocabularyFile loads a vocabulary written by WriteFile.
func ReadVocabularyFile(path string) (Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var v Vocabulary
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		v = append(v, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

// SidecarPath is where preprocessing stores the vocabulary next to a dataset file.
func SidecarPath(datasetPath string) string {
	return datasetPath + ".labels.txt"
}
