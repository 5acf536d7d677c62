package sink

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/andresmejia3/simpsons/internal/utils"
)

// Sink lays out evaluated images as <base>/<predicted_class>/<filename>.
type Sink struct {
	base string
}

// Prepare wipes and recreates base, so every run starts from an empty tree.
func Prepare(base string) (*Sink, error) {
	if err := utils.RecreateDir(base); err != nil {
		return nil, fmt.Errorf("prepare %s: %w", base, err)
	}
	return &Sink{base: base}, nil
}

func (s *Sink) Base() string {
	return s.base
}

// Place copies src into the directory of its predicted class and returns the
// new path. Images with the same file name in one class overwrite each other.
func (s *Sink) Place(class int, src string) (string, error) {
	dir := filepath.Join(s.base, strconv.Itoa(class))
	if err := utils.EnsureDir(dir); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := utils.CopyFile(src, dst); err != nil {
		return "", fmt.Errorf("place %s: %w", src, err)
	}
	return dst, nil
}
