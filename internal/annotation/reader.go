package annotation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/simpsons/internal/types"
)

// fieldsPerRow is path,x1,y1,x2,y2,label
const fieldsPerRow = 6

// Reader streams annotations out of a comma-delimited file with no header row.
// Rows whose image file does not exist are skipped, not returned.
type Reader struct {
	file    *os.File
	csv     *csv.Reader
	baseDir string
	line    int
	skipped int
}

// NewReader opens the annotation file. Relative image paths are resolved
// against the directory the file lives in.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := csv.NewReader(f)
	r.Comma = ','
	r.FieldsPerRecord = fieldsPerRow
	r.ReuseRecord = true

	return &Reader{file: f, csv: r, baseDir: filepath.Dir(abs)}, nil
}

// Next returns the next annotation whose image exists, or io.EOF.
func (r *Reader) Next() (types.Annotation, error) {
	for {
		row, err := r.csv.Read()
		if err == io.EOF {
			return types.Annotation{}, io.EOF
		}
		r.line++
		if err != nil {
			return types.Annotation{}, fmt.Errorf("annotations: %w", err)
		}

		a, err := r.parse(row)
		if err != nil {
			return types.Annotation{}, err
		}

		if _, err := os.Stat(a.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				r.skipped++
				continue
			}
			return types.Annotation{}, fmt.Errorf("annotations line %d: %w", r.line, err)
		}
		return a, nil
	}
}

func (r *Reader) parse(row []string) (types.Annotation, error) {
	imagePath := row[0]
	if !filepath.IsAbs(imagePath) {
		imagePath = filepath.Join(r.baseDir, imagePath)
	}

	var coords [4]int
	names := [4]string{"x1", "y1", "x2", "y2"}
	for i := range coords {
		v, err := strconv.Atoi(strings.TrimSpace(row[i+1]))
		if err != nil {
			return types.Annotation{}, fmt.Errorf("annotations line %d: invalid %s %q: %w", r.line, names[i], row[i+1], err)
		}
		coords[i] = v
	}

	return types.Annotation{
		Path:  filepath.Clean(imagePath),
		X1:    coords[0],
		Y1:    coords[1],
		X2:    coords[2],
		Y2:    coords[3],
		Label: row[5],
	}, nil
}

// Skipped reports how many rows were dropped because their image was missing.
func (r *Reader) Skipped() int {
	return r.skipped
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll materializes every annotation in the file. The vocabulary needs a
// full pass, so preprocessing always goes through here.
func ReadAll(path string) ([]types.Annotation, int, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	var out []types.Annotation
	for {
		a, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, r.Skipped(), err
		}
		out = append(out, a)
	}
	return out, r.Skipped(), nil
}
