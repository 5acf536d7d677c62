package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Scopes mirror the two event writers of a training run.
const (
	ScopeTrain = "train"
	ScopeTest  = "test"
)

// Sink receives scalar metrics.
type Sink interface {
	Scalar(ctx context.Context, scope string, step int, tag string, value float64) error
}

// Event is one line of an events file.
type Event struct {
	Time  time.Time `json:"time"`
	Step  int       `json:"step"`
	Tag   string    `json:"tag"`
	Value float64   `json:"value"`
}

// FileWriter appends JSON events to <dir>/<scope>/events.jsonl.
type FileWriter struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
	enc   map[string]*json.Encoder
}

func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileWriter{dir: dir, files: map[string]*os.File{}, enc: map[string]*json.Encoder{}}, nil
}

// Path returns the events file of a scope.
func (w *FileWriter) Path(scope string) string {
	return filepath.Join(w.dir, scope, "events.jsonl")
}

func (w *FileWriter) Scalar(_ context.Context, scope string, step int, tag string, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	enc, ok := w.enc[scope]
	if !ok {
		path := w.Path(scope)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		w.files[scope] = f
		enc = json.NewEncoder(f)
		w.enc[scope] = enc
	}
	return enc.Encode(Event{Time: time.Now().UTC(), Step: step, Tag: tag, Value: value})
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var first error
	for scope, f := range w.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s events: %w", scope, err)
		}
	}
	w.files = map[string]*os.File{}
	w.enc = map[string]*json.Encoder{}
	return first
}

// Multi sends every scalar to all sinks and returns the first error.
type Multi []Sink

func (m Multi) Scalar(ctx context.Context, scope string, step int, tag string, value float64) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Scalar(ctx, scope, step, tag, value); err != nil {
			return err
		}
	}
	return nil
}

// Stats describes a parameter tensor.
type Stats struct {
	Mean   float64
	StdDev float64
	Max    float64
	Min    float64
}

// Describe computes mean, population standard deviation, max and min.
// An empty slice gives zero stats.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Stats{Mean: mean, StdDev: std, Max: floats.Max(values), Min: floats.Min(values)}
}

// Emit writes the four stats of a named tensor as <name>/mean, <name>/stddev,
// <name>/max and <name>/min.
func Emit(ctx context.Context, sink Sink, scope string, step int, name string, s Stats) error {
	for _, kv := range []struct {
		tag   string
		value float64
	}{
		{"mean", s.Mean},
		{"stddev", s.StdDev},
		{"max", s.Max},
		{"min", s.Min},
	} {
		if err := sink.Scalar(ctx, scope, step, name+"/"+kv.tag, kv.value); err != nil {
			return err
		}
	}
	return nil
}

// ReadEvents loads every event of an events file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, e)
	}
	return out, nil
}
