package summary

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Stats
	}{
		{"Empty", nil, Stats{}},
		{"All zero", []float64{0, 0, 0}, Stats{}},
		{"Spread", []float64{1, 2, 3, 4}, Stats{Mean: 2.5, StdDev: math.Sqrt(1.25), Max: 4, Min: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.values)
			if math.Abs(got.Mean-tt.want.Mean) > 1e-12 || math.Abs(got.StdDev-tt.want.StdDev) > 1e-12 ||
				got.Max != tt.want.Max || got.Min != tt.want.Min {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestFileWriterScopes(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := Emit(ctx, w, ScopeTrain, 0, "weights", Stats{Mean: 1, StdDev: 2, Max: 3, Min: 4}); err != nil {
		t.Fatal(err)
	}
	if err := w.Scalar(ctx, ScopeTest, 5, "accuracy", 1); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	train, err := ReadEvents(w.Path(ScopeTrain))
	if err != nil {
		t.Fatal(err)
	}
	if len(train) != 4 {
		t.Fatalf("Expected 4 train events, got %d", len(train))
	}
	if train[1].Tag != "weights/stddev" || train[1].Value != 2 {
		t.Errorf("Expected weights/stddev=2, got %s=%v", train[1].Tag, train[1].Value)
	}

	test, err := ReadEvents(w.Path(ScopeTest))
	if err != nil {
		t.Fatal(err)
	}
	if len(test) != 1 || test[0].Step != 5 {
		t.Errorf("Expected one test event at step 5, got %+v", test)
	}
}

type failingSink struct{ err error }

func (f failingSink) Scalar(context.Context, string, int, string, float64) error { return f.err }

type countingSink struct{ n int }

func (c *countingSink) Scalar(context.Context, string, int, string, float64) error {
	c.n++
	return nil
}

func TestMulti(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, nil, b}
	if err := m.Scalar(context.Background(), ScopeTrain, 0, "x", 1); err != nil {
		t.Fatal(err)
	}
	if a.n != 1 || b.n != 1 {
		t.Errorf("Expected both sinks called once, got %d and %d", a.n, b.n)
	}

	boom := errors.New("db down")
	if err := (Multi{failingSink{boom}, a}).Scalar(context.Background(), ScopeTrain, 0, "x", 1); !errors.Is(err, boom) {
		t.Errorf("Expected %v, got %v", boom, err)
	}
}
