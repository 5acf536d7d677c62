package model

import (
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestZeroModelPredictsLowestIndex(t *testing.T) {
	c := New(4, 3)
	x := mat.NewDense(2, 4, []float64{1, 2, 3, 4, 0.5, 0, 0, 1})

	logits, err := c.Logits(x)
	if err != nil {
		t.Fatal(err)
	}
	if got := Predict(logits); !reflect.DeepEqual(got, []int{0, 0}) {
		t.Errorf("Expected [0 0], got %v", got)
	}

	// Uniform logits give uniform probabilities and loss ln(k)
	y := mat.NewDense(2, 3, []float64{0, 1, 0, 1, 0, 0})
	if got, want := CrossEntropy(logits, y), math.Log(3); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected loss %v, got %v", want, got)
	}
	if acc := Accuracy(logits, y); acc != 0.5 {
		t.Errorf("Expected accuracy 0.5, got %v", acc)
	}
}

func TestStepLowersLoss(t *testing.T) {
	c := New(2, 2)
	// Separable: first feature means class 0, second means class 1
	x := mat.NewDense(4, 2, []float64{1, 0, 0.9, 0.1, 0, 1, 0.2, 0.8})
	y := mat.NewDense(4, 2, []float64{1, 0, 1, 0, 0, 1, 0, 1})

	prev := math.Inf(1)
	for i := 0; i < 20; i++ {
		loss, err := c.Step(x, y, 0.5)
		if err != nil {
			t.Fatal(err)
		}
		if loss >= prev {
			t.Fatalf("Step %d: expected loss below %v, got %v", i, prev, loss)
		}
		prev = loss
	}
	if c.Steps != 20 {
		t.Errorf("Expected 20 steps, got %d", c.Steps)
	}

	logits, _ := c.Logits(x)
	if acc := Accuracy(logits, y); acc != 1 {
		t.Errorf("Expected perfect accuracy after training, got %v", acc)
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	logits := mat.NewDense(2, 3, []float64{1000, 1000, 1000, -5, 0, 5})
	p := Softmax(logits)
	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			v := p.At(i, j)
			if math.IsNaN(v) {
				t.Fatalf("Row %d: NaN probability", i)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("Row %d: expected sum 1, got %v", i, sum)
		}
	}
}

func TestShapeMismatch(t *testing.T) {
	c := New(3, 2)
	if _, err := c.Logits(mat.NewDense(1, 4, nil)); err == nil {
		t.Error("Expected error for wrong feature count")
	}
	if _, err := c.Step(mat.NewDense(1, 3, nil), mat.NewDense(1, 5, nil), 0.1); err == nil {
		t.Error("Expected error for wrong class count")
	}
	if c.Steps != 0 {
		t.Errorf("Expected no update on error, got %d steps", c.Steps)
	}
}

func TestUpdateTrainAccuracy(t *testing.T) {
	c := New(1, 1)
	tests := []struct {
		acc  float64
		want float64
	}{
		{1.0, 0.5},
		{1.0, 0.75},
		{0.0, 0.375},
	}
	for _, tt := range tests {
		if got := c.UpdateTrainAccuracy(tt.acc); got != tt.want {
			t.Errorf("UpdateTrainAccuracy(%v) = %v, want %v", tt.acc, got, tt.want)
		}
	}
}
