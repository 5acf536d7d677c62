package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Classifier is a single affine layer, logits = x·W + b, trained with softmax
// cross entropy. It owns all mutable training state.
type Classifier struct {
	W *mat.Dense    // [features, classes]
	B *mat.VecDense // [classes]

	// TrainAccuracy is the smoothed training accuracy.
	TrainAccuracy float64
	// Steps counts applied gradient updates.
	Steps int
}

// New returns a zero-initialized classifier.
func New(features, classes int) *Classifier {
	return &Classifier{
		W: mat.NewDense(features, classes, nil),
		B: mat.NewVecDense(classes, nil),
	}
}

func (c *Classifier) Features() int {
	r, _ := c.W.Dims()
	return r
}

func (c *Classifier) Classes() int {
	_, k := c.W.Dims()
	return k
}

// Logits computes x·W + b for a batch x of shape [n, features].
func (c *Classifier) Logits(x mat.Matrix) (*mat.Dense, error) {
	n, f := x.Dims()
	if f != c.Features() {
		return nil, fmt.Errorf("input has %d features, model expects %d", f, c.Features())
	}
	var out mat.Dense
	out.Mul(x, c.W)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += c.B.AtVec(j)
		}
	}
	return &out, nil
}

// Softmax normalizes each row of logits into probabilities.
func Softmax(logits mat.Matrix) *mat.Dense {
	n, k := logits.Dims()
	out := mat.NewDense(n, k, nil)
	out.Copy(logits)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		m := floats.Max(row)
		floats.AddConst(-m, row)
		for j := range row {
			row[j] = math.Exp(row[j])
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return out
}

// CrossEntropy is the batch mean of -sum(y * log softmax(logits)), computed
// with log-sum-exp so large logits do not overflow.
func CrossEntropy(logits, targets mat.Matrix) float64 {
	n, k := logits.Dims()
	if n == 0 {
		return 0
	}
	row := make([]float64, k)
	var total float64
	for i := 0; i < n; i++ {
		mat.Row(row, i, logits)
		lse := floats.LogSumExp(row)
		for j := 0; j < k; j++ {
			if y := targets.At(i, j); y != 0 {
				total -= y * (row[j] - lse)
			}
		}
	}
	return total / float64(n)
}

// Step applies one gradient descent update for batch (x, y) and returns the
// loss before the update.
func (c *Classifier) Step(x, y mat.Matrix, learnRate float64) (float64, error) {
	logits, err := c.Logits(x)
	if err != nil {
		return 0, err
	}
	n, _ := x.Dims()
	if yn, yk := y.Dims(); yn != n || yk != c.Classes() {
		return 0, fmt.Errorf("targets are %dx%d, expected %dx%d", yn, yk, n, c.Classes())
	}
	loss := CrossEntropy(logits, y)

	// dL/dlogits = (softmax - y) / n
	grad := Softmax(logits)
	grad.Sub(grad, y)
	grad.Scale(1/float64(n), grad)

	var dW mat.Dense
	dW.Mul(x.T(), grad)
	c.W.Sub(c.W, scaled(&dW, learnRate))

	for j := 0; j < c.Classes(); j++ {
		col := mat.Col(nil, j, grad)
		c.B.SetVec(j, c.B.AtVec(j)-learnRate*floats.Sum(col))
	}

	c.Steps++
	return loss, nil
}

func scaled(m *mat.Dense, f float64) *mat.Dense {
	m.Scale(f, m)
	return m
}

// Predict returns the argmax of every row. Ties go to the lowest index, so an
// all-zero model predicts class 0.
func Predict(logits mat.Matrix) []int {
	n, _ := logits.Dims()
	out := make([]int, n)
	for i := range out {
		out[i] = floats.MaxIdx(mat.Row(nil, i, logits))
	}
	return out
}

// Accuracy is the fraction of rows whose argmax matches the target's argmax.
func Accuracy(logits, targets mat.Matrix) float64 {
	pred := Predict(logits)
	if len(pred) == 0 {
		return 0
	}
	want := Predict(targets)
	correct := 0
	for i := range pred {
		if pred[i] == want[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(pred))
}

// UpdateTrainAccuracy moves the smoothed accuracy halfway toward acc.
func (c *Classifier) UpdateTrainAccuracy(acc float64) float64 {
	c.TrainAccuracy = (acc + c.TrainAccuracy) / 2
	return c.TrainAccuracy
}
