package trainer

import (
	"context"
	"fmt"

	"github.com/andresmejia3/simpsons/internal/model"
	"github.com/andresmejia3/simpsons/internal/summary"
)

// Placer stores an evaluated image under its predicted class.
type Placer interface {
	Place(class int, src string) (string, error)
}

// Prediction is the outcome for one evaluated example.
type Prediction struct {
	Step          int
	Path          string
	Label         string
	Predicted     int
	Actual        int
	Correct       bool
	Probabilities []float64
	// Accuracy is the accuracy of the batch this example belongs to.
	Accuracy float64
	// Placed is the copied image path, empty without a Placer.
	Placed string
}

type EvalConfig struct {
	// Placer and Summary may be nil.
	Placer  Placer
	Summary summary.Sink
	// OnPrediction is called for every example, in stream order.
	OnPrediction func(Prediction) error
}

type EvalReport struct {
	Steps   int
	Total   int
	Correct int
}

// Accuracy over every evaluated example.
func (r EvalReport) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Evaluate runs one accuracy computation per batch until the source is
// exhausted. The model is not modified.
func Evaluate(ctx context.Context, clf *model.Classifier, src BatchSource, cfg EvalConfig) (EvalReport, error) {
	var rep EvalReport
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		batch, more, err := src.Next()
		if err != nil {
			return rep, fmt.Errorf("evaluation step %d: %w", step, err)
		}
		if !more {
			return rep, nil
		}

		logits, err := clf.Logits(batch.Inputs())
		if err != nil {
			return rep, fmt.Errorf("evaluation step %d: %w", step, err)
		}
		probs := model.Softmax(logits)
		predicted := model.Predict(logits)
		acc := model.Accuracy(logits, batch.Targets())

		for i, ex := range batch.Examples {
			p := Prediction{
				Step:          step,
				Path:          ex.Path,
				Label:         ex.Label,
				Predicted:     predicted[i],
				Actual:        ex.Class(),
				Probabilities: probs.RawRowView(i),
				Accuracy:      acc,
			}
			p.Correct = p.Predicted == p.Actual
			if p.Correct {
				rep.Correct++
			}
			rep.Total++

			if cfg.Placer != nil {
				if p.Placed, err = cfg.Placer.Place(p.Predicted, ex.Path); err != nil {
					return rep, err
				}
			}
			if cfg.OnPrediction != nil {
				if err := cfg.OnPrediction(p); err != nil {
					return rep, err
				}
			}
		}

		if cfg.Summary != nil {
			if err := cfg.Summary.Scalar(ctx, summary.ScopeTest, step, "accuracy", acc); err != nil {
				return rep, fmt.Errorf("summary at evaluation step %d: %w", step, err)
			}
		}
		rep.Steps++
	}
}
