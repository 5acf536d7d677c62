package trainer

import (
	"context"
	"fmt"

	"github.com/andresmejia3/simpsons/internal/model"
	"github.com/andresmejia3/simpsons/internal/replay"
	"github.com/andresmejia3/simpsons/internal/summary"
)

// BatchSource yields batches until more is false.
type BatchSource interface {
	Next() (batch replay.Batch, more bool, err error)
}

// TrainConfig controls the training loop.
type TrainConfig struct {
	MaxSteps        int
	LearnRate       float64
	SummaryInterval int
	// Summary may be nil.
	Summary summary.Sink
	// OnStep runs after every applied update.
	OnStep func(step int, loss float64)
}

type TrainReport struct {
	Steps         int
	LastLoss      float64
	TrainAccuracy float64
}

// Train runs exactly cfg.MaxSteps gradient steps, fewer only if the source
// runs dry. Every SummaryInterval steps the smoothed accuracy is moved toward
// the current batch's accuracy and the metrics are emitted.
func Train(ctx context.Context, clf *model.Classifier, src BatchSource, cfg TrainConfig) (TrainReport, error) {
	var rep TrainReport
	for step := 0; step < cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		batch, more, err := src.Next()
		if err != nil {
			return rep, fmt.Errorf("step %d: %w", step, err)
		}
		if !more {
			break
		}
		x, y := batch.Inputs(), batch.Targets()

		if cfg.SummaryInterval > 0 && step%cfg.SummaryInterval == 0 {
			logits, err := clf.Logits(x)
			if err != nil {
				return rep, fmt.Errorf("step %d: %w", step, err)
			}
			clf.UpdateTrainAccuracy(model.Accuracy(logits, y))
			if cfg.Summary != nil {
				if err := emitTraining(ctx, cfg.Summary, clf, step, model.CrossEntropy(logits, y)); err != nil {
					return rep, fmt.Errorf("summary at step %d: %w", step, err)
				}
			}
		}

		loss, err := clf.Step(x, y, cfg.LearnRate)
		if err != nil {
			return rep, fmt.Errorf("step %d: %w", step, err)
		}
		rep.Steps++
		rep.LastLoss = loss
		if cfg.OnStep != nil {
			cfg.OnStep(step, loss)
		}
	}
	rep.TrainAccuracy = clf.TrainAccuracy
	return rep, nil
}

func emitTraining(ctx context.Context, sink summary.Sink, clf *model.Classifier, step int, loss float64) error {
	if err := sink.Scalar(ctx, summary.ScopeTrain, step, "cross_entropy", loss); err != nil {
		return err
	}
	if err := summary.Emit(ctx, sink, summary.ScopeTrain, step, "weights", summary.Describe(clf.W.RawMatrix().Data)); err != nil {
		return err
	}
	if err := summary.Emit(ctx, sink, summary.ScopeTrain, step, "biases", summary.Describe(clf.B.RawVector().Data)); err != nil {
		return err
	}
	return sink.Scalar(ctx, summary.ScopeTrain, step, "training_accuracy", clf.TrainAccuracy)
}
