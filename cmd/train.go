package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/simpsons/internal/annotation"
	"github.com/andresmejia3/simpsons/internal/model"
	"github.com/andresmejia3/simpsons/internal/replay"
	"github.com/andresmejia3/simpsons/internal/sink"
	"github.com/andresmejia3/simpsons/internal/store"
	"github.com/andresmejia3/simpsons/internal/summary"
	"github.com/andresmejia3/simpsons/internal/trainer"
	"github.com/andresmejia3/simpsons/internal/transform"
	"github.com/andresmejia3/simpsons/internal/utils"
	"github.com/andresmejia3/simpsons/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// TrainOptions holds the train command configuration.
type TrainOptions struct {
	MaxSteps        int
	PredictionDir   string
	TrainingData    string
	TestData        string
	LearnRate       float64
	LogsDir         string
	SummaryInterval int
	Classes         int
	BatchSize       int
	ShuffleBuffer   int
	NumWorkers      int
	Seed            uint64
}

var trainOpts TrainOptions

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the softmax classifier and sort test images by predicted class",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runTrain(cmd.Context(), trainOpts)
	},
}

func init() {
	trainCmd.Flags().IntVar(&trainOpts.MaxSteps, "max-steps", 1, "Number of training steps")
	trainCmd.Flags().StringVar(&trainOpts.PredictionDir, "prediction-dir", "/tmp/predictions", "Evaluated images are copied to <dir>/<predicted_class>/")
	trainCmd.Flags().StringVar(&trainOpts.TrainingData, "training-data", "", "Preprocessed training record file")
	trainCmd.Flags().StringVar(&trainOpts.TestData, "test-data", "", "Preprocessed test record file")
	trainCmd.Flags().Float64Var(&trainOpts.LearnRate, "learn-rate", 0.001, "Gradient descent learning rate")
	trainCmd.Flags().StringVar(&trainOpts.LogsDir, "logs-dir", "/tmp/simpsons_logs", "Directory for train/test summary events")
	trainCmd.Flags().IntVar(&trainOpts.SummaryInterval, "summary-interval", 100, "Emit summaries every N steps")
	trainCmd.Flags().IntVar(&trainOpts.Classes, "classes", 18, "Number of classes (must match the one-hot length of the data)")
	trainCmd.Flags().IntVar(&trainOpts.BatchSize, "batch-size", 10, "Training batch size")
	trainCmd.Flags().IntVar(&trainOpts.ShuffleBuffer, "shuffle-buffer", 1000, "Shuffle reservoir size (0 disables shuffling)")
	trainCmd.Flags().IntVarP(&trainOpts.NumWorkers, "workers", "w", worker.DefaultWorkers, "Number of parallel record decoders")
	trainCmd.Flags().Uint64Var(&trainOpts.Seed, "seed", 0, "Shuffle seed (0 picks one from the clock)")

	trainCmd.MarkFlagRequired("training-data")
	trainCmd.MarkFlagRequired("test-data")
	rootCmd.AddCommand(trainCmd)
}

// validateTrainFlags ensures all CLI arguments are valid before loading any data.
func validateTrainFlags(opts *TrainOptions) error {
	for _, p := range []string{opts.TrainingData, opts.TestData} {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("dataset: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("dataset %s is a directory, expected a record file", p)
		}
	}
	if opts.MaxSteps < 0 {
		return fmt.Errorf("max-steps must be >= 0, got %d", opts.MaxSteps)
	}
	if opts.LearnRate <= 0 {
		return fmt.Errorf("learn-rate must be > 0, got %g", opts.LearnRate)
	}
	if opts.SummaryInterval < 1 {
		return fmt.Errorf("summary-interval must be >= 1, got %d", opts.SummaryInterval)
	}
	if opts.Classes < 1 {
		return fmt.Errorf("classes must be >= 1, got %d", opts.Classes)
	}
	if opts.BatchSize < 1 {
		return fmt.Errorf("batch-size must be >= 1, got %d", opts.BatchSize)
	}
	if opts.ShuffleBuffer < 0 {
		opts.ShuffleBuffer = 0
	}
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}
	return nil
}

// runTrain trains for MaxSteps, then replays the test set once.
func runTrain(ctx context.Context, opts TrainOptions) error {
	if err := validateTrainFlags(&opts); err != nil {
		utils.ShowError("Invalid train arguments", err)
		return err
	}

	// 1. Class names, when preprocessing left a vocabulary next to the data
	vocab, err := annotation.ReadVocabularyFile(annotation.SidecarPath(opts.TestData))
	if err == nil && vocab.Len() != opts.Classes {
		fmt.Fprintf(os.Stderr, "⚠️  Vocabulary has %d labels but the model has %d classes\n", vocab.Len(), opts.Classes)
	}

	// 2. Monitoring
	events, err := summary.NewFileWriter(opts.LogsDir)
	if err != nil {
		utils.ShowError("Failed to create logs directory", err)
		return err
	}
	defer events.Close()
	sinks := summary.Multi{events}

	var runID int64
	if DB != nil {
		if runID, err = DB.CreateRun(ctx, opts.TrainingData, opts.TestData, opts.MaxSteps, opts.LearnRate); err != nil {
			utils.ShowError("Failed to register training run", err)
			return err
		}
		sinks = append(sinks, store.RunSink{Store: DB, RunID: runID})
		fmt.Fprintf(os.Stderr, "📼 Training run %d\n", runID)
	}

	clf := model.New(transform.Pixels, opts.Classes)

	// 3. Train
	trainReport, err := trainPhase(ctx, clf, sinks, opts)
	if err != nil {
		utils.ShowError("Training failed", err)
		return err
	}

	// 4. Evaluate
	evalReport, err := evaluatePhase(ctx, clf, sinks, vocab, runID, opts)
	if err != nil {
		utils.ShowError("Evaluation failed", err)
		return err
	}

	if DB != nil {
		if err := DB.FinishRun(ctx, runID, trainReport.TrainAccuracy, evalReport.Accuracy()); err != nil {
			utils.ShowError("Failed to finish training run", err)
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 TRAINING SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🏋️  Steps:                 %d\n", trainReport.Steps)
	fmt.Fprintf(os.Stderr, "📈 Smoothed train accuracy: %.4f\n", trainReport.TrainAccuracy)
	fmt.Fprintf(os.Stderr, "🧪 Test accuracy:          %.4f (%d/%d)\n", evalReport.Accuracy(), evalReport.Correct, evalReport.Total)
	fmt.Fprintf(os.Stderr, "🗂️  Predictions in:         %s\n", opts.PredictionDir)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	return nil
}

func trainPhase(ctx context.Context, clf *model.Classifier, sinks summary.Sink, opts TrainOptions) (trainer.TrainReport, error) {
	ro := replay.TrainingOptions(opts.Classes)
	ro.BatchSize = opts.BatchSize
	ro.ShuffleBuffer = opts.ShuffleBuffer
	ro.Workers = opts.NumWorkers
	ro.Seed = opts.Seed

	stream, err := replay.Open(ctx, opts.TrainingData, ro)
	if err != nil {
		return trainer.TrainReport{}, err
	}
	defer stream.Close()

	fmt.Fprintf(os.Stderr, "⚙️  Training %d steps (batch %d, shuffle window %d, %d decoders)\n", opts.MaxSteps, ro.BatchSize, ro.ShuffleBuffer, ro.Workers)
	bar := progressbar.NewOptions(opts.MaxSteps,
		progressbar.OptionSetDescription("🏋️  Training"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	rep, err := trainer.Train(ctx, clf, stream, trainer.TrainConfig{
		MaxSteps:        opts.MaxSteps,
		LearnRate:       opts.LearnRate,
		SummaryInterval: opts.SummaryInterval,
		Summary:         sinks,
		OnStep:          func(int, float64) { bar.Add(1) },
	})
	bar.Finish()
	return rep, err
}

func evaluatePhase(ctx context.Context, clf *model.Classifier, sinks summary.Sink, vocab annotation.Vocabulary, runID int64, opts TrainOptions) (trainer.EvalReport, error) {
	placer, err := sink.Prepare(opts.PredictionDir)
	if err != nil {
		return trainer.EvalReport{}, err
	}

	ro := replay.EvaluationOptions(opts.Classes)
	stream, err := replay.Open(ctx, opts.TestData, ro)
	if err != nil {
		return trainer.EvalReport{}, err
	}
	defer stream.Close()

	return trainer.Evaluate(ctx, clf, stream, trainer.EvalConfig{
		Placer:  placer,
		Summary: sinks,
		OnPrediction: func(p trainer.Prediction) error {
			fmt.Printf("\nTest accuracy: %f\n", p.Accuracy)
			if name := vocab.Name(p.Predicted); name != "" {
				fmt.Fprintf(os.Stderr, "   %s -> %d (%s)\n", p.Path, p.Predicted, name)
			}
			if DB != nil {
				return DB.InsertPrediction(ctx, runID, p.Step, p.Path, p.Label, p.Predicted, p.Correct)
			}
			return nil
		},
	})
}
