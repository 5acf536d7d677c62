package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/simpsons/internal/annotation"
	"github.com/andresmejia3/simpsons/internal/preprocess"
	"github.com/andresmejia3/simpsons/internal/utils"
	"github.com/andresmejia3/simpsons/internal/worker"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// PreprocessOptions holds the preprocess command configuration.
type PreprocessOptions struct {
	AnnotationsPath string
	OutputPath      string
	NumWorkers      int
	DebugDir        string
}

var preprocessOpts PreprocessOptions

var preprocessCmd = &cobra.Command{
	Use:   "preprocess <annotations_path> <output_path>",
	Short: "Crop, resize and one-hot encode an annotated image set into a record file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := preprocessOpts
		opts.AnnotationsPath, opts.OutputPath = args[0], args[1]
		return runPreprocess(cmd.Context(), opts)
	},
}

func init() {
	preprocessCmd.Flags().IntVarP(&preprocessOpts.NumWorkers, "workers", "w", worker.DefaultWorkers, "Number of parallel transform workers")
	preprocessCmd.Flags().StringVar(&preprocessOpts.DebugDir, "debug-dir", "", "Also write every transformed sample as a JPEG into this directory")
	rootCmd.AddCommand(preprocessCmd)
}

func validatePreprocessFlags(opts *PreprocessOptions) error {
	info, err := os.Stat(opts.AnnotationsPath)
	if err != nil {
		return fmt.Errorf("annotations file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("annotations path %s is a directory", opts.AnnotationsPath)
	}
	if opts.AnnotationsPath == opts.OutputPath {
		return fmt.Errorf("annotations and output paths must be different")
	}
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	return nil
}

// runPreprocess orchestrates the offline stage: annotations, vocabulary, worker pool, record file.
func runPreprocess(ctx context.Context, opts PreprocessOptions) error {
	if err := validatePreprocessFlags(&opts); err != nil {
		utils.ShowError("Invalid preprocess arguments", err)
		return err
	}

	// 1. Read annotations
	records, skipped, vocab, err := preprocess.Load(opts.AnnotationsPath)
	if err != nil {
		utils.ShowError("Failed to read annotations", err)
		return err
	}
	fmt.Fprintf(os.Stderr, "📄 %d annotations, %d skipped (missing image), %d labels\n", len(records), skipped, vocab.Len())
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d transform workers...\n", opts.NumWorkers)

	// 2. Transform and write
	bar := progressbar.NewOptions(len(records),
		progressbar.OptionSetDescription("🖼️  Preprocessing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	res, err := preprocess.Write(ctx, preprocess.Config{
		AnnotationsPath: opts.AnnotationsPath,
		OutputPath:      opts.OutputPath,
		Workers:         opts.NumWorkers,
		DebugDir:        opts.DebugDir,
		OnRecord:        func() { bar.Add(1) },
	}, records, skipped, vocab)
	if err != nil {
		utils.ShowError("Preprocessing failed", err)
		return err
	}
	bar.Finish()

	// 3. Register the dataset
	if DB != nil {
		if err := registerDataset(ctx, opts.OutputPath, res); err != nil {
			utils.ShowError("Failed to register dataset", err)
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Wrote %d records (%s) to %s\n", res.Records, humanize.Bytes(uint64(res.Bytes)), opts.OutputPath)
	fmt.Fprintf(os.Stderr, "🏷️  Labels saved to %s\n", annotation.SidecarPath(opts.OutputPath))
	return nil
}

func registerDataset(ctx context.Context, path string, res preprocess.Result) error {
	id, err := utils.GenerateDatasetID(path)
	if err != nil {
		return err
	}
	if err := DB.EnsureDataset(ctx, id, path, res.Records, res.Labels); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "📼 Dataset ID: %s\n", id[:12])
	return nil
}
