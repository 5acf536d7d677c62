package preprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/simpsons/internal/annotation"
	"github.com/andresmejia3/simpsons/internal/record"
	"github.com/andresmejia3/simpsons/internal/transform"
	"github.com/andresmejia3/simpsons/internal/types"
	"github.com/andresmejia3/simpsons/internal/utils"
	"github.com/andresmejia3/simpsons/internal/worker"
)

// Config holds everything a preprocessing run needs.
type Config struct {
	AnnotationsPath string
	OutputPath      string
	Workers         int
	// DebugDir, when set, receives one JPEG per transformed sample.
	DebugDir string
	// OnRecord is called from the writer goroutine after every record.
	OnRecord func()
}

// Result summarizes a finished run.
type Result struct {
	Records int
	Skipped int
	Labels  annotation.Vocabulary
	Bytes   int64
}

// Load reads the annotation file and derives its vocabulary. It is split out
// so callers can size a progress bar before the transform starts.
func Load(path string) ([]types.Annotation, int, annotation.Vocabulary, error) {
	records, skipped, err := annotation.ReadAll(path)
	if err != nil {
		return nil, 0, nil, err
	}
	return records, skipped, annotation.NewVocabulary(records), nil
}

// Run transforms every annotation in parallel and writes one record per sample
// to cfg.OutputPath. On any failure the partial output file is removed.
func Run(ctx context.Context, cfg Config) (Result, error) {
	records, skipped, vocab, err := Load(cfg.AnnotationsPath)
	if err != nil {
		return Result{}, err
	}
	return Write(ctx, cfg, records, skipped, vocab)
}

// Write is Run without the annotation pass.
func Write(ctx context.Context, cfg Config, records []types.Annotation, skipped int, vocab annotation.Vocabulary) (res Result, err error) {
	res = Result{Skipped: skipped, Labels: vocab}

	if cfg.DebugDir != "" {
		if err := utils.EnsureDir(cfg.DebugDir); err != nil {
			return res, fmt.Errorf("debug dir: %w", err)
		}
	}

	w, err := record.Create(cfg.OutputPath)
	if err != nil {
		return res, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
		if err != nil {
			os.Remove(cfg.OutputPath)
			os.Remove(annotation.SidecarPath(cfg.OutputPath))
			return
		}
		res.Records = w.Count()
		res.Bytes = w.Bytes()
	}()

	tasks := make([]types.TransformTask, len(records))
	for i, a := range records {
		tasks[i] = types.TransformTask{Index: i, Annotation: a}
	}

	process := func(task types.TransformTask) (types.Sample, error) {
		img, err := transform.Apply(task.Annotation)
		if err != nil {
			return types.Sample{}, err
		}
		oneHot, err := vocab.OneHot(task.Annotation.Label)
		if err != nil {
			return types.Sample{}, err
		}
		sample := types.Sample{Index: task.Index, Annotation: task.Annotation, Image: img, OneHot: oneHot}
		if cfg.DebugDir != "" {
			name := fmt.Sprintf("%06d_%s.jpg", task.Index, filepath.Base(task.Annotation.Label))
			if err := transform.SaveJPEG(img, filepath.Join(cfg.DebugDir, name)); err != nil {
				return types.Sample{}, fmt.Errorf("debug image: %w", err)
			}
		}
		return sample, nil
	}

	// Only this callback touches the writer
	emit := func(s types.Sample) error {
		ex, err := record.Encode(s)
		if err != nil {
			return err
		}
		if err := w.Write(ex.Marshal()); err != nil {
			return fmt.Errorf("write record %d: %w", s.Index, err)
		}
		if cfg.OnRecord != nil {
			cfg.OnRecord()
		}
		return nil
	}

	if err := worker.NewPool(cfg.Workers, process).Run(ctx, tasks, emit); err != nil {
		return res, err
	}

	if err := vocab.WriteFile(annotation.SidecarPath(cfg.OutputPath)); err != nil {
		return res, fmt.Errorf("write vocabulary: %w", err)
	}
	return res, nil
}
