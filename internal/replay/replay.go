package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/andresmejia3/simpsons/internal/record"
	"github.com/andresmejia3/simpsons/internal/transform"
	"gonum.org/v1/gonum/mat"
)

// ErrEmptyDataset is returned when a repeating stream reads a pass with no records.
var ErrEmptyDataset = errors.New("dataset contains no records")

// Options configures how a container file is replayed.
type Options struct {
	BatchSize int
	// ShuffleBuffer is the reservoir size; 0 disables shuffling.
	ShuffleBuffer int
	// Repeat re-reads the file forever.
	Repeat  bool
	Workers int
	Decoder record.Decoder
	Seed    uint64
}

// TrainingOptions: batches of 10, a 1000 record shuffle window, endless repeat.
func TrainingOptions(classes int) Options {
	return Options{
		BatchSize:     10,
		ShuffleBuffer: 1000,
		Repeat:        true,
		Workers:       8,
		Decoder:       record.Decoder{ImageLen: transform.Pixels, Classes: classes},
	}
}

// EvaluationOptions: single examples in file order, one pass.
func EvaluationOptions(classes int) Options {
	return Options{
		BatchSize: 1,
		Workers:   1,
		Decoder:   record.Decoder{ImageLen: transform.Pixels, Classes: classes},
	}
}

type item struct {
	payload []byte
	ex      *record.Example
	err     error
}

// Stream yields batches from a container file. Next must be called from a
// single goroutine.
type Stream struct {
	opts     Options
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	decoded  chan item
	shuffler *Shuffler
	drained  bool
	err      error
}

// Open starts the reader and decode goroutines. The file is opened here so a
// missing path fails immediately.
func Open(ctx context.Context, path string, opts Options) (*Stream, error) {
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", opts.BatchSize)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	r, err := record.Open(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		decoded:  make(chan item, opts.Workers*2),
		shuffler: NewShuffler(opts.ShuffleBuffer, rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed))),
	}

	raw := make(chan item, opts.Workers*2)

	// 1. Reader
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(raw)
		s.read(path, r, raw)
	}()

	// 2. Decoders
	var decoders sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		decoders.Add(1)
		go func() {
			defer decoders.Done()
			for it := range raw {
				if it.err == nil {
					it.ex, it.err = opts.Decoder.Decode(it.payload)
					it.payload = nil
				}
				select {
				case s.decoded <- it:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		decoders.Wait()
		close(s.decoded)
	}()

	return s, nil
}

// read sends every payload of the file, re-opening it at EOF when repeating.
func (s *Stream) read(path string, r *record.Reader, out chan<- item) {
	send := func(it item) bool {
		select {
		case out <- it:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	for {
		n := 0
		for {
			payload, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				r.Close()
				send(item{err: fmt.Errorf("%s: %w", path, err)})
				return
			}
			n++
			if !send(item{payload: payload}) {
				r.Close()
				return
			}
		}
		r.Close()

		if !s.opts.Repeat {
			return
		}
		if n == 0 {
			send(item{err: fmt.Errorf("%s: %w", path, ErrEmptyDataset)})
			return
		}

		var err error
		if r, err = record.Open(path); err != nil {
			send(item{err: err})
			return
		}
	}
}

// Next returns the next batch. more is false once a finite stream is
// exhausted; that is not an error. The last batch may be short.
func (s *Stream) Next() (batch Batch, more bool, err error) {
	if s.err != nil {
		return Batch{}, false, s.err
	}

	for len(batch.Examples) < s.opts.BatchSize {
		ex, ok, err := s.pull()
		if err != nil {
			s.err = err
			return Batch{}, false, err
		}
		if !ok {
			break
		}
		batch.Examples = append(batch.Examples, ex)
	}

	if len(batch.Examples) == 0 {
		return Batch{}, false, nil
	}
	return batch, true, nil
}

func (s *Stream) pull() (*record.Example, bool, error) {
	for !s.drained {
		var it item
		var ok bool
		select {
		case it, ok = <-s.decoded:
		case <-s.ctx.Done():
			return nil, false, s.ctx.Err()
		}
		if !ok {
			s.drained = true
			break
		}
		if it.err != nil {
			return nil, false, it.err
		}
		if out, full := s.shuffler.Push(it.ex); full {
			return out, true, nil
		}
	}

	ex, ok := s.shuffler.Pop()
	return ex, ok, nil
}

// Close stops the background goroutines and waits for them.
func (s *Stream) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Batch is a group of decoded examples.
type Batch struct {
	Examples []*record.Example
}

func (b Batch) Len() int {
	return len(b.Examples)
}

// Inputs stacks the flat images into an [n, pixels] matrix.
func (b Batch) Inputs() *mat.Dense {
	return stack(b.Examples, func(e *record.Example) []float32 { return e.Image })
}

// Targets stacks the one-hot vectors into an [n, classes] matrix.
func (b Batch) Targets() *mat.Dense {
	return stack(b.Examples, func(e *record.Example) []float32 { return e.OneHot })
}

func stack(examples []*record.Example, field func(*record.Example) []float32) *mat.Dense {
	if len(examples) == 0 {
		return nil
	}
	cols := len(field(examples[0]))
	data := make([]float64, 0, len(examples)*cols)
	for _, e := range examples {
		for _, v := range field(e) {
			data = append(data, float64(v))
		}
	}
	return mat.NewDense(len(examples), cols, data)
}
