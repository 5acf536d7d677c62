package record

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andresmejia3/simpsons/internal/types"
	"gorgonia.org/tensor"
)

func sampleExample() *Example {
	img := make([]float32, 4*3*3)
	for i := range img {
		img[i] = float32(i) / float32(len(img))
	}
	return &Example{
		Image:    img,
		OneHot:   []float32{0, 1, 0},
		Label:    "lisa_simpson",
		Path:     "/data/simpsons/lisa_simpson/pic_0001.jpg",
		Height:   4,
		Width:    3,
		Channels: 3,
		X1:       10,
		Y1:       20,
		X2:       110,
		Y2:       220,
	}
}

func TestExampleRoundTrip(t *testing.T) {
	want := sampleExample()

	got, err := Decoder{ImageLen: 36, Classes: 3}.Decode(want.Marshal())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Round trip mismatch.\nExpected %+v\nGot      %+v", want, got)
	}
	if got.Class() != 1 {
		t.Errorf("Expected class 1, got %d", got.Class())
	}
}

func TestMarshalDeterministic(t *testing.T) {
	a := sampleExample().Marshal()
	b := sampleExample().Marshal()
	if !reflect.DeepEqual(a, b) {
		t.Error("Marshal produced different bytes for equal examples")
	}
}

func TestDecodeSchemaMismatch(t *testing.T) {
	payload := sampleExample().Marshal()

	tests := []struct {
		name    string
		decoder Decoder
		payload []byte
	}{
		{"Wrong class count", Decoder{ImageLen: 36, Classes: 18}, payload},
		{"Wrong image length", Decoder{ImageLen: 180000, Classes: 3}, payload},
		{"Garbage", Decoder{}, []byte{0xff, 0xff, 0xff}},
		{"Empty example", Decoder{}, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.decoder.Decode(tt.payload); !errors.Is(err, ErrSchema) {
				t.Errorf("Expected ErrSchema, got %v", err)
			}
		})
	}
}

func TestEncodeSample(t *testing.T) {
	data := make([]float32, 2*2*3)
	s := types.Sample{
		Index:      7,
		Annotation: types.Annotation{Path: "/tmp/a.jpg", X1: 1, Y1: 2, X2: 3, Y2: 4, Label: "A"},
		Image:      tensor.New(tensor.WithShape(2, 2, 3), tensor.WithBacking(data)),
		OneHot:     []float32{1, 0},
	}

	e, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if e.Height != 2 || e.Width != 2 || e.Channels != 3 {
		t.Errorf("Expected 2x2x3, got %dx%dx%d", e.Height, e.Width, e.Channels)
	}
	if e.X2 != 3 || e.Label != "A" || e.Path != "/tmp/a.jpg" {
		t.Errorf("Metadata not carried over: %+v", e)
	}

	if _, err := Encode(types.Sample{}); err == nil {
		t.Error("Expected error for sample without image")
	}
}

func TestContainerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.tfrecord")

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	payloads := [][]byte{[]byte("first"), {}, sampleExample().Marshal()}
	for _, p := range payloads {
		if err := w.Write(p); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if w.Count() != 3 {
		t.Errorf("Expected count 3, got %d", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	info, _ := os.Stat(path)
	if info.Size() != w.Bytes() {
		t.Errorf("Expected %d bytes on disk, got %d", w.Bytes(), info.Size())
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for i, want := range payloads {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next #%d failed: %v", i, err)
		}
		if string(got) != string(want) {
			t.Errorf("Record #%d mismatch", i)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestContainerCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.tfrecord")

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("homer"))
	w.Close()

	raw, _ := os.ReadFile(path)

	flipped := append([]byte(nil), raw...)
	flipped[headerSize] ^= 0xff // first payload byte

	tests := []struct {
		name string
		data []byte
	}{
		{"Flipped payload byte", flipped},
		{"Truncated footer", raw[:len(raw)-2]},
		{"Truncated header", raw[:5]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(dir, "bad.tfrecord")
			if err := os.WriteFile(p, tt.data, 0644); err != nil {
				t.Fatal(err)
			}
			r, err := Open(p)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			if _, err := r.Next(); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Expected ErrCorrupt, got %v", err)
			}
		})
	}
}
