package types

import "gorgonia.org/tensor"

// Annotation is one validated row of the annotation file.
// Path is absolute and pointed at an existing file when the row was read.
type Annotation struct {
	Path  string
	X1    int
	Y1    int
	X2    int
	Y2    int
	Label string
}

// TransformTask represents a single annotation sent to a worker for processing
type TransformTask struct {
	Index      int
	Annotation Annotation
}

// Sample is the output of the transform stage. It is handed straight to the
// record writer and not kept after the write.
type Sample struct {
	Index      int
	Annotation Annotation
	Image      *tensor.Dense // [height, width, channels] float32 in [0,1]
	OneHot     []float32
}
