// Package model defines the pluggable classification backend: a factory that
// produces ready-to-infer classifiers sized to a class count, and the
// classifier handle the inference engine drives.
package model

import "github.com/insectid/insectid-go/internal/taxonomy"

// Layout describes the tensor memory layout a classifier expects.
type Layout int

const (
	// NCHW is channel-major layout (planes of R, G, B).
	NCHW Layout = iota
	// NHWC is pixel-major layout (interleaved RGB per pixel).
	NHWC
)

// Classifier is one loaded model, ready for inference. Implementations must
// be safe for concurrent Predict callers; internal serialization is allowed.
type Classifier interface {
	// Predict runs a forward pass over one preprocessed input tensor and
	// returns the raw (pre-softmax) scores, one per class.
	Predict(input []float32) ([]float32, error)

	// InputSize returns the canonical square input edge length in pixels.
	InputSize() int

	// Layout returns the tensor layout Predict expects its input in.
	Layout() Layout

	// NumClasses returns the width of the output distribution.
	NumClasses() int

	// Close releases backend resources. The classifier is unusable after.
	Close() error
}

// Factory creates classifiers for a given level and class count. The
// architecture behind an artifact is level-dependent policy that lives in the
// factory's configuration, not in the engine.
type Factory interface {
	New(level taxonomy.Rank, numClasses int, artifactPath string) (Classifier, error)
}
