package model

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/insectid/insectid-go/internal/errors"
	"github.com/insectid/insectid-go/internal/logging"
	"github.com/insectid/insectid-go/internal/taxonomy"
)

// defaultInputSize is assumed when the input tensor shape cannot be read.
// All shipped classifiers take 224x224 RGB input.
const defaultInputSize = 224

// LevelPolicy configures interpreter options per taxonomic level. The
// higher-capacity order/family models benefit from XNNPACK and more threads;
// the lighter genus/species models usually do not.
type LevelPolicy struct {
	Threads    int
	UseXNNPACK bool
}

// TFLiteFactory creates TensorFlow Lite backed classifiers.
type TFLiteFactory struct {
	// Policy maps levels to interpreter options. Missing levels get a
	// single-threaded CPU interpreter.
	Policy map[taxonomy.Rank]LevelPolicy
}

// tfliteClassifier owns one interpreter. Interpreters are not reentrant, so
// Predict serializes access with a mutex.
type tfliteClassifier struct {
	interpreter *tflite.Interpreter
	inputSize   int
	numClasses  int
	mu          sync.Mutex
}

// New loads the artifact at artifactPath and builds an interpreter sized to
// numClasses output classes. A model whose output width disagrees with the
// class map is rejected here, at load time.
func (f *TFLiteFactory) New(level taxonomy.Rank, numClasses int, artifactPath string) (Classifier, error) {
	log := logging.ForModule("model")

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, errors.New(err).
			Component("model").
			Category(errors.CategoryFileIO).
			Context("path", artifactPath).
			Context("level", string(level)).
			Build()
	}

	m := tflite.NewModel(data)
	if m == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model %s", artifactPath).
			Component("model").
			Category(errors.CategoryModelLoad).
			Context("model_size_mb", len(data)/1024/1024).
			Context("level", string(level)).
			Build()
	}

	policy := f.Policy[level]
	threads := policy.Threads
	if threads <= 0 {
		threads = 1
	}

	options := tflite.NewInterpreterOptions()
	if policy.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: thread count bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to CPU",
				"level", string(level))
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, userData any) {
		logging.ForModule("model").Error("TFLite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(m, options)
	if interpreter == nil {
		return nil, errors.Newf("cannot create interpreter for %s", artifactPath).
			Component("model").
			Category(errors.CategoryModelInit).
			Context("level", string(level)).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Component("model").
			Category(errors.CategoryModelInit).
			Context("level", string(level)).
			Build()
	}

	c := &tfliteClassifier{
		interpreter: interpreter,
		inputSize:   inputEdge(interpreter),
		numClasses:  numClasses,
	}

	if got := outputWidth(interpreter); got != numClasses {
		interpreter.Delete()
		return nil, errors.Newf("class count mismatch: model outputs %d classes but class map has %d",
			got, numClasses).
			Component("model").
			Category(errors.CategoryValidation).
			Context("path", artifactPath).
			Context("level", string(level)).
			Build()
	}

	// Model bytes are copied into the interpreter; release ours promptly.
	runtime.GC()

	log.Info("classifier model initialized",
		"level", string(level),
		"path", artifactPath,
		"classes", numClasses,
		"threads", threads,
		"xnnpack", policy.UseXNNPACK)
	return c, nil
}

func (c *tfliteClassifier) Predict(input []float32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inputTensor := c.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	if got, want := len(inputTensor.Float32s()), len(input); got != want {
		return nil, fmt.Errorf("input tensor size mismatch: tensor %d, input %d", got, want)
	}
	copy(inputTensor.Float32s(), input)

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	outputTensor := c.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return nil, fmt.Errorf("cannot get output tensor")
	}
	out := make([]float32, outputWidth(c.interpreter))
	copy(out, outputTensor.Float32s())
	return out, nil
}

func (c *tfliteClassifier) InputSize() int  { return c.inputSize }
func (c *tfliteClassifier) Layout() Layout  { return NHWC }
func (c *tfliteClassifier) NumClasses() int { return c.numClasses }

func (c *tfliteClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	return nil
}

// inputEdge reads the spatial edge length from the input tensor shape,
// assuming NHWC [1, H, W, C].
func inputEdge(interpreter *tflite.Interpreter) int {
	t := interpreter.GetInputTensor(0)
	if t == nil || t.NumDims() < 3 {
		return defaultInputSize
	}
	if edge := t.Dim(1); edge > 0 {
		return edge
	}
	return defaultInputSize
}

// outputWidth reads the class count from the output tensor's last dimension.
func outputWidth(interpreter *tflite.Interpreter) int {
	t := interpreter.GetOutputTensor(0)
	if t == nil {
		return 0
	}
	return t.Dim(t.NumDims() - 1)
}
