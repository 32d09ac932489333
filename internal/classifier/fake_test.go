package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/insectid/insectid-go/internal/inventory"
	"github.com/insectid/insectid-go/internal/model"
	"github.com/insectid/insectid-go/internal/taxonomy"
)

// fakeClassifier is a scripted model backend for tests.
type fakeClassifier struct {
	size    int
	layout  model.Layout
	classes int
	out     []float32
	err     error
	doPanic bool
	delay   time.Duration
	closed  bool
}

func (f *fakeClassifier) Predict(input []float32) ([]float32, error) {
	if f.doPanic {
		panic("backend fault")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float32, len(f.out))
	copy(out, f.out)
	return out, nil
}

func (f *fakeClassifier) InputSize() int {
	if f.size > 0 {
		return f.size
	}
	return 224
}

func (f *fakeClassifier) Layout() model.Layout { return f.layout }
func (f *fakeClassifier) NumClasses() int      { return f.classes }

func (f *fakeClassifier) Close() error {
	f.closed = true
	return nil
}

// fakeFactory scripts per-artifact outcomes, keyed by artifact path.
type fakeFactory struct {
	outputs map[string][]float32
	errs    map[string]error
	delays  map[string]time.Duration
	created []*fakeClassifier
}

func (f *fakeFactory) New(level taxonomy.Rank, numClasses int, artifactPath string) (model.Classifier, error) {
	if err, ok := f.errs[artifactPath]; ok {
		return nil, err
	}
	out, ok := f.outputs[artifactPath]
	if !ok {
		return nil, fmt.Errorf("no scripted output for %s", artifactPath)
	}
	c := &fakeClassifier{classes: numClasses, out: out, size: 8, delay: f.delays[artifactPath]}
	f.created = append(f.created, c)
	return c, nil
}

// writeClassMap writes a class map JSON file into dir and returns its path.
func writeClassMap(t *testing.T, dir, name string, classes map[string]int) string {
	t.Helper()
	data, err := json.Marshal(classes)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// descriptor builds an available manifest descriptor for tests.
func descriptor(level taxonomy.Rank, key, modelFile, classesFile string) inventory.ModelDescriptor {
	return inventory.ModelDescriptor{
		Level:       level,
		Key:         key,
		ModelFile:   modelFile,
		ClassesFile: classesFile,
		Available:   true,
	}
}

// mustParseClassMap parses an inline class map.
func mustParseClassMap(t *testing.T, classes map[string]int) *ClassMap {
	t.Helper()
	data, err := json.Marshal(classes)
	require.NoError(t, err)
	m, err := ParseClassMap(data)
	require.NoError(t, err)
	return m
}
