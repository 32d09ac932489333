package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insectid/insectid-go/internal/classifier"
	"github.com/insectid/insectid-go/internal/inventory"
	"github.com/insectid/insectid-go/internal/model"
	"github.com/insectid/insectid-go/internal/taxonomy"
)

// scriptedClassifier returns a fixed output vector for every Predict call.
type scriptedClassifier struct {
	classes int
	out     []float32
}

func (s *scriptedClassifier) Predict([]float32) ([]float32, error) {
	out := make([]float32, len(s.out))
	copy(out, s.out)
	return out, nil
}

func (s *scriptedClassifier) InputSize() int       { return 8 }
func (s *scriptedClassifier) Layout() model.Layout { return model.NCHW }
func (s *scriptedClassifier) NumClasses() int      { return s.classes }
func (s *scriptedClassifier) Close() error         { return nil }

// scriptedFactory maps artifact paths to output vectors.
type scriptedFactory struct {
	outputs map[string][]float32
}

func (f *scriptedFactory) New(_ taxonomy.Rank, numClasses int, artifactPath string) (model.Classifier, error) {
	out, ok := f.outputs[artifactPath]
	if !ok {
		return nil, fmt.Errorf("no scripted output for %s", artifactPath)
	}
	return &scriptedClassifier{classes: numClasses, out: out}, nil
}

func writeClasses(t *testing.T, dir, name string, classes map[string]int) string {
	t.Helper()
	data, err := json.Marshal(classes)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// testCascade resolves 파리목 down to species, with two species candidates.
func testCascade(t *testing.T) *classifier.Cascade {
	t.Helper()
	dir := t.TempDir()

	family := writeClasses(t, dir, "family.json", map[string]int{"털파리과": 0, "꽃등에과": 1})
	genus := writeClasses(t, dir, "genus.json", map[string]int{"털파리속": 0})
	species := writeClasses(t, dir, "species.json", map[string]int{"검털파리": 0, "붉은배털파리": 1, "어리수중다리털파리": 2})

	mk := func(level taxonomy.Rank, key, modelFile, classesFile string) inventory.ModelDescriptor {
		return inventory.ModelDescriptor{
			Level: level, Key: key, ModelFile: modelFile, ClassesFile: classesFile, Available: true,
		}
	}
	inv := &inventory.Inventory{Descriptors: []inventory.ModelDescriptor{
		mk(taxonomy.Family, "best_파리_family_classifier", "family.tflite", family),
		mk(taxonomy.Genus, "best_털파리_genus_classifier", "genus.tflite", genus),
		mk(taxonomy.Species, "best_털파리_species_classifier", "species.tflite", species),
	}}
	factory := &scriptedFactory{outputs: map[string][]float32{
		"family.tflite":  {3, 0},
		"genus.tflite":   {1},
		"species.tflite": {3, 2, 1},
	}}

	reg, err := classifier.LoadRegistry(inv, factory)
	require.NoError(t, err)
	return classifier.NewCascade(reg)
}

func sourceImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 5), B: 40, A: 255})
		}
	}
	return img
}

func TestBridge_DegenerateBoxesSkippedSilently(t *testing.T) {
	t.Parallel()

	b := NewBridge(testCascade(t), nil, nil)
	detections := []Detection{
		{BBox: [4]int{30, 10, 20, 40}, OrderLabel: "파리목"}, // x2 <= x1
		{BBox: [4]int{10, 25, 50, 25}, OrderLabel: "파리목"}, // zero height
		{BBox: [4]int{5, 5, 40, 40}, OrderLabel: "파리목"},
	}

	records := b.Process(context.Background(), sourceImage(), detections)

	// The two degenerate detections are simply absent; the batch did not fail.
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].DetectionIndex)
	assert.Equal(t, [4]int{5, 5, 40, 40}, records[0].BBox)
}

func TestBridge_OutOfBoundsBoxClamped(t *testing.T) {
	t.Parallel()

	b := NewBridge(testCascade(t), nil, nil)
	records := b.Process(context.Background(), sourceImage(), []Detection{
		{BBox: [4]int{-20, -10, 200, 100}, OrderLabel: "파리목"},
	})

	require.Len(t, records, 1)
	// The original box is reported even though the crop was clamped.
	assert.Equal(t, [4]int{-20, -10, 200, 100}, records[0].BBox)
	assert.Equal(t, "파리목", records[0].Hierarchical.Order)
}

func TestBridge_FlattenedRecordLayout(t *testing.T) {
	t.Parallel()

	b := NewBridge(testCascade(t), nil, nil)
	records := b.Process(context.Background(), sourceImage(), []Detection{
		{BBox: [4]int{0, 0, 32, 32}, OrderLabel: "파리목", OrderConfidence: 0.88},
	})
	require.Len(t, records, 1)

	cls := records[0].Classification
	require.Len(t, cls, 6)

	assert.Equal(t, ClassRecord{ClassIndex: 0, ClassName: "파리목", Confidence: 0.88, Level: "order"}, cls[0])

	assert.Equal(t, 1, cls[1].ClassIndex)
	assert.Equal(t, "털파리과", cls[1].ClassName)
	assert.Equal(t, "family", cls[1].Level)

	assert.Equal(t, 2, cls[2].ClassIndex)
	assert.Equal(t, "털파리속", cls[2].ClassName)
	assert.Equal(t, "genus", cls[2].Level)

	assert.Equal(t, 3, cls[3].ClassIndex)
	assert.Equal(t, "검털파리", cls[3].ClassName)
	assert.Equal(t, "species", cls[3].Level)

	// Candidates start at second place, numbered from 2.
	assert.Equal(t, 4, cls[4].ClassIndex)
	assert.Equal(t, "붉은배털파리 (후보 #2)", cls[4].ClassName)
	assert.Equal(t, "species_candidate", cls[4].Level)
	assert.Equal(t, 5, cls[5].ClassIndex)
	assert.Equal(t, "어리수중다리털파리 (후보 #3)", cls[5].ClassName)

	for i := 1; i < 4; i++ {
		assert.Greater(t, cls[i].Confidence, 0.0)
	}
}

func TestBridge_MissingOrderLabelDefaultsToUnknown(t *testing.T) {
	t.Parallel()

	b := NewBridge(testCascade(t), nil, nil)
	records := b.Process(context.Background(), sourceImage(), []Detection{
		{BBox: [4]int{0, 0, 16, 16}},
	})
	require.Len(t, records, 1)

	cls := records[0].Classification
	require.NotEmpty(t, cls)
	assert.Equal(t, UnknownOrder, cls[0].ClassName)
	assert.Equal(t, UnknownOrder, records[0].Hierarchical.Order)
	// "Unknown" routes nowhere, so the flattened list stops at the order entry.
	assert.Len(t, cls, 1)
}

type failingStore struct{ calls int }

func (f *failingStore) Save(context.Context, int, image.Image) (string, error) {
	f.calls++
	return "", fmt.Errorf("disk full")
}

func TestBridge_CropStoreFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	store := &failingStore{}
	b := NewBridge(testCascade(t), store, nil)
	records := b.Process(context.Background(), sourceImage(), []Detection{
		{BBox: [4]int{0, 0, 32, 32}, OrderLabel: "파리목"},
	})

	require.Len(t, records, 1)
	assert.Equal(t, 1, store.calls)
	assert.Empty(t, records[0].CropRef)
	assert.Equal(t, "털파리과", records[0].Hierarchical.Family)
}

func TestDirStore_SaveWritesCropFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "crops")
	store := NewDirStore(dir)

	crop := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	ref, err := store.Save(context.Background(), 7, crop)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(ref), "crop_007_"))
	assert.True(t, strings.HasSuffix(ref, ".jpg"))
	info, err := os.Stat(ref)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestDirStore_SaveCancelledContext(t *testing.T) {
	t.Parallel()

	store := NewDirStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Save(ctx, 0, image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	assert.ErrorIs(t, err, context.Canceled)
}
