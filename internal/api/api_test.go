package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insectid/insectid-go/internal/conf"
	"github.com/insectid/insectid-go/internal/engine"
	"github.com/insectid/insectid-go/internal/model"
	"github.com/insectid/insectid-go/internal/taxonomy"
)

// stubClassifier returns one fixed output vector.
type stubClassifier struct {
	classes int
	out     []float32
}

func (s *stubClassifier) Predict([]float32) ([]float32, error) {
	out := make([]float32, len(s.out))
	copy(out, s.out)
	return out, nil
}

func (s *stubClassifier) InputSize() int       { return 8 }
func (s *stubClassifier) Layout() model.Layout { return model.NCHW }
func (s *stubClassifier) NumClasses() int      { return s.classes }
func (s *stubClassifier) Close() error         { return nil }

type stubFactory struct {
	outputs map[string][]float32
}

func (f *stubFactory) New(_ taxonomy.Rank, numClasses int, artifactPath string) (model.Classifier, error) {
	out, ok := f.outputs[filepath.Base(artifactPath)]
	if !ok {
		return nil, fmt.Errorf("no stub output for %s", artifactPath)
	}
	return &stubClassifier{classes: numClasses, out: out}, nil
}

const testManifest = `
levels:
  family:
    best_파리_family_classifier:
      available: true
      model_file: family.tflite
      classes_file: family_classes.json
  genus:
    best_털파리_genus_classifier:
      available: true
      model_file: genus.tflite
      classes_file: genus_classes.json
`

// newTestController writes a manifest plus class maps into a temp dir and
// builds a controller over a stub-backed engine.
func newTestController(t *testing.T) *Controller {
	t.Helper()
	dir := t.TempDir()

	writeJSON := func(name string, classes map[string]int) {
		data, err := json.Marshal(classes)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	writeJSON("family_classes.json", map[string]int{"털파리과": 0, "꽃등에과": 1})
	writeJSON("genus_classes.json", map[string]int{"털파리속": 0})

	manifest := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(testManifest), 0o644))

	settings := &conf.Settings{ManifestPath: manifest, TopK: 3}
	factory := &stubFactory{outputs: map[string][]float32{
		"family.tflite": {3, 0},
		"genus.tflite":  {1},
	}}
	return New(engine.New(settings, factory, nil))
}

func classifyBody(t *testing.T, detections string) (*bytes.Buffer, string) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 48, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 48; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 90, G: 120, B: 40, A: 255})
		}
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", "crop.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(fw, img))
	if detections != "" {
		require.NoError(t, w.WriteField("detections", detections))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status      string `json:"status"`
		Classifiers int    `json:"classifiers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Classifiers)
}

func TestHealth_EmptyRegistryUnavailable(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{ManifestPath: filepath.Join(t.TempDir(), "missing.yaml"), TopK: 3}
	c := New(engine.New(settings, &stubFactory{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInventory(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Loaded   int `json:"loaded"`
		Failed   int `json:"failed"`
		Outcomes []struct {
			Level string `json:"level"`
			Key   string `json:"key"`
			OK    bool   `json:"ok"`
		} `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Loaded)
	assert.Equal(t, 0, resp.Failed)
	require.Len(t, resp.Outcomes, 2)
	assert.Equal(t, "family", resp.Outcomes[0].Level)
	assert.True(t, resp.Outcomes[0].OK)
}

func TestClassify_WithDetections(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	body, contentType := classifyBody(t, `[{"bbox":[0,0,24,24],"order_label":"파리목","order_confidence":0.8}]`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	req.Header.Set(echoHeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Records []struct {
			DetectionIndex int `json:"detection_idx"`
			Classification []struct {
				ClassName string `json:"class_name"`
				Level     string `json:"level"`
			} `json:"classification"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)

	cls := resp.Records[0].Classification
	require.NotEmpty(t, cls)
	assert.Equal(t, "파리목", cls[0].ClassName)
	assert.Equal(t, "order", cls[0].Level)
	require.Greater(t, len(cls), 2)
	assert.Equal(t, "털파리과", cls[1].ClassName)
	assert.Equal(t, "털파리속", cls[2].ClassName)
}

func TestClassify_WholeImageWithoutDetections(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	body, contentType := classifyBody(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	req.Header.Set(echoHeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Records []struct {
			BBox [4]int `json:"bbox"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, [4]int{0, 0, 48, 32}, resp.Records[0].BBox)
}

func TestClassify_MissingImage(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	req.Header.Set(echoHeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassify_MalformedDetections(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	body, contentType := classifyBody(t, `{"not":"an array"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", body)
	req.Header.Set(echoHeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReload(t *testing.T) {
	t.Parallel()

	c := newTestController(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

const echoHeaderContentType = "Content-Type"
