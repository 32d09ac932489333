// Package engine wires inventory, registry, cascade and detection bridge
// into one process-wide classification engine with lazy warm-up.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/insectid/insectid-go/internal/classifier"
	"github.com/insectid/insectid-go/internal/conf"
	"github.com/insectid/insectid-go/internal/detection"
	"github.com/insectid/insectid-go/internal/errors"
	"github.com/insectid/insectid-go/internal/inventory"
	"github.com/insectid/insectid-go/internal/logging"
	"github.com/insectid/insectid-go/internal/model"
	"github.com/insectid/insectid-go/internal/observability/metrics"
)

var (
	serviceLogger *slog.Logger
	initOnce      sync.Once
)

// GetLogger returns the engine package logger.
func GetLogger() *slog.Logger {
	initOnce.Do(func() {
		serviceLogger = logging.ForModule("engine")
	})
	return serviceLogger
}

// Engine owns the registry store and exposes classification entry points.
// The registry is loaded once on first use behind the store's warm barrier
// and shared read-only by concurrent requests afterwards.
type Engine struct {
	settings *conf.Settings
	factory  model.Factory
	metrics  *metrics.CascadeMetrics
	store    *classifier.Store
}

// New builds an engine. metrics may be nil.
func New(settings *conf.Settings, factory model.Factory, m *metrics.CascadeMetrics) *Engine {
	return &Engine{
		settings: settings,
		factory:  factory,
		metrics:  m,
		store:    classifier.NewStore(),
	}
}

// load reads the manifest and builds a registry from it. An absent manifest
// degrades to an empty inventory, which then surfaces as ErrRegistryEmpty.
func (e *Engine) load() (*classifier.Registry, error) {
	inv, err := inventory.Load(e.settings.ManifestPath)
	if err != nil {
		if !errors.Is(err, inventory.ErrInventoryMissing) {
			return nil, err
		}
		GetLogger().Warn("classifier manifest missing, starting with empty inventory",
			"path", e.settings.ManifestPath)
	}
	reg, err := classifier.LoadRegistry(inv, e.factory)
	if err != nil {
		return nil, err
	}
	e.metrics.SetRegistrySize(reg.Len())
	return reg, nil
}

// Registry returns the warmed registry, loading it on first call. A failed
// warm-up is sticky for the barrier; Reload is the retry path.
func (e *Engine) Registry() (*classifier.Registry, error) {
	if reg := e.store.Current(); reg != nil {
		return reg, nil
	}
	if err := e.store.Warm(e.load); err != nil {
		return nil, err
	}
	return e.store.Current(), nil
}

// Reload rebuilds the registry from the manifest. The previous registry
// keeps serving if the reload fails.
func (e *Engine) Reload() error {
	return e.store.Reload(e.load)
}

// Bridge returns a detection bridge over the warmed registry. Crop
// persistence is enabled when the settings name a crops directory.
func (e *Engine) Bridge() (*detection.Bridge, error) {
	reg, err := e.Registry()
	if err != nil {
		return nil, err
	}
	cascade := classifier.NewCascade(reg,
		classifier.WithTopK(e.settings.TopK),
		classifier.WithLevelTimeout(e.settings.LevelTimeout),
		classifier.WithMetrics(e.metrics),
	)
	var store detection.CropStore
	if e.settings.CropsDir != "" {
		store = detection.NewDirStore(e.settings.CropsDir)
	}
	return detection.NewBridge(cascade, store, e.metrics), nil
}

// ClassifyImageFile loads the image at path and classifies every detection
// against it.
func (e *Engine) ClassifyImageFile(ctx context.Context, path string, detections []detection.Detection) ([]detection.Record, error) {
	bridge, err := e.Bridge()
	if err != nil {
		return nil, err
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("engine").
			Category(errors.CategoryImage).
			Context("path", path).
			Build()
	}
	return bridge.Process(ctx, img, detections), nil
}
