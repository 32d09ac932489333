// Package api exposes the classification engine over HTTP: detections with
// an image in, flattened classification records out.
package api

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/insectid/insectid-go/internal/classifier"
	"github.com/insectid/insectid-go/internal/detection"
	"github.com/insectid/insectid-go/internal/engine"
	"github.com/insectid/insectid-go/internal/errors"
	"github.com/insectid/insectid-go/internal/logging"
)

var (
	serviceLogger *slog.Logger
	initOnce      sync.Once
)

// GetLogger returns the api package logger.
func GetLogger() *slog.Logger {
	initOnce.Do(func() {
		serviceLogger = logging.ForModule("api")
	})
	return serviceLogger
}

// maxUploadBytes caps the multipart image payload.
const maxUploadBytes = 32 << 20

// Controller manages the API routes and handlers.
type Controller struct {
	Echo   *echo.Echo
	engine *engine.Engine
	logger *slog.Logger
}

// New creates the API controller and registers its routes.
func New(eng *engine.Engine) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%d", maxUploadBytes)))

	c := &Controller{
		Echo:   e,
		engine: eng,
		logger: GetLogger(),
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	g := c.Echo.Group("/api/v1")
	g.GET("/health", c.Health)
	g.GET("/inventory", c.Inventory)
	g.POST("/classify", c.Classify)
	g.POST("/reload", c.Reload)
}

// Health reports registry readiness.
func (c *Controller) Health(ctx echo.Context) error {
	reg, err := c.engine.Registry()
	if err != nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"classifiers": reg.Len(),
	})
}

// inventoryOutcome is one manifest entry's load result.
type inventoryOutcome struct {
	Level string `json:"level"`
	Key   string `json:"key"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Inventory returns the per-classifier load report.
func (c *Controller) Inventory(ctx echo.Context) error {
	reg, err := c.engine.Registry()
	if err != nil {
		if errors.Is(err, classifier.ErrRegistryEmpty) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no classifier loaded")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	report := reg.Report()
	outcomes := make([]inventoryOutcome, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		out := inventoryOutcome{Level: string(o.Level), Key: o.Key, OK: o.OK}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		outcomes = append(outcomes, out)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"loaded":   report.Loaded(),
		"failed":   report.Failed(),
		"outcomes": outcomes,
	})
}

// Classify accepts a multipart form with an "image" file and an optional
// "detections" JSON array; without detections the whole image is classified
// as one detection.
func (c *Controller) Classify(ctx echo.Context) error {
	img, err := c.formImage(ctx)
	if err != nil {
		return err
	}

	detections, err := formDetections(ctx, img.Bounds())
	if err != nil {
		return err
	}

	bridge, err := c.engine.Bridge()
	if err != nil {
		if errors.Is(err, classifier.ErrRegistryEmpty) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no classifier loaded")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	records := bridge.Process(ctx.Request().Context(), img, detections)
	c.logger.Info("classify request served",
		"detections", len(detections),
		"records", len(records))
	return ctx.JSON(http.StatusOK, map[string]any{
		"records": records,
	})
}

// Reload rebuilds the registry from the manifest. The previous registry
// keeps serving if the reload fails.
func (c *Controller) Reload(ctx echo.Context) error {
	if err := c.engine.Reload(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.logger.Info("registry reloaded")
	return ctx.JSON(http.StatusOK, map[string]string{"status": "reloaded"})
}

// formImage decodes the uploaded image from the multipart form.
func (c *Controller) formImage(ctx echo.Context) (image.Image, error) {
	fileHeader, err := ctx.FormFile("image")
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "missing image file")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable image file")
	}
	defer func() { _ = f.Close() }()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("decoding image: %v", err))
	}
	return img, nil
}

// formDetections parses the "detections" form field. Absent or empty, the
// whole image is one detection with the optional "order" form fields.
func formDetections(ctx echo.Context, bounds image.Rectangle) ([]detection.Detection, error) {
	raw := ctx.FormValue("detections")
	if raw == "" {
		return []detection.Detection{{
			BBox:       [4]int{bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y},
			OrderLabel: ctx.FormValue("order"),
		}}, nil
	}

	var detections []detection.Detection
	if err := json.Unmarshal([]byte(raw), &detections); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("parsing detections: %v", err))
	}
	return detections, nil
}
