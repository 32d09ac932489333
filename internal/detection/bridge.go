// Package detection maps upstream detector output onto the classification
// cascade: per-detection crops in, flattened per-level records out.
package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/insectid/insectid-go/internal/classifier"
	"github.com/insectid/insectid-go/internal/logging"
	"github.com/insectid/insectid-go/internal/observability/metrics"
)

var (
	serviceLogger *slog.Logger
	initOnce      sync.Once
)

// GetLogger returns the detection package logger.
func GetLogger() *slog.Logger {
	initOnce.Do(func() {
		serviceLogger = logging.ForModule("detection")
	})
	return serviceLogger
}

// UnknownOrder is the order label used when the detector supplied none.
const UnknownOrder = "Unknown"

// Detection is one upstream detector hit: a bounding box plus the detector's
// order-level guess.
type Detection struct {
	// BBox is x1, y1, x2, y2 in source image pixels.
	BBox [4]int `json:"bbox"`
	// OrderLabel is the detector's order-level classification, "" if absent.
	OrderLabel string `json:"order_label,omitempty"`
	// OrderConfidence is the confidence of the order-level guess.
	OrderConfidence float64 `json:"order_confidence,omitempty"`
}

// ClassRecord is one entry of the flattened per-level classification list
// consumed by downstream collaborators, keyed by ClassName.
type ClassRecord struct {
	ClassIndex int     `json:"class"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Level      string  `json:"level"`
}

// Record is the per-detection output: the flattened classification list in
// fixed order (order, family, genus, species, numbered species candidates),
// the hierarchical result, and the original box and input position.
type Record struct {
	DetectionIndex int                         `json:"detection_idx"`
	BBox           [4]int                      `json:"bbox"`
	Classification []ClassRecord               `json:"classification"`
	Hierarchical   *classifier.TaxonomicResult `json:"hierarchical_result"`
	CropRef        string                      `json:"crop_path,omitempty"`
}

// CropStore persists detection crops. Implementations are external
// collaborators; failures are non-fatal to classification.
type CropStore interface {
	Save(ctx context.Context, detectionIndex int, crop image.Image) (ref string, err error)
}

// Bridge invokes the cascade per detection and flattens the results.
type Bridge struct {
	cascade *classifier.Cascade
	store   CropStore // nil disables crop persistence
	metrics *metrics.CascadeMetrics
}

// NewBridge builds a detection bridge. store may be nil.
func NewBridge(cascade *classifier.Cascade, store CropStore, m *metrics.CascadeMetrics) *Bridge {
	return &Bridge{cascade: cascade, store: store, metrics: m}
}

// Process classifies every detection against the source image. Detections
// with degenerate boxes are skipped entirely: absent from the output, no
// error raised for the batch.
func (b *Bridge) Process(ctx context.Context, img image.Image, detections []Detection) []Record {
	log := GetLogger()
	records := make([]Record, 0, len(detections))

	for idx, det := range detections {
		rect, ok := clampBox(det.BBox, img.Bounds())
		if !ok {
			log.Debug("skipping detection with degenerate bounding box",
				"detection_idx", idx,
				"bbox", fmt.Sprint(det.BBox))
			b.metrics.RecordSkippedDetection()
			continue
		}

		crop := imaging.Crop(img, rect)

		orderLabel := det.OrderLabel
		if orderLabel == "" {
			orderLabel = UnknownOrder
		}

		result := b.cascade.Classify(ctx, crop, orderLabel)

		rec := Record{
			DetectionIndex: idx,
			BBox:           det.BBox,
			Classification: flatten(result, det.OrderConfidence),
			Hierarchical:   result,
		}

		if b.store != nil {
			ref, err := b.store.Save(ctx, idx, crop)
			if err != nil {
				log.Warn("crop persistence failed",
					"detection_idx", idx,
					"error", err)
			} else {
				rec.CropRef = ref
			}
		}

		records = append(records, rec)
	}
	return records
}

// clampBox clamps a bounding box against the image bounds. The second
// return is false for boxes that are empty after clamping.
func clampBox(box [4]int, bounds image.Rectangle) (image.Rectangle, bool) {
	rect := image.Rect(box[0], box[1], box[2], box[3]).Intersect(bounds)
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return image.Rectangle{}, false
	}
	return rect, true
}

// flatten builds the legacy per-level record list: order first (always
// present, with the detector's confidence), then each resolved level, then
// numbered species candidates from second place onward.
func flatten(result *classifier.TaxonomicResult, orderConfidence float64) []ClassRecord {
	records := []ClassRecord{{
		ClassIndex: 0,
		ClassName:  result.Order,
		Confidence: orderConfidence,
		Level:      "order",
	}}

	if result.Family != "" {
		records = append(records, ClassRecord{
			ClassIndex: 1,
			ClassName:  result.Family,
			Confidence: result.ConfidenceScores["family"],
			Level:      "family",
		})
	}
	if result.Genus != "" {
		records = append(records, ClassRecord{
			ClassIndex: 2,
			ClassName:  result.Genus,
			Confidence: result.ConfidenceScores["genus"],
			Level:      "genus",
		})
	}
	if result.Species != "" {
		records = append(records, ClassRecord{
			ClassIndex: 3,
			ClassName:  result.Species,
			Confidence: result.ConfidenceScores["species"],
			Level:      "species",
		})
		for i, cand := range result.SpeciesCandidates {
			if i == 0 {
				continue // top-1 already listed as the species entry
			}
			records = append(records, ClassRecord{
				ClassIndex: 3 + i,
				ClassName:  fmt.Sprintf("%s (후보 #%d)", cand.Name, i+1),
				Confidence: cand.Confidence,
				Level:      "species_candidate",
			})
		}
	}
	return records
}
