// Package classify implements the classify subcommand: run the cascade over
// an image with detector-supplied boxes and order labels.
package classify

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for header probing
	_ "image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/insectid/insectid-go/internal/conf"
	"github.com/insectid/insectid-go/internal/detection"
	"github.com/insectid/insectid-go/internal/engine"
	"github.com/insectid/insectid-go/internal/model"
)

// Command creates the classify command.
func Command(ctx *conf.Context) *cobra.Command {
	var (
		orderLabel string
		orderConf  float64
		bboxes     []string
		asJSON     bool
		cropsDir   string
	)

	cmd := &cobra.Command{
		Use:   "classify [image]",
		Short: "Classify detections in an image through the taxonomic cascade",
		Long: `Classify runs the hierarchical cascade (order > family > genus > species)
over each supplied bounding box of the input image. Without --bbox the whole
image is treated as a single detection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cropsDir != "" {
				ctx.Settings.CropsDir = cropsDir
			}

			detections, err := parseDetections(bboxes, orderLabel, orderConf, args[0])
			if err != nil {
				return err
			}

			factory := &model.TFLiteFactory{Policy: ctx.Settings.BackendPolicy()}
			eng := engine.New(ctx.Settings, factory, nil)

			records, err := eng.ClassifyImageFile(cmd.Context(), args[0], detections)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			printRecords(records)
			return nil
		},
	}

	cmd.Flags().StringVar(&orderLabel, "order", "", "Detector-supplied order label (default Unknown)")
	cmd.Flags().Float64Var(&orderConf, "order-confidence", 0, "Confidence of the order label")
	cmd.Flags().StringArrayVar(&bboxes, "bbox", nil, "Bounding box x1,y1,x2,y2 (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON records")
	cmd.Flags().StringVar(&cropsDir, "crops-dir", "", "Persist detection crops into this directory")

	return cmd
}

// parseDetections builds the detection list from the --bbox flags; without
// any, the whole image becomes one detection.
func parseDetections(bboxes []string, orderLabel string, orderConf float64, imagePath string) ([]detection.Detection, error) {
	if len(bboxes) == 0 {
		w, h, err := imageSize(imagePath)
		if err != nil {
			return nil, err
		}
		return []detection.Detection{{
			BBox:            [4]int{0, 0, w, h},
			OrderLabel:      orderLabel,
			OrderConfidence: orderConf,
		}}, nil
	}

	detections := make([]detection.Detection, 0, len(bboxes))
	for _, spec := range bboxes {
		parts := strings.Split(spec, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid bbox %q, want x1,y1,x2,y2", spec)
		}
		var box [4]int
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
			}
			box[i] = v
		}
		detections = append(detections, detection.Detection{
			BBox:            box,
			OrderLabel:      orderLabel,
			OrderConfidence: orderConf,
		})
	}
	return detections, nil
}

// imageSize reads the image header without decoding the pixels.
func imageSize(path string) (w, h int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = f.Close() }()

	cfg, _, err := imageConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("reading image header %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

func imageConfig(r io.Reader) (image.Config, string, error) {
	return image.DecodeConfig(r)
}

func printRecords(records []detection.Record) {
	if len(records) == 0 {
		fmt.Println("no detections classified")
		return
	}
	for _, rec := range records {
		fmt.Printf("detection %d bbox=%v\n", rec.DetectionIndex, rec.BBox)
		for _, cls := range rec.Classification {
			fmt.Printf("  %-18s %-24s %.3f\n", cls.Level, cls.ClassName, cls.Confidence)
		}
		if rec.CropRef != "" {
			fmt.Printf("  crop: %s\n", rec.CropRef)
		}
	}
}
