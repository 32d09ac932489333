package classifier

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/insectid/insectid-go/internal/model"
)

// ImageNet normalization constants; all shipped classifiers were trained
// with this preprocessing.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Prediction is one class with its softmax probability.
type Prediction struct {
	Name       string
	Confidence float64
	Index      int
}

// Infer runs one classifier against one image region: resize to the
// classifier's canonical square input, per-channel normalize, forward pass,
// softmax, top min(k, N) extraction.
//
// Any failure during preprocessing or the forward pass (corrupt region,
// backend fault, backend panic) is absorbed: it is logged and reported as
// (nil, false), which the cascade treats exactly like a router miss.
func Infer(ctx context.Context, h *Handle, region image.Image, k int) (preds []Prediction, ok bool) {
	if err := ctx.Err(); err != nil {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			GetLogger().Warn("inference panic recovered",
				"key", h.Key,
				"level", string(h.Level),
				"panic", r)
			preds, ok = nil, false
		}
	}()

	if region == nil || region.Bounds().Empty() {
		GetLogger().Warn("empty inference region", "key", h.Key)
		return nil, false
	}

	input := preprocess(region, h.Model.InputSize(), h.Model.Layout())

	raw, err := h.Model.Predict(input)
	if err != nil {
		GetLogger().Warn("inference failed",
			"key", h.Key,
			"level", string(h.Level),
			"error", err)
		return nil, false
	}
	if len(raw) == 0 {
		GetLogger().Warn("inference produced no output", "key", h.Key)
		return nil, false
	}

	probs := softmax(raw)
	return topK(probs, h.Classes, k), true
}

// preprocess resizes the region to a size*size square and normalizes each
// channel with the ImageNet constants, producing a float32 tensor in the
// requested layout.
func preprocess(region image.Image, size int, layout model.Layout) []float32 {
	resized := imaging.Resize(region, size, size, imaging.Lanczos)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3 : x*4+3]
			pos := y*size + x
			for c := 0; c < 3; c++ {
				v := (float32(px[c])/255.0 - imagenetMean[c]) / imagenetStd[c]
				if layout == model.NHWC {
					out[pos*3+c] = v
				} else {
					out[c*plane+pos] = v
				}
			}
		}
	}
	return out
}

// softmax converts raw scores into a probability distribution. Accumulation
// happens in float64 with max subtraction for numerical stability.
func softmax(raw []float32) []float64 {
	maxv := float64(raw[0])
	for _, v := range raw[1:] {
		if float64(v) > maxv {
			maxv = float64(v)
		}
	}
	exp := make([]float64, len(raw))
	sum := 0.0
	for i, v := range raw {
		exp[i] = math.Exp(float64(v) - maxv)
		sum += exp[i]
	}
	for i := range exp {
		exp[i] /= sum
	}
	return exp
}

// topK extracts the min(k, N) highest-probability classes, descending, ties
// broken by ascending original class index, mapped to names via the inverse
// class map.
func topK(probs []float64, classes *ClassMap, k int) []Prediction {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if probs[idx[a]] != probs[idx[b]] {
			return probs[idx[a]] > probs[idx[b]]
		}
		return idx[a] < idx[b]
	})

	if k > len(idx) {
		k = len(idx)
	}
	if k < 0 {
		k = 0
	}
	preds := make([]Prediction, 0, k)
	for _, i := range idx[:k] {
		preds = append(preds, Prediction{
			Name:       classes.Name(i),
			Confidence: probs[i],
			Index:      i,
		})
	}
	return preds
}
