package classifier

import (
	"context"
	"image"
	"time"

	"github.com/insectid/insectid-go/internal/observability/metrics"
	"github.com/insectid/insectid-go/internal/taxonomy"
)

// DefaultTopK is the number of candidates extracted per inference when the
// caller does not configure one.
const DefaultTopK = 3

// Cascade drives the level router and the inference engine over the ordered
// levels family, genus, species, starting from an externally supplied order
// label. A registry is required; metrics and the per-level timeout are
// optional.
type Cascade struct {
	reg          *Registry
	topK         int
	levelTimeout time.Duration
	metrics      *metrics.CascadeMetrics
}

// CascadeOption configures a Cascade.
type CascadeOption func(*Cascade)

// WithTopK sets how many candidates each inference extracts.
func WithTopK(k int) CascadeOption {
	return func(c *Cascade) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithLevelTimeout bounds each level's inference. Expiry halts the cascade
// exactly like a router miss; levels resolved so far are kept.
func WithLevelTimeout(d time.Duration) CascadeOption {
	return func(c *Cascade) { c.levelTimeout = d }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.CascadeMetrics) CascadeOption {
	return func(c *Cascade) { c.metrics = m }
}

// NewCascade builds a cascade over a loaded registry.
func NewCascade(reg *Registry, opts ...CascadeOption) *Cascade {
	c := &Cascade{reg: reg, topK: DefaultTopK}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.SetRegistrySize(reg.Len())
	return c
}

// Classify runs the full cascade on one image region. The transition rule,
// applied once per level starting at family:
//
//  1. Resolve the child classifier key from the current label. Miss: halt,
//     remaining levels stay unset.
//  2. Run inference on the region. Failure or timeout: halt, same as a miss.
//  3. Record top-1 as the new current label and its confidence; at the
//     species level retain the full top-K as candidates.
//
// Both a full resolution and an early halt are valid terminal states; the
// cascade as a whole never fails.
func (c *Cascade) Classify(ctx context.Context, region image.Image, orderLabel string) *TaxonomicResult {
	if orderLabel == "" {
		orderLabel = "Unknown"
	}
	result := &TaxonomicResult{
		Order:            orderLabel,
		ConfidenceScores: make(map[string]float64),
	}

	log := GetLogger()
	current := orderLabel

	for _, level := range taxonomy.CascadeRanks {
		key, ok := c.reg.Router().Resolve(current, level)
		if !ok {
			log.Debug("no classifier for parent, cascade halted",
				"level", string(level),
				"parent", current)
			c.metrics.RecordHalt(string(level), "router_miss")
			break
		}
		handle, ok := c.reg.Lookup(key)
		if !ok {
			// Router keys come from the registry, so this is unreachable
			// unless the registry was mutated; treat it as a miss.
			c.metrics.RecordHalt(string(level), "router_miss")
			break
		}

		levelCtx, cancel := c.levelContext(ctx)
		start := time.Now()
		preds, ok := Infer(levelCtx, handle, region, c.topK)
		expired := levelCtx.Err() != nil
		cancel()
		c.metrics.ObserveInference(string(level), time.Since(start))
		if !ok || expired {
			// An expired level budget is treated identically to a router
			// miss: halt, keep the levels resolved so far.
			if expired {
				c.metrics.RecordHalt(string(level), "timeout")
			} else {
				c.metrics.RecordInferenceError(string(level))
				c.metrics.RecordHalt(string(level), "inference_failure")
			}
			break
		}

		top := preds[0]
		result.setLabel(level, top.Name, top.Confidence)
		c.metrics.RecordStage(string(level))
		log.Debug("level resolved",
			"level", string(level),
			"label", top.Name,
			"confidence", top.Confidence)

		if level == taxonomy.Species {
			result.SpeciesCandidates = dedupeCandidates(preds, c.topK)
		}
		current = top.Name
	}

	return result
}

// levelContext derives the per-level inference context.
func (c *Cascade) levelContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.levelTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.levelTimeout)
}

// dedupeCandidates removes duplicate class names while preserving the
// descending order, capped at k entries.
func dedupeCandidates(preds []Prediction, k int) []Candidate {
	seen := make(map[string]bool, len(preds))
	out := make([]Candidate, 0, min(k, len(preds)))
	for _, p := range preds {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, Candidate{Name: p.Name, Confidence: p.Confidence})
		if len(out) == k {
			break
		}
	}
	return out
}
