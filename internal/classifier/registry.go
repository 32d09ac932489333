package classifier

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/insectid/insectid-go/internal/errors"
	"github.com/insectid/insectid-go/internal/inventory"
	"github.com/insectid/insectid-go/internal/model"
	"github.com/insectid/insectid-go/internal/taxonomy"
)

// ErrRegistryEmpty is fatal: not a single classifier loaded, the engine has
// nothing to do.
var ErrRegistryEmpty = fmt.Errorf("no classifier loaded")

// Handle is one owned, ready-to-infer classifier bound to its class map and
// level. Immutable after construction; shared read-only across concurrent
// inferences.
type Handle struct {
	Key     string
	Level   taxonomy.Rank
	Model   model.Classifier
	Classes *ClassMap
}

// Outcome records the load result of one manifest descriptor.
type Outcome struct {
	Key   string
	Level taxonomy.Rank
	OK    bool
	Err   error
}

// LoadReport collects per-descriptor outcomes of one registry load so the
// caller sees exactly what degraded, instead of scraping logs.
type LoadReport struct {
	Outcomes []Outcome
}

// Loaded counts successfully loaded descriptors.
func (r *LoadReport) Loaded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK {
			n++
		}
	}
	return n
}

// Failed counts descriptors that were skipped on load failure.
func (r *LoadReport) Failed() int {
	return len(r.Outcomes) - r.Loaded()
}

// Registry maps registry keys to classifier handles. Built once, immutable
// afterwards, safe for concurrent readers with no locking on the hot path.
type Registry struct {
	handles map[string]*Handle
	router  *Router
	report  LoadReport
}

// LoadRegistry constructs handles for every available descriptor in the
// inventory. A failure on one descriptor (unreadable weights, malformed
// class map) is non-fatal: it is logged, recorded in the report and the rest
// keep loading. Only a registry with zero loaded classifiers fails, with
// ErrRegistryEmpty.
func LoadRegistry(inv *inventory.Inventory, factory model.Factory) (*Registry, error) {
	log := GetLogger()
	reg := &Registry{
		handles: make(map[string]*Handle),
		router:  newRouter(),
	}

	for _, level := range taxonomy.Ranks {
		for _, desc := range inv.ForLevel(level) {
			if !desc.Available {
				continue
			}
			handle, err := loadHandle(desc, factory)
			reg.report.Outcomes = append(reg.report.Outcomes, Outcome{
				Key:   desc.Key,
				Level: desc.Level,
				OK:    err == nil,
				Err:   err,
			})
			if err != nil {
				log.Warn("skipping classifier, load failed",
					"key", desc.Key,
					"level", string(desc.Level),
					"error", err)
				continue
			}
			if prev, dup := reg.handles[desc.Key]; dup {
				log.Warn("duplicate registry key, overwriting earlier registration",
					"key", desc.Key,
					"previous_level", string(prev.Level))
				_ = prev.Model.Close()
			}
			reg.handles[desc.Key] = handle
			reg.router.register(desc.Level, desc.Key, desc.Priority)
		}
	}
	reg.router.freeze()

	if len(reg.handles) == 0 {
		return nil, errors.New(fmt.Errorf("%w: %d descriptors attempted", ErrRegistryEmpty, len(reg.report.Outcomes))).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("descriptors_attempted", len(reg.report.Outcomes)).
			Build()
	}

	log.Info("classifier registry loaded",
		"loaded", reg.report.Loaded(),
		"failed", reg.report.Failed())
	return reg, nil
}

// loadHandle builds one ClassifierHandle: class map first (a malformed map
// is an integrity error), then a model sized to the class count.
func loadHandle(desc inventory.ModelDescriptor, factory model.Factory) (*Handle, error) {
	if desc.ClassesFile == "" {
		return nil, errors.Newf("descriptor %s has no class map file", desc.Key).
			Component("classifier").
			Category(errors.CategoryClassMap).
			Context("key", desc.Key).
			Build()
	}
	classes, err := LoadClassMap(desc.ClassesFile)
	if err != nil {
		return nil, err
	}
	m, err := factory.New(desc.Level, classes.Len(), desc.ModelFile)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Key:     desc.Key,
		Level:   desc.Level,
		Model:   m,
		Classes: classes,
	}, nil
}

// Lookup returns the handle for a registry key. O(1), safe for concurrent
// callers once loading has completed.
func (reg *Registry) Lookup(key string) (*Handle, bool) {
	h, ok := reg.handles[key]
	return h, ok
}

// Router returns the level router built over this registry's keys.
func (reg *Registry) Router() *Router { return reg.router }

// Report returns the per-descriptor load report.
func (reg *Registry) Report() *LoadReport { return &reg.report }

// Len returns the number of loaded classifiers.
func (reg *Registry) Len() int { return len(reg.handles) }

// Close releases every handle's backend resources.
func (reg *Registry) Close() {
	for _, h := range reg.handles {
		_ = h.Model.Close()
	}
}

// Store publishes an immutable Registry to concurrent readers. Warm is the
// one-time initialization barrier; Reload swaps in a freshly loaded registry
// without disturbing readers of the old one, and leaves the old registry in
// place when the reload fails.
type Store struct {
	mu      sync.Mutex
	once    sync.Once
	warmErr error
	current atomic.Pointer[Registry]
}

// NewStore returns an empty registry store.
func NewStore() *Store { return &Store{} }

// Warm runs load exactly once, publishing the result. Concurrent callers
// block until the first load completes and share its outcome.
func (s *Store) Warm(load func() (*Registry, error)) error {
	s.once.Do(func() {
		reg, err := load()
		if err != nil {
			s.warmErr = err
			return
		}
		s.current.Store(reg)
	})
	return s.warmErr
}

// Reload builds a new registry and atomically replaces the current one,
// closing the replaced handles. On failure the previous registry stays
// active and the error is returned.
func (s *Store) Reload(load func() (*Registry, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := load()
	if err != nil {
		GetLogger().Warn("registry reload failed, keeping previous registry", "error", err)
		return err
	}
	old := s.current.Swap(reg)
	if old != nil {
		old.Close()
	}
	return nil
}

// Current returns the published registry, or nil before a successful Warm.
func (s *Store) Current() *Registry {
	return s.current.Load()
}
