package classifier

import (
	"sort"
	"strings"
	"sync"

	"github.com/insectid/insectid-go/internal/taxonomy"
)

// routeCandidate is one registered child-level key, frozen at registry load.
type routeCandidate struct {
	key      string
	lowered  string
	priority int
	regIndex int
}

// Router resolves the child classifier key for a resolved parent label.
//
// Candidates per child level are fixed at registry load time and ordered by
// manifest priority (higher first), then registration order. Resolution
// strips the parent rank suffix, lowercases, and picks the first candidate
// whose key contains the bare name; results are memoized so repeated lookups
// are O(1) and frozen for the registry's lifetime. A miss is a normal
// outcome, not a fault.
type Router struct {
	candidates map[taxonomy.Rank][]routeCandidate

	mu    sync.Mutex
	memo  map[taxonomy.Rank]map[string]string
	warns map[string]bool // ambiguity warned once per level+bare name
}

// newRouter builds a router from per-level keys in registration order with
// their manifest priorities.
func newRouter() *Router {
	return &Router{
		candidates: make(map[taxonomy.Rank][]routeCandidate),
		memo:       make(map[taxonomy.Rank]map[string]string),
		warns:      make(map[string]bool),
	}
}

// register adds a child-level key. Called only during registry load. A key
// re-registered at the same level keeps its original position; the registry
// already replaced the handle behind it.
func (rt *Router) register(level taxonomy.Rank, key string, priority int) {
	cands := rt.candidates[level]
	for _, cand := range cands {
		if cand.key == key {
			return
		}
	}
	cands = append(cands, routeCandidate{
		key:      key,
		lowered:  strings.ToLower(key),
		priority: priority,
		regIndex: len(cands),
	})
	rt.candidates[level] = cands
}

// freeze orders every level's candidates by priority, then registration
// order. Called once when registry load completes.
func (rt *Router) freeze() {
	for level := range rt.candidates {
		cands := rt.candidates[level]
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].priority != cands[j].priority {
				return cands[i].priority > cands[j].priority
			}
			return cands[i].regIndex < cands[j].regIndex
		})
	}
}

// Resolve derives the registry key of the childLevel classifier for a parent
// label. The second return is false when no classifier matches.
func (rt *Router) Resolve(parentLabel string, childLevel taxonomy.Rank) (string, bool) {
	bare := taxonomy.BareName(parentLabel, childLevel.Parent())
	if bare == "" {
		return "", false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if levelMemo, ok := rt.memo[childLevel]; ok {
		if key, ok := levelMemo[bare]; ok {
			return key, key != ""
		}
	}

	var matches []routeCandidate
	for _, cand := range rt.candidates[childLevel] {
		if strings.Contains(cand.lowered, bare) {
			matches = append(matches, cand)
		}
	}

	key := ""
	if len(matches) > 0 {
		key = matches[0].key
	}
	if len(matches) > 1 {
		warnKey := string(childLevel) + "|" + bare
		if !rt.warns[warnKey] {
			rt.warns[warnKey] = true
			GetLogger().Warn("ambiguous route, first registered key wins",
				"level", string(childLevel),
				"bare_name", bare,
				"selected", key,
				"candidates", len(matches))
		}
	}

	if rt.memo[childLevel] == nil {
		rt.memo[childLevel] = make(map[string]string)
	}
	rt.memo[childLevel][bare] = key

	return key, key != ""
}
