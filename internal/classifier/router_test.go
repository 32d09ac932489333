package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insectid/insectid-go/internal/taxonomy"
)

func newTestRouter(keys map[taxonomy.Rank][]string) *Router {
	rt := newRouter()
	for level, ks := range keys {
		for _, k := range ks {
			rt.register(level, k, 0)
		}
	}
	rt.freeze()
	return rt
}

func TestRouterResolve(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(map[taxonomy.Rank][]string{
		taxonomy.Family: {"best_파리_family_classifier", "best_벌_family_classifier"},
		taxonomy.Genus:  {"best_털파리_genus_classifier"},
	})

	tests := []struct {
		name    string
		parent  string
		child   taxonomy.Rank
		wantKey string
		wantOK  bool
	}{
		{"order suffix stripped before family match", "파리목", taxonomy.Family, "best_파리_family_classifier", true},
		{"family suffix stripped before genus match", "털파리과", taxonomy.Genus, "best_털파리_genus_classifier", true},
		{"unmatched parent is a miss", "나비목", taxonomy.Family, "", false},
		{"empty parent is a miss", "", taxonomy.Family, "", false},
		{"suffix-only parent is a miss", "목", taxonomy.Family, "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, ok := rt.Resolve(tt.parent, tt.child)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestRouterResolve_Deterministic(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(map[taxonomy.Rank][]string{
		taxonomy.Family: {"best_파리_family_classifier"},
	})

	first, ok := rt.Resolve("파리목", taxonomy.Family)
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		key, ok := rt.Resolve("파리목", taxonomy.Family)
		require.True(t, ok)
		require.Equal(t, first, key)
	}
}

// Two registered classifiers both match the same derived key: the first by
// registration order wins, every time.
func TestRouterResolve_AmbiguousMatchPicksFirstRegistered(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(map[taxonomy.Rank][]string{
		taxonomy.Family: {
			"best_파리_family_classifier_v1",
			"best_파리_family_classifier_v2",
		},
	})

	for i := 0; i < 10; i++ {
		key, ok := rt.Resolve("파리목", taxonomy.Family)
		require.True(t, ok)
		assert.Equal(t, "best_파리_family_classifier_v1", key)
	}
}

func TestRouterResolve_PriorityOverridesRegistrationOrder(t *testing.T) {
	t.Parallel()

	rt := newRouter()
	rt.register(taxonomy.Family, "best_파리_family_classifier_old", 0)
	rt.register(taxonomy.Family, "best_파리_family_classifier_new", 5)
	rt.freeze()

	key, ok := rt.Resolve("파리목", taxonomy.Family)
	require.True(t, ok)
	assert.Equal(t, "best_파리_family_classifier_new", key)
}

func TestRouterRegister_DuplicateKeyKeepsPosition(t *testing.T) {
	t.Parallel()

	rt := newRouter()
	rt.register(taxonomy.Family, "best_파리_family_classifier", 0)
	rt.register(taxonomy.Family, "best_파리_family_classifier", 0)
	rt.freeze()

	assert.Len(t, rt.candidates[taxonomy.Family], 1)
}

func TestRouterResolve_CaseInsensitive(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(map[taxonomy.Rank][]string{
		taxonomy.Family: {"best_Diptera_family_classifier"},
	})

	key, ok := rt.Resolve("DIPTERA목", taxonomy.Family)
	require.True(t, ok)
	assert.Equal(t, "best_Diptera_family_classifier", key)
}
