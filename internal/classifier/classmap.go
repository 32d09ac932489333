package classifier

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/insectid/insectid-go/internal/errors"
)

// ErrClassMapInvalid marks a class map that is not a dense bijection onto
// [0, N). It is a load-time integrity error, never a runtime one.
var ErrClassMapInvalid = fmt.Errorf("class map is not a dense bijection")

// ClassMap is the bidirectional mapping between class names and the dense
// indices a classifier emits. Immutable after parsing.
type ClassMap struct {
	byName  map[string]int
	byIndex []string
}

// ParseClassMap decodes a JSON {"name": index} document and validates that
// the indices form a dense bijection onto [0, N): every index appears exactly
// once, no gaps, no duplicates.
func ParseClassMap(data []byte) (*ClassMap, error) {
	var byName map[string]int
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, fmt.Errorf("malformed class map: %w", err)
	}

	n := len(byName)
	byIndex := make([]string, n)
	seen := make([]bool, n)
	for name, idx := range byName {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: class %q has index %d outside [0,%d)", ErrClassMapInvalid, name, idx, n)
		}
		if seen[idx] {
			return nil, fmt.Errorf("%w: duplicate index %d (classes %q and %q)", ErrClassMapInvalid, idx, byIndex[idx], name)
		}
		seen[idx] = true
		byIndex[idx] = name
	}
	// Dense coverage follows from the pigeonhole above: n entries, all within
	// [0,n), none duplicated.

	return &ClassMap{byName: byName, byIndex: byIndex}, nil
}

// LoadClassMap reads and parses the class map file at path.
func LoadClassMap(path string) (*ClassMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	m, err := ParseClassMap(data)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("classifier").
			Category(errors.CategoryClassMap).
			Context("path", path).
			Build()
	}
	return m, nil
}

// Len returns the number of classes.
func (m *ClassMap) Len() int { return len(m.byIndex) }

// Name maps an index back to its class name. An index with no inverse
// mapping yields a synthetic placeholder instead of failing.
func (m *ClassMap) Name(idx int) string {
	if idx >= 0 && idx < len(m.byIndex) {
		return m.byIndex[idx]
	}
	return fmt.Sprintf("Class_%d", idx)
}

// Index returns the dense index for a class name.
func (m *ClassMap) Index(name string) (int, bool) {
	idx, ok := m.byName[name]
	return idx, ok
}
