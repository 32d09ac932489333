// Package inventory parses the classifier manifest describing which
// per-level classifiers exist and where their artifacts live.
package inventory

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/insectid/insectid-go/internal/errors"
	"github.com/insectid/insectid-go/internal/taxonomy"
)

// ErrInventoryMissing marks a manifest that does not exist on disk. Callers
// receive an empty inventory alongside it and may treat it as non-fatal.
var ErrInventoryMissing = fmt.Errorf("classifier manifest not found")

// ModelDescriptor describes one classifier entry from the manifest.
// Immutable once loaded.
type ModelDescriptor struct {
	Level       taxonomy.Rank
	Key         string
	ModelFile   string
	ClassesFile string
	Available   bool
	Priority    int
}

// Inventory is the ordered set of descriptors from one manifest. Descriptor
// order within a level follows manifest document order; routing depends on it.
type Inventory struct {
	Descriptors []ModelDescriptor
}

// ForLevel returns the descriptors of one level in registration order.
func (inv *Inventory) ForLevel(level taxonomy.Rank) []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range inv.Descriptors {
		if d.Level == level {
			out = append(out, d)
		}
	}
	return out
}

// Available counts descriptors marked available.
func (inv *Inventory) Available() int {
	n := 0
	for _, d := range inv.Descriptors {
		if d.Available {
			n++
		}
	}
	return n
}

// manifestEntry is the YAML shape of a single classifier entry.
type manifestEntry struct {
	Available   bool   `yaml:"available"`
	ModelFile   string `yaml:"model_file"`
	ClassesFile string `yaml:"classes_file"`
	Priority    int    `yaml:"priority"`
}

// Load reads and parses the manifest at path. A missing file degrades to an
// empty inventory and returns ErrInventoryMissing wrapped, so callers can
// distinguish "no manifest" from "no classifiers" without failing.
// Relative artifact paths are resolved against the manifest directory.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Inventory{}, errors.New(fmt.Errorf("%w: %s", ErrInventoryMissing, path)).
				Component("inventory").
				Category(errors.CategoryInventory).
				Context("path", path).
				Build()
		}
		return nil, errors.New(err).
			Component("inventory").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	inv, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrap(err).
			Component("inventory").
			Category(errors.CategoryInventory).
			Context("path", path).
			Build()
	}
	return inv, nil
}

// Parse decodes manifest YAML. baseDir, when non-empty, anchors relative
// artifact paths. Key order inside each level is preserved.
func Parse(data []byte, baseDir string) (*Inventory, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}
	inv := &Inventory{}
	if len(doc.Content) == 0 {
		return inv, nil
	}

	root := doc.Content[0]
	levels := mappingValue(root, "levels")
	if levels == nil {
		return inv, nil
	}
	if levels.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("manifest levels must be a mapping, got %s", levels.Tag)
	}

	for i := 0; i < len(levels.Content)-1; i += 2 {
		levelNode, entries := levels.Content[i], levels.Content[i+1]
		level := taxonomy.Rank(levelNode.Value)
		if !taxonomy.Valid(level) {
			return nil, fmt.Errorf("unknown level %q in manifest", levelNode.Value)
		}
		if entries.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("level %q entries must be a mapping", level)
		}
		for j := 0; j < len(entries.Content)-1; j += 2 {
			keyNode, valNode := entries.Content[j], entries.Content[j+1]
			var entry manifestEntry
			if err := valNode.Decode(&entry); err != nil {
				return nil, fmt.Errorf("entry %q at level %q: %w", keyNode.Value, level, err)
			}
			inv.Descriptors = append(inv.Descriptors, ModelDescriptor{
				Level:       level,
				Key:         keyNode.Value,
				ModelFile:   resolvePath(baseDir, entry.ModelFile),
				ClassesFile: resolvePath(baseDir, entry.ClassesFile),
				Available:   entry.Available,
				Priority:    entry.Priority,
			})
		}
	}
	return inv, nil
}

// mappingValue returns the value node for key in a YAML mapping, or nil.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func resolvePath(baseDir, p string) string {
	if p == "" || baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
