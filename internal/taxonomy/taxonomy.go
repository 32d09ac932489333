// Package taxonomy defines the classification ranks and the label
// conventions used to route between them.
package taxonomy

import "strings"

// Rank is one taxonomic level, in strict parent-to-child order.
type Rank string

const (
	Order   Rank = "order"
	Family  Rank = "family"
	Genus   Rank = "genus"
	Species Rank = "species"
)

// Ranks lists all ranks from the top of the hierarchy down.
var Ranks = []Rank{Order, Family, Genus, Species}

// CascadeRanks lists the ranks the cascade actually classifies; the order
// label is supplied by the upstream detector.
var CascadeRanks = []Rank{Family, Genus, Species}

// rankSuffixes are the Korean rank-suffix tokens stripped from a parent label
// before matching it against child classifier keys. Labels that do not follow
// this convention pass through unchanged; the routing then simply misses.
var rankSuffixes = map[Rank]string{
	Order:  "목",
	Family: "과",
	Genus:  "속",
}

// Valid reports whether r is a known rank.
func Valid(r Rank) bool {
	switch r {
	case Order, Family, Genus, Species:
		return true
	}
	return false
}

// Parent returns the rank directly above r, or "" for Order.
func (r Rank) Parent() Rank {
	for i := 1; i < len(Ranks); i++ {
		if Ranks[i] == r {
			return Ranks[i-1]
		}
	}
	return ""
}

// Child returns the rank directly below r, or "" for Species.
func (r Rank) Child() Rank {
	for i := 0; i < len(Ranks)-1; i++ {
		if Ranks[i] == r {
			return Ranks[i+1]
		}
	}
	return ""
}

// Depth returns the zero-based position of r in the hierarchy.
func (r Rank) Depth() int {
	for i, rank := range Ranks {
		if rank == r {
			return i
		}
	}
	return -1
}

// BareName derives the routing key fragment from a label at the given rank:
// the rank-suffix token is stripped and the result lowercased and trimmed.
// Example: "말벌속" at Genus becomes "말벌".
func BareName(label string, rank Rank) string {
	name := strings.ToLower(strings.TrimSpace(label))
	if suffix, ok := rankSuffixes[rank]; ok {
		name = strings.TrimSuffix(name, suffix)
	}
	return strings.TrimSpace(name)
}
