package classifier

import "github.com/insectid/insectid-go/internal/taxonomy"

// Candidate is one ranked species candidate.
type Candidate struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// TaxonomicResult is the hierarchical outcome of one cascade run. The order
// label is always present (possibly "Unknown"); lower levels are set only
// when their parent resolved, so family == "" implies genus and species are
// "" as well.
type TaxonomicResult struct {
	Order            string             `json:"order"`
	Family           string             `json:"family,omitempty"`
	Genus            string             `json:"genus,omitempty"`
	Species          string             `json:"species,omitempty"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	// SpeciesCandidates is the full top-K list from the species stage,
	// descending, duplicates by class name removed.
	SpeciesCandidates []Candidate `json:"species_candidates,omitempty"`
}

// Label returns the resolved label at the given rank, "" when unset.
func (r *TaxonomicResult) Label(rank taxonomy.Rank) string {
	switch rank {
	case taxonomy.Order:
		return r.Order
	case taxonomy.Family:
		return r.Family
	case taxonomy.Genus:
		return r.Genus
	case taxonomy.Species:
		return r.Species
	}
	return ""
}

// setLabel records a resolved level and its confidence.
func (r *TaxonomicResult) setLabel(rank taxonomy.Rank, name string, confidence float64) {
	switch rank {
	case taxonomy.Family:
		r.Family = name
	case taxonomy.Genus:
		r.Genus = name
	case taxonomy.Species:
		r.Species = name
	}
	r.ConfidenceScores[string(rank)] = confidence
}

// Depth returns how many levels resolved beyond the given order label.
func (r *TaxonomicResult) Depth() int {
	n := 0
	for _, rank := range taxonomy.CascadeRanks {
		if r.Label(rank) == "" {
			break
		}
		n++
	}
	return n
}
