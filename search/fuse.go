package search

import (
	"cmp"
	"slices"
)

// DefaultRRFConstant is the k in 1/(k + rank).
const DefaultRRFConstant = 60

// Modality names one ranking source.
type Modality string

const (
	ModalityVector  Modality = "vector"
	ModalityKeyword Modality = "keyword"
	ModalityGraph   Modality = "graph"
)

// Modalities lists every modality in fusion order.
var Modalities = []Modality{ModalityVector, ModalityKeyword, ModalityGraph}

// Ranked is one entry of a ranking. Raw is the modality's own score:
// similarity for vectors, matched token count for keywords, matched entity
// count for the graph.
type Ranked struct {
	ItemID string
	Raw    float64
}

// Ranking is an ordered candidate list from one modality, best first.
type Ranking struct {
	Modality Modality
	Items    []Ranked
}

// ModalityScore is an item's standing in one modality.
type ModalityScore struct {
	Rank         int // 1-based
	Raw          float64
	Contribution float64 // 1/(k + Rank)
}

// Fuse combines rankings with Reciprocal Rank Fusion.
// Results are ordered by fused score descending, ties by item id. An item
// listed twice in the same ranking keeps its best rank. A k below 1 uses
// DefaultRRFConstant.
func Fuse(k int, rankings ...Ranking) []*Result {
	if k < 1 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*Result)
	for _, ranking := range rankings {
		for i, entry := range ranking.Items {
			result, ok := byID[entry.ItemID]
			if !ok {
				result = &Result{ItemID: entry.ItemID, Modalities: make(map[Modality]ModalityScore)}
				byID[entry.ItemID] = result
			}
			if _, seen := result.Modalities[ranking.Modality]; seen {
				continue
			}
			rank := i + 1
			contribution := 1.0 / float64(k+rank)
			result.Modalities[ranking.Modality] = ModalityScore{
				Rank:         rank,
				Raw:          entry.Raw,
				Contribution: contribution,
			}
			result.Score += contribution
		}
	}

	results := make([]*Result, 0, len(byID))
	for _, result := range byID {
		results = append(results, result)
	}
	slices.SortFunc(results, func(a, b *Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemID, b.ItemID)
	})
	return results
}
