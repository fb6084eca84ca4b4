package gallery

import (
	"cmp"
	"slices"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// HNSW graph parameters.
const (
	hnswMaxNeighbors  = 16 // M parameter
	conflictNeighbors = 8  // neighbors inspected per descriptor
)

// DescriptorRef identifies one descriptor of one gallery identity.
type DescriptorRef struct {
	EmployeeID int64  `json:"employee_id"`
	Name       string `json:"name"`
	Index      int    `json:"index"`
}

// Conflict is a pair of descriptors of different employees that lie
// closer together than the audit threshold. Such pairs are where the
// matcher is likely to confuse two people.
type Conflict struct {
	A        DescriptorRef `json:"a"`
	B        DescriptorRef `json:"b"`
	Distance float64       `json:"distance"`
}

// FindConflicts indexes every gallery descriptor in an HNSW graph and
// reports cross-employee pairs closer than threshold, closest first.
// Descriptors whose length differs from the first descriptor are ignored.
func FindConflicts(g *facematch.Gallery, threshold float64) []Conflict {
	var refs []DescriptorRef
	var vectors [][]float32
	dim := -1
	for _, id := range g.Identities() {
		for i, d := range id.Descriptors {
			if dim < 0 {
				dim = len(d)
			}
			if len(d) != dim || dim == 0 {
				continue
			}
			refs = append(refs, DescriptorRef{EmployeeID: id.EmployeeID, Name: id.Name, Index: i})
			vectors = append(vectors, d)
		}
	}
	if len(vectors) < 2 {
		return nil
	}

	graph := hnsw.NewGraph[int]()
	graph.M = hnswMaxNeighbors
	graph.Ml = 1.0 / float64(hnswMaxNeighbors)
	graph.Distance = hnsw.EuclideanDistance
	for i, v := range vectors {
		graph.Add(hnsw.MakeNode(i, v))
	}

	type pairKey struct{ a, b int }
	seen := make(map[pairKey]bool)
	var conflicts []Conflict

	k := min(conflictNeighbors+1, len(vectors))
	for i, v := range vectors {
		for _, n := range graph.Search(v, k) {
			j := n.Key
			if j == i || refs[j].EmployeeID == refs[i].EmployeeID {
				continue
			}
			key := pairKey{min(i, j), max(i, j)}
			if seen[key] {
				continue
			}
			seen[key] = true

			dist := facematch.EuclideanDistance(v, n.Value)
			if dist >= threshold {
				continue
			}
			a, b := refs[key.a], refs[key.b]
			conflicts = append(conflicts, Conflict{A: a, B: b, Distance: dist})
		}
	}

	slices.SortFunc(conflicts, func(x, y Conflict) int {
		if c := cmp.Compare(x.Distance, y.Distance); c != 0 {
			return c
		}
		if c := cmp.Compare(x.A.EmployeeID, y.A.EmployeeID); c != 0 {
			return c
		}
		return cmp.Compare(x.B.EmployeeID, y.B.EmployeeID)
	})
	return conflicts
}
