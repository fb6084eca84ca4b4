package facematch

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Identity is one employee with the reference descriptors the gallery
// holds for them.
type Identity struct {
	EmployeeID  int64
	Name        string
	Descriptors [][]float32
}

type galleryEntry struct {
	employeeID  int64
	name        string
	descriptors [][]float64
}

// Gallery is the immutable in-memory set of known identities, ordered by
// ascending employee ID.
type Gallery struct {
	entries []galleryEntry
	count   int
}

// NewGallery copies identities into a gallery. Identities without
// descriptors are dropped.
func NewGallery(identities []Identity) *Gallery {
	g := &Gallery{}
	for _, id := range identities {
		if len(id.Descriptors) == 0 {
			continue
		}
		entry := galleryEntry{employeeID: id.EmployeeID, name: id.Name}
		for _, d := range id.Descriptors {
			entry.descriptors = append(entry.descriptors, toFloat64(d))
		}
		g.count += len(entry.descriptors)
		g.entries = append(g.entries, entry)
	}
	slices.SortStableFunc(g.entries, func(a, b galleryEntry) int {
		switch {
		case a.employeeID < b.employeeID:
			return -1
		case a.employeeID > b.employeeID:
			return 1
		}
		return 0
	})
	return g
}

// Len returns the number of identities.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// DescriptorCount returns the number of descriptors across identities.
func (g *Gallery) DescriptorCount() int {
	if g == nil {
		return 0
	}
	return g.count
}

// Identities returns a copy of the gallery contents in ID order.
func (g *Gallery) Identities() []Identity {
	if g == nil {
		return nil
	}
	out := make([]Identity, 0, len(g.entries))
	for _, e := range g.entries {
		id := Identity{EmployeeID: e.employeeID, Name: e.name}
		for _, d := range e.descriptors {
			id.Descriptors = append(id.Descriptors, toFloat32(d))
		}
		out = append(out, id)
	}
	return out
}

// Match finds the identity nearest to the live embedding by Euclidean
// distance. Each identity is scored by its closest descriptor. Ties go to
// the lower employee ID. Per-identity distances below cutoff feed the
// diagnostic average and candidate list only.
func Match(live []float32, g *Gallery, cutoff float64) MatchResult {
	result := MatchResult{Label: UnknownLabel, Distance: 1}
	if g.Len() == 0 || len(live) == 0 {
		return result
	}

	query := toFloat64(live)
	var sum float64
	for _, e := range g.entries {
		best := math.Inf(1)
		for _, d := range e.descriptors {
			if len(d) != len(query) {
				continue
			}
			if dist := floats.Distance(query, d, 2); dist < best {
				best = dist
			}
		}
		if math.IsInf(best, 1) {
			continue
		}

		if best < cutoff {
			sum += best
			result.Candidates = append(result.Candidates, Candidate{
				EmployeeID: e.employeeID,
				Name:       e.name,
				Distance:   best,
			})
		}

		if best < result.Distance {
			result.EmployeeID = e.employeeID
			result.Label = e.name
			result.Distance = best
			result.Confidence = 1 - best
		}
	}

	if n := len(result.Candidates); n > 0 {
		result.AverageDistance = sum / float64(n)
	}
	return result
}

// EuclideanDistance returns the L2 distance between two descriptors, or
// +Inf when their lengths differ.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(toFloat64(a), toFloat64(b), 2)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
