// Package matching pairs test clips with reference clips from a similarity
// matrix, leaving at most one test clip out.
//
// The search runs a greedy assignment once per choice of excluded clip and
// keeps the best complete result. It is not an exact assignment solver: the
// Hungarian algorithm would be needed for a guaranteed optimum, and would
// pick differently on some ambiguous matrices.
package matching

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// NoUnmatched marks a Matching in which every test clip was assigned.
const NoUnmatched = -1

// ErrInfeasible is returned when no candidate produces a complete
// assignment, which happens when there are fewer than n_test-1 references.
var ErrInfeasible = errors.New("no complete matching exists")

// Matching is a one-to-one assignment of test rows to reference columns.
type Matching struct {
	// Pairs maps test index to reference index.
	Pairs map[int]int
	// Unmatched is the excluded test index, or NoUnmatched.
	Unmatched int
	Score     float64
}

// HasUnmatched reports whether one test clip was left out.
func (m Matching) HasUnmatched() bool { return m.Unmatched != NoUnmatched }

type pair struct {
	sim  float64
	test int
	ref  int
}

// FindMatching searches the matrix (rows are test clips, columns are
// references) for the highest-scoring assignment that leaves zero or one
// test clip unmatched.
//
// Candidates are tried in the order 0..n-1 and then "none"; a later
// candidate only replaces the best one when it scores strictly higher.
// Within a candidate, pairs are taken greedily by descending similarity,
// with ties going to the higher test index and then the higher reference
// index.
func FindMatching(matrix [][]float64) (Matching, error) {
	nTest := len(matrix)
	if nTest == 0 {
		return Matching{Pairs: map[int]int{}, Unmatched: NoUnmatched}, nil
	}
	nRef := len(matrix[0])
	for i, row := range matrix {
		if len(row) != nRef {
			return Matching{}, fmt.Errorf("similarity matrix row %d has %d columns, want %d", i, len(row), nRef)
		}
		for j, v := range row {
			if math.IsNaN(v) {
				return Matching{}, fmt.Errorf("similarity matrix entry [%d][%d] is NaN", i, j)
			}
		}
	}

	var (
		best      Matching
		bestScore = math.Inf(-1)
		found     bool
	)

	candidates := make([]int, 0, nTest+1)
	for i := 0; i < nTest; i++ {
		candidates = append(candidates, i)
	}
	candidates = append(candidates, NoUnmatched)

	pairs := make([]pair, 0, nTest*nRef)
	for _, unmatched := range candidates {
		pairs = pairs[:0]
		for t := 0; t < nTest; t++ {
			if t == unmatched {
				continue
			}
			for r := 0; r < nRef; r++ {
				pairs = append(pairs, pair{sim: matrix[t][r], test: t, ref: r})
			}
		}
		sort.Slice(pairs, func(i, j int) bool {
			a, b := pairs[i], pairs[j]
			if a.sim != b.sim {
				return a.sim > b.sim
			}
			if a.test != b.test {
				return a.test > b.test
			}
			return a.ref > b.ref
		})

		assigned := make(map[int]int, nTest)
		usedRefs := make(map[int]bool, nRef)
		var score float64
		for _, p := range pairs {
			if _, ok := assigned[p.test]; ok || usedRefs[p.ref] {
				continue
			}
			assigned[p.test] = p.ref
			usedRefs[p.ref] = true
			score += p.sim
		}

		want := nTest
		if unmatched != NoUnmatched {
			want--
		}
		if len(assigned) != want {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = Matching{Pairs: assigned, Unmatched: unmatched, Score: score}
			found = true
		}
	}

	if !found {
		return Matching{}, fmt.Errorf("%w: %d test clips, %d references", ErrInfeasible, nTest, nRef)
	}
	return best, nil
}
