// Package embedding trains LINE graph embeddings against a sharded
// parameter table.
//
// A worker streams blocks of weighted edges from its graph partition,
// draws negative targets from a degree dictionary, and for every block
// asks the table for the inner products of each (source, target) pair. It
// turns the clamped logistic of each product into a scaled update and
// sends the updates back. Only the pair scores and scales cross the
// network under the column layout; under the row layout the worker
// fetches the touched rows, computes the same updates locally and adds
// the deltas.
package embedding

import (
	"errors"
	"fmt"
	"math/rand"
)

// Alias samples indices in proportion to fixed weights in O(1) per draw
// using Vose's alias method.
type Alias struct {
	prob  []float64
	alias []int
}

// NewAlias builds a sampler over weights. Weights must be non-negative with
// a positive sum.
func NewAlias(weights []float32) (*Alias, error) {
	n := len(weights)
	if n == 0 {
		return nil, errors.New("alias: no weights")
	}
	var sum float64
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("alias: negative weight %v at %d", w, i)
		}
		sum += float64(w)
	}
	if sum <= 0 {
		return nil, errors.New("alias: weights sum to zero")
	}

	a := &Alias{prob: make([]float64, n), alias: make([]int, n)}
	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, w := range weights {
		a.prob[i] = float64(n) * float64(w) / sum
		a.alias[i] = i
		if a.prob[i] < 1 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	for len(small) > 0 && len(large) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		l := large[len(large)-1]
		large = large[:len(large)-1]

		a.alias[s] = l
		a.prob[l] -= 1 - a.prob[s]
		if a.prob[l] < 1 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	// leftovers are full columns up to rounding
	for _, i := range append(small, large...) {
		a.prob[i] = 1
	}
	return a, nil
}

// Len is the number of outcomes.
func (a *Alias) Len() int { return len(a.prob) }

// Sample draws an index.
func (a *Alias) Sample(rng *rand.Rand) int {
	n := len(a.prob)
	idx := min(int(rng.Float64()*float64(n)), n-1)
	if rng.Float64() < a.prob[idx] {
		return idx
	}
	return a.alias[idx]
}
