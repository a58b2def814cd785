// Package position allocates fractional ordering keys for cards within a
// column and columns within a board.
//
// Keys are float64 values that only need to be strictly increasing within a
// container. Inserting between two neighbours takes their mean, so a single
// move writes one row. When the float64 precision between two neighbours runs
// out the allocator reports ErrRenumberNeeded and the caller rewrites the
// whole container with Renumber inside the same transaction.
package position

import (
	"errors"
	"math"
)

const (
	// Base is the position given to the first item of an empty container.
	Base = 65536.0
	// Step is the gap left between consecutive items on tail inserts and renumbers.
	Step = 65536.0
)

// ErrRenumberNeeded reports that no key fits strictly between the neighbours.
var ErrRenumberNeeded = errors.New("position: renumber needed")

// Head returns the key for an insert before first. ok reports whether the
// container has a first item at all.
func Head(first float64, ok bool) (float64, error) {
	if !ok {
		return Base, nil
	}
	p := first / 2
	if !valid(p) || !(p < first) {
		return 0, ErrRenumberNeeded
	}
	return p, nil
}

// Tail returns the key for an insert after last.
func Tail(last float64, ok bool) (float64, error) {
	if !ok {
		return Base, nil
	}
	p := last + Step
	if !valid(p) || !(p > last) {
		return 0, ErrRenumberNeeded
	}
	return p, nil
}

// Between returns the midpoint of prev and next.
func Between(prev, next float64) (float64, error) {
	p := prev + (next-prev)/2
	if !valid(p) || !(prev < p && p < next) {
		return 0, ErrRenumberNeeded
	}
	return p, nil
}

// At resolves a 0-based insertion index into siblings, which must be sorted
// ascending. Index 0 is the head and len(siblings) (or more) is the tail.
func At(siblings []float64, index int) (float64, error) {
	if index < 0 {
		index = 0
	}
	n := len(siblings)
	switch {
	case n == 0:
		return Base, nil
	case index == 0:
		return Head(siblings[0], true)
	case index >= n:
		return Tail(siblings[n-1], true)
	default:
		return Between(siblings[index-1], siblings[index])
	}
}

// Renumber returns n evenly spaced keys starting at Step.
func Renumber(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i+1) * Step
	}
	return out
}

// Sequence returns n strictly increasing keys Step apart placed after after.
// When ok is false the sequence starts at Base.
func Sequence(after float64, ok bool, n int) ([]float64, error) {
	out := make([]float64, n)
	next := Base
	if ok {
		next = after + Step
	}
	prev := after
	for i := range out {
		if !valid(next) || (ok || i > 0) && !(next > prev) {
			return nil, ErrRenumberNeeded
		}
		out[i] = next
		prev = next
		next += Step
	}
	return out, nil
}

// Ordered reports whether keys is strictly increasing.
func Ordered(keys []float64) bool {
	for i := 1; i < len(keys); i++ {
		if !(keys[i-1] < keys[i]) {
			return false
		}
	}
	return true
}

func valid(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0)
}
