// Package random wraps math/rand/v2 behind a small interface so callers can
// inject deterministic sources.
package random

import (
	"math/rand/v2"
	"strings"
)

// Source is the randomness consumed by generators and engines.
type Source interface {
	Float64() float64
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }
func (globalSource) IntN(n int) int   { return rand.IntN(n) }

// Default returns a source backed by the process-wide generator.
func Default() Source { return globalSource{} }

// New returns a deterministic source seeded with seed.
func New(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Pick returns a uniformly chosen element of items.
func Pick[T any](src Source, items []T) T {
	return items[src.IntN(len(items))]
}

// Between returns an integer in [lo, hi].
func Between(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.IntN(hi-lo+1)
}

// Uniform returns a float in [lo, hi).
func Uniform(src Source, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}

// Chance reports true with probability p.
func Chance(src Source, p float64) bool {
	return src.Float64() < p
}

// Sample returns between lo and hi distinct elements of items, in random order.
func Sample[T any](src Source, items []T, lo, hi int) []T {
	n := Between(src, lo, hi)
	if n > len(items) {
		n = len(items)
	}
	shuffled := append([]T(nil), items...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Token returns n random base-36 characters.
func Token(src Source, n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(base36[src.IntN(len(base36))])
	}
	return b.String()
}

// ID returns prefix_<9 base-36 characters>.
func ID(src Source, prefix string) string {
	return prefix + "_" + Token(src, 9)
}
