package cache

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// bloom is a small scalable Bloom filter used as a fast negative check
// ahead of the main LRU map (spec.md §4.2: "a might-contain miss
// short-circuits get without touching the main map"). The pack carries no
// dedicated Bloom-filter library, so this hand-rolls a bit-set over
// github.com/cespare/xxhash/v2-seeded hashes (the one fast, seedable,
// non-cryptographic hash the examples actually import) rather than
// fabricating or vendoring one.
type bloom struct {
	bits []uint64
	k    int
	m    uint64
}

// newBloom sizes a filter for n expected items at the given target
// false-positive rate using the standard formulas:
//
//	m = ceil(-n*ln(p) / (ln2)^2)
//	k = round(m/n * ln2)
func newBloom(n int, p float64) *bloom {
	if n <= 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	ln2 := math.Ln2
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	if m < 64 {
		m = 64
	}
	k := int(math.Round(float64(m) / float64(n) * ln2))
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	words := (m + 63) / 64
	return &bloom{bits: make([]uint64, words), k: k, m: words * 64}
}

func (b *bloom) seededHash(key string, seed uint64) uint64 {
	h := xxhash.New()
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], seed)
	_, _ = h.Write(seedBuf[:])
	_, _ = h.WriteString(key)
	return h.Sum64()
}

func (b *bloom) add(key string) {
	for i := 0; i < b.k; i++ {
		idx := b.seededHash(key, uint64(i)) % b.m
		b.bits[idx/64] |= 1 << (idx % 64)
	}
}

// mightContain returns false only if key was definitely never added: no
// Bloom false negative can occur (the "Bloom-filter no-false-negatives"
// testable property in spec.md §8).
func (b *bloom) mightContain(key string) bool {
	for i := 0; i < b.k; i++ {
		idx := b.seededHash(key, uint64(i)) % b.m
		if b.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

func (b *bloom) reset() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}
