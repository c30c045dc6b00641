package cache

import (
	"math/rand/v2"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// A VictimFinder decides which block of a set is replaced on a miss.
type VictimFinder = akitacache.VictimFinder

// RandomVictimFinder picks a way uniformly at random. Invalid ways get no
// preference, so a valid line can be evicted while the set still has free
// ways.
type RandomVictimFinder struct {
	rng *rand.Rand
}

var _ akitacache.VictimFinder = (*RandomVictimFinder)(nil)

// NewRandomVictimFinder returns a finder whose generator is seeded once.
func NewRandomVictimFinder(seed uint64) *RandomVictimFinder {
	return NewRandomVictimFinderWithSource(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewRandomVictimFinderWithSource returns a finder drawing from src.
func NewRandomVictimFinderWithSource(src rand.Source) *RandomVictimFinder {
	return &RandomVictimFinder{rng: rand.New(src)}
}

// FindVictim returns one of set.Blocks.
func (f *RandomVictimFinder) FindVictim(set *akitacache.Set) *akitacache.Block {
	return set.Blocks[f.rng.IntN(len(set.Blocks))]
}
