// Package workload provides the access streams the harness drives through a
// cache: synthetic patterns and text traces.
package workload

import (
	"math/rand/v2"
)

// Op is the kind of a memory access.
type Op uint8

const (
	// OpRead loads a word.
	OpRead Op = iota
	// OpWrite stores the masked bits of a word.
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "r"
	case OpWrite:
		return "w"
	default:
		return "?"
	}
}

// FullMask writes every bit of a word.
const FullMask uint32 = 0xFFFFFFFF

// Access is one request to the cache.
type Access struct {
	Op   Op
	Addr uint32
	// Data and Mask are used by writes only.
	Data uint32
	Mask uint32
}

// Read returns a read access.
func Read(addr uint32) Access {
	return Access{Op: OpRead, Addr: addr}
}

// Write returns a write access.
func Write(addr, data, mask uint32) Access {
	return Access{Op: OpWrite, Addr: addr, Data: data, Mask: mask}
}

// Params sizes a generated stream.
type Params struct {
	// Accesses is the number of requests to generate.
	Accesses int
	// Footprint is the size in bytes of the region touched.
	Footprint uint32
	// BlockSize is the cache line size, used by block-aware patterns.
	BlockSize uint32
	// CacheSize is the cache capacity, used by conflict patterns.
	CacheSize uint32
}

// Workload is a named access pattern.
type Workload struct {
	// Name identifies the workload
	Name string

	// Description explains what the workload stresses
	Description string

	// Generate builds the access stream.
	Generate func(rng *rand.Rand, p Params) []Access
}

// Standard returns every built-in workload.
func Standard() []Workload {
	return []Workload{
		sequential(),
		strided(),
		conflict(),
		random(),
		hotspot(),
	}
}

// ByName returns the built-in workloads with the given names, in order. The
// second result lists names that matched nothing.
func ByName(names []string) ([]Workload, []string) {
	index := make(map[string]Workload)
	for _, w := range Standard() {
		index[w.Name] = w
	}

	var found []Workload
	var unknown []string
	for _, n := range names {
		w, ok := index[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		found = append(found, w)
	}

	return found, unknown
}

// randomMask picks a byte, halfword or word store.
func randomMask(rng *rand.Rand) uint32 {
	switch rng.IntN(3) {
	case 0:
		return 0xFF << (8 * rng.Uint32N(4))
	case 1:
		return 0xFFFF << (16 * rng.Uint32N(2))
	default:
		return FullMask
	}
}

func wordCount(p Params) uint32 {
	n := p.Footprint / 4
	if n == 0 {
		return 1
	}
	return n
}

// 1. Sequential - a write sweep followed by a read sweep
func sequential() Workload {
	return Workload{
		Name:        "sequential",
		Description: "word-by-word write sweep then read sweep - spatial locality",
		Generate: func(rng *rand.Rand, p Params) []Access {
			words := wordCount(p)
			out := make([]Access, 0, p.Accesses)

			for i := 0; len(out) < p.Accesses; i++ {
				addr := (uint32(i) % words) * 4
				if uint32(i)/words%2 == 0 {
					out = append(out, Write(addr, rng.Uint32(), FullMask))
				} else {
					out = append(out, Read(addr))
				}
			}

			return out
		},
	}
}

// 2. Strided - one word per block, walking every set
func strided() Workload {
	return Workload{
		Name:        "strided",
		Description: "one access per block across the footprint - low spatial reuse",
		Generate: func(rng *rand.Rand, p Params) []Access {
			stride := p.BlockSize
			if stride == 0 {
				stride = 64
			}
			blocks := p.Footprint / stride
			if blocks == 0 {
				blocks = 1
			}

			out := make([]Access, 0, p.Accesses)
			for i := 0; len(out) < p.Accesses; i++ {
				addr := (uint32(i) % blocks) * stride
				if rng.IntN(4) == 0 {
					out = append(out, Write(addr, rng.Uint32(), FullMask))
				} else {
					out = append(out, Read(addr))
				}
			}

			return out
		},
	}
}

// 3. Conflict - every block maps to the same set
func conflict() Workload {
	return Workload{
		Name:        "conflict",
		Description: "blocks one cache size apart share set 0 - forces evictions",
		Generate: func(rng *rand.Rand, p Params) []Access {
			step := p.CacheSize
			if step == 0 {
				step = 1 << 15
			}
			lines := p.Footprint / step
			if lines < 2 {
				lines = 2
			}

			out := make([]Access, 0, p.Accesses)
			for i := 0; i < p.Accesses; i++ {
				addr := rng.Uint32N(lines)*step + rng.Uint32N(p.blockWords())*4
				if rng.IntN(2) == 0 {
					out = append(out, Write(addr, rng.Uint32(), randomMask(rng)))
				} else {
					out = append(out, Read(addr))
				}
			}

			return out
		},
	}
}

// 4. Random - uniform reads and partial writes over the footprint
func random() Workload {
	return Workload{
		Name:        "random",
		Description: "uniform random reads and byte/half/word writes - checks data integrity",
		Generate: func(rng *rand.Rand, p Params) []Access {
			words := wordCount(p)

			out := make([]Access, 0, p.Accesses)
			for i := 0; i < p.Accesses; i++ {
				// Unaligned on purpose, the cache truncates to the word.
				addr := rng.Uint32N(words)*4 + rng.Uint32N(4)
				if rng.IntN(2) == 0 {
					out = append(out, Write(addr, rng.Uint32(), randomMask(rng)))
				} else {
					out = append(out, Read(addr))
				}
			}

			return out
		},
	}
}

// 5. Hotspot - most accesses land in a small region
func hotspot() Workload {
	return Workload{
		Name:        "hotspot",
		Description: "90% of accesses to the first 1/16 of the footprint - temporal locality",
		Generate: func(rng *rand.Rand, p Params) []Access {
			words := wordCount(p)
			hot := words / 16
			if hot == 0 {
				hot = 1
			}

			out := make([]Access, 0, p.Accesses)
			for i := 0; i < p.Accesses; i++ {
				var addr uint32
				if rng.IntN(10) < 9 {
					addr = rng.Uint32N(hot) * 4
				} else {
					addr = rng.Uint32N(words) * 4
				}

				if rng.IntN(3) == 0 {
					out = append(out, Write(addr, rng.Uint32(), FullMask))
				} else {
					out = append(out, Read(addr))
				}
			}

			return out
		},
	}
}

func (p Params) blockWords() uint32 {
	if p.BlockSize < 4 {
		return 16
	}
	return p.BlockSize / 4
}
