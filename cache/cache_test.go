package cache_test

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	gomock "go.uber.org/mock/gomock"

	"github.com/sarchlab/cachelab/cache"
	"github.com/sarchlab/cachelab/memory"
	"github.com/sarchlab/cachelab/stats"
)

// scriptedFinder returns the listed ways in order, then repeats the last.
type scriptedFinder struct {
	ways  []int
	calls int
}

func (f *scriptedFinder) FindVictim(set *akitacache.Set) *akitacache.Block {
	i := f.calls
	if i >= len(f.ways) {
		i = len(f.ways) - 1
	}
	f.calls++
	return set.Blocks[f.ways[i]]
}

// firstWay always replaces way 0.
func firstWay(set *akitacache.Set) *akitacache.Block {
	return set.Blocks[0]
}

// residentWay returns the way holding addr, or -1.
func residentWay(c *cache.Cache, addr uint32) int {
	g := c.Geometry()
	a := g.Decode(addr)
	for way := 0; way < g.WayCount; way++ {
		line := c.Line(int(a.SetIndex), way)
		if line.Valid && line.Tag == a.Tag {
			return way
		}
	}
	return -1
}

// 1KB, 2-way, 64B lines: 8 sets. Addresses 0x200 apart share a set.
var smallConfig = cache.Config{
	TotalSizeWidth:     10,
	AssociativityWidth: 1,
	BlockWidth:         6,
}

var _ = Describe("Cache", func() {
	var (
		c       *cache.Cache
		backing *memory.BlockMemory
		counter *stats.Counter
		finder  *scriptedFinder
	)

	BeforeEach(func() {
		backing = memory.New(6, memory.DefaultCapacity)
		counter = stats.NewCounter()
		finder = &scriptedFinder{ways: []int{0}}

		var err error
		c, err = cache.New(smallConfig, backing, counter, cache.WithVictimFinder(finder))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Initialization", func() {
		It("should derive the geometry", func() {
			g := c.Geometry()
			Expect(g.SetCount).To(Equal(8))
			Expect(g.WayCount).To(Equal(2))
			Expect(g.BlockSize).To(Equal(64))
			Expect(g.SetIndexWidth).To(Equal(3))
			Expect(g.TagWidth).To(Equal(23))
			Expect(g.TotalSize()).To(Equal(1024))
		})

		It("should start with every line invalid, clean and zeroed", func() {
			g := c.Geometry()
			for set := 0; set < g.SetCount; set++ {
				for way := 0; way < g.WayCount; way++ {
					line := c.Line(set, way)
					Expect(line.Valid).To(BeFalse())
					Expect(line.Dirty).To(BeFalse())
					Expect(line.Tag).To(BeZero())
					Expect(line.Data).To(Equal(make([]byte, 64)))
				}
			}
		})

		It("should return the zero line outside the set and way range", func() {
			Expect(c.Line(-1, 0)).To(Equal(cache.Line{}))
			Expect(c.Line(8, 0)).To(Equal(cache.Line{}))
			Expect(c.Line(0, -1)).To(Equal(cache.Line{}))
			Expect(c.Line(0, 2)).To(Equal(cache.Line{}))
		})

		It("should build through InitCache with 64B blocks", func() {
			ic, err := cache.InitCache(10, 1, backing, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(ic.Geometry().SetCount).To(Equal(8))
			Expect(ic.Config().BlockWidth).To(Equal(cache.DefaultBlockWidth))
		})

		It("should reject a configuration without sets", func() {
			_, err := cache.InitCache(6, 1, backing, nil)
			Expect(err).To(MatchError(cache.ErrInvalidConfig))
		})

		It("should reject a missing backing memory", func() {
			_, err := cache.New(smallConfig, nil, nil)
			Expect(err).To(MatchError(cache.ErrInvalidConfig))
		})
	})

	Describe("Read operations", func() {
		It("should miss on cold cache then hit with the same value", func() {
			Expect(backing.Write32(0x40, 0xDEADBEEF)).To(Succeed())

			data, err := c.Read(0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(uint32(0xDEADBEEF)))
			Expect(counter.Accesses()).To(Equal(uint64(1)))
			Expect(counter.Hits()).To(BeZero())
			Expect(backing.Stats().BlockReads).To(Equal(uint64(1)))

			line := c.Line(1, 0)
			Expect(line.Valid).To(BeTrue())
			Expect(line.Dirty).To(BeFalse())
			Expect(line.Tag).To(BeZero())

			data, err = c.Read(0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(uint32(0xDEADBEEF)))
			Expect(counter.Accesses()).To(Equal(uint64(2)))
			Expect(counter.Hits()).To(Equal(uint64(1)))
			Expect(backing.Stats().BlockReads).To(Equal(uint64(1)))

			s := c.Stats()
			Expect(s.Reads).To(Equal(uint64(2)))
			Expect(s.Hits).To(Equal(uint64(1)))
			Expect(s.Misses).To(Equal(uint64(1)))
		})

		It("should hit on different words in the same line", func() {
			Expect(backing.Write32(0x1000, 0x11111111)).To(Succeed())
			Expect(backing.Write32(0x1004, 0x22222222)).To(Succeed())

			_, err := c.Read(0x1000)
			Expect(err).NotTo(HaveOccurred())

			data, err := c.Read(0x1004)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(uint32(0x22222222)))
			Expect(c.Stats().Hits).To(Equal(uint64(1)))
		})

		It("should truncate unaligned addresses to the containing word", func() {
			Expect(backing.Write32(0x80, 0xA1B2C3D4)).To(Succeed())

			data, err := c.Read(0x83)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(uint32(0xA1B2C3D4)))
		})
	})

	Describe("Write operations", func() {
		It("should write-allocate on miss and mark the line dirty", func() {
			Expect(c.Write(0x1000, 0x12345678, 0xFFFFFFFF)).To(Succeed())
			Expect(c.Stats().Misses).To(Equal(uint64(1)))
			Expect(backing.Stats().BlockReads).To(Equal(uint64(1)))

			way := residentWay(c, 0x1000)
			Expect(way).To(BeNumerically(">=", 0))
			Expect(c.Line(0, way).Dirty).To(BeTrue())

			data, err := c.Read(0x1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(uint32(0x12345678)))
			Expect(c.Stats().Hits).To(Equal(uint64(1)))
		})

		It("should not write through to memory", func() {
			Expect(c.Write(0x1000, 0x12345678, 0xFFFFFFFF)).To(Succeed())

			Expect(backing.Read32(0x1000)).To(Equal(uint32(0)))
			Expect(backing.Stats().BlockWrites).To(BeZero())
		})

		It("should hit on cached data", func() {
			Expect(c.Write(0x1000, 0x11111111, 0xFFFFFFFF)).To(Succeed())
			Expect(c.Write(0x1000, 0x22222222, 0xFFFFFFFF)).To(Succeed())
			Expect(c.Stats().Hits).To(Equal(uint64(1)))

			data, err := c.Read(0x1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(uint32(0x22222222)))
		})

		It("should keep bits outside the write mask", func() {
			Expect(backing.Write32(0x2000, 0x11223344)).To(Succeed())

			Expect(c.Write(0x2000, 0xABCD1234, 0x0000FFFF)).To(Succeed())

			data, err := c.Read(0x2000)
			Expect(err).NotTo(HaveOccurred())
			Expect(data & 0xFFFF).To(Equal(uint32(0x1234)))
			Expect(data >> 16).To(Equal(uint32(0x1122)))
		})

		It("should apply byte masks", func() {
			Expect(backing.Write32(0x2000, 0xFFFFFFFF)).To(Succeed())

			Expect(c.Write(0x2000, 0x00000000, 0x0000FF00)).To(Succeed())

			Expect(c.Read(0x2000)).To(Equal(uint32(0xFFFF00FF)))
		})
	})

	Describe("Replacement", func() {
		It("should evict the chosen way even when another way is free", func() {
			Expect(backing.Write32(0x40, 0xAAAA0000)).To(Succeed())
			Expect(backing.Write32(0x240, 0xBBBB0000)).To(Succeed())

			_, err := c.Read(0x40)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Read(0x240)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Line(1, 1).Valid).To(BeFalse())
			Expect(residentWay(c, 0x40)).To(Equal(-1))
			Expect(residentWay(c, 0x240)).To(Equal(0))
			Expect(c.Line(1, 0).Tag).To(Equal(uint32(1)))
			Expect(c.Stats().Evictions).To(Equal(uint64(1)))

			data, err := c.Read(0x40)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(uint32(0xAAAA0000)))
			Expect(c.Stats().Hits).To(BeZero())
		})

		It("should use both ways when the finder chooses them", func() {
			finder.ways = []int{0, 1}

			_, err := c.Read(0x40)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Read(0x240)
			Expect(err).NotTo(HaveOccurred())

			Expect(residentWay(c, 0x40)).To(Equal(0))
			Expect(residentWay(c, 0x240)).To(Equal(1))
			Expect(c.Stats().Evictions).To(BeZero())
		})

		It("should write back dirty evicted blocks", func() {
			Expect(c.Write(0x40, 0x11111111, 0xFFFFFFFF)).To(Succeed())

			_, err := c.Read(0x240)
			Expect(err).NotTo(HaveOccurred())

			Expect(backing.Read32(0x40)).To(Equal(uint32(0x11111111)))
			Expect(c.Stats().Writebacks).To(Equal(uint64(1)))
			Expect(backing.Stats().BlockWrites).To(Equal(uint64(1)))
			Expect(c.Line(1, 0).Dirty).To(BeFalse())
		})

		It("should not write back clean evicted blocks", func() {
			_, err := c.Read(0x40)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Read(0x240)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Stats().Writebacks).To(BeZero())
			Expect(backing.Stats().BlockWrites).To(BeZero())
		})

		It("should be reproducible for a fixed seed", func() {
			run := func() cache.Statistics {
				rc, err := cache.New(smallConfig, memory.New(6, memory.DefaultCapacity), nil,
					cache.WithSeed(42))
				Expect(err).NotTo(HaveOccurred())

				rng := rand.New(rand.NewPCG(7, 7))
				for i := 0; i < 2000; i++ {
					addr := rng.Uint32N(16 * 1024)
					if rng.IntN(2) == 0 {
						_, err = rc.Read(addr)
					} else {
						err = rc.Write(addr, rng.Uint32(), 0xFFFFFFFF)
					}
					Expect(err).NotTo(HaveOccurred())
				}
				return rc.Stats()
			}

			Expect(run()).To(Equal(run()))
		})
	})

	Describe("Statistics accounting", func() {
		It("should count every access once and only tag matches as hits", func() {
			rc, err := cache.New(
				cache.Config{TotalSizeWidth: 8, AssociativityWidth: 1},
				memory.New(6, memory.DefaultCapacity),
				counter,
				cache.WithSeed(3),
			)
			Expect(err).NotTo(HaveOccurred())

			rng := rand.New(rand.NewPCG(11, 13))
			var expectedHits uint64
			const n = 500

			for i := 0; i < n; i++ {
				addr := rng.Uint32N(2048)
				if residentWay(rc, addr) >= 0 {
					expectedHits++
				}

				if rng.IntN(3) == 0 {
					err = rc.Write(addr, rng.Uint32(), 0xFFFFFFFF)
				} else {
					_, err = rc.Read(addr)
				}
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(counter.Accesses()).To(Equal(uint64(n)))
			Expect(counter.Hits()).To(Equal(expectedHits))
			Expect(rc.Stats().Hits).To(Equal(expectedHits))
			Expect(rc.Stats().Accesses()).To(Equal(uint64(n)))
		})
	})

	Describe("Flush", func() {
		It("should write back all dirty blocks", func() {
			Expect(c.Write(0x0000, 0x11111111, 0xFFFFFFFF)).To(Succeed())
			Expect(c.Write(0x1040, 0x22222222, 0xFFFFFFFF)).To(Succeed())

			Expect(backing.Read32(0x0000)).To(Equal(uint32(0)))
			Expect(backing.Read32(0x1040)).To(Equal(uint32(0)))

			Expect(c.Flush()).To(Succeed())

			Expect(backing.Read32(0x0000)).To(Equal(uint32(0x11111111)))
			Expect(backing.Read32(0x1040)).To(Equal(uint32(0x22222222)))
			Expect(c.Stats().Writebacks).To(Equal(uint64(2)))
			Expect(residentWay(c, 0x0000)).To(Equal(-1))
			Expect(residentWay(c, 0x1040)).To(Equal(-1))
		})

		It("should not write back clean lines", func() {
			_, err := c.Read(0x0000)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Flush()).To(Succeed())
			Expect(backing.Stats().BlockWrites).To(BeZero())
		})
	})

	Describe("Invalidate", func() {
		It("should write back a dirty line before dropping it", func() {
			Expect(c.Write(0x80, 0x5A5A5A5A, 0xFFFFFFFF)).To(Succeed())

			Expect(c.Invalidate(0x80)).To(Succeed())

			Expect(residentWay(c, 0x80)).To(Equal(-1))
			Expect(backing.Read32(0x80)).To(Equal(uint32(0x5A5A5A5A)))
		})

		It("should ignore addresses that are not cached", func() {
			Expect(c.Invalidate(0x80)).To(Succeed())
			Expect(backing.Stats().BlockWrites).To(BeZero())
		})
	})

	Describe("Reset", func() {
		It("should drop dirty data without writing it back", func() {
			Expect(c.Write(0x80, 0x5A5A5A5A, 0xFFFFFFFF)).To(Succeed())

			c.Reset()

			Expect(residentWay(c, 0x80)).To(Equal(-1))
			Expect(backing.Read32(0x80)).To(Equal(uint32(0)))
			Expect(c.Stats()).To(Equal(cache.Statistics{}))
		})
	})
})

var _ = Describe("Cache with mocked collaborators", func() {
	var (
		mockCtrl *gomock.Controller
		mem      *MockBackingMemory
		recorder *MockStatsRecorder
		finder   *MockVictimFinder
		c        *cache.Cache
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		mem = NewMockBackingMemory(mockCtrl)
		recorder = NewMockStatsRecorder(mockCtrl)
		finder = NewMockVictimFinder(mockCtrl)

		finder.EXPECT().FindVictim(gomock.Any()).DoAndReturn(firstWay).AnyTimes()

		var err error
		c, err = cache.New(smallConfig, mem, recorder, cache.WithVictimFinder(finder))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should report every access and each hit", func() {
		mem.EXPECT().ReadBlock(uint32(1), gomock.Any()).Return(nil)
		recorder.EXPECT().TryIncrease(uint64(1)).Times(3)
		recorder.EXPECT().HitIncrease(uint64(1)).Times(2)

		_, err := c.Read(0x40)
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Read(0x44)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Write(0x48, 1, 0xFF)).To(Succeed())
	})

	It("should write back a dirty victim exactly once", func() {
		recorder.EXPECT().TryIncrease(gomock.Any()).AnyTimes()
		recorder.EXPECT().HitIncrease(gomock.Any()).AnyTimes()

		var written []byte
		gomock.InOrder(
			mem.EXPECT().ReadBlock(uint32(1), gomock.Any()).Return(nil),
			mem.EXPECT().WriteBlock(uint32(1), gomock.Any()).
				DoAndReturn(func(_ uint32, buf []byte) error {
					written = append([]byte(nil), buf...)
					return nil
				}),
			mem.EXPECT().ReadBlock(uint32(9), gomock.Any()).Return(nil),
		)

		Expect(c.Write(0x44, 0xCAFEF00D, 0xFFFFFFFF)).To(Succeed())
		_, err := c.Read(0x240)
		Expect(err).NotTo(HaveOccurred())

		Expect(written).To(HaveLen(64))
		Expect(binary.LittleEndian.Uint32(written[4:8])).To(Equal(uint32(0xCAFEF00D)))
	})

	It("should rebuild the block number of a victim with a non-zero tag", func() {
		recorder.EXPECT().TryIncrease(gomock.Any()).AnyTimes()
		recorder.EXPECT().HitIncrease(gomock.Any()).AnyTimes()

		// Block 0x1F3 lives in set 3 with tag 0x3E.
		gomock.InOrder(
			mem.EXPECT().ReadBlock(uint32(0x1F3), gomock.Any()).Return(nil),
			mem.EXPECT().WriteBlock(uint32(0x1F3), gomock.Any()).Return(nil),
			mem.EXPECT().ReadBlock(uint32(0x3), gomock.Any()).Return(nil),
		)

		Expect(c.Write(0x1F3<<6, 1, 0xFFFFFFFF)).To(Succeed())
		Expect(c.Line(3, 0).Tag).To(Equal(uint32(0x3E)))

		_, err := c.Read(0x3 << 6)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should surface refill failures as memory errors", func() {
		recorder.EXPECT().TryIncrease(uint64(1))
		mem.EXPECT().ReadBlock(uint32(1), gomock.Any()).Return(errors.New("boom"))

		_, err := c.Read(0x40)
		Expect(err).To(MatchError(cache.ErrMemory))

		var memErr *cache.MemoryError
		Expect(errors.As(err, &memErr)).To(BeTrue())
		Expect(memErr.Op).To(Equal("read"))
		Expect(memErr.Block).To(Equal(uint32(1)))
		Expect(c.Line(1, 0).Valid).To(BeFalse())
	})

	It("should keep a dirty victim when its write-back fails", func() {
		recorder.EXPECT().TryIncrease(gomock.Any()).AnyTimes()
		recorder.EXPECT().HitIncrease(gomock.Any()).AnyTimes()

		gomock.InOrder(
			mem.EXPECT().ReadBlock(uint32(1), gomock.Any()).Return(nil),
			mem.EXPECT().WriteBlock(uint32(1), gomock.Any()).Return(errors.New("boom")),
		)

		Expect(c.Write(0x40, 7, 0xFFFFFFFF)).To(Succeed())

		_, err := c.Read(0x240)
		Expect(err).To(MatchError(cache.ErrMemory))

		line := c.Line(1, 0)
		Expect(line.Valid).To(BeTrue())
		Expect(line.Dirty).To(BeTrue())
		Expect(line.Tag).To(BeZero())
	})
})
