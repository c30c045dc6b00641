package cache

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// Accesses returns Reads + Writes.
func (s Statistics) Accesses() uint64 {
	return s.Reads + s.Writes
}

// Cache is a set-associative, write-back, write-allocate cache with random
// replacement. Tags and line state live in an Akita directory. A Cache is
// not safe for concurrent use; callers that share one across goroutines must
// serialize Read and Write.
type Cache struct {
	config   Config
	geometry Geometry

	store *store

	backing      BackingMemory
	recorder     StatsRecorder
	victimFinder VictimFinder
	logger       zerolog.Logger

	stats Statistics
}

// Option customizes a Cache at construction.
type Option func(*Cache)

// WithVictimFinder replaces the default random victim finder.
func WithVictimFinder(f VictimFinder) Option {
	return func(c *Cache) {
		c.victimFinder = f
	}
}

// WithSeed seeds the default random victim finder.
func WithSeed(seed uint64) Option {
	return func(c *Cache) {
		c.victimFinder = NewRandomVictimFinder(seed)
	}
}

// WithLogger sets the logger used for eviction and flush events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a cache in front of backing. Every line starts invalid, clean
// and zeroed. recorder may be nil.
func New(
	config Config,
	backing BackingMemory,
	recorder StatsRecorder,
	opts ...Option,
) (*Cache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if backing == nil {
		return nil, fmt.Errorf("%w: backing memory is required", ErrInvalidConfig)
	}
	if recorder == nil {
		recorder = nopStats{}
	}

	config.BlockWidth = config.blockWidth()

	c := &Cache{
		config:   config,
		geometry: config.Geometry(),
		backing:  backing,
		recorder: recorder,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.victimFinder == nil {
		c.victimFinder = NewRandomVictimFinder(uint64(time.Now().UnixNano()))
	}

	c.store = newStore(c.geometry, c.victimFinder)

	return c, nil
}

// InitCache creates a cache of 2^totalSizeWidth bytes and
// 2^associativityWidth ways with the default block size.
func InitCache(
	totalSizeWidth, associativityWidth int,
	backing BackingMemory,
	recorder StatsRecorder,
	opts ...Option,
) (*Cache, error) {
	return New(Config{
		TotalSizeWidth:     totalSizeWidth,
		AssociativityWidth: associativityWidth,
		BlockWidth:         DefaultBlockWidth,
	}, backing, recorder, opts...)
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Geometry returns the derived layout.
func (c *Cache) Geometry() Geometry {
	return c.geometry
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// Line returns a copy of the line at (set, way). Indices outside
// [0, SetCount) x [0, WayCount) yield the zero Line.
func (c *Cache) Line(set, way int) Line {
	block := c.store.block(set, way)
	if block == nil {
		return Line{}
	}
	return c.store.snapshot(block)
}

// Read returns the 4-byte word containing addr. On a miss the block is
// fetched first.
func (c *Cache) Read(addr uint32) (uint32, error) {
	c.stats.Reads++
	c.recorder.TryIncrease(1)

	a := c.geometry.Decode(addr)
	blockNumber := c.geometry.BlockNumber(addr)

	if block := c.store.lookup(blockNumber); block != nil {
		c.stats.Hits++
		c.recorder.HitIncrease(1)
		return ReadWord(c.store.blockData(block), a.Offset), nil
	}

	c.stats.Misses++
	block, err := c.replace(blockNumber, a.SetIndex)
	if err != nil {
		return 0, err
	}

	return ReadWord(c.store.blockData(block), a.Offset), nil
}

// Write stores the bits of data selected by writeMask into the word
// containing addr. Uses write-allocate policy: on miss, fetch the block
// first, then write.
func (c *Cache) Write(addr, data, writeMask uint32) error {
	c.stats.Writes++
	c.recorder.TryIncrease(1)

	a := c.geometry.Decode(addr)
	blockNumber := c.geometry.BlockNumber(addr)

	block := c.store.lookup(blockNumber)
	if block != nil {
		c.stats.Hits++
		c.recorder.HitIncrease(1)
	} else {
		c.stats.Misses++

		var err error
		block, err = c.replace(blockNumber, a.SetIndex)
		if err != nil {
			return err
		}
	}

	block.IsDirty = true
	WriteWord(c.store.blockData(block), a.Offset, data, writeMask)

	return nil
}

// replace loads blockNumber into a randomly chosen way of its set, writing
// the victim back first when it is dirty.
func (c *Cache) replace(blockNumber, setIndex uint32) (*akitacache.Block, error) {
	victim := c.store.findVictim(blockNumber)
	data := c.store.blockData(victim)

	if victim.IsDirty {
		evicted := c.store.blockNumber(victim)
		if err := c.backing.WriteBlock(evicted, data); err != nil {
			return nil, &MemoryError{Op: "write", Block: evicted, Err: err}
		}
		c.stats.Writebacks++

		c.logger.Debug().
			Uint32("set", setIndex).
			Int("way", victim.WayID).
			Uint32("block", evicted).
			Msg("dirty line written back")
	}

	if victim.IsValid {
		c.stats.Evictions++
	}

	if err := c.backing.ReadBlock(blockNumber, data); err != nil {
		victim.IsValid = false
		victim.IsDirty = false
		return nil, &MemoryError{Op: "read", Block: blockNumber, Err: err}
	}

	victim.Tag = c.store.blockAddr(blockNumber)
	victim.IsValid = true
	victim.IsDirty = false

	return victim, nil
}

// Invalidate drops the line holding addr, writing it back if dirty.
func (c *Cache) Invalidate(addr uint32) error {
	block := c.store.lookup(c.geometry.BlockNumber(addr))
	if block == nil {
		return nil
	}

	if block.IsDirty {
		if err := c.writeBack(block); err != nil {
			return err
		}
	}

	block.IsValid = false
	block.IsDirty = false

	return nil
}

// Flush writes back all dirty blocks and invalidates every line.
func (c *Cache) Flush() error {
	var flushed int

	for _, set := range c.store.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				if err := c.writeBack(block); err != nil {
					return err
				}
				flushed++
			}
		}
	}

	c.store.reset()

	c.logger.Debug().Int("written_back", flushed).Msg("cache flushed")

	return nil
}

// Reset invalidates all cache lines without writeback.
func (c *Cache) Reset() {
	c.store.reset()
	c.stats = Statistics{}
}

func (c *Cache) writeBack(block *akitacache.Block) error {
	blockNumber := c.store.blockNumber(block)
	if err := c.backing.WriteBlock(blockNumber, c.store.blockData(block)); err != nil {
		return &MemoryError{Op: "write", Block: blockNumber, Err: err}
	}

	block.IsDirty = false
	c.stats.Writebacks++

	return nil
}
