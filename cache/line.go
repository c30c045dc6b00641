package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Line is a copy of one way of a set.
type Line struct {
	Valid bool
	Dirty bool
	// Tag is meaningful only when Valid is set.
	Tag  uint32
	Data []byte
}

// store keeps tags and state in an Akita directory and line data in one
// slab indexed by (setID * ways + wayID).
type store struct {
	directory *akitacache.DirectoryImpl
	data      []byte

	geometry Geometry
}

func newStore(g Geometry, victimFinder akitacache.VictimFinder) *store {
	return &store{
		directory: akitacache.NewDirectory(g.SetCount, g.WayCount, g.BlockSize, victimFinder),
		data:      make([]byte, g.SetCount*g.WayCount*g.BlockSize),
		geometry:  g,
	}
}

// blockAddr is the directory tag of a block: its block-aligned address.
func (s *store) blockAddr(blockNumber uint32) uint64 {
	return uint64(blockNumber) << uint(s.geometry.BlockWidth)
}

// blockNumber recovers the block number of a resident block from its tag
// and set.
func (s *store) blockNumber(block *akitacache.Block) uint32 {
	return s.geometry.ResidentBlockNumber(s.tag(block), uint32(block.SetID))
}

// tag extracts the address tag from the block-aligned address kept in the
// directory.
func (s *store) tag(block *akitacache.Block) uint32 {
	shift := uint(s.geometry.BlockWidth + s.geometry.SetIndexWidth)
	return uint32(block.Tag>>shift) & lowMask(s.geometry.TagWidth)
}

func (s *store) blockIndex(block *akitacache.Block) int {
	return block.SetID*s.geometry.WayCount + block.WayID
}

func (s *store) blockData(block *akitacache.Block) []byte {
	start := s.blockIndex(block) * s.geometry.BlockSize
	end := start + s.geometry.BlockSize
	return s.data[start:end:end]
}

// lookup returns the first valid way holding blockNumber, or nil.
func (s *store) lookup(blockNumber uint32) *akitacache.Block {
	return s.directory.Lookup(0, s.blockAddr(blockNumber))
}

func (s *store) findVictim(blockNumber uint32) *akitacache.Block {
	return s.directory.FindVictim(s.blockAddr(blockNumber))
}

// block returns the block at (set, way), or nil when out of range.
func (s *store) block(set, way int) *akitacache.Block {
	sets := s.directory.GetSets()
	if set < 0 || set >= len(sets) {
		return nil
	}
	blocks := sets[set].Blocks
	if way < 0 || way >= len(blocks) {
		return nil
	}
	return blocks[way]
}

func (s *store) snapshot(block *akitacache.Block) Line {
	return Line{
		Valid: block.IsValid,
		Dirty: block.IsDirty,
		Tag:   s.tag(block),
		Data:  append([]byte(nil), s.blockData(block)...),
	}
}

// reset marks every block invalid and clean. Data is left untouched.
func (s *store) reset() {
	s.directory.Reset()
}
