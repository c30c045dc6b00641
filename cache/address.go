package cache

// Address is a decoded memory address.
type Address struct {
	Offset   uint32
	SetIndex uint32
	Tag      uint32
}

func lowMask(width int) uint32 {
	return uint32((uint64(1) << uint(width)) - 1)
}

// Align clears the low two bits so the address names its containing word.
func Align(addr uint32) uint32 {
	return addr &^ (WordSize - 1)
}

// Decode splits an address into block offset, set index and tag. Unaligned
// low bits are dropped.
func (g Geometry) Decode(addr uint32) Address {
	aligned := Align(addr)

	return Address{
		Offset:   aligned & lowMask(g.BlockWidth),
		SetIndex: (aligned >> uint(g.BlockWidth)) & lowMask(g.SetIndexWidth),
		Tag: uint32(uint64(aligned)>>uint(g.BlockWidth+g.SetIndexWidth)) &
			lowMask(g.TagWidth),
	}
}

// Compose is the inverse of Decode for aligned addresses.
func (g Geometry) Compose(a Address) uint32 {
	return a.Offset |
		a.SetIndex<<uint(g.BlockWidth) |
		uint32(uint64(a.Tag)<<uint(g.BlockWidth+g.SetIndexWidth))
}

// BlockNumber returns the block-granularity address of addr.
func (g Geometry) BlockNumber(addr uint32) uint32 {
	return Align(addr) >> uint(g.BlockWidth)
}

// ResidentBlockNumber rebuilds the block number held by a line from its tag
// and the index of the set it lives in.
func (g Geometry) ResidentBlockNumber(tag, setIndex uint32) uint32 {
	return uint32(uint64(tag)<<uint(g.SetIndexWidth)) + setIndex
}

// TagOf returns the tag stored for a block number.
func (g Geometry) TagOf(blockNumber uint32) uint32 {
	return uint32(uint64(blockNumber) >> uint(g.SetIndexWidth))
}
