package cache

import "encoding/binary"

// ReadWord decodes the little-endian word at offset within a block. The
// offset must be word-aligned and inside the block.
func ReadWord(block []byte, offset uint32) uint32 {
	return binary.LittleEndian.Uint32(block[offset : offset+WordSize])
}

// WriteWord merges data into the word at offset. Only the bits set in mask
// are changed.
func WriteWord(block []byte, offset, data, mask uint32) {
	current := ReadWord(block, offset)
	merged := (current &^ mask) | (data & mask)
	binary.LittleEndian.PutUint32(block[offset:offset+WordSize], merged)
}
