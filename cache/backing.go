package cache

import (
	"errors"
	"fmt"
)

// BackingMemory is the next level below the cache. It transfers whole
// blocks addressed by block number.
type BackingMemory interface {
	// ReadBlock fills buf with the block at blockNumber.
	ReadBlock(blockNumber uint32, buf []byte) error
	// WriteBlock persists buf as the block at blockNumber.
	WriteBlock(blockNumber uint32, buf []byte) error
}

// StatsRecorder receives access and hit counts.
type StatsRecorder interface {
	TryIncrease(n uint64)
	HitIncrease(n uint64)
}

type nopStats struct{}

func (nopStats) TryIncrease(uint64) {}
func (nopStats) HitIncrease(uint64) {}

// ErrMemory matches every MemoryError.
var ErrMemory = errors.New("backing memory failure")

// MemoryError reports a failed block transfer.
type MemoryError struct {
	Op    string
	Block uint32
	Err   error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("backing memory %s of block 0x%x failed: %v", e.Op, e.Block, e.Err)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrMemory) match.
func (e *MemoryError) Is(target error) bool {
	return target == ErrMemory
}
