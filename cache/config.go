// Package cache models a set-associative, write-back, write-allocate cache
// with uniform-random replacement.
package cache

import (
	"errors"
	"fmt"
)

// AddressWidth is the width of every address the cache accepts.
const AddressWidth = 32

// WordSize is the access granularity in bytes.
const WordSize = 4

// DefaultBlockWidth gives 64-byte cache lines.
const DefaultBlockWidth = 6

// MaxTotalSizeWidth caps the modeled capacity at 1GB.
const MaxTotalSizeWidth = 30

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// Config holds cache configuration parameters. All sizes are expressed as
// log2 widths.
type Config struct {
	// TotalSizeWidth is log2 of the total cache capacity in bytes.
	TotalSizeWidth int `json:"total_size_width"`
	// AssociativityWidth is log2 of the number of ways per set.
	AssociativityWidth int `json:"associativity_width"`
	// BlockWidth is log2 of the line size. Zero selects DefaultBlockWidth.
	BlockWidth int `json:"block_width"`
}

// DefaultConfig returns a 32KB, 4-way cache with 64B lines.
func DefaultConfig() Config {
	return Config{
		TotalSizeWidth:     15,
		AssociativityWidth: 2,
		BlockWidth:         DefaultBlockWidth,
	}
}

// Geometry is the layout derived from a Config.
type Geometry struct {
	BlockWidth    int
	SetIndexWidth int
	TagWidth      int

	BlockSize int
	WayCount  int
	SetCount  int
}

func (c Config) blockWidth() int {
	if c.BlockWidth == 0 {
		return DefaultBlockWidth
	}
	return c.BlockWidth
}

// Validate checks that the widths describe a realizable cache.
func (c Config) Validate() error {
	bw := c.blockWidth()

	if c.AssociativityWidth < 0 {
		return fmt.Errorf("%w: associativity_width must be >= 0, got %d",
			ErrInvalidConfig, c.AssociativityWidth)
	}
	if bw < 2 || bw > 16 {
		return fmt.Errorf("%w: block_width must be in [2, 16], got %d",
			ErrInvalidConfig, bw)
	}
	if c.TotalSizeWidth < bw+c.AssociativityWidth {
		return fmt.Errorf(
			"%w: total_size_width %d is smaller than block_width + associativity_width (%d)",
			ErrInvalidConfig, c.TotalSizeWidth, bw+c.AssociativityWidth)
	}
	if c.TotalSizeWidth > MaxTotalSizeWidth {
		return fmt.Errorf("%w: total_size_width must be <= %d, got %d",
			ErrInvalidConfig, MaxTotalSizeWidth, c.TotalSizeWidth)
	}
	return nil
}

// Geometry derives the set/way layout. The config must be valid.
func (c Config) Geometry() Geometry {
	bw := c.blockWidth()
	setIndexWidth := c.TotalSizeWidth - bw - c.AssociativityWidth

	return Geometry{
		BlockWidth:    bw,
		SetIndexWidth: setIndexWidth,
		TagWidth:      AddressWidth - bw - setIndexWidth,
		BlockSize:     1 << bw,
		WayCount:      1 << c.AssociativityWidth,
		SetCount:      1 << setIndexWidth,
	}
}

// TotalSize returns the capacity in bytes.
func (g Geometry) TotalSize() int {
	return g.BlockSize * g.WayCount * g.SetCount
}
