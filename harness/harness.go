// Package harness drives workloads through independent cache instances and
// reports hit rates, memory traffic and data-integrity mismatches.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"runtime"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/cachelab/cache"
	"github.com/sarchlab/cachelab/memory"
	"github.com/sarchlab/cachelab/stats"
	"github.com/sarchlab/cachelab/workload"
)

// maxLoggedMismatches bounds the warnings emitted per run.
const maxLoggedMismatches = 10

// HarnessConfig configures the harness.
type HarnessConfig struct {
	// Cache is the geometry every run uses.
	Cache cache.Config

	// Seed drives both workload generation and victim selection.
	Seed uint64

	// Accesses is the number of requests per generated workload.
	Accesses int

	// Footprint is the size in bytes of the region workloads touch.
	Footprint uint32

	// HitLatency is charged for every access.
	HitLatency uint64

	// MemoryLatency is charged for every block transfer.
	MemoryLatency uint64

	// Verify mirrors every access into an uncached reference memory and
	// compares results.
	Verify bool

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Logger receives progress and mismatch events.
	Logger zerolog.Logger
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Cache:         cache.DefaultConfig(),
		Seed:          1,
		Accesses:      100000,
		Footprint:     1 << 20,
		HitLatency:    1,
		MemoryLatency: 100,
		Verify:        true,
		Output:        os.Stdout,
		Logger:        zerolog.Nop(),
	}
}

// Validate checks the harness configuration.
func (c HarnessConfig) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.Accesses <= 0 {
		return fmt.Errorf("accesses must be > 0")
	}
	if c.Footprint < cache.WordSize {
		return fmt.Errorf("footprint must be at least %d bytes", cache.WordSize)
	}
	return nil
}

// Result holds the outcome of one workload run.
type Result struct {
	RunID       string `json:"run_id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Accesses uint64  `json:"accesses"`
	Reads    uint64  `json:"reads"`
	Writes   uint64  `json:"writes"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`

	Evictions  uint64 `json:"evictions"`
	Writebacks uint64 `json:"writebacks"`

	MemoryReads  uint64 `json:"memory_reads"`
	MemoryWrites uint64 `json:"memory_writes"`

	// Cycles is HitLatency per access plus MemoryLatency per block transfer.
	Cycles uint64 `json:"cycles"`

	// Mismatches counts reads and flushed blocks that disagree with the
	// reference memory. Always zero when verification is off.
	Mismatches uint64 `json:"mismatches"`

	WallTime time.Duration `json:"wall_time_ns"`
}

// Harness runs workloads and reports results.
type Harness struct {
	config    HarnessConfig
	workloads []workload.Workload
	runID     string
}

// NewHarness creates a new harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &Harness{
		config: config,
		runID:  xid.New().String(),
	}
}

// RunID identifies this harness invocation in results and recordings.
func (h *Harness) RunID() string {
	return h.runID
}

// Config returns the harness configuration.
func (h *Harness) Config() HarnessConfig {
	return h.config
}

// AddWorkload adds a workload to the harness.
func (h *Harness) AddWorkload(w workload.Workload) {
	h.workloads = append(h.workloads, w)
}

// AddWorkloads adds multiple workloads to the harness.
func (h *Harness) AddWorkloads(ws []workload.Workload) {
	h.workloads = append(h.workloads, ws...)
}

func (h *Harness) params() workload.Params {
	g := h.config.Cache.Geometry()
	return workload.Params{
		Accesses:  h.config.Accesses,
		Footprint: h.config.Footprint,
		BlockSize: uint32(g.BlockSize),
		CacheSize: uint32(g.TotalSize()),
	}
}

// RunAll executes every workload, each on its own cache, and returns results
// in the order the workloads were added.
func (h *Harness) RunAll(ctx context.Context) ([]Result, error) {
	if err := h.config.Validate(); err != nil {
		return nil, err
	}

	results := make([]Result, len(h.workloads))
	params := h.params()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, w := range h.workloads {
		g.Go(func() error {
			seed := h.config.Seed + uint64(i)
			rng := rand.New(rand.NewPCG(seed, uint64(i)))
			accesses := w.Generate(rng, params)

			r, err := h.run(ctx, w.Name, w.Description, seed, accesses)
			if err != nil {
				return fmt.Errorf("workload %s: %w", w.Name, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunAccesses drives a fixed access stream, such as a parsed trace, through a
// fresh cache.
func (h *Harness) RunAccesses(
	ctx context.Context,
	name string,
	accesses []workload.Access,
) (Result, error) {
	if err := h.config.Cache.Validate(); err != nil {
		return Result{}, err
	}
	return h.run(ctx, name, "", h.config.Seed, accesses)
}

// session is the state of one run.
type session struct {
	cache   *cache.Cache
	backing *memory.BlockMemory
	ref     *memory.BlockMemory
	counter *stats.Counter
	logger  zerolog.Logger

	touched    map[uint32]struct{}
	mismatches uint64
}

func (h *Harness) newSession(name string, seed uint64) (*session, error) {
	g := h.config.Cache.Geometry()
	logger := h.config.Logger.With().Str("workload", name).Logger()

	backing := memory.New(g.BlockWidth, memory.DefaultCapacity)
	backing.SetLatency(h.config.MemoryLatency)
	counter := stats.NewCounter()

	c, err := cache.New(h.config.Cache, backing, counter,
		cache.WithSeed(seed),
		cache.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	s := &session{
		cache:   c,
		backing: backing,
		counter: counter,
		logger:  logger,
	}

	if h.config.Verify {
		s.ref = memory.New(g.BlockWidth, memory.DefaultCapacity)
		s.touched = make(map[uint32]struct{})
	}

	return s, nil
}

func (h *Harness) run(
	ctx context.Context,
	name, description string,
	seed uint64,
	accesses []workload.Access,
) (Result, error) {
	s, err := h.newSession(name, seed)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info().Int("accesses", len(accesses)).Msg("workload started")
	start := time.Now()

	for i, a := range accesses {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}

		if err := s.apply(a); err != nil {
			return Result{}, fmt.Errorf("access %d at 0x%08x: %w", i, a.Addr, err)
		}
	}

	cs := s.cache.Stats()
	ms := s.backing.Stats()

	if h.config.Verify {
		if err := s.verifyFlushed(); err != nil {
			return Result{}, err
		}
	}

	wallTime := time.Since(start)

	result := Result{
		RunID:        h.runID,
		Name:         name,
		Description:  description,
		Accesses:     s.counter.Accesses(),
		Reads:        cs.Reads,
		Writes:       cs.Writes,
		Hits:         s.counter.Hits(),
		Misses:       s.counter.Misses(),
		HitRate:      s.counter.HitRate(),
		Evictions:    cs.Evictions,
		Writebacks:   cs.Writebacks,
		MemoryReads:  ms.BlockReads,
		MemoryWrites: ms.BlockWrites,
		Cycles:       s.counter.Accesses()*h.config.HitLatency + ms.Cycles,
		Mismatches:   s.mismatches,
		WallTime:     wallTime,
	}

	s.logger.Info().
		Float64("hit_rate", result.HitRate).
		Uint64("mismatches", result.Mismatches).
		Dur("wall_time", wallTime).
		Msg("workload finished")

	return result, nil
}

func (s *session) apply(a workload.Access) error {
	addr := cache.Align(a.Addr)

	switch a.Op {
	case workload.OpRead:
		got, err := s.cache.Read(a.Addr)
		if err != nil {
			return err
		}
		if s.ref == nil {
			return nil
		}

		want, err := s.ref.Read32(addr)
		if err != nil {
			return err
		}
		if got != want {
			s.mismatch().
				Uint32("addr", addr).
				Uint32("got", got).
				Uint32("want", want).
				Msg("read mismatch")
		}

	case workload.OpWrite:
		if err := s.cache.Write(a.Addr, a.Data, a.Mask); err != nil {
			return err
		}
		if s.ref == nil {
			return nil
		}

		s.touched[s.cache.Geometry().BlockNumber(addr)] = struct{}{}
		if err := s.ref.WriteMasked(addr, a.Data, a.Mask); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown operation %d", a.Op)
	}

	return nil
}

// mismatch counts one disagreement and returns a warn event while under the
// logging budget.
func (s *session) mismatch() *zerolog.Event {
	s.mismatches++
	if s.mismatches > maxLoggedMismatches {
		return nil
	}
	return s.logger.Warn()
}

// verifyFlushed writes every dirty line back and compares each written
// block with the reference memory.
func (s *session) verifyFlushed() error {
	if err := s.cache.Flush(); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}

	size := s.backing.BlockSize()
	got := make([]byte, size)
	want := make([]byte, size)

	for block := range s.touched {
		if err := s.backing.ReadBlock(block, got); err != nil {
			return err
		}
		if err := s.ref.ReadBlock(block, want); err != nil {
			return err
		}
		if !bytes.Equal(got, want) {
			s.mismatch().Uint32("block", block).Msg("flushed block mismatch")
		}
	}

	return nil
}
