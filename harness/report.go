package harness

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sarchlab/cachelab/cache"
)

// Version is reported in JSON metadata.
const Version = "1.0.0"

// PrintResults outputs results in a human-readable format.
func (h *Harness) PrintResults(results []Result) {
	g := h.config.Cache.Geometry()
	out := h.config.Output

	_, _ = fmt.Fprintln(out, "=== CacheLab Results ===")
	_, _ = fmt.Fprintf(out, "Cache: %d bytes, %d-way, %d sets, %dB lines\n",
		g.TotalSize(), g.WayCount, g.SetCount, g.BlockSize)
	_, _ = fmt.Fprintln(out, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(out, "Workload: %s\n", r.Name)
		if r.Description != "" {
			_, _ = fmt.Fprintf(out, "  Description: %s\n", r.Description)
		}
		_, _ = fmt.Fprintln(out, "  --- Accesses ---")
		_, _ = fmt.Fprintf(out, "  Total:      %d (%d reads, %d writes)\n", r.Accesses, r.Reads, r.Writes)
		_, _ = fmt.Fprintf(out, "  Hits:       %d\n", r.Hits)
		_, _ = fmt.Fprintf(out, "  Misses:     %d\n", r.Misses)
		_, _ = fmt.Fprintf(out, "  Hit Rate:   %.2f%%\n", 100*r.HitRate)
		_, _ = fmt.Fprintln(out, "  --- Memory ---")
		_, _ = fmt.Fprintf(out, "  Evictions:  %d\n", r.Evictions)
		_, _ = fmt.Fprintf(out, "  Writebacks: %d\n", r.Writebacks)
		_, _ = fmt.Fprintf(out, "  Block Reads/Writes: %d / %d\n", r.MemoryReads, r.MemoryWrites)
		_, _ = fmt.Fprintf(out, "  Cycles:     %d\n", r.Cycles)
		if h.config.Verify {
			_, _ = fmt.Fprintf(out, "  Mismatches: %d\n", r.Mismatches)
		}
		_, _ = fmt.Fprintf(out, "  Wall Time:  %v\n", r.WallTime)
		_, _ = fmt.Fprintln(out, "")
	}
}

// PrintCSV outputs results in CSV format.
func (h *Harness) PrintCSV(results []Result) error {
	w := csv.NewWriter(h.config.Output)

	header := []string{
		"run_id", "name", "accesses", "reads", "writes", "hits", "misses",
		"hit_rate", "evictions", "writebacks", "memory_reads", "memory_writes",
		"cycles", "mismatches", "wall_time_ns",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	for _, r := range results {
		row := []string{
			r.RunID, r.Name, u(r.Accesses), u(r.Reads), u(r.Writes), u(r.Hits), u(r.Misses),
			strconv.FormatFloat(r.HitRate, 'f', 6, 64),
			u(r.Evictions), u(r.Writebacks), u(r.MemoryReads), u(r.MemoryWrites),
			u(r.Cycles), u(r.Mismatches), strconv.FormatInt(r.WallTime.Nanoseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// Report is the complete JSON output format.
type Report struct {
	Metadata ReportMetadata `json:"metadata"`
	Results  []Result       `json:"results"`
	Summary  ReportSummary  `json:"summary"`
}

// ReportMetadata contains information about the run.
type ReportMetadata struct {
	Timestamp string       `json:"timestamp"`
	Version   string       `json:"version"`
	RunID     string       `json:"run_id"`
	Cache     cache.Config `json:"cache"`
	Seed      uint64       `json:"seed"`
	Verify    bool         `json:"verify"`
}

// ReportSummary contains aggregate statistics across all results.
type ReportSummary struct {
	TotalWorkloads  int           `json:"total_workloads"`
	TotalAccesses   uint64        `json:"total_accesses"`
	TotalHits       uint64        `json:"total_hits"`
	OverallHitRate  float64       `json:"overall_hit_rate"`
	TotalCycles     uint64        `json:"total_cycles"`
	TotalMismatches uint64        `json:"total_mismatches"`
	TotalWallTime   time.Duration `json:"total_wall_time_ns"`
}

// Summarize aggregates results.
func Summarize(results []Result) ReportSummary {
	s := ReportSummary{TotalWorkloads: len(results)}
	for _, r := range results {
		s.TotalAccesses += r.Accesses
		s.TotalHits += r.Hits
		s.TotalCycles += r.Cycles
		s.TotalMismatches += r.Mismatches
		s.TotalWallTime += r.WallTime
	}
	if s.TotalAccesses > 0 {
		s.OverallHitRate = float64(s.TotalHits) / float64(s.TotalAccesses)
	}
	return s
}

// PrintJSON outputs results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []Result) error {
	report := Report{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
			RunID:     h.runID,
			Cache:     h.config.Cache,
			Seed:      h.config.Seed,
			Verify:    h.config.Verify,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
