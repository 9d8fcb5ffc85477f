// Package differ turns pairs of raster frames into polarity events, the
// DVS-style frame differencing at the head of the pipeline.
//
// Differencing is pure: no state is shared across calls. The caller (the
// capture session) owns the previous-frame buffer and the first-frame rule;
// Diff only compares two equally-sized BGRA buffers. Sampled rows are
// partitioned across a short-lived worker pool (fork-join per frame), each
// worker accumulating into a private quota-capped list, merged in worker
// order with the overflow tail dropped. Output size is therefore bounded by
// MaxEvents regardless of scene activity.
package differ

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/visiona/retina/internal/event"
)

// bytesPerPixel is fixed by the capture collaborator: 4-byte BGRA.
const bytesPerPixel = 4

// Luminance weights (ITU-R BT.601).
const (
	lumR = 0.299
	lumG = 0.587
	lumB = 0.114
)

// Config parameterizes a Differencer.
type Config struct {
	// Width, Height are the frame geometry in pixels.
	Width, Height int
	// Threshold is the luminance delta (0..255 scale) below which a pixel
	// change is ignored.
	Threshold float32
	// Stride is the spatial sub-sampling step; only coordinates with
	// x%Stride == 0 and y%Stride == 0 are compared.
	Stride int
	// MaxEvents bounds the output per frame.
	MaxEvents int
	// Workers sizes the per-frame pool; 0 means GOMAXPROCS.
	Workers int
}

// Differencer compares frame pairs. Safe for concurrent use; it carries no
// per-call state.
type Differencer struct {
	cfg Config
}

// New validates the configuration. Bad geometry, stride or event caps are
// configuration errors caught here, not mid-capture.
func New(cfg Config) (*Differencer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Stride < 1 {
		return nil, fmt.Errorf("stride must be >= 1, got %d", cfg.Stride)
	}
	if cfg.MaxEvents < 1 {
		return nil, fmt.Errorf("max events must be >= 1, got %d", cfg.MaxEvents)
	}
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("threshold must be >= 0, got %f", cfg.Threshold)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", cfg.Workers)
	}
	return &Differencer{cfg: cfg}, nil
}

// Diff compares current against previous and returns at most MaxEvents
// polarity events in row-major sample order per worker partition. now
// supplies each event's stream-relative timestamp in microseconds.
//
// Pixels whose byte offset would read past either buffer are skipped: a
// partial frame is degraded coverage, never an error.
func (d *Differencer) Diff(current, previous []byte, now func() uint64) []event.Event {
	cfg := d.cfg

	totalRows := (cfg.Height + cfg.Stride - 1) / cfg.Stride
	workers := cfg.Workers
	if workers > totalRows {
		workers = totalRows
	}
	if workers < 1 {
		return nil
	}

	quota := cfg.MaxEvents / workers
	if quota < 1 {
		quota = 1
	}

	// Fork: contiguous row ranges per worker, private accumulators.
	locals := make([][]event.Event, workers)
	rowsPerWorker := (totalRows + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		firstRow := w * rowsPerWorker
		lastRow := firstRow + rowsPerWorker
		if lastRow > totalRows {
			lastRow = totalRows
		}
		if firstRow >= lastRow {
			continue
		}

		wg.Add(1)
		go func(w, firstRow, lastRow int) {
			defer wg.Done()
			local := make([]event.Event, 0, quota)
			for row := firstRow; row < lastRow && len(local) < quota; row++ {
				y := row * cfg.Stride
				for x := 0; x < cfg.Width && len(local) < quota; x += cfg.Stride {
					pol, ok := d.pixelChange(current, previous, x, y)
					if !ok {
						continue
					}
					local = append(local, event.Event{
						Timestamp: now(),
						X:         uint16(x),
						Y:         uint16(y),
						Polarity:  pol,
					})
				}
			}
			locals[w] = local
		}(w, firstRow, lastRow)
	}
	wg.Wait()

	// Join: merge in worker order, dropping the overflow tail.
	out := make([]event.Event, 0, cfg.MaxEvents)
	for _, local := range locals {
		remaining := cfg.MaxEvents - len(out)
		if remaining <= 0 {
			break
		}
		if len(local) > remaining {
			local = local[:remaining]
		}
		out = append(out, local...)
	}
	return out
}

// pixelChange classifies one sampled coordinate. The no-change case is the
// hot path: two luminance computations and a compare, no allocation.
func (d *Differencer) pixelChange(current, previous []byte, x, y int) (event.Polarity, bool) {
	off := (y*d.cfg.Width + x) * bytesPerPixel
	if off+3 >= len(current) || off+3 >= len(previous) {
		return 0, false
	}

	// BGRA order: [B, G, R, A].
	curLum := float32(current[off+2])*lumR + float32(current[off+1])*lumG + float32(current[off])*lumB
	prevLum := float32(previous[off+2])*lumR + float32(previous[off+1])*lumG + float32(previous[off])*lumB

	diff := curLum - prevLum
	abs := diff
	if abs < 0 {
		abs = -abs
	}
	if abs <= d.cfg.Threshold {
		return 0, false
	}
	if diff > 0 {
		return event.PolarityUp, true
	}
	return event.PolarityDown, true
}
