// Package capture acquires BGRA screen frames for event generation.
//
// Two providers implement FrameProvider: a GStreamer X11 screen grabber for
// live sessions and a synthetic generator for tests and receiver bring-up.
// Frames are delivered over a bounded channel with a non-blocking send;
// when the consumer lags, frames are dropped and counted rather than queued.
package capture

import (
	"context"
	"time"
)

// Frame is one captured screen image in BGRA layout, 4 bytes per pixel,
// row-major from the top-left.
type Frame struct {
	// Seq is the monotonic sequence number.
	Seq uint64
	// Timestamp is when the frame left the pipeline.
	Timestamp time.Time
	// Width in pixels.
	Width int
	// Height in pixels.
	Height int
	// Data is the BGRA pixel buffer, owned by the receiver.
	Data []byte
	// TraceID is a unique identifier for log correlation.
	TraceID string
}

// Stats contains provider counters. Updated atomically during capture.
type Stats struct {
	FrameCount    uint64
	FramesDropped uint64
	BytesRead     uint64
	FPSTarget     float64
	IsRunning     bool
}

// FrameProvider is the contract for frame acquisition.
//
// Implementations must guarantee:
//   - Start() returns promptly; frames arrive asynchronously
//   - the returned channel stays open until Stop()
//   - Stop() is idempotent
//   - Stats() is safe from any goroutine
type FrameProvider interface {
	// Start begins capture and returns a read-only frame channel. Frames
	// are sent non-blocking; a full buffer drops the frame.
	Start(ctx context.Context) (<-chan Frame, error)

	// Stop shuts the provider down and releases its resources.
	Stop() error

	// Stats returns current capture counters.
	Stats() Stats
}
