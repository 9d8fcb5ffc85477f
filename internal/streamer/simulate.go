package streamer

import (
	"math/rand/v2"
	"time"

	"github.com/visiona/retina/internal/event"
)

// SimulatedSource returns a Source emitting random events across the given
// geometry, timestamped from the wall clock in microseconds. Useful for
// exercising a receiver without a live capture pipeline.
func SimulatedSource(width, height uint16, perPull int) Source {
	return func() []event.DVSEvent {
		now := uint64(time.Now().UnixMicro())
		out := make([]event.DVSEvent, perPull)
		for i := range out {
			out[i] = event.DVSEvent{
				Timestamp: now + uint64(i),
				X:         uint16(rand.IntN(int(width))),
				Y:         uint16(rand.IntN(int(height))),
				On:        rand.IntN(2) == 1,
			}
		}
		return out
	}
}
