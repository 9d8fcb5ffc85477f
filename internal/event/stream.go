package event

import (
	"errors"
	"math"
	"sync"
)

// Unbounded disables eviction. Intended for archival/file-capture sessions
// where the full event log must be retained.
const Unbounded = math.MaxInt

// ErrZeroCapacity is returned by NewStream for a zero capacity.
var ErrZeroCapacity = errors.New("event stream capacity must be at least 1")

// Stream is a bounded, insertion-ordered event buffer, the "context window"
// of the capture session. It retains only the newest maxEvents events,
// evicting the oldest first, and tracks the total number of events ever
// produced.
//
// Thread-safety: a single mutex serializes every mutation and every
// non-snapshot read. Consumers read through Snapshot, which copies the
// contents so no caller ever observes the buffer mid-mutation. There is no
// backpressure: a slow consumer sees fewer or staler events, never stalls
// the producer.
type Stream struct {
	mu        sync.Mutex
	buf       []Event // ring storage when bounded, append storage when unbounded
	head      int     // index of oldest event (bounded mode)
	count     int
	maxEvents int

	generated uint64 // total events produced, never decremented by eviction

	// Stream metadata, fixed at construction from capture geometry.
	width     uint32
	height    uint32
	startTime uint64 // µs
}

// NewStream creates a stream for a width×height capture starting at
// startTime (µs). maxEvents bounds the rolling buffer; pass Unbounded to
// disable eviction. A zero capacity is a configuration error.
func NewStream(width, height uint32, startTime uint64, maxEvents int) (*Stream, error) {
	if maxEvents <= 0 {
		return nil, ErrZeroCapacity
	}
	s := &Stream{
		maxEvents: maxEvents,
		width:     width,
		height:    height,
		startTime: startTime,
	}
	if maxEvents != Unbounded {
		s.buf = make([]Event, maxEvents)
	}
	return s, nil
}

// Push appends one event, evicting the oldest if the buffer is full.
func (s *Stream) Push(e Event) {
	s.mu.Lock()
	s.push(e)
	s.mu.Unlock()
}

// PushBatch appends events in order under a single lock acquisition.
// Each appended event counts toward TotalGenerated, evicted or not.
func (s *Stream) PushBatch(batch []Event) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	for _, e := range batch {
		s.push(e)
	}
	s.mu.Unlock()
}

// push appends without locking. Caller holds s.mu.
func (s *Stream) push(e Event) {
	if s.maxEvents == Unbounded {
		s.buf = append(s.buf, e)
		s.count++
		s.generated++
		return
	}
	if s.count == s.maxEvents {
		// Overwrite the oldest slot.
		s.buf[s.head] = e
		s.head = (s.head + 1) % s.maxEvents
	} else {
		s.buf[(s.head+s.count)%s.maxEvents] = e
		s.count++
	}
	s.generated++
}

// Snapshot returns an independent, insertion-ordered copy of the current
// contents. O(n), intended for consumer-cadence access rather than per-event
// polling.
func (s *Stream) Snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SnapshotTotal returns the snapshot together with the TotalGenerated count
// observed under the same lock acquisition. Cursor-based consumers need the
// pair to be mutually consistent; reading them separately lets a concurrent
// push slip between the two and shift which events the cursor selects.
func (s *Stream) SnapshotTotal() ([]Event, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), s.generated
}

// snapshotLocked copies the contents. Caller holds s.mu.
func (s *Stream) snapshotLocked() []Event {
	out := make([]Event, s.count)
	if s.maxEvents == Unbounded {
		copy(out, s.buf)
		return out
	}
	for i := 0; i < s.count; i++ {
		out[i] = s.buf[(s.head+i)%s.maxEvents]
	}
	return out
}

// Len returns the number of buffered events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// TotalGenerated returns the count of events ever pushed, including evicted
// ones.
func (s *Stream) TotalGenerated() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generated
}

// Clear empties the buffer and zeroes the generated counter, for reuse
// between capture sessions.
func (s *Stream) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxEvents == Unbounded {
		s.buf = s.buf[:0]
	}
	s.head = 0
	s.count = 0
	s.generated = 0
}

// Width returns the capture width in pixels.
func (s *Stream) Width() uint32 { return s.width }

// Height returns the capture height in pixels.
func (s *Stream) Height() uint32 { return s.height }

// StartTime returns the session start timestamp in microseconds. Event
// timestamps are relative to it.
func (s *Stream) StartTime() uint64 { return s.startTime }

// Cap returns the configured capacity (Unbounded when eviction is disabled).
func (s *Stream) Cap() int { return s.maxEvents }
