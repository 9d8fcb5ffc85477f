// Package temporal maintains a deduplicated sliding time window over an
// event stream, so live consumers query O(recent events) instead of
// rescanning the whole context window on every frame.
//
// The index is fed by one updater goroutine calling UpdateFromStream with
// fresh stream snapshots; overlapping snapshots are the norm, and the
// synthetic-id dedup set makes re-ingestion idempotent. Read queries are
// safe concurrently with updates (one lock guards the deque/set pair, which
// always mutate together).
package temporal

import (
	"sync"

	"github.com/visiona/retina/internal/event"
)

// Defaults tuned for live visualization: a 100 ms trailing window.
const (
	DefaultWindowUS  = 100_000
	DefaultMaxRecent = 10_000
	maxSeenIDs       = 50_000
)

// entry pairs an event with its absolute time and dedup id.
type entry struct {
	ev  event.Event
	abs uint64
	id  uint64
}

// Index is the temporal event index. One goroutine owns updates; queries may
// run concurrently.
type Index struct {
	mu        sync.Mutex
	recent    []entry
	seen      map[uint64]struct{}
	windowUS  uint64
	maxRecent int

	processed  uint64
	duplicates uint64
}

// Stats is a snapshot of index counters.
type Stats struct {
	Processed  uint64
	Duplicates uint64
	BufferLen  int
}

// NewIndex creates an index with the given trailing window (µs) and recent
// entry cap. Zero values select the defaults.
func NewIndex(windowUS uint64, maxRecent int) *Index {
	if windowUS == 0 {
		windowUS = DefaultWindowUS
	}
	if maxRecent <= 0 {
		maxRecent = DefaultMaxRecent
	}
	return &Index{
		seen:      make(map[uint64]struct{}),
		windowUS:  windowUS,
		maxRecent: maxRecent,
	}
}

// inWindow reports whether an event stamped abs (µs) is live at now. Entries
// stamped ahead of now are treated as in-window rather than discarded: the
// event clock and the query clock come from different reads of the monotonic
// timer, so small leads are expected, and an early stamp should age out
// normally instead of vanishing.
func (ix *Index) inWindow(abs, now uint64) bool {
	return abs > now || now-abs <= ix.windowUS
}

// syntheticID derives the dedup id from the event's coordinates, polarity
// and the low 24 bits of its absolute timestamp. Collisions inside the
// window are possible but rare: an accepted precision/memory trade-off, not
// a uniqueness guarantee.
func syntheticID(e event.Event, abs uint64) uint64 {
	return uint64(e.X)<<48 | uint64(e.Y)<<32 | uint64(uint8(e.Polarity))<<24 | (abs & 0xFFFFFF)
}

// UpdateFromStream ingests a fresh snapshot of s. Events older than the
// window at now are discarded before the lock is taken; survivors are
// deduplicated by synthetic id, appended, and the window re-trimmed from the
// front. After this call every retained entry is live at now per inWindow.
func (ix *Index) UpdateFromStream(s *event.Stream, now uint64) {
	snapshot := s.Snapshot()
	start := s.StartTime()

	// Pre-filter outside the lock: most of a mature stream is stale.
	fresh := make([]entry, 0, len(snapshot))
	for _, e := range snapshot {
		abs := start + e.Timestamp
		if ix.inWindow(abs, now) {
			fresh = append(fresh, entry{ev: e, abs: abs, id: syntheticID(e, abs)})
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, en := range fresh {
		if _, dup := ix.seen[en.id]; dup {
			ix.duplicates++
			continue
		}
		ix.recent = append(ix.recent, en)
		ix.seen[en.id] = struct{}{}
		ix.processed++

		// Count cap: evict from the front, keeping set and deque in step.
		if len(ix.recent) > ix.maxRecent {
			delete(ix.seen, ix.recent[0].id)
			ix.recent = ix.recent[1:]
		}
	}

	ix.expireLocked(now)
}

// expireLocked trims entries older than the window from the front. Entries
// arrive in roughly increasing time order, so the scan stops at the first
// survivor, O(expired) rather than O(n). It also clears the whole id set if it
// outgrows its ceiling; a burst of re-admitted duplicates is preferable to
// unbounded memory.
func (ix *Index) expireLocked(now uint64) {
	i := 0
	for ; i < len(ix.recent); i++ {
		en := ix.recent[i]
		if ix.inWindow(en.abs, now) {
			break
		}
		delete(ix.seen, en.id)
	}
	if i > 0 {
		ix.recent = ix.recent[i:]
	}

	if len(ix.seen) > maxSeenIDs {
		ix.seen = make(map[uint64]struct{})
	}
}

// RecentEvents returns the events whose age at now is within the window.
// O(k) in the recent buffer size.
func (ix *Index) RecentEvents(now uint64) []event.Event {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]event.Event, 0, len(ix.recent))
	for _, en := range ix.recent {
		if ix.inWindow(en.abs, now) {
			out = append(out, en.ev)
		}
	}
	return out
}

// RecentDVS returns the recent window projected to wire records with
// absolute timestamps, the shape the streamer's event source wants.
func (ix *Index) RecentDVS(now uint64) []event.DVSEvent {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]event.DVSEvent, 0, len(ix.recent))
	for _, en := range ix.recent {
		if ix.inWindow(en.abs, now) {
			out = append(out, event.DVSEvent{
				Timestamp: en.abs,
				X:         en.ev.X,
				Y:         en.ev.Y,
				On:        en.ev.Polarity == event.PolarityUp,
			})
		}
	}
	return out
}

// RecentCount counts events within the window at now.
func (ix *Index) RecentCount(now uint64) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := 0
	for _, en := range ix.recent {
		if ix.inWindow(en.abs, now) {
			n++
		}
	}
	return n
}

// Clear resets the index for a new session.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.recent = nil
	ix.seen = make(map[uint64]struct{})
	ix.processed = 0
	ix.duplicates = 0
}

// Stats returns counter values for telemetry.
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Stats{Processed: ix.processed, Duplicates: ix.duplicates, BufferLen: len(ix.recent)}
}

// SetWindow changes the trailing window width (µs).
func (ix *Index) SetWindow(windowUS uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.windowUS = windowUS
}

// Window returns the trailing window width (µs).
func (ix *Index) Window() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.windowUS
}
