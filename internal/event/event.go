package event

// Polarity encodes the direction of a luminance change.
//
// The values match the receiving DVS tooling: 1 for a brightness increase,
// 0 for a decrease. "No change" is never materialized as a Polarity; the
// differencer filters unchanged pixels before events exist.
type Polarity int8

const (
	// PolarityDown marks a luminance decrease.
	PolarityDown Polarity = 0
	// PolarityUp marks a luminance increase.
	PolarityUp Polarity = 1
)

// String returns "up" or "down".
func (p Polarity) String() string {
	if p == PolarityUp {
		return "up"
	}
	return "down"
}

// Event is a single pixel brightness-change record.
//
// Timestamp is in microseconds, relative to the owning stream's StartTime
// unless stated otherwise (wire records carry absolute time). Events are
// immutable once created.
type Event struct {
	// Timestamp in microseconds (stream-relative).
	Timestamp uint64
	// X, Y are the pixel coordinates.
	X, Y uint16
	// Polarity is the change direction.
	Polarity Polarity
}

// Default limits for the capture pipeline.
const (
	// MaxEventsPerFrame bounds differencer output per frame.
	MaxEventsPerFrame = 10000
	// MaxContextWindow is the default rolling-buffer capacity.
	MaxContextWindow = 1000000
)
