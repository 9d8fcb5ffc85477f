// Package event defines the core neuromorphic event model: polarity events,
// the bounded thread-safe event stream ("context window"), the DVS wire
// codec, bit-packed event frames, and snapshot statistics.
//
// # Event model
//
// An Event records that one pixel's luminance crossed the configured
// threshold, tagged with an up/down polarity and a microsecond timestamp
// relative to the stream start. Events are immutable values; all
// cross-component transfer is by copy.
//
// # Context window
//
// Stream is a recency window, not a complete log:
//
//	"Drop the oldest, never block the producer."
//
// Push evicts FIFO once the capacity is reached, while TotalGenerated keeps
// counting produced events. Consumers read via Snapshot, which copies the
// buffer under the stream lock so readers never alias live storage.
//
// # Wire format
//
// DVSEvent is the 13-byte packed network record (little-endian
// u64 timestamp | u16 x | u16 y | u8 polarity). A packet is a u64 timestamp
// taken from its first event followed by a bounded run of records; see
// EncodePacket/DecodePacket.
package event
