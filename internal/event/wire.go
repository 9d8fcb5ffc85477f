package event

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DVSEvent is the wire projection of Event, matching the receiving tooling's
// dtype: ('t', '<u8'), ('x', '<u2'), ('y', '<u2'), ('on', '?'). Timestamps on
// the wire are absolute microseconds; polarity is re-encoded as 0/1.
type DVSEvent struct {
	Timestamp uint64
	X, Y      uint16
	On        bool
}

// DVSEventSize is the packed record size: u64 + u16 + u16 + u8, no padding.
const DVSEventSize = 13

// PacketHeaderSize is the leading packet timestamp.
const PacketHeaderSize = 8

// ErrShortPacket is returned when a datagram is too small to carry a header
// or ends mid-record.
var ErrShortPacket = errors.New("packet truncated")

// ToDVS converts a stream-relative event to its wire form using the stream
// start time.
func ToDVS(e Event, startTime uint64) DVSEvent {
	return DVSEvent{
		Timestamp: startTime + e.Timestamp,
		X:         e.X,
		Y:         e.Y,
		On:        e.Polarity == PolarityUp,
	}
}

// AppendDVS appends the 13-byte little-endian record to dst.
func AppendDVS(dst []byte, e DVSEvent) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, e.Timestamp)
	dst = binary.LittleEndian.AppendUint16(dst, e.X)
	dst = binary.LittleEndian.AppendUint16(dst, e.Y)
	if e.On {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	return dst
}

// EncodePacket builds one wire packet: the first event's timestamp as a
// little-endian u64 followed by the packed records. Packets are built from
// non-empty batches; the caller bounds the batch size.
func EncodePacket(events []DVSEvent) ([]byte, error) {
	if len(events) == 0 {
		return nil, errors.New("empty packet")
	}
	buf := make([]byte, 0, PacketHeaderSize+len(events)*DVSEventSize)
	buf = binary.LittleEndian.AppendUint64(buf, events[0].Timestamp)
	for _, e := range events {
		buf = AppendDVS(buf, e)
	}
	return buf, nil
}

// DecodePacket parses a wire packet back into its timestamp and records.
// Receivers must accept partial last packets (fewer records than the
// configured batch size); a datagram that ends mid-record is an error.
func DecodePacket(data []byte) (timestamp uint64, events []DVSEvent, err error) {
	if len(data) < PacketHeaderSize {
		return 0, nil, ErrShortPacket
	}
	payload := data[PacketHeaderSize:]
	if len(payload)%DVSEventSize != 0 {
		return 0, nil, fmt.Errorf("%w: %d trailing bytes", ErrShortPacket, len(payload)%DVSEventSize)
	}
	timestamp = binary.LittleEndian.Uint64(data)
	events = make([]DVSEvent, 0, len(payload)/DVSEventSize)
	for off := 0; off < len(payload); off += DVSEventSize {
		rec := payload[off : off+DVSEventSize]
		events = append(events, DVSEvent{
			Timestamp: binary.LittleEndian.Uint64(rec),
			X:         binary.LittleEndian.Uint16(rec[8:]),
			Y:         binary.LittleEndian.Uint16(rec[10:]),
			On:        rec[12] != 0,
		})
	}
	return timestamp, events, nil
}
