// Package eventfile reads and writes event recordings in four formats: the
// native NEVS binary container, AEDAT binary, CSV with a metadata preamble,
// and the space-separated text layout used by rpg_dvs_ros tooling. Format is
// detected from the extension, with comma sniffing to split .txt between CSV
// and space-separated and magic sniffing to split binary files between NEVS
// and AEDAT.
package eventfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/visiona/retina/internal/event"
)

// Format identifies an on-disk event layout.
type Format int

const (
	// FormatAEDAT is the binary format, and the default for unknown
	// extensions.
	FormatAEDAT Format = iota
	// FormatCSV is timestamp,x,y,polarity with a # preamble.
	FormatCSV
	// FormatSpace is "x y polarity timestamp" per line.
	FormatSpace
	// FormatNative is the NEVS binary container. Unlike AEDAT it keeps
	// full 64-bit timestamps.
	FormatNative
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatSpace:
		return "space"
	case FormatNative:
		return "native"
	default:
		return "aedat"
	}
}

// Extension returns the recommended file extension.
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatSpace:
		return "txt"
	case FormatNative:
		return "nevs"
	default:
		return "aedat"
	}
}

// Recording is an event sequence with its capture metadata.
type Recording struct {
	Width     uint32
	Height    uint32
	StartTime uint64
	Events    []event.Event
}

// AEDAT binary layout, little-endian, packed.
const (
	aedatMagic      = "AEDT"
	aedatVersion    = 1
	aedatHeaderSize = 28 // magic(4) + version(4) + width(4) + height(4) + start(8) + count(4)
	aedatRecordSize = 9  // timestamp(4) + x(2) + y(2) + polarity(1)
)

// NEVS binary layout, little-endian, with the alignment padding of the
// producing toolchain preserved: 4 bytes after the count in the header,
// 3 bytes after the polarity in each record.
const (
	nativeMagic      = "NEVS"
	nativeVersion    = 1
	nativeHeaderSize = 32 // magic(4) + version(4) + width(4) + height(4) + start(8) + count(4) + pad(4)
	nativeRecordSize = 16 // timestamp(8) + x(2) + y(2) + polarity(1) + pad(3)
)

var (
	ErrBadMagic    = errors.New("unrecognized event container magic")
	ErrBadVersion  = errors.New("unsupported event container version")
	ErrShortHeader = errors.New("truncated event container header")
	ErrBadGeometry = errors.New("event container has zero dimensions")
)

// DetectFormat picks a format from the filename. A .txt file is sniffed: the
// first non-comment line containing a comma marks it as CSV. Any other
// extension is sniffed for the NEVS magic, falling back to AEDAT so a missing
// or unreadable file still routes to the default.
func DetectFormat(path string) Format {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "csv":
		return FormatCSV
	case "txt":
		if sniffCSV(path) {
			return FormatCSV
		}
		return FormatSpace
	case "nevs":
		return FormatNative
	default:
		if sniffNative(path) {
			return FormatNative
		}
		return FormatAEDAT
	}
}

func sniffNative(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return string(magic) == nativeMagic
}

func sniffCSV(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.Contains(line, ",")
	}
	return false
}

// Write stores the recording at path in the given format.
func Write(rec *Recording, path string, format Format) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	switch format {
	case FormatCSV:
		err = writeCSV(rec, w)
	case FormatSpace:
		err = writeSpace(rec, w)
	case FormatNative:
		err = writeNative(rec, w)
	default:
		err = writeAEDAT(rec, w)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	slog.Info("event recording written",
		"path", path,
		"format", format.String(),
		"events", len(rec.Events),
	)
	return nil
}

// Read loads a recording from path, detecting the format.
func Read(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rec *Recording
	switch DetectFormat(path) {
	case FormatCSV:
		rec, err = readCSV(f)
	case FormatSpace:
		rec, err = readSpace(f)
	case FormatNative:
		rec, err = readNative(f)
	default:
		rec, err = readAEDAT(f)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rec, nil
}

func writeAEDAT(rec *Recording, w io.Writer) error {
	hdr := make([]byte, aedatHeaderSize)
	copy(hdr, aedatMagic)
	binary.LittleEndian.PutUint32(hdr[4:], aedatVersion)
	binary.LittleEndian.PutUint32(hdr[8:], rec.Width)
	binary.LittleEndian.PutUint32(hdr[12:], rec.Height)
	binary.LittleEndian.PutUint64(hdr[16:], rec.StartTime)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(len(rec.Events)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, aedatRecordSize)
	for _, e := range rec.Events {
		binary.LittleEndian.PutUint32(buf, uint32(e.Timestamp))
		binary.LittleEndian.PutUint16(buf[4:], e.X)
		binary.LittleEndian.PutUint16(buf[6:], e.Y)
		buf[8] = byte(e.Polarity)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readAEDAT(r io.Reader) (*Recording, error) {
	hdr := make([]byte, aedatHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, ErrShortHeader
	}
	if string(hdr[:4]) != aedatMagic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != aedatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	count := binary.LittleEndian.Uint32(hdr[24:])
	rec := &Recording{
		Width:     binary.LittleEndian.Uint32(hdr[8:]),
		Height:    binary.LittleEndian.Uint32(hdr[12:]),
		StartTime: binary.LittleEndian.Uint64(hdr[16:]),
		Events:    make([]event.Event, 0, count),
	}

	buf := make([]byte, aedatRecordSize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			// A truncated tail keeps what was read, matching the
			// recovery behavior of the writers this format
			// interoperates with.
			slog.Warn("aedat recording truncated", "expected", count, "read", i)
			break
		}
		rec.Events = append(rec.Events, event.Event{
			Timestamp: uint64(binary.LittleEndian.Uint32(buf)),
			X:         binary.LittleEndian.Uint16(buf[4:]),
			Y:         binary.LittleEndian.Uint16(buf[6:]),
			Polarity:  parsePolarity(int(int8(buf[8]))),
		})
	}
	return rec, nil
}

func writeNative(rec *Recording, w io.Writer) error {
	hdr := make([]byte, nativeHeaderSize)
	copy(hdr, nativeMagic)
	binary.LittleEndian.PutUint32(hdr[4:], nativeVersion)
	binary.LittleEndian.PutUint32(hdr[8:], rec.Width)
	binary.LittleEndian.PutUint32(hdr[12:], rec.Height)
	binary.LittleEndian.PutUint64(hdr[16:], rec.StartTime)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(len(rec.Events)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, nativeRecordSize)
	for _, e := range rec.Events {
		binary.LittleEndian.PutUint64(buf, e.Timestamp)
		binary.LittleEndian.PutUint16(buf[8:], e.X)
		binary.LittleEndian.PutUint16(buf[10:], e.Y)
		buf[12] = byte(e.Polarity)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// readNative is strict where readAEDAT is tolerant: the native container is
// written by this package, so a short file is corruption, not interop slack.
func readNative(r io.Reader) (*Recording, error) {
	hdr, err := readNativeHeader(r)
	if err != nil {
		return nil, err
	}

	rec := &Recording{
		Width:     hdr.Width,
		Height:    hdr.Height,
		StartTime: hdr.StartTime,
		Events:    make([]event.Event, 0, hdr.EventCount),
	}

	buf := make([]byte, nativeRecordSize)
	for i := uint32(0); i < hdr.EventCount; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("truncated native recording: expected %d events, read %d", hdr.EventCount, i)
		}
		rec.Events = append(rec.Events, event.Event{
			Timestamp: binary.LittleEndian.Uint64(buf),
			X:         binary.LittleEndian.Uint16(buf[8:]),
			Y:         binary.LittleEndian.Uint16(buf[10:]),
			Polarity:  parsePolarity(int(int8(buf[12]))),
		})
	}
	return rec, nil
}

// Info is the metadata recovered from a binary container header without
// loading its events.
type Info struct {
	Format     Format
	Width      uint32
	Height     uint32
	StartTime  uint64
	EventCount uint32
}

func readNativeHeader(r io.Reader) (*Info, error) {
	hdr := make([]byte, nativeHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, ErrShortHeader
	}
	if string(hdr[:4]) != nativeMagic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != nativeVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	return &Info{
		Format:     FormatNative,
		Width:      binary.LittleEndian.Uint32(hdr[8:]),
		Height:     binary.LittleEndian.Uint32(hdr[12:]),
		StartTime:  binary.LittleEndian.Uint64(hdr[16:]),
		EventCount: binary.LittleEndian.Uint32(hdr[24:]),
	}, nil
}

// Stat reads only the header of a native recording and returns its metadata.
// O(1) in the file size, for listing and pre-flight checks.
func Stat(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := readNativeHeader(f)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return info, nil
}

// Validate checks that path is a readable native recording with a sane
// header: correct magic and version, nonzero dimensions.
func Validate(path string) error {
	info, err := Stat(path)
	if err != nil {
		return err
	}
	if info.Width == 0 || info.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadGeometry, info.Width, info.Height)
	}
	return nil
}

func writeCSV(rec *Recording, w io.Writer) error {
	if _, err := fmt.Fprintf(w,
		"# Screen event recording - CSV format\n"+
			"# Screen resolution: %dx%d\n"+
			"# Start time: %d (microseconds)\n"+
			"# Event count: %d\n"+
			"timestamp,x,y,polarity\n",
		rec.Width, rec.Height, rec.StartTime, len(rec.Events)); err != nil {
		return err
	}
	for _, e := range rec.Events {
		if _, err := fmt.Fprintf(w, "%d,%d,%d,%d\n", e.Timestamp, e.X, e.Y, int(e.Polarity)); err != nil {
			return err
		}
	}
	return nil
}

func writeSpace(rec *Recording, w io.Writer) error {
	if _, err := fmt.Fprintf(w,
		"# Screen event recording - space-separated format (rpg_dvs_ros compatible)\n"+
			"# Format: x y polarity timestamp_microseconds\n"+
			"# Screen resolution: %dx%d\n"+
			"# Start time: %d microseconds\n"+
			"# Event count: %d\n",
		rec.Width, rec.Height, rec.StartTime, len(rec.Events)); err != nil {
		return err
	}
	for _, e := range rec.Events {
		if _, err := fmt.Fprintf(w, "%d %d %d %d\n", e.X, e.Y, int(e.Polarity), e.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

func readCSV(r io.Reader) (*Recording, error) {
	rec := &Recording{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			parsePreamble(rec, line)
			continue
		}
		if strings.HasPrefix(line, "timestamp") {
			continue // column header
		}

		var ts uint64
		var x, y, pol int
		if n, _ := fmt.Sscanf(line, "%d,%d,%d,%d", &ts, &x, &y, &pol); n == 4 {
			rec.Events = append(rec.Events, event.Event{
				Timestamp: ts,
				X:         uint16(x),
				Y:         uint16(y),
				Polarity:  parsePolarity(pol),
			})
		}
	}
	return rec, scanner.Err()
}

func readSpace(r io.Reader) (*Recording, error) {
	rec := &Recording{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			parsePreamble(rec, line)
			continue
		}

		var ts uint64
		var x, y, pol int
		if n, _ := fmt.Sscanf(line, "%d %d %d %d", &x, &y, &pol, &ts); n == 4 {
			rec.Events = append(rec.Events, event.Event{
				Timestamp: ts,
				X:         uint16(x),
				Y:         uint16(y),
				Polarity:  parsePolarity(pol),
			})
		}
	}
	return rec, scanner.Err()
}

// parsePreamble recovers resolution metadata from # comments. Text formats
// carry relative timestamps, so the recorded start time is noted but the
// loaded recording stays at zero.
func parsePreamble(rec *Recording, line string) {
	if strings.Contains(line, "# Screen resolution:") {
		fmt.Sscanf(line, "# Screen resolution: %dx%d", &rec.Width, &rec.Height)
	}
}

// parsePolarity accepts both the 0/1 encoding and the legacy -1/+1 one.
func parsePolarity(v int) event.Polarity {
	if v > 0 {
		return event.PolarityUp
	}
	return event.PolarityDown
}

// SortByTime orders events by timestamp, preserving the relative order of
// simultaneous events.
func SortByTime(events []event.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

// Dedupe removes events identical in position, polarity and timestamp,
// keeping the first occurrence. Input order is preserved.
func Dedupe(events []event.Event) []event.Event {
	seen := make(map[event.Event]struct{}, len(events))
	out := events[:0]
	for _, e := range events {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Compress thins a time-ordered sequence for storage: starting from the
// first event, the next event is kept only when it differs from the last
// kept one by more than threshold seconds in time or threshold*100 pixels in
// either axis. Input order is preserved.
func Compress(events []event.Event, threshold float32) []event.Event {
	if len(events) < 2 {
		return events
	}

	minTime := uint64(threshold * 1_000_000)
	minDist := uint16(threshold * 100)

	out := events[:1]
	for _, e := range events[1:] {
		last := out[len(out)-1]
		if e.Timestamp-last.Timestamp > minTime ||
			absDiff(e.X, last.X) > minDist ||
			absDiff(e.Y, last.Y) > minDist {
			out = append(out, e)
		}
	}
	return out
}

func absDiff(a, b uint16) uint16 {
	if a > b {
		return a - b
	}
	return b - a
}

// FilterTimeRange keeps events with from <= timestamp <= to.
func FilterTimeRange(events []event.Event, from, to uint64) []event.Event {
	out := events[:0]
	for _, e := range events {
		if e.Timestamp >= from && e.Timestamp <= to {
			out = append(out, e)
		}
	}
	return out
}

// FilterRegion keeps events inside the inclusive rectangle (x1,y1)-(x2,y2).
func FilterRegion(events []event.Event, x1, y1, x2, y2 uint16) []event.Event {
	out := events[:0]
	for _, e := range events {
		if e.X >= x1 && e.X <= x2 && e.Y >= y1 && e.Y <= y2 {
			out = append(out, e)
		}
	}
	return out
}
