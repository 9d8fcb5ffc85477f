package differ

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiona/retina/internal/event"
)

// frame builds a uniform BGRA buffer.
func frame(width, height int, b, g, r byte) []byte {
	buf := make([]byte, width*height*4)
	for i := 0; i < len(buf); i += 4 {
		buf[i] = b
		buf[i+1] = g
		buf[i+2] = r
		buf[i+3] = 255
	}
	return buf
}

// setPixel overwrites one BGRA pixel.
func setPixel(buf []byte, width, x, y int, b, g, r byte) {
	off := (y*width + x) * 4
	buf[off] = b
	buf[off+1] = g
	buf[off+2] = r
}

func fixedClock(ts uint64) func() uint64 {
	return func() uint64 { return ts }
}

// TestSinglePixelChange is the canonical scenario: two 4x4 frames
// differing only at (1,1) by ~+50 luminance units yield exactly one
// brightness-increase event.
func TestSinglePixelChange(t *testing.T) {
	prev := frame(4, 4, 100, 100, 100)
	cur := frame(4, 4, 100, 100, 100)
	setPixel(cur, 4, 1, 1, 150, 150, 150) // +50 on every channel → +50 luminance

	d, err := New(Config{Width: 4, Height: 4, Threshold: 10, Stride: 1, MaxEvents: 100, Workers: 2})
	require.NoError(t, err)

	events := d.Diff(cur, prev, fixedClock(7))
	require.Len(t, events, 1)
	assert.Equal(t, uint16(1), events[0].X)
	assert.Equal(t, uint16(1), events[0].Y)
	assert.Equal(t, event.PolarityUp, events[0].Polarity)
	assert.Equal(t, uint64(7), events[0].Timestamp)
}

// TestPolarityMatchesSign verifies darkening emits a down event.
func TestPolarityMatchesSign(t *testing.T) {
	prev := frame(4, 4, 200, 200, 200)
	cur := frame(4, 4, 200, 200, 200)
	setPixel(cur, 4, 2, 3, 50, 50, 50)

	d, err := New(Config{Width: 4, Height: 4, Threshold: 10, Stride: 1, MaxEvents: 100, Workers: 1})
	require.NoError(t, err)

	events := d.Diff(cur, prev, fixedClock(0))
	require.Len(t, events, 1)
	assert.Equal(t, event.PolarityDown, events[0].Polarity)
}

// TestThresholdSuppression verifies |diff| <= threshold emits nothing.
func TestThresholdSuppression(t *testing.T) {
	prev := frame(8, 8, 100, 100, 100)
	cur := frame(8, 8, 105, 105, 105) // +5 everywhere

	d, err := New(Config{Width: 8, Height: 8, Threshold: 5, Stride: 1, MaxEvents: 1000, Workers: 4})
	require.NoError(t, err)

	assert.Empty(t, d.Diff(cur, prev, fixedClock(0)))
}

// TestStrideSampling verifies only coordinates on the stride grid may emit,
// regardless of how many pixels changed.
func TestStrideSampling(t *testing.T) {
	const w, h = 16, 16
	prev := frame(w, h, 0, 0, 0)
	cur := frame(w, h, 255, 255, 255) // everything changed

	d, err := New(Config{Width: w, Height: h, Threshold: 10, Stride: 4, MaxEvents: 10000, Workers: 3})
	require.NoError(t, err)

	events := d.Diff(cur, prev, fixedClock(0))
	assert.Len(t, events, (w/4)*(h/4))
	for _, e := range events {
		assert.Zero(t, e.X%4, "x off the stride grid")
		assert.Zero(t, e.Y%4, "y off the stride grid")
	}
}

// TestMaxEventsBound verifies output is capped independent of scene
// activity, with the overflow tail dropped at merge.
func TestMaxEventsBound(t *testing.T) {
	const w, h = 32, 32
	prev := frame(w, h, 0, 0, 0)
	cur := frame(w, h, 255, 255, 255)

	d, err := New(Config{Width: w, Height: h, Threshold: 10, Stride: 1, MaxEvents: 50, Workers: 4})
	require.NoError(t, err)

	events := d.Diff(cur, prev, fixedClock(0))
	assert.LessOrEqual(t, len(events), 50)
	assert.NotEmpty(t, events)
}

// TestShortBufferSkipped verifies out-of-bounds offsets are treated as
// no-event, never a panic.
func TestShortBufferSkipped(t *testing.T) {
	prev := frame(4, 4, 0, 0, 0)
	cur := frame(4, 4, 255, 255, 255)

	d, err := New(Config{Width: 4, Height: 4, Threshold: 10, Stride: 1, MaxEvents: 100, Workers: 1})
	require.NoError(t, err)

	// Drop the last row and a half from the current buffer.
	events := d.Diff(cur[:4*4*4-24], prev, fixedClock(0))
	for _, e := range events {
		assert.Less(t, int(e.Y), 3, "truncated rows must not emit")
	}
}

// TestConfigValidation verifies configuration errors fail fast.
func TestConfigValidation(t *testing.T) {
	cases := []Config{
		{Width: 0, Height: 4, Stride: 1, MaxEvents: 1},
		{Width: 4, Height: 4, Stride: 0, MaxEvents: 1},
		{Width: 4, Height: 4, Stride: 1, MaxEvents: 0},
		{Width: 4, Height: 4, Stride: 1, MaxEvents: 1, Threshold: -1},
		{Width: 4, Height: 4, Stride: 1, MaxEvents: 1, Workers: -2},
	}
	for _, cfg := range cases {
		_, err := New(cfg)
		assert.Error(t, err, "config %+v", cfg)
	}
}
