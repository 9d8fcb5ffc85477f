package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSyntheticFrames verifies the generator delivers well-formed BGRA
// frames with monotonic sequence numbers.
func TestSyntheticFrames(t *testing.T) {
	p, err := NewSyntheticProvider(64, 48, 100)
	require.NoError(t, err)

	frames, err := p.Start(context.Background())
	require.NoError(t, err)
	defer p.Stop()

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case f := <-frames:
			assert.Equal(t, 64, f.Width)
			assert.Equal(t, 48, f.Height)
			assert.Len(t, f.Data, 64*48*4)
			assert.Greater(t, f.Seq, last)
			assert.NotEmpty(t, f.TraceID)
			last = f.Seq
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for synthetic frame")
		}
	}
}

// TestSyntheticMotion verifies consecutive frames differ, so the pipeline
// downstream always has events to generate.
func TestSyntheticMotion(t *testing.T) {
	p, err := NewSyntheticProvider(32, 32, 200)
	require.NoError(t, err)

	frames, err := p.Start(context.Background())
	require.NoError(t, err)
	defer p.Stop()

	a := <-frames
	b := <-frames
	assert.NotEqual(t, a.Data, b.Data)
}

// TestSyntheticStop verifies Stop closes the channel and is idempotent.
func TestSyntheticStop(t *testing.T) {
	p, err := NewSyntheticProvider(16, 16, 100)
	require.NoError(t, err)

	frames, err := p.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	// Drain until closed.
	for range frames {
	}
	assert.False(t, p.Stats().IsRunning)
}

// TestSyntheticValidation verifies geometry errors fail fast.
func TestSyntheticValidation(t *testing.T) {
	_, err := NewSyntheticProvider(0, 16, 30)
	assert.Error(t, err)
	_, err = NewSyntheticProvider(16, 16, 0)
	assert.Error(t, err)
}
