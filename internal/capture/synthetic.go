package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SyntheticProvider generates BGRA frames of a bright block orbiting a dark
// background. It produces deterministic motion so the differencer always has
// luminance changes to report, which makes it useful for end-to-end runs
// without a display.
type SyntheticProvider struct {
	width     int
	height    int
	targetFPS float64

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	frames  chan Frame

	frameCount    atomic.Uint64
	framesDropped atomic.Uint64
	bytesRead     atomic.Uint64
}

// NewSyntheticProvider validates the frame geometry.
func NewSyntheticProvider(width, height int, targetFPS float64) (*SyntheticProvider, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if targetFPS <= 0 {
		return nil, fmt.Errorf("target fps must be > 0, got %f", targetFPS)
	}
	return &SyntheticProvider{width: width, height: height, targetFPS: targetFPS}, nil
}

// Start spawns the frame generator.
func (p *SyntheticProvider) Start(ctx context.Context) (<-chan Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil, fmt.Errorf("synthetic provider already started")
	}
	p.started = true
	p.frames = make(chan Frame, frameChanBuffer)
	p.done = make(chan struct{})

	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	return p.frames, nil
}

func (p *SyntheticProvider) run(ctx context.Context) {
	defer close(p.done)

	interval := time.Duration(float64(time.Second) / p.targetFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data := p.render(step)
		step++

		seq := p.frameCount.Add(1)
		p.bytesRead.Add(uint64(len(data)))

		frame := Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Width:     p.width,
			Height:    p.height,
			Data:      data,
			TraceID:   uuid.New().String(),
		}
		select {
		case p.frames <- frame:
		default:
			p.framesDropped.Add(1)
		}
	}
}

// render paints an 8x8 white block whose position advances with step, one
// pixel per frame, wrapping at the edges.
func (p *SyntheticProvider) render(step int) []byte {
	data := make([]byte, p.width*p.height*4)
	for i := 3; i < len(data); i += 4 {
		data[i] = 255 // opaque alpha over black
	}

	const block = 8
	x0 := step % max(p.width-block, 1)
	y0 := (step / 2) % max(p.height-block, 1)
	for y := y0; y < y0+block && y < p.height; y++ {
		for x := x0; x < x0+block && x < p.width; x++ {
			off := (y*p.width + x) * 4
			data[off] = 255
			data[off+1] = 255
			data[off+2] = 255
		}
	}
	return data
}

// Stop ends generation and closes the frame channel. Idempotent.
func (p *SyntheticProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	p.cancel()
	<-p.done
	close(p.frames)
	return nil
}

// Stats returns current generation counters.
func (p *SyntheticProvider) Stats() Stats {
	p.mu.Lock()
	running := p.started && !p.stopped
	p.mu.Unlock()

	return Stats{
		FrameCount:    p.frameCount.Load(),
		FramesDropped: p.framesDropped.Load(),
		BytesRead:     p.bytesRead.Load(),
		FPSTarget:     p.targetFPS,
		IsRunning:     running,
	}
}
