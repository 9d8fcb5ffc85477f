package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// frameChanBuffer bounds in-flight frames between pipeline and consumer.
const frameChanBuffer = 4

// ScreenConfig parameterizes the X11 screen grabber.
type ScreenConfig struct {
	// Display is the X display to capture (empty uses the default).
	Display string
	// Width and Height select the capture region size.
	Width  int
	Height int
	// TargetFPS throttles capture via videorate.
	TargetFPS float64
}

// ScreenProvider captures the X11 screen through GStreamer:
//
//	ximagesrc → videoconvert → videorate → capsfilter(BGRA) → appsink
//
// The appsink keeps only the latest buffer so a slow consumer sees fresh
// frames, not a backlog.
type ScreenProvider struct {
	cfg ScreenConfig

	mu       sync.Mutex
	started  bool
	stopped  bool
	pipeline *gst.Pipeline
	frames   chan Frame

	frameCount    atomic.Uint64
	framesDropped atomic.Uint64
	bytesRead     atomic.Uint64
}

// NewScreenProvider validates the configuration.
func NewScreenProvider(cfg ScreenConfig) (*ScreenProvider, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.TargetFPS <= 0 || cfg.TargetFPS > 120 {
		return nil, fmt.Errorf("target fps must be in (0,120], got %f", cfg.TargetFPS)
	}
	return &ScreenProvider{cfg: cfg}, nil
}

// Start builds the pipeline, moves it to PLAYING and returns the frame
// channel.
func (p *ScreenProvider) Start(ctx context.Context) (<-chan Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil, fmt.Errorf("screen provider already started")
	}

	gst.Init(nil)

	pipeline, sink, err := p.buildPipeline()
	if err != nil {
		return nil, err
	}

	p.frames = make(chan Frame, frameChanBuffer)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: p.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start capture pipeline: %w", err)
	}
	p.pipeline = pipeline
	p.started = true

	// Tear down when the session context ends, even without an explicit
	// Stop.
	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	slog.Info("screen capture started",
		"display", p.cfg.Display,
		"size", fmt.Sprintf("%dx%d", p.cfg.Width, p.cfg.Height),
		"target_fps", p.cfg.TargetFPS,
	)
	return p.frames, nil
}

// buildPipeline wires the capture elements. BGRA is forced at the capsfilter
// so downstream luminance math reads a fixed channel order.
func (p *ScreenProvider) buildPipeline() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement("ximagesrc")
	if err != nil {
		return nil, nil, fmt.Errorf("create ximagesrc: %w", err)
	}
	src.SetProperty("use-damage", false) // full frames, not damage regions
	src.SetProperty("endx", p.cfg.Width-1)
	src.SetProperty("endy", p.cfg.Height-1)
	if p.cfg.Display != "" {
		src.SetProperty("display-name", p.cfg.Display)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, nil, fmt.Errorf("create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf(
		"video/x-raw,format=BGRA,width=%d,height=%d,framerate=%d/1",
		p.cfg.Width, p.cfg.Height, int(p.cfg.TargetFPS),
	)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, videorate, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, converter, videorate, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("link capture elements: %w", err)
	}
	return pipeline, sink, nil
}

// onNewSample copies the mapped buffer out of GStreamer and forwards it
// non-blocking. A single bad sample skips, never terminates the pipeline.
func (p *ScreenProvider) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("screen capture: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("screen capture: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("screen capture: empty buffer")
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := p.frameCount.Add(1)
	p.bytesRead.Add(uint64(len(frameData)))

	frame := Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     p.cfg.Width,
		Height:    p.cfg.Height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	select {
	case p.frames <- frame:
	default:
		p.framesDropped.Add(1)
		slog.Debug("screen capture: dropping frame, channel full", "seq", seq)
	}
	return gst.FlowOK
}

// Stop moves the pipeline to NULL and closes the frame channel. Idempotent.
func (p *ScreenProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true

	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("stop capture pipeline: %w", err)
	}
	close(p.frames)

	slog.Info("screen capture stopped",
		"frames", p.frameCount.Load(),
		"dropped", p.framesDropped.Load(),
	)
	return nil
}

// Stats returns current capture counters.
func (p *ScreenProvider) Stats() Stats {
	p.mu.Lock()
	running := p.started && !p.stopped
	p.mu.Unlock()

	return Stats{
		FrameCount:    p.frameCount.Load(),
		FramesDropped: p.framesDropped.Load(),
		BytesRead:     p.bytesRead.Load(),
		FPSTarget:     p.cfg.TargetFPS,
		IsRunning:     running,
	}
}
