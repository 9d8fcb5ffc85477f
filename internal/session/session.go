// Package session orchestrates one capture-to-stream run: frames in from a
// provider, luminance differencing against the previous frame, events into
// the bounded context window, the sliding temporal index kept fresh, and the
// optional UDP streamer fed from the stream's tail.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/visiona/retina/internal/capture"
	"github.com/visiona/retina/internal/config"
	"github.com/visiona/retina/internal/differ"
	"github.com/visiona/retina/internal/event"
	"github.com/visiona/retina/internal/eventfile"
	"github.com/visiona/retina/internal/streamer"
	"github.com/visiona/retina/internal/temporal"
)

// ErrAlreadyStarted is returned by Start on a running session.
var ErrAlreadyStarted = errors.New("session already started")

// Session owns the pipeline for one run. Create with New, drive with
// Start/Stop. A session is single-use.
type Session struct {
	ID  string
	cfg *config.Config

	provider capture.FrameProvider
	differ   *differ.Differencer
	stream   *event.Stream
	index    *temporal.Index
	streamer *streamer.Streamer

	// wallStart anchors the relative event clock; startMicros is the
	// absolute session start in microseconds.
	wallStart   time.Time
	startMicros uint64

	limiter *rate.Limiter

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	// sendCursor tracks how many generated events have been handed to the
	// streamer.
	sendMu     sync.Mutex
	sendCursor uint64

	framesProcessed atomic.Uint64
	eventsGenerated atomic.Uint64
}

// Stats aggregates the counters of every pipeline stage.
type Stats struct {
	SessionID       string          `json:"session_id"`
	FramesProcessed uint64          `json:"frames_processed"`
	EventsGenerated uint64          `json:"events_generated"`
	ContextWindow   int             `json:"context_window"`
	Capture         capture.Stats   `json:"capture"`
	Temporal        temporal.Stats  `json:"temporal"`
	Stream          *streamer.Stats `json:"stream,omitempty"`
	EventRate       event.Stats     `json:"event_rate"`
}

// New assembles a session from the configuration. The provider is injected
// so live and synthetic capture share the same pipeline.
func New(cfg *config.Config, provider capture.FrameProvider) (*Session, error) {
	d, err := differ.New(differ.Config{
		Width:     cfg.Capture.Width,
		Height:    cfg.Capture.Height,
		Threshold: float32(cfg.Events.Threshold),
		Stride:    cfg.Events.Stride,
		MaxEvents: cfg.Events.MaxEventsPerFrame,
		Workers:   cfg.Events.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("differencer: %w", err)
	}

	wallStart := time.Now()
	startMicros := uint64(wallStart.UnixMicro())

	maxEvents := cfg.Events.MaxContextWindow
	if maxEvents == 0 {
		maxEvents = event.Unbounded
	}
	stream, err := event.NewStream(
		uint32(cfg.Capture.Width), uint32(cfg.Capture.Height),
		startMicros, maxEvents,
	)
	if err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}

	s := &Session{
		ID:          uuid.New().String(),
		cfg:         cfg,
		provider:    provider,
		differ:      d,
		stream:      stream,
		index:       temporal.NewIndex(cfg.Temporal.WindowUS, cfg.Temporal.MaxRecent),
		wallStart:   wallStart,
		startMicros: startMicros,
		limiter:     rate.NewLimiter(rate.Limit(cfg.Capture.TargetFPS), 1),
		done:        make(chan struct{}),
	}

	if cfg.Stream.Enabled {
		st, err := streamer.New(streamer.Config{
			Target:       cfg.Stream.Target,
			BatchSize:    cfg.Stream.BatchSize,
			TargetMBps:   cfg.Stream.TargetMBps,
			MaxDropRatio: cfg.Stream.MaxDropRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("streamer: %w", err)
		}
		st.SetSource(s.pendingDVS)
		s.streamer = st
	}

	return s, nil
}

// Start begins capture and processing.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)

	frames, err := s.provider.Start(ctx)
	if err != nil {
		s.cancel()
		return fmt.Errorf("start capture: %w", err)
	}

	if s.streamer != nil {
		if err := s.streamer.Start(ctx); err != nil {
			s.cancel()
			s.provider.Stop()
			return fmt.Errorf("start streamer: %w", err)
		}
	}

	s.started = true
	go s.run(ctx, frames)

	slog.Info("session started",
		"session_id", s.ID,
		"size", fmt.Sprintf("%dx%d", s.cfg.Capture.Width, s.cfg.Capture.Height),
		"streaming", s.streamer != nil,
	)
	return nil
}

// run is the frame loop. The first frame only seeds the baseline; every
// later frame is differenced against its predecessor.
func (s *Session) run(ctx context.Context, frames <-chan capture.Frame) {
	defer close(s.done)

	var prev []byte
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}

			if prev == nil {
				prev = frame.Data
				s.framesProcessed.Add(1)
				slog.Debug("baseline frame captured",
					"session_id", s.ID,
					"seq", frame.Seq,
					"trace_id", frame.TraceID,
				)
				continue
			}

			s.processFrame(frame, prev)
			prev = frame.Data
		}
	}
}

func (s *Session) processFrame(frame capture.Frame, prev []byte) {
	now := s.nowMicros()
	events := s.differ.Diff(frame.Data, prev, func() uint64 { return now })

	s.stream.PushBatch(events)
	s.index.UpdateFromStream(s.stream, s.startMicros+now)

	s.framesProcessed.Add(1)
	s.eventsGenerated.Add(uint64(len(events)))

	if len(events) > 0 {
		slog.Debug("frame differenced",
			"session_id", s.ID,
			"seq", frame.Seq,
			"events", len(events),
			"trace_id", frame.TraceID,
		)
	}
}

// nowMicros is the relative event clock: microseconds since session start.
func (s *Session) nowMicros() uint64 {
	return uint64(time.Since(s.wallStart).Microseconds())
}

// pendingDVS hands the streamer every event generated since the previous
// call, projected to wire records with absolute timestamps. Events evicted
// from the ring before the streamer catches up are simply gone; the cursor
// skips them. Snapshot and generated count come from one lock acquisition so
// a concurrent push cannot shift which events the cursor selects.
func (s *Session) pendingDVS() []event.DVSEvent {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	snapshot, generated := s.stream.SnapshotTotal()
	pending := generated - s.sendCursor
	if pending == 0 {
		return nil
	}
	s.sendCursor = generated

	if pending > uint64(len(snapshot)) {
		pending = uint64(len(snapshot))
	}
	tail := snapshot[uint64(len(snapshot))-pending:]

	out := make([]event.DVSEvent, len(tail))
	for i, e := range tail {
		out[i] = event.ToDVS(e, s.startMicros)
	}
	return out
}

// Stop shuts the pipeline down in dependency order and, when configured,
// writes the context window to the recording file. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	<-s.done

	var firstErr error
	if s.streamer != nil {
		if err := s.streamer.Stop(); err != nil {
			firstErr = err
		}
	}
	if err := s.provider.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.cfg.Recording.Enabled {
		rec := &eventfile.Recording{
			Width:     s.stream.Width(),
			Height:    s.stream.Height(),
			StartTime: s.startMicros,
			Events:    s.stream.Snapshot(),
		}
		format := eventfile.DetectFormat(s.cfg.Recording.Path)
		if err := eventfile.Write(rec, s.cfg.Recording.Path, format); err != nil {
			slog.Error("failed to write recording", "error", err, "path", s.cfg.Recording.Path)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	slog.Info("session stopped",
		"session_id", s.ID,
		"frames", s.framesProcessed.Load(),
		"events", s.eventsGenerated.Load(),
	)
	return firstErr
}

// Stats snapshots every stage's counters.
func (s *Session) Stats() Stats {
	st := Stats{
		SessionID:       s.ID,
		FramesProcessed: s.framesProcessed.Load(),
		EventsGenerated: s.eventsGenerated.Load(),
		ContextWindow:   s.stream.Len(),
		Capture:         s.provider.Stats(),
		Temporal:        s.index.Stats(),
		EventRate:       event.Calculate(s.stream.Snapshot()),
	}
	if s.streamer != nil {
		ss := s.streamer.Stats()
		st.Stream = &ss
	}
	return st
}

// RecentEvents exposes the temporal index window at the current clock.
func (s *Session) RecentEvents() []event.Event {
	return s.index.RecentEvents(s.startMicros + s.nowMicros())
}
