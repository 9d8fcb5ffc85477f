// Package streamer transmits DVS events over UDP with adaptive drop-based
// rate control.
//
// The streamer pulls batches from a pluggable event source, shrinks them
// proportionally when realized throughput exceeds the configured ceiling,
// packetizes into fixed-layout datagrams, and sends with a small bounded
// retry. Loss is a counted, first-class outcome:
//
//	"Favor recency over completeness."
//
// A packet that exhausts its retries is dropped and counted, never queued.
// All counters are atomics: written often by the send loop, read occasionally
// by telemetry.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visiona/retina/internal/event"
)

// Source supplies the next batch of wire events. It is called once per loop
// iteration from the streamer goroutine and must be snapshot-safe: it may be
// invoked concurrently with producer mutation of whatever it reads.
type Source func() []event.DVSEvent

// Public API errors.
var (
	ErrAlreadyRunning = errors.New("streamer already running")
	ErrNoSource       = errors.New("no event source configured")
)

// Tuning constants for the send loop.
const (
	// measureInterval is the throughput measurement cadence.
	measureInterval = 100 * time.Millisecond
	// idleSleep is the wait when the source has nothing new.
	idleSleep = 100 * time.Microsecond
	// sendAttempts bounds per-packet retries.
	sendAttempts = 2
	// retryBackoff separates attempts.
	retryBackoff = 200 * time.Microsecond
	// overshootFactor is the tolerated excursion above the target before
	// the controller reacts.
	overshootFactor = 1.1
)

// Config parameterizes a Streamer.
type Config struct {
	// Target is the receiver's host:port.
	Target string
	// BatchSize is the maximum events per UDP packet.
	BatchSize int
	// TargetMBps is the throughput ceiling in megabytes per second.
	TargetMBps float64
	// MaxDropRatio caps the fraction of a batch the controller may shed
	// (0..1).
	MaxDropRatio float64
}

// Stats is a snapshot of streamer counters.
type Stats struct {
	EventsSent     uint64
	EventsDropped  uint64
	BytesSent      uint64
	PacketsSent    uint64
	DropRatio      float64
	ThroughputMBps float64
}

// Streamer is the adaptive UDP event sender. Lifecycle: Idle → Running
// (Start) → Stopped (Stop). Stop is idempotent; a stopped streamer is not
// restartable.
type Streamer struct {
	cfg    Config
	raddr  *net.UDPAddr
	source Source

	conn *net.UDPConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
	stopped   bool

	eventsSent    atomic.Uint64
	eventsDropped atomic.Uint64
	bytesSent     atomic.Uint64
	packetsSent   atomic.Uint64
	throughput    atomic.Uint64 // float64 bits, MB/s
}

// New validates the configuration and resolves the target address.
// Configuration errors surface here, before any goroutine exists.
func New(cfg Config) (*Streamer, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", cfg.BatchSize)
	}
	if cfg.TargetMBps <= 0 {
		return nil, fmt.Errorf("target throughput must be > 0, got %f", cfg.TargetMBps)
	}
	if cfg.MaxDropRatio < 0 || cfg.MaxDropRatio > 1 {
		return nil, fmt.Errorf("max drop ratio must be in [0,1], got %f", cfg.MaxDropRatio)
	}
	raddr, err := net.ResolveUDPAddr("udp", cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid stream target %q: %w", cfg.Target, err)
	}
	return &Streamer{cfg: cfg, raddr: raddr}, nil
}

// SetSource installs the event source. Must be called before Start.
func (st *Streamer) SetSource(fn Source) {
	st.source = fn
}

// Start opens the UDP socket and spawns the send loop. Socket acquisition
// failure is fatal here; it is the one error in this component that is not
// absorbed into counters.
func (st *Streamer) Start(ctx context.Context) error {
	st.startedMu.Lock()
	defer st.startedMu.Unlock()

	if st.started {
		return ErrAlreadyRunning
	}
	if st.source == nil {
		return ErrNoSource
	}

	conn, err := net.DialUDP("udp", nil, st.raddr)
	if err != nil {
		return fmt.Errorf("open udp socket: %w", err)
	}
	st.conn = conn

	st.ctx, st.cancel = context.WithCancel(ctx)
	st.started = true

	st.wg.Add(1)
	go st.sendLoop()

	slog.Info("event streamer started",
		"target", st.cfg.Target,
		"batch_size", st.cfg.BatchSize,
		"target_mbps", st.cfg.TargetMBps,
		"max_drop_ratio", st.cfg.MaxDropRatio,
	)
	return nil
}

// Stop cancels the loop, waits for the in-flight iteration to finish, and
// releases the socket. Safe to call multiple times.
func (st *Streamer) Stop() error {
	st.startedMu.Lock()
	if !st.started || st.stopped {
		st.startedMu.Unlock()
		return nil
	}
	st.stopped = true
	st.startedMu.Unlock()

	st.cancel()
	st.wg.Wait()

	err := st.conn.Close()

	s := st.Stats()
	slog.Info("event streamer stopped",
		"events_sent", s.EventsSent,
		"events_dropped", s.EventsDropped,
		"bytes_sent", s.BytesSent,
		"drop_ratio", s.DropRatio,
	)
	return err
}

// Running reports whether the send loop is active.
func (st *Streamer) Running() bool {
	st.startedMu.Lock()
	defer st.startedMu.Unlock()
	return st.started && !st.stopped
}

// Stats returns a counter snapshot. DropRatio is dropped/(sent+dropped).
func (st *Streamer) Stats() Stats {
	sent := st.eventsSent.Load()
	dropped := st.eventsDropped.Load()
	s := Stats{
		EventsSent:     sent,
		EventsDropped:  dropped,
		BytesSent:      st.bytesSent.Load(),
		PacketsSent:    st.packetsSent.Load(),
		ThroughputMBps: math.Float64frombits(st.throughput.Load()),
	}
	if total := sent + dropped; total > 0 {
		s.DropRatio = float64(dropped) / float64(total)
	}
	return s
}

// sendLoop runs until Stop. Each iteration: pull, throttle, packetize,
// transmit. Source failures are isolated per call; per-packet send failures
// are bounded-retried and then counted as loss. Nothing in this loop
// terminates the session.
func (st *Streamer) sendLoop() {
	defer st.wg.Done()

	lastMeasure := time.Now()
	lastBytes := uint64(0)

	for {
		select {
		case <-st.ctx.Done():
			return
		default:
		}

		// Refresh realized throughput roughly every measureInterval.
		if since := time.Since(lastMeasure); since >= measureInterval {
			bytes := st.bytesSent.Load()
			mbps := float64(bytes-lastBytes) / since.Seconds() / 1e6
			st.throughput.Store(math.Float64bits(mbps))
			lastMeasure = time.Now()
			lastBytes = bytes
		}

		batch := st.pull()
		if len(batch) == 0 {
			// Legitimately nothing new; sleep, don't spin.
			select {
			case <-st.ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		batch = st.throttle(batch)

		for _, sub := range Packetize(batch, st.cfg.BatchSize) {
			pkt, err := event.EncodePacket(sub)
			if err != nil {
				continue
			}
			if st.transmit(pkt) {
				st.eventsSent.Add(uint64(len(sub)))
				st.bytesSent.Add(uint64(len(pkt)))
				st.packetsSent.Add(1)
			} else {
				st.eventsDropped.Add(uint64(len(sub)))
			}
		}
	}
}

// pull invokes the source with panic isolation: a failing source is logged
// and treated as "no events this cycle".
func (st *Streamer) pull() (batch []event.DVSEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("event source panicked, skipping cycle", "panic", r)
			batch = nil
		}
	}()
	return st.source()
}

// throttle applies the proportional drop controller: when realized
// throughput exceeds target×1.1, shed min(maxDropRatio, overshoot fraction)
// of the batch from its tail, retaining at least one event. This is a
// controller, not a hard cap; brief overshoot is tolerated.
func (st *Streamer) throttle(batch []event.DVSEvent) []event.DVSEvent {
	realized := math.Float64frombits(st.throughput.Load())
	target := st.cfg.TargetMBps
	if realized <= target*overshootFactor {
		return batch
	}

	ratio := (realized - target) / target
	if ratio > st.cfg.MaxDropRatio {
		ratio = st.cfg.MaxDropRatio
	}

	keep := int(float64(len(batch)) * (1 - ratio))
	if keep < 1 {
		keep = 1
	}
	if keep < len(batch) {
		st.eventsDropped.Add(uint64(len(batch) - keep))
		batch = batch[:keep]
	}
	return batch
}

// transmit sends one datagram with bounded retries. In-flight sends complete
// before cancellation is re-checked; exhausted retries report failure so the
// caller counts the loss.
func (st *Streamer) transmit(pkt []byte) bool {
	for attempt := 0; attempt < sendAttempts; attempt++ {
		if _, err := st.conn.Write(pkt); err == nil {
			return true
		} else if attempt+1 < sendAttempts {
			time.Sleep(retryBackoff)
		} else {
			slog.Debug("packet send failed after retries", "error", err, "bytes", len(pkt))
		}
	}
	return false
}

// Packetize splits a batch into sub-batches of at most batchSize events.
// ceil(len(batch)/batchSize) packets; concatenating the sub-batches
// reproduces the input in order.
func Packetize(batch []event.DVSEvent, batchSize int) [][]event.DVSEvent {
	if len(batch) == 0 {
		return nil
	}
	out := make([][]event.DVSEvent, 0, (len(batch)+batchSize-1)/batchSize)
	for start := 0; start < len(batch); start += batchSize {
		end := start + batchSize
		if end > len(batch) {
			end = len(batch)
		}
		out = append(out, batch[start:end])
	}
	return out
}
