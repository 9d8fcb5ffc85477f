package streamer

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiona/retina/internal/event"
)

// listen opens a loopback UDP receiver and returns its address plus a channel
// of received datagrams.
func listen(t *testing.T) (string, <-chan []byte) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	packets := make(chan []byte, 256)
	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				close(packets)
				return
			}
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			packets <- pkt
		}
	}()
	return conn.LocalAddr().String(), packets
}

func testEvents(n int) []event.DVSEvent {
	out := make([]event.DVSEvent, n)
	for i := range out {
		out[i] = event.DVSEvent{Timestamp: uint64(1000 + i), X: uint16(i), Y: uint16(i * 2), On: i%2 == 0}
	}
	return out
}

// TestNewValidation verifies configuration errors surface before Start.
func TestNewValidation(t *testing.T) {
	cases := []Config{
		{Target: "127.0.0.1:9000", BatchSize: 0, TargetMBps: 1, MaxDropRatio: 0.5},
		{Target: "127.0.0.1:9000", BatchSize: 10, TargetMBps: 0, MaxDropRatio: 0.5},
		{Target: "127.0.0.1:9000", BatchSize: 10, TargetMBps: 1, MaxDropRatio: 1.5},
		{Target: "not a host port", BatchSize: 10, TargetMBps: 1, MaxDropRatio: 0.5},
	}
	for _, cfg := range cases {
		_, err := New(cfg)
		assert.Error(t, err, "config %+v", cfg)
	}
}

// TestStartRequiresSource verifies Start refuses to run without a source.
func TestStartRequiresSource(t *testing.T) {
	addr, _ := listen(t)
	st, err := New(Config{Target: addr, BatchSize: 10, TargetMBps: 100, MaxDropRatio: 0.5})
	require.NoError(t, err)

	assert.ErrorIs(t, st.Start(context.Background()), ErrNoSource)
}

// TestStreamDelivery runs a full session against a loopback receiver and
// checks the packets decode back to the source events in order.
func TestStreamDelivery(t *testing.T) {
	addr, packets := listen(t)

	events := testEvents(25)
	delivered := false
	st, err := New(Config{Target: addr, BatchSize: 10, TargetMBps: 1000, MaxDropRatio: 0.5})
	require.NoError(t, err)
	st.SetSource(func() []event.DVSEvent {
		if delivered {
			return nil
		}
		delivered = true
		return events
	})

	require.NoError(t, st.Start(context.Background()))
	assert.True(t, st.Running())
	assert.ErrorIs(t, st.Start(context.Background()), ErrAlreadyRunning)

	// 25 events at batch size 10 → 3 packets.
	var got []event.DVSEvent
	for i := 0; i < 3; i++ {
		select {
		case pkt := <-packets:
			ts, decoded, err := event.DecodePacket(pkt)
			require.NoError(t, err)
			require.NotEmpty(t, decoded)
			assert.Equal(t, decoded[0].Timestamp, ts)
			got = append(got, decoded...)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for packet")
		}
	}
	assert.Equal(t, events, got)

	require.NoError(t, st.Stop())
	assert.False(t, st.Running())
	require.NoError(t, st.Stop()) // idempotent

	s := st.Stats()
	assert.Equal(t, uint64(25), s.EventsSent)
	assert.Equal(t, uint64(3), s.PacketsSent)
	assert.Equal(t, uint64(3*event.PacketHeaderSize+25*event.DVSEventSize), s.BytesSent)
	assert.Zero(t, s.EventsDropped)
}

// TestSourcePanicIsolated verifies a panicking source does not kill the
// session.
func TestSourcePanicIsolated(t *testing.T) {
	addr, packets := listen(t)

	calls := 0
	st, err := New(Config{Target: addr, BatchSize: 10, TargetMBps: 1000, MaxDropRatio: 0.5})
	require.NoError(t, err)
	st.SetSource(func() []event.DVSEvent {
		calls++
		switch calls {
		case 1:
			panic("source failure")
		case 2:
			return testEvents(1)
		default:
			return nil
		}
	})

	require.NoError(t, st.Start(context.Background()))
	defer st.Stop()

	select {
	case pkt := <-packets:
		_, decoded, err := event.DecodePacket(pkt)
		require.NoError(t, err)
		assert.Len(t, decoded, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not survive the source panic")
	}
}

// TestThroughputControlLoop runs the full send loop against a draining
// receiver with a deliberately tiny ceiling: the controller must engage and
// shed events, and cumulative loss must stay within the configured cap.
func TestThroughputControlLoop(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 65536)
		for {
			if _, _, err := conn.ReadFromUDP(buf); err != nil {
				return
			}
		}
	}()

	const maxDropRatio = 0.5
	st, err := New(Config{
		Target:       conn.LocalAddr().String(),
		BatchSize:    500,
		TargetMBps:   0.5,
		MaxDropRatio: maxDropRatio,
	})
	require.NoError(t, err)
	// 5000 events per pull at 13 bytes each overwhelms a 0.5 MB/s ceiling
	// within the first measurement interval.
	st.SetSource(SimulatedSource(64, 64, 5000))

	require.NoError(t, st.Start(context.Background()))
	defer st.Stop()

	require.Eventually(t, func() bool {
		return st.Stats().EventsDropped > 0
	}, 3*time.Second, 20*time.Millisecond, "controller never engaged")

	s := st.Stats()
	assert.Positive(t, s.DropRatio)
	assert.LessOrEqual(t, s.DropRatio, maxDropRatio)
	assert.Positive(t, s.EventsSent)
}

// TestThrottleProportionalDrop verifies the controller sheds the overshoot
// fraction from the tail, capped by the configured maximum.
func TestThrottleProportionalDrop(t *testing.T) {
	st, err := New(Config{Target: "127.0.0.1:9000", BatchSize: 10, TargetMBps: 10, MaxDropRatio: 0.5})
	require.NoError(t, err)

	// 25% over target: drop ratio 0.25, keep 75 of 100, tail removed.
	st.throughput.Store(math.Float64bits(12.5))
	batch := st.throttle(testEvents(100))
	require.Len(t, batch, 75)
	assert.Equal(t, uint16(0), batch[0].X)
	assert.Equal(t, uint16(74), batch[74].X)
	assert.Equal(t, uint64(25), st.Stats().EventsDropped)

	// Far over target: capped at MaxDropRatio.
	st.throughput.Store(math.Float64bits(100))
	batch = st.throttle(testEvents(100))
	assert.Len(t, batch, 50)

	// Within tolerance: untouched.
	st.throughput.Store(math.Float64bits(10.5))
	batch = st.throttle(testEvents(100))
	assert.Len(t, batch, 100)
}

// TestThrottleKeepsAtLeastOne verifies a nonempty batch never shrinks to
// zero.
func TestThrottleKeepsAtLeastOne(t *testing.T) {
	st, err := New(Config{Target: "127.0.0.1:9000", BatchSize: 10, TargetMBps: 1, MaxDropRatio: 1})
	require.NoError(t, err)

	st.throughput.Store(math.Float64bits(1000))
	batch := st.throttle(testEvents(3))
	assert.Len(t, batch, 1)
}

// TestPacketize verifies ceil(M/B) packets whose concatenation reproduces
// the batch.
func TestPacketize(t *testing.T) {
	for _, tc := range []struct {
		m, b, packets int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
		{7, 1, 7},
	} {
		batch := testEvents(tc.m)
		subs := Packetize(batch, tc.b)
		require.Len(t, subs, tc.packets, "m=%d b=%d", tc.m, tc.b)

		var joined []event.DVSEvent
		for _, sub := range subs {
			assert.LessOrEqual(t, len(sub), tc.b)
			joined = append(joined, sub...)
		}
		if tc.m > 0 {
			assert.Equal(t, batch, joined)
		}
	}
}
