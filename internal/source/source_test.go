package source_test

import (
	"context"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/signal"
	"codeberg.org/mutker/eegpipe/internal/source"
	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu       sync.Mutex
	samples  []signal.Sample
	batches  int
	channels int
}

func (r *recorder) Ingest(s signal.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels > 0 && len(s.Values) != r.channels {
		return errors.New().New(errors.ErrShapeMismatch)
	}
	r.samples = append(r.samples, s)
	return nil
}

func (r *recorder) IngestBatch(samples []signal.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
	r.samples = append(r.samples, samples...)
	return nil
}

func (r *recorder) snapshot() ([]signal.Sample, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signal.Sample(nil), r.samples...), r.batches
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func dummyLayout() source.Layout {
	return source.Layout{SeqIndex: 2, ValueOffset: 3, Trailing: 1}
}

func TestLayoutUnpack(t *testing.T) {
	args := []any{float32(1.7e9), float32(0.25), int32(42), int32(1), int32(-2), int32(3), int32(-4), int32(999)}

	seq, hasSeq, values, err := dummyLayout().Unpack(args)
	require.NoError(t, err)
	assert.True(t, hasSeq)
	assert.Equal(t, uint64(42), seq)
	assert.Equal(t, []float64{1, -2, 3, -4}, values)

	_, hasSeq, values, err = source.Layout{SeqIndex: -1}.Unpack([]any{float32(0.5), float64(1.5)})
	require.NoError(t, err)
	assert.False(t, hasSeq)
	assert.Equal(t, []float64{0.5, 1.5}, values)
}

func TestLayoutUnpackRejects(t *testing.T) {
	_, _, _, err := dummyLayout().Unpack([]any{int32(1), int32(2), int32(3), "x", int32(5)})
	assert.True(t, errors.HasCode(err, source.ErrMalformed))

	_, _, _, err = dummyLayout().Unpack([]any{int32(1), int32(2)})
	assert.True(t, errors.HasCode(err, source.ErrMalformed))

	_, _, _, err = dummyLayout().Unpack([]any{int32(1), int32(2), "id", int32(4), int32(5)})
	assert.True(t, errors.HasCode(err, source.ErrMalformed))

	for _, id := range []float64{math.NaN(), -1, math.Inf(1), 1e20} {
		_, _, _, err = dummyLayout().Unpack([]any{int32(1), int32(2), id, int32(4), int32(5)})
		assert.True(t, errors.HasCode(err, source.ErrMalformed), "sequence id %v", id)
	}
}

func startNetwork(t *testing.T, cfg source.NetworkConfig, sink source.Sink) (*source.Network, net.Conn, func()) {
	t.Helper()

	src, err := source.NewNetwork(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return src.LocalAddr() != nil }, 2*time.Second, 5*time.Millisecond)

	conn, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)

	stop := func() {
		conn.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("network source did not stop")
		}
	}
	return src, conn, stop
}

func send(t *testing.T, conn net.Conn, packet osc.Packet) {
	t.Helper()
	data, err := packet.MarshalBinary()
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func dummyMessage(id int32, values ...int32) *osc.Message {
	msg := osc.NewMessage("/random", float32(1.7e9), float32(0.5), id)
	for _, v := range values {
		msg.Append(v)
	}
	msg.Append(int32(0))
	return msg
}

func TestNetworkIngestsMessages(t *testing.T) {
	sink := &recorder{}
	src, conn, stop := startNetwork(t, source.NetworkConfig{
		Host: "127.0.0.1", Port: 0, Topic: "/random", Layout: dummyLayout(),
	}, sink)
	defer stop()

	for id := int32(0); id < 5; id++ {
		send(t, conn, dummyMessage(id, id, -id, 2*id, 3))
	}
	send(t, conn, osc.NewMessage("/other", int32(1)))

	require.Eventually(t, func() bool { return sink.count() == 5 }, 2*time.Second, 5*time.Millisecond)

	samples, _ := sink.snapshot()
	for i, s := range samples {
		assert.Equal(t, uint64(i), s.Seq)
		assert.Equal(t, []float64{float64(i), -float64(i), float64(2 * i), 3}, s.Values)
	}

	require.Eventually(t, func() bool { return src.Stats().Received == 6 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(5), src.Stats().Ingested)
}

func TestNetworkFlattensBundles(t *testing.T) {
	sink := &recorder{}
	_, conn, stop := startNetwork(t, source.NetworkConfig{
		Port: 0, Topic: "/muse/eeg", Layout: source.Layout{SeqIndex: -1},
	}, sink)
	defer stop()

	inner := osc.NewBundle(time.Now())
	require.NoError(t, inner.Append(osc.NewMessage("/muse/eeg", float32(3), float32(3))))
	outer := osc.NewBundle(time.Now())
	require.NoError(t, outer.Append(osc.NewMessage("/muse/eeg", float32(1), float32(1))))
	require.NoError(t, outer.Append(osc.NewMessage("/muse/eeg", float32(2), float32(2))))
	require.NoError(t, outer.Append(inner))
	send(t, conn, outer)

	require.Eventually(t, func() bool { return sink.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	samples, _ := sink.snapshot()
	for i, s := range samples {
		assert.Equal(t, uint64(i), s.Seq)
		assert.Equal(t, []float64{float64(i + 1), float64(i + 1)}, s.Values)
	}
}

func TestNetworkSurvivesMalformedInput(t *testing.T) {
	sink := &recorder{channels: 4}
	src, conn, stop := startNetwork(t, source.NetworkConfig{
		Port: 0, Topic: "/random", Layout: dummyLayout(),
	}, sink)
	defer stop()

	_, err := conn.Write([]byte("not an osc packet"))
	require.NoError(t, err)
	send(t, conn, osc.NewMessage("/random", float32(1), float32(2), int32(3), "x", int32(0)))
	send(t, conn, dummyMessage(7, 1, 2, 3))
	send(t, conn, dummyMessage(8, 1, 2, 3, 4))

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	samples, _ := sink.snapshot()
	assert.Equal(t, uint64(8), samples[0].Seq)

	require.Eventually(t, func() bool { return src.Stats().Received == 4 }, 2*time.Second, 5*time.Millisecond)
	stats := src.Stats()
	assert.Equal(t, uint64(2), stats.Malformed)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(1), stats.Ingested)
}

func TestNetworkBindFailure(t *testing.T) {
	taken, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	port := taken.LocalAddr().(*net.UDPAddr).Port
	src, err := source.NewNetwork(source.NetworkConfig{Port: port, Topic: "/random", Layout: dummyLayout()})
	require.NoError(t, err)

	err = src.Run(context.Background(), &recorder{})
	assert.True(t, errors.HasCode(err, source.ErrTransport))
}

func TestNewNetworkValidation(t *testing.T) {
	_, err := source.NewNetwork(source.NetworkConfig{Port: 70000, Topic: "/random"})
	assert.True(t, errors.HasCode(err, source.ErrInvalidConfig))

	_, err = source.NewNetwork(source.NetworkConfig{Port: 5000, Topic: "random"})
	assert.True(t, errors.HasCode(err, source.ErrInvalidConfig))
}

func TestSimulatedGenerate(t *testing.T) {
	src, err := source.NewSimulated(source.SimulatedConfig{SamplingRate: 256, Channels: 4, Seed: 1})
	require.NoError(t, err)

	first := src.Generate()
	second := src.Generate()
	require.Len(t, first, 256)
	assert.Equal(t, uint64(0), first[0].Seq)
	assert.Equal(t, uint64(255), first[255].Seq)
	assert.Equal(t, uint64(256), second[0].Seq)
	for _, s := range first {
		assert.Len(t, s.Values, 4)
	}
}

func TestSimulatedRunEmitsImmediately(t *testing.T) {
	src, err := source.NewSimulated(source.SimulatedConfig{
		SamplingRate: 32, Channels: 2, Period: 20 * time.Millisecond,
		Tones: []source.Tone{{Freq: 10, Amplitude: 5}},
	})
	require.NoError(t, err)

	sink := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return sink.count() >= 64 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	samples, batches := sink.snapshot()
	assert.Equal(t, batches*32, len(samples))
	for i, s := range samples {
		assert.Equal(t, uint64(i), s.Seq)
	}
	assert.Equal(t, uint64(batches), src.Stats().Received)
}

func TestNewSimulatedValidation(t *testing.T) {
	_, err := source.NewSimulated(source.SimulatedConfig{SamplingRate: 0, Channels: 4})
	assert.True(t, errors.HasCode(err, source.ErrInvalidConfig))
}
