package source

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/signal"
	"github.com/hypebeast/go-osc/osc"
)

const maxDatagram = 65535

// Layout locates the sequence id and channel values inside an OSC
// message's arguments. A negative SeqIndex means the message carries no
// id and a local counter is used. Trailing arguments are ignored.
type Layout struct {
	SeqIndex    int
	ValueOffset int
	Trailing    int
}

// Unpack extracts the sequence id (if the layout has one) and the
// channel values from args.
func (l Layout) Unpack(args []any) (seq uint64, hasSeq bool, values []float64, err error) {
	end := len(args) - l.Trailing
	if l.ValueOffset < 0 || l.ValueOffset >= end || l.SeqIndex >= len(args) {
		return 0, false, nil, errors.New().WithData(ErrMalformed, fmt.Sprintf("%d arguments", len(args)))
	}

	if l.SeqIndex >= 0 {
		id, err := toFloat(args[l.SeqIndex])
		if err != nil || math.IsNaN(id) || id < 0 || id >= math.MaxUint64 {
			return 0, false, nil, errors.New().WithData(ErrMalformed, fmt.Sprintf("sequence id %v", args[l.SeqIndex]))
		}
		seq, hasSeq = uint64(id), true
	}

	values = make([]float64, 0, end-l.ValueOffset)
	for _, arg := range args[l.ValueOffset:end] {
		v, err := toFloat(arg)
		if err != nil {
			return 0, false, nil, err
		}
		values = append(values, v)
	}

	return seq, hasSeq, values, nil
}

func toFloat(arg any) (float64, error) {
	switch v := arg.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, errors.New().WithData(ErrMalformed, fmt.Sprintf("non-numeric argument %T", arg))
	}
}

type NetworkConfig struct {
	Host   string
	Port   int
	Topic  string
	Layout Layout
}

// Network listens for OSC packets on a UDP socket and ingests one sample
// per message addressed to the configured topic.
type Network struct {
	cfg NetworkConfig
	log logger.Logger

	mu   sync.Mutex
	addr net.Addr
	seq  uint64

	received  atomic.Uint64
	ingested  atomic.Uint64
	malformed atomic.Uint64
	rejected  atomic.Uint64
}

func NewNetwork(cfg NetworkConfig) (*Network, error) {
	errFactory := errors.New()

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("port %d", cfg.Port))
	}
	if cfg.Topic == "" || cfg.Topic[0] != '/' {
		return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("topic %q", cfg.Topic))
	}
	if cfg.Layout.ValueOffset < 0 || cfg.Layout.Trailing < 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, cfg.Layout)
	}

	return &Network{cfg: cfg, log: logger.Component("network")}, nil
}

// LocalAddr returns the bound address, or nil while not listening.
func (n *Network) LocalAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

func (n *Network) Stats() Stats {
	return Stats{
		Received:  n.received.Load(),
		Ingested:  n.ingested.Load(),
		Malformed: n.malformed.Load(),
		Rejected:  n.rejected.Load(),
	}
}

func (n *Network) Run(ctx context.Context, sink Sink) error {
	errFactory := errors.New()
	address := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", address)
	if err != nil {
		return errFactory.Wrap(ErrTransport, err).WithData(address)
	}

	n.mu.Lock()
	n.addr = conn.LocalAddr()
	n.mu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		n.mu.Lock()
		n.addr = nil
		n.mu.Unlock()
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	dispatcher := osc.NewStandardDispatcher()
	if err := dispatcher.AddMsgHandler(n.cfg.Topic, func(msg *osc.Message) {
		n.handle(msg, sink)
	}); err != nil {
		return errFactory.Wrap(ErrInvalidConfig, err).WithData(n.cfg.Topic)
	}

	n.log.Info().Str("address", conn.LocalAddr().String()).Str("topic", n.cfg.Topic).Msg("Listening for OSC packets")

	buf := make([]byte, maxDatagram)
	for {
		size, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return errFactory.Wrap(ErrTransport, err).WithData(address)
		}
		n.received.Add(1)

		packet, err := parsePacket(buf[:size])
		if err != nil {
			n.malformed.Add(1)
			n.log.Warn().Err(err).Str("from", from.String()).Int("bytes", size).Msg("Dropping malformed packet")
			continue
		}

		for _, msg := range flatten(packet, nil) {
			n.dispatch(dispatcher, msg)
		}
	}
}

// dispatch routes msg to the topic handler. Address matching compiles the
// incoming address as a pattern, which panics on some inputs.
func (n *Network) dispatch(d *osc.StandardDispatcher, msg *osc.Message) {
	defer func() {
		if r := recover(); r != nil {
			n.malformed.Add(1)
			n.log.Warn().Str("address", msg.Address).Interface("panic", r).Msg("Dropping unroutable message")
		}
	}()
	d.Dispatch(msg)
}

func (n *Network) handle(msg *osc.Message, sink Sink) {
	seq, hasSeq, values, err := n.cfg.Layout.Unpack(msg.Arguments)
	if err != nil {
		n.malformed.Add(1)
		n.log.Warn().Err(err).Str("address", msg.Address).Msg("Dropping malformed message")
		return
	}

	if !hasSeq {
		n.mu.Lock()
		seq = n.seq
		n.seq++
		n.mu.Unlock()
	}

	if err := sink.Ingest(signal.Sample{Seq: seq, Values: values}); err != nil {
		n.rejected.Add(1)
		n.log.Warn().Err(err).Uint64("seq", seq).Msg("Sample rejected")
		return
	}
	n.ingested.Add(1)
}

// parsePacket decodes a datagram. The decoder can panic on some truncated
// inputs, which is reported as an ordinary parse error.
func parsePacket(data []byte) (packet osc.Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(ErrMalformed, fmt.Sprintf("decoder panic: %v", r))
		}
	}()

	packet, err = osc.ParsePacket(string(data))
	if err != nil {
		return nil, errors.New().Wrap(ErrMalformed, err)
	}
	if packet == nil {
		return nil, errors.New().WithData(ErrMalformed, "empty packet")
	}

	return packet, nil
}

// flatten appends the messages in packet to out in order, descending into
// nested bundles.
func flatten(packet osc.Packet, out []*osc.Message) []*osc.Message {
	switch p := packet.(type) {
	case *osc.Message:
		out = append(out, p)
	case *osc.Bundle:
		out = append(out, p.Messages...)
		for _, b := range p.Bundles {
			out = flatten(b, out)
		}
	}
	return out
}
