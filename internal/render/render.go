// Package render draws band power summaries as text bars.
package render

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/signal"
)

const (
	defaultInterval = time.Second
	defaultWidth    = 20
)

// Mailbox is the consumer side of the pipeline's results.
type Mailbox interface {
	TryReceive() (signal.Summary, bool)
	Closed() <-chan struct{}
}

type Config struct {
	Interval time.Duration
	Bands    []signal.Band
	Channels []string
	Width    int
}

// Renderer polls a Mailbox once per frame. When nothing new arrived the
// last frame stays on screen.
type Renderer struct {
	out  io.Writer
	box  Mailbox
	cfg  Config
	log  logger.Logger
	last signal.Summary

	drawn     atomic.Uint64
	held      atomic.Uint64
	malformed atomic.Uint64
}

func New(out io.Writer, box Mailbox, cfg Config) (*Renderer, error) {
	if out == nil || box == nil {
		return nil, errors.New().WithData(errors.ErrInvalidConfig, "renderer needs an output and a mailbox")
	}
	if len(cfg.Bands) == 0 || len(cfg.Channels) == 0 {
		return nil, errors.New().WithData(errors.ErrInvalidConfig, "renderer needs bands and channel names")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Width <= 0 {
		cfg.Width = defaultWidth
	}

	return &Renderer{out: out, box: box, cfg: cfg, log: logger.Component("render")}, nil
}

// Run draws frames until ctx is done or the mailbox is closed. Drawing
// failures are logged per frame and never stop the loop.
func (r *Renderer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.box.Closed():
			r.Frame()
			return
		case <-ticker.C:
			r.Frame()
		}
	}
}

// Frame polls once and reports whether something was drawn.
func (r *Renderer) Frame() bool {
	s, ok := r.box.TryReceive()
	if !ok {
		r.held.Add(1)
		return false
	}
	if !s.Valid(r.cfg.Bands, len(r.cfg.Channels)) {
		r.malformed.Add(1)
		r.log.Warn().Uint64("tick", s.Tick).Msg("Skipping malformed summary")
		return false
	}

	if err := Write(r.out, s, r.cfg.Bands, r.cfg.Channels, r.cfg.Width); err != nil {
		r.log.Error().Err(err).Msg("Failed to draw frame")
		return false
	}
	r.last = s
	r.drawn.Add(1)
	return true
}

// Last returns the summary currently on screen.
func (r *Renderer) Last() signal.Summary {
	return r.last
}

// Counts returns drawn, held and malformed frame counts.
func (r *Renderer) Counts() (drawn, held, malformed uint64) {
	return r.drawn.Load(), r.held.Load(), r.malformed.Load()
}

// Write draws s as one line per band. Each bar is scaled by the largest
// channel value in its band and clamped to width.
func Write(w io.Writer, s signal.Summary, bands []signal.Band, channels []string, width int) error {
	var b strings.Builder

	fmt.Fprintf(&b, "tick %d  seq %d\n", s.Tick, s.LastSeq)
	for _, band := range bands {
		powers := s.Bands[band.Name]
		peak := 0.0
		for _, p := range powers {
			peak = math.Max(peak, p)
		}

		fmt.Fprintf(&b, "%-6s", band.Name)
		for c, p := range powers {
			norm := 0.0
			if peak > 0 {
				norm = p / peak
			}
			filled := min(max(int(math.Round(norm*float64(width))), 0), width)
			fmt.Fprintf(&b, " %s [%s%s] %8.3g", channels[c],
				strings.Repeat("#", filled), strings.Repeat(" ", width-filled), p)
		}
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}
