// Package buffer implements the rolling sample window shared by the
// ingestion path and the processing stages.
package buffer

import (
	"sync"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/signal"
)

// TransformFunc maps one channel's samples, oldest first, to a slice of
// the same length.
type TransformFunc func(data []float64) []float64

// Rolling is a fixed-capacity ring of multi-channel rows. Rows live in a
// flat row-major arena; head indexes the oldest row. All methods are safe
// for concurrent use and hold the lock only for copying.
type Rolling struct {
	mu       sync.Mutex
	capacity int
	channels int
	arena    []float64
	seqs     []uint64
	head     int
	size     int
}

// New creates an empty buffer holding up to capacity rows of channels values.
func New(capacity, channels int) (*Rolling, error) {
	if capacity < 1 || channels < 1 {
		return nil, errors.New().WithData(ErrInvalidConfig, struct {
			Capacity int
			Channels int
		}{capacity, channels})
	}

	return &Rolling{
		capacity: capacity,
		channels: channels,
		arena:    make([]float64, capacity*channels),
		seqs:     make([]uint64, capacity),
	}, nil
}

// Capacity returns the maximum number of rows.
func (r *Rolling) Capacity() int {
	return r.capacity
}

// Channels returns the number of values per row.
func (r *Rolling) Channels() int {
	return r.channels
}

// Len returns the number of rows currently held.
func (r *Rolling) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Append stores s as the newest row, evicting the oldest when full.
func (r *Rolling) Append(s signal.Sample) error {
	if err := r.check(s); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(s)

	return nil
}

// AppendBatch stores all samples as one operation: no snapshot observes
// part of the batch. If any sample has the wrong shape nothing is stored.
func (r *Rolling) AppendBatch(samples []signal.Sample) error {
	for _, s := range samples {
		if err := r.check(s); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		r.put(s)
	}

	return nil
}

// TransformInPlace replaces each channel with fn applied to it. If fn
// returns a slice of a different length the buffer is left unchanged.
func (r *Rolling) TransformInPlace(fn TransformFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	out := make([][]float64, r.channels)
	column := make([]float64, r.size)
	for c := 0; c < r.channels; c++ {
		for i := 0; i < r.size; i++ {
			column[i] = r.arena[r.slot(i)*r.channels+c]
		}
		res := fn(column)
		if len(res) != r.size {
			return errors.New().WithData(ErrShapeMismatch, shapeMismatch{
				Expected: r.size,
				Got:      len(res),
			})
		}
		out[c] = append([]float64(nil), res...)
	}

	for c, data := range out {
		for i, v := range data {
			r.arena[r.slot(i)*r.channels+c] = v
		}
	}

	return nil
}

// Snapshot copies the newest n rows, or every row if fewer are held.
func (r *Rolling) Snapshot(n int) (signal.Window, error) {
	if n < 0 || n > r.capacity {
		return signal.Window{}, errors.New().WithData(ErrRange, struct {
			Window   int
			Capacity int
		}{n, r.capacity})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n = min(n, r.size)
	start := r.size - n
	w := signal.Window{
		Seq:  make([]uint64, n),
		Data: make([][]float64, r.channels),
	}
	for c := range w.Data {
		w.Data[c] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		slot := r.slot(start + i)
		w.Seq[i] = r.seqs[slot]
		row := r.arena[slot*r.channels : (slot+1)*r.channels]
		for c, v := range row {
			w.Data[c][i] = v
		}
	}

	return w, nil
}

// Clone returns an independent copy of the buffer.
func (r *Rolling) Clone() *Rolling {
	r.mu.Lock()
	defer r.mu.Unlock()

	return &Rolling{
		capacity: r.capacity,
		channels: r.channels,
		arena:    append([]float64(nil), r.arena...),
		seqs:     append([]uint64(nil), r.seqs...),
		head:     r.head,
		size:     r.size,
	}
}

func (r *Rolling) check(s signal.Sample) error {
	if len(s.Values) != r.channels {
		return errors.New().WithData(ErrShapeMismatch, shapeMismatch{
			Seq:      s.Seq,
			Expected: r.channels,
			Got:      len(s.Values),
		})
	}
	return nil
}

// put writes s into the next slot. Callers hold mu.
func (r *Rolling) put(s signal.Sample) {
	var slot int
	if r.size < r.capacity {
		slot = r.slot(r.size)
		r.size++
	} else {
		slot = r.head
		r.head = (r.head + 1) % r.capacity
	}
	copy(r.arena[slot*r.channels:(slot+1)*r.channels], s.Values)
	r.seqs[slot] = s.Seq
}

// slot maps the logical row i (0 = oldest) to its arena index.
func (r *Rolling) slot(i int) int {
	return (r.head + i) % r.capacity
}
