// Package frame provides pooled, reference counted image buffers.
package frame

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Format describes the dimensions of a frame.
type Format struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Size returns the buffer size in bytes for a single-channel frame.
func (f Format) Size() int {
	return f.Width * f.Height
}

// Frame is a buffer whose lifetime is governed by its reference count. A
// frame returned from Pool.Get has one reference owned by the caller.
type Frame struct {
	format    Format
	seq       uint64
	timestamp int64
	data      []byte
	refs      atomic.Int32
	pool      *Pool
}

// Format returns the frame dimensions.
func (f *Frame) Format() Format { return f.format }

// Data returns the pixel buffer. It is only valid while a reference is held.
func (f *Frame) Data() []byte { return f.data }

// Seq returns the sequence number assigned by the producer.
func (f *Frame) Seq() uint64 { return f.seq }

// SetSeq stamps the producer sequence number.
func (f *Frame) SetSeq(seq uint64) { f.seq = seq }

// Timestamp returns the producer timestamp in nanoseconds.
func (f *Frame) Timestamp() int64 { return f.timestamp }

// SetTimestamp stamps the producer timestamp in nanoseconds.
func (f *Frame) SetTimestamp(ts int64) { f.timestamp = ts }

// RefCount returns the current number of references.
func (f *Frame) RefCount() int32 { return f.refs.Load() }

// Retain adds a reference.
func (f *Frame) Retain() {
	if f.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("frame: retain of released frame %d", f.seq))
	}
}

// Release drops a reference and recycles the buffer when none remain.
func (f *Frame) Release() {
	n := f.refs.Add(-1)
	switch {
	case n == 0:
		f.pool.put(f)
	case n < 0:
		panic(fmt.Sprintf("frame: release of released frame %d", f.seq))
	}
}

// Pool recycles frame buffers by size.
type Pool struct {
	mu   sync.Mutex
	free map[int][]*Frame
	live atomic.Int64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{free: make(map[int][]*Frame)}
}

// Get returns a zeroed frame of the given format with one reference.
func (p *Pool) Get(format Format) *Frame {
	size := format.Size()

	p.mu.Lock()
	var f *Frame
	if list := p.free[size]; len(list) > 0 {
		f = list[len(list)-1]
		p.free[size] = list[:len(list)-1]
	}
	p.mu.Unlock()

	if f == nil {
		f = &Frame{data: make([]byte, size), pool: p}
	} else {
		clear(f.data)
	}
	f.format = format
	f.seq = 0
	f.timestamp = 0
	f.refs.Store(1)
	p.live.Add(1)
	return f
}

// Live returns the number of frames handed out and not yet fully released.
func (p *Pool) Live() int64 {
	return p.live.Load()
}

func (p *Pool) put(f *Frame) {
	p.live.Add(-1)

	size := len(f.data)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[size] = append(p.free[size], f)
}
