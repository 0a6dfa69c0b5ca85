// Package driver defines the capture device protocol the acquisition
// core is built against. A Device hands out mapped buffers one at a
// time: Dequeue checks a filled buffer out of the pool, Requeue hands
// it back. Concrete implementations live in subpackages (v4l2).
package driver

import (
	"context"
	"fmt"

	"multicam/internal/fourcc"
)

// Format describes a capture format, requested or negotiated.
type Format struct {
	Width       int
	Height      int
	FPS         int
	PixelFormat fourcc.Code // zero means driver default
}

// Buffer is one pool entry checked out between Dequeue and Requeue.
// Data points into driver-owned mapped memory and is only valid until
// the buffer is requeued.
type Buffer struct {
	Index int
	Data  []byte
}

// Device is an opened capture device.
//
// The lifecycle is Negotiate → Start → any number of Dequeue/Requeue
// cycles → Stop → Close. At most one buffer is checked out per device
// at a time.
type Device interface {
	// Negotiate asks the device for the given format and returns what
	// the device actually confirmed, which may differ.
	Negotiate(f Format) (Format, error)

	// Start allocates the buffer pool and begins streaming.
	Start() error

	// Stop ends streaming and reclaims all pool buffers, including any
	// that were never requeued.
	Stop() error

	// Close releases the device. Safe to call after a failed Start.
	Close() error

	// Dequeue blocks until the device delivers a filled buffer. A
	// context deadline bounds the wait; without one the call blocks
	// until a frame arrives.
	Dequeue(ctx context.Context) (Buffer, error)

	// Requeue returns a dequeued buffer to the pool.
	Requeue(index int) error
}

// OpenFunc opens a capture device by path.
type OpenFunc func(path string) (Device, error)

// IOError wraps a failed device call with the operation and the
// syscall-level cause.
type IOError struct {
	Op   string // "open", "dequeue", ...
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
