//go:build linux

// Package v4l2 implements the capture device protocol against
// Video4Linux2 devices using raw ioctls, without cgo.
package v4l2

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"multicam/internal/driver"
	"multicam/internal/fourcc"
	"multicam/internal/logger"
)

// Number of mapped buffers requested per device. Drivers may grant
// fewer; whatever is granted forms the pool.
const requestedBuffers = 4

// Device is one opened V4L2 capture device.
type Device struct {
	path string
	fd   int
	pool [][]byte // index-addressed mmap regions
}

var _ driver.Device = (*Device)(nil)

// Open opens the device node at path. The descriptor is opened
// non-blocking so dequeues can be gated on poll.
func Open(path string) (driver.Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &driver.IOError{Op: "open", Path: path, Err: err}
	}
	return &Device{path: path, fd: fd}, nil
}

// Negotiate queries the device capabilities and sets the capture
// format. The confirmed format is returned; drivers are free to adjust
// the requested size to the nearest one they support.
func (d *Device) Negotiate(f driver.Format) (driver.Format, error) {
	var caps v4l2Capability
	if err := d.ioctl(vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		return driver.Format{}, &driver.IOError{Op: "querycap", Path: d.path, Err: err}
	}
	if caps.Capabilities&capVideoCapture == 0 {
		return driver.Format{}, &driver.IOError{Op: "querycap", Path: d.path,
			Err: fmt.Errorf("device is not a video capture device")}
	}
	if caps.Capabilities&capStreaming == 0 {
		return driver.Format{}, &driver.IOError{Op: "querycap", Path: d.path,
			Err: fmt.Errorf("device does not support streaming I/O")}
	}

	format := v4l2Format{Type: bufTypeVideoCapture}
	format.Pix.Width = uint32(f.Width)
	format.Pix.Height = uint32(f.Height)
	format.Pix.PixelFormat = uint32(f.PixelFormat)
	format.Pix.Field = fieldNone
	if err := d.ioctl(vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return driver.Format{}, &driver.IOError{Op: "set format", Path: d.path, Err: err}
	}

	confirmed := driver.Format{
		Width:       int(format.Pix.Width),
		Height:      int(format.Pix.Height),
		FPS:         f.FPS,
		PixelFormat: fourcc.Code(format.Pix.PixelFormat),
	}

	if f.FPS > 0 {
		parm := v4l2StreamParm{Type: bufTypeVideoCapture}
		parm.Capture.TimePerFrame = v4l2Fract{Numerator: 1, Denominator: uint32(f.FPS)}
		if err := d.ioctl(vidiocSParm, unsafe.Pointer(&parm)); err != nil {
			return driver.Format{}, &driver.IOError{Op: "set frame rate", Path: d.path, Err: err}
		}
		if tpf := parm.Capture.TimePerFrame; tpf.Numerator > 0 {
			confirmed.FPS = int(tpf.Denominator / tpf.Numerator)
		}
	}

	log := logger.WithComponent("v4l2")
	log.Debug().
		Str("device", d.path).
		Int("width", confirmed.Width).
		Int("height", confirmed.Height).
		Str("format", confirmed.PixelFormat.String()).
		Msg("Format negotiated")

	return confirmed, nil
}

// Start requests the mmap buffer pool, maps every granted buffer,
// queues them all and turns streaming on.
func (d *Device) Start() error {
	req := v4l2RequestBuffers{
		Count:  requestedBuffers,
		Type:   bufTypeVideoCapture,
		Memory: memoryMmap,
	}
	if err := d.ioctl(vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return &driver.IOError{Op: "request buffers", Path: d.path, Err: err}
	}
	if req.Count == 0 {
		return &driver.IOError{Op: "request buffers", Path: d.path,
			Err: fmt.Errorf("device granted no buffers")}
	}

	d.pool = make([][]byte, req.Count)
	for i := range d.pool {
		buf := v4l2Buffer{
			Index:  uint32(i),
			Type:   bufTypeVideoCapture,
			Memory: memoryMmap,
		}
		if err := d.ioctl(vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			d.unmapPool()
			return &driver.IOError{Op: "query buffer", Path: d.path, Err: err}
		}
		data, err := unix.Mmap(d.fd, int64(buf.M), int(buf.Length),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.unmapPool()
			return &driver.IOError{Op: "mmap buffer", Path: d.path, Err: err}
		}
		d.pool[i] = data
	}

	for i := range d.pool {
		if err := d.Requeue(i); err != nil {
			d.unmapPool()
			return err
		}
	}

	typ := int32(bufTypeVideoCapture)
	if err := d.ioctl(vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		d.unmapPool()
		return &driver.IOError{Op: "stream on", Path: d.path, Err: err}
	}
	return nil
}

// Stop turns streaming off. STREAMOFF implicitly reclaims every buffer
// in the pool, dequeued or not.
func (d *Device) Stop() error {
	typ := int32(bufTypeVideoCapture)
	if err := d.ioctl(vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return &driver.IOError{Op: "stream off", Path: d.path, Err: err}
	}
	return nil
}

// Close unmaps the pool and closes the descriptor.
func (d *Device) Close() error {
	d.unmapPool()
	if d.fd >= 0 {
		if err := unix.Close(d.fd); err != nil {
			return &driver.IOError{Op: "close", Path: d.path, Err: err}
		}
		d.fd = -1
	}
	return nil
}

// Dequeue waits for a filled buffer. The wait is gated on poll so a
// context deadline or cancellation bounds it; without either the call
// blocks until the device delivers a frame.
func (d *Device) Dequeue(ctx context.Context) (driver.Buffer, error) {
	for {
		if err := ctx.Err(); err != nil {
			return driver.Buffer{}, &driver.IOError{Op: "dequeue", Path: d.path, Err: err}
		}

		// Poll in short rounds so cancellation is observed even
		// without a deadline.
		timeout := 500
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return driver.Buffer{}, &driver.IOError{Op: "dequeue", Path: d.path, Err: context.DeadlineExceeded}
			}
			if ms := int(remaining / time.Millisecond); ms < timeout {
				timeout = ms
			}
		}

		fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return driver.Buffer{}, &driver.IOError{Op: "dequeue", Path: d.path, Err: err}
		}
		if n == 0 {
			continue
		}

		buf := v4l2Buffer{Type: bufTypeVideoCapture, Memory: memoryMmap}
		if err := d.ioctl(vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return driver.Buffer{}, &driver.IOError{Op: "dequeue", Path: d.path, Err: err}
		}

		data := d.pool[buf.Index]
		if n := int(buf.BytesUsed); n > 0 && n <= len(data) {
			data = data[:n]
		}
		return driver.Buffer{Index: int(buf.Index), Data: data}, nil
	}
}

// Requeue hands a buffer back to the device pool.
func (d *Device) Requeue(index int) error {
	buf := v4l2Buffer{
		Index:  uint32(index),
		Type:   bufTypeVideoCapture,
		Memory: memoryMmap,
	}
	if err := d.ioctl(vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return &driver.IOError{Op: "requeue", Path: d.path, Err: err}
	}
	return nil
}

func (d *Device) unmapPool() {
	for i, data := range d.pool {
		if data != nil {
			unix.Munmap(data)
			d.pool[i] = nil
		}
	}
	d.pool = nil
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		return errno
	}
}
