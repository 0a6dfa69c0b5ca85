// Package capture acquires frames from one or many capture devices
// concurrently and assembles them into caller-owned RGB buffers. The
// batch path runs one worker goroutine per device, each writing into
// its own statically assigned slice of a single contiguous allocation,
// and joins every worker before reporting the first failure in device
// order.
package capture

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"multicam/internal/driver"
	"multicam/internal/fourcc"
	"multicam/internal/logger"
)

// Converter is the two-stage pixel conversion the worker drives: raw
// device bytes to a 4-byte-per-pixel intermediate, then intermediate
// to packed RGB triples. Both stages write only into the destination
// they are given.
type Converter interface {
	ToIntermediate(raw []byte, width, height int, format fourcc.Code, dst []byte) error
	ToOutput(intermediate []byte, width, height int, dst []byte) error
}

// Options configures a Camera before it is started. Everything past
// Device is optional; omitted fields fall back to whatever the driver
// negotiates.
type Options struct {
	Device string
	Width  int
	Height int
	FPS    int
	Format string // FOURCC such as "YUYV"; empty for driver default
}

// Camera is one capture device descriptor. Width, Height and Format
// hold the requested values until Start, the negotiated ones after.
type Camera struct {
	Device string
	Width  int
	Height int
	FPS    int
	Format fourcc.Code

	open driver.OpenFunc
	conv Converter
	dev  driver.Device
	log  zerolog.Logger
}

// New validates opts and builds a Camera. The device is not touched
// until Start.
func New(opts Options, open driver.OpenFunc, conv Converter) (*Camera, error) {
	if opts.Device == "" {
		return nil, &ConfigError{Reason: "no device path"}
	}

	var format fourcc.Code
	if opts.Format != "" {
		code, err := fourcc.Parse(opts.Format)
		if err != nil {
			return nil, &ConfigError{Reason: "bad pixel format", Err: err}
		}
		format = code
	}

	return &Camera{
		Device: opts.Device,
		Width:  opts.Width,
		Height: opts.Height,
		FPS:    opts.FPS,
		Format: format,
		open:   open,
		conv:   conv,
		log:    *logger.WithComponent("capture"),
	}, nil
}

// Start opens the device, negotiates the capture format and begins
// streaming. The negotiated width, height and format are written back
// to the descriptor. The device is closed again on any failure, so a
// failed Start never leaks a handle.
func (c *Camera) Start() error {
	if c.dev != nil {
		return fmt.Errorf("camera %s is already started", c.Device)
	}

	dev, err := c.open(c.Device)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.Device, err)
	}

	confirmed, err := dev.Negotiate(driver.Format{
		Width:       c.Width,
		Height:      c.Height,
		FPS:         c.FPS,
		PixelFormat: c.Format,
	})
	if err != nil {
		dev.Close()
		return fmt.Errorf("failed to negotiate format on %s: %w", c.Device, err)
	}
	c.Width = confirmed.Width
	c.Height = confirmed.Height
	c.FPS = confirmed.FPS
	c.Format = confirmed.PixelFormat

	if err := dev.Start(); err != nil {
		dev.Close()
		return fmt.Errorf("failed to start streaming on %s: %w", c.Device, err)
	}

	c.dev = dev
	c.log.Info().
		Str("device", c.Device).
		Int("width", c.Width).
		Int("height", c.Height).
		Str("format", c.Format.String()).
		Msg("Camera started")
	return nil
}

// Stop ends streaming and closes the device. The device is closed even
// when stopping the stream fails.
func (c *Camera) Stop() error {
	if c.dev == nil {
		return nil
	}
	dev := c.dev
	c.dev = nil

	stopErr := dev.Stop()
	if err := dev.Close(); err != nil {
		if stopErr != nil {
			return fmt.Errorf("failed to stop %s: %w", c.Device, stopErr)
		}
		return fmt.Errorf("failed to close %s: %w", c.Device, err)
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop %s: %w", c.Device, stopErr)
	}
	return nil
}

// Read captures a single frame. The capture cycle runs on its own
// goroutine and the call blocks until it finishes; a context deadline
// bounds the wait on a stalled device.
func (c *Camera) Read(ctx context.Context) (Frame, error) {
	if c.dev == nil {
		return Frame{}, fmt.Errorf("camera %s is not started", c.Device)
	}

	dst := make([]byte, c.Height*c.Width*3)
	done := make(chan result, 1)
	go func() {
		done <- c.captureCycle(ctx, dst)
	}()

	res := <-done
	if res.outcome != OutcomeSuccess {
		return Frame{}, fmt.Errorf("failed to read frame from %s: %s: %w", c.Device, res.outcome, res.err)
	}
	return Frame{Width: c.Width, Height: c.Height, Data: dst}, nil
}
