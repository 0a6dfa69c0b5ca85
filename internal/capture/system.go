package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"multicam/internal/logger"
)

// Frame is one captured image: Height rows of Width packed RGB
// samples. The caller owns Data exclusively.
type Frame struct {
	Width  int
	Height int
	Data   []byte // len = Height*Width*3
}

// FrameSet is the result of a batch read: one frame per camera, in
// device order, backed by a single contiguous allocation. The caller
// owns Data exclusively.
type FrameSet struct {
	Cameras int
	Width   int
	Height  int
	Data    []byte // len = Cameras*Height*Width*3
}

// Frame returns camera i's view into the shared allocation.
func (fs *FrameSet) Frame(i int) Frame {
	size := fs.Height * fs.Width * 3
	return Frame{
		Width:  fs.Width,
		Height: fs.Height,
		Data:   fs.Data[i*size : (i+1)*size : (i+1)*size],
	}
}

// System is an ordered set of started cameras sharing a common output
// size, read as one synchronized batch.
type System struct {
	Cameras []*Camera
	Width   int
	Height  int

	log zerolog.Logger
}

// NewSystem builds a System from started cameras. Every camera must
// have negotiated the same width and height; the common size becomes
// the system's.
func NewSystem(cameras []*Camera) (*System, error) {
	s := &System{
		Cameras: cameras,
		log:     *logger.WithComponent("capture"),
	}
	if len(cameras) == 0 {
		return s, nil
	}

	s.Width = cameras[0].Width
	s.Height = cameras[0].Height
	for _, cam := range cameras {
		if cam.Width != s.Width || cam.Height != s.Height {
			return nil, &ConfigError{
				Reason: fmt.Sprintf("cameras do not share a common size: %s is %dx%d, %s is %dx%d",
					cam.Device, cam.Width, cam.Height, cameras[0].Device, s.Width, s.Height),
			}
		}
	}
	return s, nil
}

// BatchRead captures one frame from every camera concurrently.
//
// One worker goroutine is spawned per camera, each writing into its
// own disjoint slice of a single Cameras*Height*Width*3 allocation;
// the slice offsets are computed up front so the workers share no
// mutable state. The call blocks until every worker has finished (the
// slowest device bounds the latency, not the sum), then reports the
// first non-success outcome in device order. On any failure the
// partially filled buffer is discarded; there is no partial delivery.
func (s *System) BatchRead(ctx context.Context) (*FrameSet, error) {
	n := len(s.Cameras)
	if n == 0 {
		return nil, &ConfigError{Reason: "capture system contains no cameras"}
	}
	for _, cam := range s.Cameras {
		if cam.dev == nil {
			return nil, &ConfigError{Reason: "camera " + cam.Device + " is not started"}
		}
	}

	frameSize := s.Height * s.Width * 3
	data := make([]byte, n*frameSize)
	results := make([]result, n)

	start := time.Now()
	var wg sync.WaitGroup
	for i, cam := range s.Cameras {
		wg.Add(1)
		go func(i int, cam *Camera) {
			defer wg.Done()
			dst := data[i*frameSize : (i+1)*frameSize : (i+1)*frameSize]
			results[i] = cam.captureCycle(ctx, dst)
		}(i, cam)
	}
	wg.Wait()

	for i, res := range results {
		if res.outcome != OutcomeSuccess {
			return nil, &BatchError{Index: i, Outcome: res.outcome, Err: res.err}
		}
	}

	s.log.Debug().
		Int("cameras", n).
		Dur("elapsed", time.Since(start)).
		Msg("Batch read complete")

	return &FrameSet{
		Cameras: n,
		Width:   s.Width,
		Height:  s.Height,
		Data:    data,
	}, nil
}
