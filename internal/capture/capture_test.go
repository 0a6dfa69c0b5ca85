package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"multicam/internal/driver"
	"multicam/internal/fourcc"
)

// fakeDevice implements driver.Device against an in-memory buffer
// pool. Failure injection and call counters drive the tests.
type fakeDevice struct {
	format driver.Format
	raw    []byte // frame content handed out by Dequeue

	dequeueErr error
	requeueErr error
	delay      time.Duration

	dequeues    atomic.Int64
	requeues    atomic.Int64
	stopped     atomic.Bool
	closed      atomic.Bool
	inflight    atomic.Int64 // buffers currently checked out
	maxInflight atomic.Int64
}

func (d *fakeDevice) Negotiate(f driver.Format) (driver.Format, error) {
	confirmed := f
	if d.format.Width != 0 {
		confirmed = d.format
	}
	return confirmed, nil
}

func (d *fakeDevice) Start() error { return nil }

func (d *fakeDevice) Stop() error {
	d.stopped.Store(true)
	return nil
}

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *fakeDevice) Dequeue(ctx context.Context) (driver.Buffer, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.dequeues.Add(1)
	if d.dequeueErr != nil {
		return driver.Buffer{}, d.dequeueErr
	}
	if n := d.inflight.Add(1); n > d.maxInflight.Load() {
		d.maxInflight.Store(n)
	}
	return driver.Buffer{Index: 0, Data: d.raw}, nil
}

func (d *fakeDevice) Requeue(index int) error {
	d.inflight.Add(-1)
	d.requeues.Add(1)
	return d.requeueErr
}

// fakeConverter fills every destination byte with a fixed marker so
// the tests can tell which camera wrote where.
type fakeConverter struct {
	marker          byte
	intermediateErr error
	outputErr       error
}

func (c fakeConverter) ToIntermediate(raw []byte, w, h int, f fourcc.Code, dst []byte) error {
	if c.intermediateErr != nil {
		return c.intermediateErr
	}
	for i := range dst {
		dst[i] = c.marker
	}
	return nil
}

func (c fakeConverter) ToOutput(intermediate []byte, w, h int, dst []byte) error {
	if c.outputErr != nil {
		return c.outputErr
	}
	for i := range dst {
		dst[i] = c.marker
	}
	return nil
}

func startedCamera(t *testing.T, dev *fakeDevice, conv Converter, w, h int) *Camera {
	t.Helper()
	cam, err := New(Options{Device: "/dev/video9", Width: w, Height: h}, func(string) (driver.Device, error) {
		return dev, nil
	}, conv)
	if err != nil {
		t.Fatal(err)
	}
	if err := cam.Start(); err != nil {
		t.Fatal(err)
	}
	return cam
}

func TestNewRejectsBadFormat(t *testing.T) {
	_, err := New(Options{Device: "/dev/video0", Format: "RGB"}, nil, fakeConverter{})
	if err == nil {
		t.Fatal("New accepted a 3-character FOURCC")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
}

func TestNewRejectsEmptyDevice(t *testing.T) {
	_, err := New(Options{}, nil, fakeConverter{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
}

func TestStartClosesDeviceOnNegotiateFailure(t *testing.T) {
	dev := &negotiateFailDevice{}
	cam, err := New(Options{Device: "/dev/video0"}, func(string) (driver.Device, error) {
		return dev, nil
	}, fakeConverter{})
	if err != nil {
		t.Fatal(err)
	}
	if err := cam.Start(); err == nil {
		t.Fatal("Start succeeded despite negotiate failure")
	}
	if !dev.closed {
		t.Error("device was not closed after failed Start")
	}
}

type negotiateFailDevice struct {
	fakeDevice
	closed bool
}

func (d *negotiateFailDevice) Negotiate(driver.Format) (driver.Format, error) {
	return driver.Format{}, errors.New("no such format")
}

func (d *negotiateFailDevice) Close() error {
	d.closed = true
	return nil
}

func TestReadSingleFrame(t *testing.T) {
	dev := &fakeDevice{raw: make([]byte, 640*480*2)}
	cam := startedCamera(t, dev, fakeConverter{marker: 0xAB}, 640, 480)
	defer cam.Stop()

	frame, err := cam.Read(context.Background())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if frame.Width != 640 || frame.Height != 480 {
		t.Errorf("frame is %dx%d, want 640x480", frame.Width, frame.Height)
	}
	if len(frame.Data) != 480*640*3 {
		t.Errorf("frame data is %d bytes, want %d", len(frame.Data), 480*640*3)
	}
	// The frame must be a fresh allocation, not a view into the
	// driver's mapped buffer.
	if &frame.Data[0] == &dev.raw[0] {
		t.Error("frame data aliases the driver buffer")
	}
	if dev.requeues.Load() != 1 {
		t.Errorf("requeues = %d, want 1", dev.requeues.Load())
	}
}

func TestReadReportsDequeueFailure(t *testing.T) {
	dev := &fakeDevice{dequeueErr: errors.New("EIO")}
	cam := startedCamera(t, dev, fakeConverter{}, 8, 8)
	defer cam.Stop()

	if _, err := cam.Read(context.Background()); err == nil {
		t.Fatal("Read succeeded despite dequeue failure")
	}
	if dev.requeues.Load() != 0 {
		t.Error("requeue was attempted after a failed dequeue")
	}
}

func TestWorkerRequeuesAfterConversionFailure(t *testing.T) {
	dev := &fakeDevice{raw: make([]byte, 8*8*2)}
	cam := startedCamera(t, dev, fakeConverter{intermediateErr: errors.New("bad frame")}, 8, 8)
	defer cam.Stop()

	_, err := cam.Read(context.Background())
	if err == nil {
		t.Fatal("Read succeeded despite conversion failure")
	}
	if dev.requeues.Load() != 1 {
		t.Errorf("requeues = %d, want 1: buffers must go back to the pool on conversion failure", dev.requeues.Load())
	}
}

func TestBatchReadShape(t *testing.T) {
	const n, w, h = 3, 16, 8
	cams := make([]*Camera, n)
	for i := range cams {
		dev := &fakeDevice{raw: make([]byte, w*h*2)}
		cams[i] = startedCamera(t, dev, fakeConverter{marker: byte(i + 1)}, w, h)
		defer cams[i].Stop()
	}
	sys, err := NewSystem(cams)
	if err != nil {
		t.Fatal(err)
	}

	set, err := sys.BatchRead(context.Background())
	if err != nil {
		t.Fatalf("BatchRead returned error: %v", err)
	}
	if set.Cameras != n || set.Width != w || set.Height != h {
		t.Fatalf("frame set is %dx%dx%d, want %dx%dx%d", set.Cameras, set.Height, set.Width, n, h, w)
	}
	if len(set.Data) != n*h*w*3 {
		t.Fatalf("frame set data is %d bytes, want %d", len(set.Data), n*h*w*3)
	}

	// Each camera's disjoint slice must hold exactly that camera's
	// marker: overlap or bleed would show up as foreign bytes.
	for i := 0; i < n; i++ {
		frame := set.Frame(i)
		if !bytes.Equal(frame.Data, bytes.Repeat([]byte{byte(i + 1)}, h*w*3)) {
			t.Errorf("camera %d slice contains foreign bytes", i)
		}
	}
}

func TestBatchReadEmptySystem(t *testing.T) {
	sys, err := NewSystem(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = sys.BatchRead(context.Background())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
}

func TestBatchReadFirstFailureWins(t *testing.T) {
	const n = 3
	cams := make([]*Camera, n)
	for i := range cams {
		dev := &fakeDevice{raw: make([]byte, 8*8*2)}
		conv := fakeConverter{marker: byte(i + 1)}
		if i == 1 {
			conv.intermediateErr = errors.New("corrupt frame")
		}
		cams[i] = startedCamera(t, dev, conv, 8, 8)
		defer cams[i].Stop()
	}
	sys, err := NewSystem(cams)
	if err != nil {
		t.Fatal(err)
	}

	set, err := sys.BatchRead(context.Background())
	if set != nil {
		t.Fatal("BatchRead returned a frame set despite a failed camera")
	}
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("error type = %T, want *BatchError", err)
	}
	if batchErr.Index != 1 {
		t.Errorf("failing index = %d, want 1", batchErr.Index)
	}
	if batchErr.Outcome != OutcomeConvertIntermediateFailed {
		t.Errorf("outcome = %s, want %s", batchErr.Outcome, OutcomeConvertIntermediateFailed)
	}
}

func TestBatchReadReportsDequeueOutcome(t *testing.T) {
	cams := make([]*Camera, 2)
	devs := make([]*fakeDevice, 2)
	for i := range cams {
		devs[i] = &fakeDevice{raw: make([]byte, 8*8*2)}
		if i == 0 {
			devs[i].dequeueErr = errors.New("EIO")
		}
		cams[i] = startedCamera(t, devs[i], fakeConverter{marker: 1}, 8, 8)
		defer cams[i].Stop()
	}
	sys, err := NewSystem(cams)
	if err != nil {
		t.Fatal(err)
	}

	_, err = sys.BatchRead(context.Background())
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("error type = %T, want *BatchError", err)
	}
	if batchErr.Index != 0 || batchErr.Outcome != OutcomeDequeueFailed {
		t.Errorf("got index %d outcome %s, want index 0 %s",
			batchErr.Index, batchErr.Outcome, OutcomeDequeueFailed)
	}
}

func TestBatchReadJoinsEveryWorker(t *testing.T) {
	// One camera fails fast while another is deliberately slow; the
	// error must not surface until the slow worker has finished its
	// cycle too.
	fast := &fakeDevice{dequeueErr: errors.New("EIO")}
	slow := &fakeDevice{raw: make([]byte, 8*8*2), delay: 50 * time.Millisecond}

	cams := []*Camera{
		startedCamera(t, fast, fakeConverter{}, 8, 8),
		startedCamera(t, slow, fakeConverter{marker: 2}, 8, 8),
	}
	defer cams[0].Stop()
	defer cams[1].Stop()

	sys, err := NewSystem(cams)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = sys.BatchRead(context.Background())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("BatchRead succeeded despite a failed camera")
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("BatchRead returned after %v, before the slow worker finished", elapsed)
	}
	if slow.requeues.Load() != 1 {
		t.Error("slow worker did not complete its cycle before the call returned")
	}
}

func TestNewSystemRejectsMixedSizes(t *testing.T) {
	a := startedCamera(t, &fakeDevice{raw: make([]byte, 8*8*2)}, fakeConverter{}, 8, 8)
	b := startedCamera(t, &fakeDevice{raw: make([]byte, 16*8*2)}, fakeConverter{}, 16, 8)
	defer a.Stop()
	defer b.Stop()

	_, err := NewSystem([]*Camera{a, b})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
}

func TestBatchReadSingleCheckoutPerDevice(t *testing.T) {
	dev := &fakeDevice{raw: make([]byte, 8*8*2)}
	cam := startedCamera(t, dev, fakeConverter{marker: 1}, 8, 8)
	defer cam.Stop()
	sys, err := NewSystem([]*Camera{cam})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if _, err := sys.BatchRead(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if max := dev.maxInflight.Load(); max > 1 {
		t.Errorf("device had %d buffers checked out at once, want at most 1", max)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dev := &fakeDevice{raw: make([]byte, 8*8*2)}
	cam := startedCamera(t, dev, fakeConverter{}, 8, 8)

	if err := cam.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := cam.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if !dev.stopped.Load() || !dev.closed.Load() {
		t.Error("Stop did not stop and close the device")
	}
	if _, err := cam.Read(context.Background()); err == nil {
		t.Error("Read succeeded on a stopped camera")
	}
}

func TestOutcomeStrings(t *testing.T) {
	outcomes := []Outcome{
		OutcomeSuccess, OutcomeDequeueFailed, OutcomeConvertIntermediateFailed,
		OutcomeRequeueFailed, OutcomeConvertOutputFailed,
	}
	seen := map[string]bool{}
	for _, o := range outcomes {
		s := o.String()
		if s == "" || s == "unknown outcome" || seen[s] {
			t.Errorf("Outcome(%d).String() = %q", int(o), s)
		}
		seen[s] = true
	}
}

func TestBatchErrorMessage(t *testing.T) {
	err := &BatchError{Index: 2, Outcome: OutcomeRequeueFailed, Err: errors.New("EIO")}
	want := fmt.Sprintf("failed to read frame from camera 2: %s: EIO", OutcomeRequeueFailed)
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
