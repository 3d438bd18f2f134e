// Package testutil provides a scriptable in-memory device backend for
// exercising the conversion engine without hardware. Tests inject per-queue
// failures, observe every call the engine makes and drive synthetic
// completion notifications.
package testutil

import (
	"log/slog"
	"sync"

	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
	"github.com/makewise-vision/libcamera-raspberrypi/device"
	"github.com/makewise-vision/libcamera-raspberrypi/errors"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
)

// OpLog records streaming operations across several fake devices so tests
// can assert cross-device ordering (e.g. reverse-order shutdown).
type OpLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *OpLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

// Ops returns a copy of the recorded operations in order.
func (l *OpLog) Ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

// Device is a fake conversion unit implementing device.Handle.
//
// The zero value behaves as a well-functioning device that accepts every
// format as requested. Error fields, when set, make the corresponding
// operation fail. Completions are driven explicitly via Complete.
type Device struct {
	Node string

	// Failure injection
	OpenErr      error
	NegotiateErr map[device.Queue]error
	TryErr       map[device.Queue]error
	ImportErr    map[device.Queue]error
	ExportErr    map[device.Queue]error
	StreamOnErr  map[device.Queue]error
	SubmitErr    map[device.Queue]error

	// NegotiateAdjust, when set, mutates the format the way real hardware
	// would before NegotiateFormat returns, letting tests simulate a
	// device that accepts something other than what was requested.
	NegotiateAdjust func(q device.Queue, f *format.DeviceFormat)

	// Formats returned by EnumFormats per queue.
	Supported map[device.Queue][]format.PixelFormat

	// Log, when set, receives "<name>:<op>:<queue>" entries for stream
	// on/off operations, shared across devices.
	Log     *OpLog
	LogName string

	// Observed state
	Opened     bool
	Closed     bool
	Negotiated map[device.Queue][]format.DeviceFormat
	Imported   map[device.Queue]int
	Released   map[device.Queue]int
	Streaming  map[device.Queue]bool
	StreamOps  []string
	Submitted  map[device.Queue][]*buffer.FrameBuffer

	handler device.CompletionHandler
}

var _ device.Handle = (*Device)(nil)

// NewDevice creates a fake device for the given node.
func NewDevice(node string) *Device {
	return &Device{
		Node:       node,
		Negotiated: make(map[device.Queue][]format.DeviceFormat),
		Imported:   make(map[device.Queue]int),
		Released:   make(map[device.Queue]int),
		Streaming:  make(map[device.Queue]bool),
		Submitted:  make(map[device.Queue][]*buffer.FrameBuffer),
	}
}

// Open implements device.Handle.
func (d *Device) Open() error {
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.Opened = true
	return nil
}

// Close implements device.Handle.
func (d *Device) Close() {
	d.Closed = true
}

// NegotiateFormat implements device.Handle.
func (d *Device) NegotiateFormat(q device.Queue, f *format.DeviceFormat) error {
	if err := d.NegotiateErr[q]; err != nil {
		return err
	}
	if d.NegotiateAdjust != nil {
		d.NegotiateAdjust(q, f)
	}
	d.Negotiated[q] = append(d.Negotiated[q], *f)
	return nil
}

// TryFormat implements device.Handle.
func (d *Device) TryFormat(q device.Queue, f *format.DeviceFormat) error {
	if err := d.TryErr[q]; err != nil {
		return err
	}
	if d.NegotiateAdjust != nil {
		d.NegotiateAdjust(q, f)
	}
	return nil
}

// EnumFormats implements device.Handle.
func (d *Device) EnumFormats(q device.Queue) []format.PixelFormat {
	return d.Supported[q]
}

// ImportBuffers implements device.Handle.
func (d *Device) ImportBuffers(q device.Queue, count int) error {
	if err := d.ImportErr[q]; err != nil {
		return err
	}
	d.Imported[q] = count
	return nil
}

// ExportBuffers implements device.Handle.
func (d *Device) ExportBuffers(q device.Queue, count int) ([]*buffer.FrameBuffer, error) {
	if err := d.ExportErr[q]; err != nil {
		return nil, err
	}
	bufs := make([]*buffer.FrameBuffer, count)
	for i := range bufs {
		bufs[i] = buffer.New(buffer.Plane{FD: -1, Length: 4096})
	}
	return bufs, nil
}

// ReleaseBuffers implements device.Handle.
func (d *Device) ReleaseBuffers(q device.Queue) error {
	d.Released[q]++
	d.Imported[q] = 0
	return nil
}

// StreamOn implements device.Handle.
func (d *Device) StreamOn(q device.Queue) error {
	if err := d.StreamOnErr[q]; err != nil {
		return err
	}
	d.Streaming[q] = true
	d.StreamOps = append(d.StreamOps, "on:"+q.String())
	if d.Log != nil {
		d.Log.add(d.LogName + ":on:" + q.String())
	}
	return nil
}

// StreamOff implements device.Handle.
func (d *Device) StreamOff(q device.Queue) error {
	d.Streaming[q] = false
	d.StreamOps = append(d.StreamOps, "off:"+q.String())
	if d.Log != nil {
		d.Log.add(d.LogName + ":off:" + q.String())
	}
	return nil
}

// Submit implements device.Handle.
func (d *Device) Submit(q device.Queue, b *buffer.FrameBuffer) error {
	if err := d.SubmitErr[q]; err != nil {
		return err
	}
	if !d.Streaming[q] {
		return errors.ErrNotStarted
	}
	d.Submitted[q] = append(d.Submitted[q], b)
	return nil
}

// SetCompletionHandler implements device.Handle.
func (d *Device) SetCompletionHandler(h device.CompletionHandler) {
	d.handler = h
}

// Complete delivers a synthetic completion notification for b on queue q.
// Tests call this from the engine's dispatch context (or directly in
// single-threaded tests) to drive the completion protocol.
func (d *Device) Complete(q device.Queue, b *buffer.FrameBuffer) {
	if d.handler != nil {
		d.handler(q, b)
	}
}

// DevicePool hands out fake devices through a device.Factory, one per
// factory invocation, and retains them for inspection. The engine opens one
// device per configured stream, so Devices[i] is stream i's device.
type DevicePool struct {
	mu      sync.Mutex
	Devices []*Device

	// Setup, when set, customises each device before it is returned,
	// keyed by creation index.
	Setup func(index int, d *Device)
}

// Factory returns a device.Factory backed by the pool.
func (p *DevicePool) Factory() device.Factory {
	return func(node string, _ *slog.Logger) (device.Handle, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		d := NewDevice(node)
		if p.Setup != nil {
			p.Setup(len(p.Devices), d)
		}
		p.Devices = append(p.Devices, d)
		return d, nil
	}
}
