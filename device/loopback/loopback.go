// Package loopback implements a software conversion backend with no hardware
// behind it. Every input buffer submitted is paired with the next output
// buffer on the same handle and both complete immediately with success.
//
// It exists so the full pipeline can run on machines without a
// memory-to-memory conversion unit: development boxes, CI, soak tests.
package loopback

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
	"github.com/makewise-vision/libcamera-raspberrypi/device"
	"github.com/makewise-vision/libcamera-raspberrypi/errors"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
)

// Name is the registry identifier of the backend.
const Name = "loopback"

// strideAlign mirrors the row alignment real conversion hardware imposes.
const strideAlign = 64

// Register adds the loopback backend to a device registry.
func Register(reg *device.Registry) error {
	return reg.Register(&device.Registration{
		Name:        Name,
		Description: "software pass-through converter (no hardware)",
		Compatibles: []string{"loopback"},
		Factory:     New,
	})
}

// queueState tracks one side of the simulated conversion unit.
type queueState struct {
	negotiated format.DeviceFormat
	buffers    int
	streaming  bool
	submitted  []*buffer.FrameBuffer
}

// Device simulates a memory-to-memory conversion unit. It accepts any pixel
// format on either queue and completes submitted buffers in FIFO order as
// soon as both queues hold one.
//
// Completions are delivered from inside Submit; callers needing the engine's
// serialization contract wrap the handle with device.Dispatched.
type Device struct {
	node   string
	logger *slog.Logger

	opened  bool
	queues  map[device.Queue]*queueState
	handler device.CompletionHandler
	seq     uint32
}

// New creates an unopened loopback handle. It satisfies device.Factory.
func New(node string, logger *slog.Logger) (device.Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		node:   node,
		logger: logger.With("component", "loopback", "node", node),
		queues: map[device.Queue]*queueState{
			device.InputQueue:  {},
			device.OutputQueue: {},
		},
	}, nil
}

// Open marks the device ready. The loopback backend has nothing to probe.
func (d *Device) Open() error {
	if d.opened {
		return errors.WrapProtocol(
			fmt.Errorf("device %s already open", d.node),
			"Loopback", "Open", "state check")
	}
	d.opened = true
	d.logger.Debug("Loopback device opened")
	return nil
}

// Close releases the device.
func (d *Device) Close() {
	d.opened = false
	for _, qs := range d.queues {
		qs.streaming = false
		qs.submitted = nil
		qs.buffers = 0
	}
}

// NegotiateFormat accepts the requested format and fills in the geometry the
// simulated hardware would choose: an aligned stride and the resulting plane
// size.
func (d *Device) NegotiateFormat(q device.Queue, f *format.DeviceFormat) error {
	if err := d.adjust(f); err != nil {
		return err
	}
	d.queues[q].negotiated = *f
	return nil
}

// TryFormat is NegotiateFormat without touching device state.
func (d *Device) TryFormat(_ device.Queue, f *format.DeviceFormat) error {
	return d.adjust(f)
}

func (d *Device) adjust(f *format.DeviceFormat) error {
	if !d.opened {
		return errors.WrapDevice(errors.ErrDeviceClosed,
			"Loopback", "NegotiateFormat", "state check")
	}
	if !f.Fourcc.IsValid() || f.Size.Width <= 0 || f.Size.Height <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Loopback", "NegotiateFormat", "format validation")
	}

	if f.Stride == 0 {
		f.Stride = (f.Size.Width + strideAlign - 1) / strideAlign * strideAlign
	}
	f.PlaneSize = f.Stride * f.Size.Height
	return nil
}

// EnumFormats lists the formats the queue can carry; a pass-through device
// carries anything, so this is the set of well-known formats.
func (d *Device) EnumFormats(device.Queue) []format.PixelFormat {
	return []format.PixelFormat{
		format.YUYV, format.NV12, format.NV21, format.I420,
		format.RGB24, format.BGR24, format.RGB565,
	}
}

// ImportBuffers prepares the queue for count caller-owned buffers.
func (d *Device) ImportBuffers(q device.Queue, count int) error {
	if count <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Loopback", "ImportBuffers", "count validation")
	}
	d.queues[q].buffers = count
	return nil
}

// ExportBuffers fabricates count buffers sized for the negotiated format.
func (d *Device) ExportBuffers(q device.Queue, count int) ([]*buffer.FrameBuffer, error) {
	if count <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument,
			"Loopback", "ExportBuffers", "count validation")
	}

	qs := d.queues[q]
	out := make([]*buffer.FrameBuffer, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, buffer.New(buffer.Plane{
			FD:     -1,
			Length: qs.negotiated.PlaneSize,
		}))
	}
	qs.buffers = count
	return out, nil
}

// ReleaseBuffers drops the queue's buffers.
func (d *Device) ReleaseBuffers(q device.Queue) error {
	qs := d.queues[q]
	qs.buffers = 0
	qs.submitted = nil
	return nil
}

// StreamOn enables the queue.
func (d *Device) StreamOn(q device.Queue) error {
	if !d.opened {
		return errors.WrapDevice(errors.ErrDeviceClosed,
			"Loopback", "StreamOn", "state check")
	}
	d.queues[q].streaming = true
	return nil
}

// StreamOff disables the queue and cancels whatever it held. Cancelled
// buffers are not completed.
func (d *Device) StreamOff(q device.Queue) error {
	qs := d.queues[q]
	qs.streaming = false
	qs.submitted = nil
	return nil
}

// Submit enqueues a buffer and completes the oldest input/output pair if one
// is now available.
func (d *Device) Submit(q device.Queue, b *buffer.FrameBuffer) error {
	qs := d.queues[q]
	if !qs.streaming {
		return errors.WrapProtocol(errors.ErrNotStarted,
			"Loopback", "Submit", "streaming check")
	}
	if b == nil {
		return errors.WrapInvalid(errors.ErrNilBuffer,
			"Loopback", "Submit", "buffer check")
	}

	qs.submitted = append(qs.submitted, b)
	d.convert()
	return nil
}

// SetCompletionHandler registers the completion sink for both queues.
func (d *Device) SetCompletionHandler(h device.CompletionHandler) {
	d.handler = h
}

// convert completes queued input/output pairs in FIFO order.
func (d *Device) convert() {
	in := d.queues[device.InputQueue]
	out := d.queues[device.OutputQueue]

	for len(in.submitted) > 0 && len(out.submitted) > 0 {
		src := in.submitted[0]
		dst := out.submitted[0]
		in.submitted = in.submitted[1:]
		out.submitted = out.submitted[1:]

		d.seq++
		meta := buffer.Metadata{
			Sequence:  d.seq,
			Timestamp: time.Now(),
			Status:    buffer.StatusSuccess,
		}
		src.Metadata = meta
		dst.Metadata = meta

		if d.handler != nil {
			d.handler(device.InputQueue, src)
			d.handler(device.OutputQueue, dst)
		}
	}
}
