// Package device defines the capability interface for hardware conversion
// units and the registry used to select a backend for a device class.
//
// A conversion unit exposes two independent queues: the input queue consumes
// source frames, the output queue produces converted frames. Actual hardware
// access (ioctls, buffer import/export) lives in backend implementations
// registered with a Registry; the engine only depends on the Handle interface.
package device

import (
	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
)

// Queue selects one of the two independent queues of a conversion unit.
type Queue int

const (
	// InputQueue is the side of the device that consumes source frames
	InputQueue Queue = iota
	// OutputQueue is the side of the device that produces converted frames
	OutputQueue
)

// String returns the string representation of Queue
func (q Queue) String() string {
	switch q {
	case InputQueue:
		return "input"
	case OutputQueue:
		return "output"
	default:
		return "unknown"
	}
}

// CompletionHandler receives asynchronous buffer completions from a device.
//
// The device layer must invoke the handler on the same serialized dispatch
// context the engine's methods run on. The engine performs no locking of its
// own and relies entirely on this contract.
type CompletionHandler func(q Queue, b *buffer.FrameBuffer)

// Handle represents one open hardware conversion unit.
//
// All methods are synchronous: they either take effect immediately or fail
// immediately. The long-running conversion itself happens asynchronously and
// is observed only through the completion handler.
type Handle interface {
	// Open prepares the device for use. It must be called before any
	// other operation.
	Open() error

	// Close releases the device. The handle is unusable afterwards.
	Close()

	// NegotiateFormat asks the device to apply f on the given queue and
	// updates f in place to reflect what the hardware actually accepted.
	// Callers must compare the result against the request; divergence is
	// not an error at this layer.
	NegotiateFormat(q Queue, f *format.DeviceFormat) error

	// TryFormat is NegotiateFormat without side effects on the device
	// state, used for capability probing.
	TryFormat(q Queue, f *format.DeviceFormat) error

	// EnumFormats lists the pixel formats the given queue can currently
	// produce or consume.
	EnumFormats(q Queue) []format.PixelFormat

	// ImportBuffers prepares the queue to accept count caller-provided
	// buffers.
	ImportBuffers(q Queue, count int) error

	// ExportBuffers allocates count buffers on the queue and returns
	// handles the caller may use as destinations.
	ExportBuffers(q Queue, count int) ([]*buffer.FrameBuffer, error)

	// ReleaseBuffers drops all imported or exported buffers on the queue.
	ReleaseBuffers(q Queue) error

	// StreamOn enables streaming on the queue.
	StreamOn(q Queue) error

	// StreamOff disables streaming on the queue and cancels in-flight
	// buffers. Completions for cancelled buffers are not guaranteed to
	// be delivered.
	StreamOff(q Queue) error

	// Submit hands a buffer to the queue for processing.
	Submit(q Queue, b *buffer.FrameBuffer) error

	// SetCompletionHandler registers the handler receiving buffer
	// completions for both queues. Must be called before StreamOn.
	SetCompletionHandler(h CompletionHandler)
}
