// Package buffer provides the opaque frame buffer handle exchanged between
// the application, the conversion engine and the device layer.
//
// A FrameBuffer is owned by the caller for its whole lifetime. The engine
// borrows it between queue and completion and uses it purely as an identity
// key: it never reads or mutates the underlying memory. Identity is a
// process-unique token assigned at creation, so two distinct buffers never
// compare equal even if they describe the same memory.
package buffer

import (
	"sync/atomic"
	"time"
)

// ID is the opaque identity token of a frame buffer. It is the only thing
// the conversion engine keys bookkeeping on.
type ID uint64

var nextID atomic.Uint64

// Plane describes one memory plane of a frame buffer.
type Plane struct {
	// FD is the file descriptor backing the plane, or -1 when the plane
	// is not dmabuf backed (synthetic buffers in tests).
	FD int
	// Offset is the start of the plane within the backing memory.
	Offset int
	// Length is the plane size in bytes.
	Length int
}

// Status describes how the device finished with a buffer.
type Status int

const (
	// StatusSuccess indicates the buffer was processed without error
	StatusSuccess Status = iota
	// StatusError indicates the device reported a processing error
	StatusError
	// StatusCancelled indicates streaming stopped before the buffer completed
	StatusCancelled
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Metadata carries per-completion information filled in by the device layer
// when a buffer is handed back.
type Metadata struct {
	Sequence  uint32
	Timestamp time.Time
	Status    Status
}

// FrameBuffer is an opaque handle to device-accessible memory.
type FrameBuffer struct {
	id     ID
	planes []Plane

	// Metadata is updated by the device layer on completion. It is only
	// meaningful between a completion notification and the next submit.
	Metadata Metadata
}

// New creates a frame buffer handle with a fresh identity token.
func New(planes ...Plane) *FrameBuffer {
	return &FrameBuffer{
		id:     ID(nextID.Add(1)),
		planes: planes,
	}
}

// ID returns the identity token of the buffer.
func (b *FrameBuffer) ID() ID {
	return b.id
}

// Planes returns the memory planes of the buffer.
func (b *FrameBuffer) Planes() []Plane {
	return b.planes
}
