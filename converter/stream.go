package converter

import (
	"fmt"
	"log/slog"

	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
	"github.com/makewise-vision/libcamera-raspberrypi/device"
	"github.com/makewise-vision/libcamera-raspberrypi/errors"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
)

// stream manages one output channel's conversion unit across its full
// lifecycle. Identity is the index in the converter's output list; a stream
// is destroyed and recreated on reconfiguration, never mutated in place.
type stream struct {
	conv   *Converter
	index  int
	handle device.Handle
	logger *slog.Logger

	inputBufferCount  int
	outputBufferCount int
	configured        bool
	started           bool
}

// newStream opens a fresh device handle for one output channel and wires its
// completions back into the converter.
func newStream(conv *Converter, index int) (*stream, error) {
	logger := conv.logger.With("stream", fmt.Sprintf("stream%d", index))

	handle, err := conv.factory(conv.node, logger)
	if err != nil {
		return nil, errors.WrapDevice(err, "Stream", "newStream", "device creation")
	}

	s := &stream{
		conv:   conv,
		index:  index,
		handle: handle,
		logger: logger,
	}

	handle.SetCompletionHandler(s.bufferReady)

	if err := handle.Open(); err != nil {
		handle.Close()
		return nil, errors.WrapDevice(err, "Stream", "newStream", "device open")
	}

	return s, nil
}

// configure negotiates the input format on the device's input queue and the
// output format on its output queue, verifying in each case that the device
// accepted exactly what was requested. Fails fast on the first mismatch.
func (s *stream) configure(inputDesc, outputDesc format.StreamDescription) error {
	in := format.DeviceFormat{
		Fourcc: inputDesc.PixelFormat,
		Size:   inputDesc.Size,
		Stride: inputDesc.Stride,
	}
	if err := s.handle.NegotiateFormat(device.InputQueue, &in); err != nil {
		s.logger.Error("Failed to set input format", "error", err)
		return errors.WrapDevice(err, "Stream", "configure", "input format negotiation")
	}

	if in.Fourcc != inputDesc.PixelFormat || in.Size != inputDesc.Size ||
		in.Stride != inputDesc.Stride {
		s.logger.Error("Input format not supported",
			"requested", inputDesc.String(), "got", in.String())
		return errors.WrapUnsupported(errors.ErrFormatUnsupported,
			"Stream", "configure", "input format verification")
	}

	out := format.DeviceFormat{
		Fourcc: outputDesc.PixelFormat,
		Size:   outputDesc.Size,
	}
	if err := s.handle.NegotiateFormat(device.OutputQueue, &out); err != nil {
		s.logger.Error("Failed to set output format", "error", err)
		return errors.WrapDevice(err, "Stream", "configure", "output format negotiation")
	}

	if out.Fourcc != outputDesc.PixelFormat || out.Size != outputDesc.Size {
		s.logger.Error("Output format not supported",
			"requested", outputDesc.String(), "got", out.String())
		return errors.WrapUnsupported(errors.ErrFormatUnsupported,
			"Stream", "configure", "output format verification")
	}

	s.inputBufferCount = inputDesc.BufferCount
	s.outputBufferCount = outputDesc.BufferCount
	s.configured = true

	return nil
}

// exportBuffers allocates destination buffers on the device's output queue.
func (s *stream) exportBuffers(count int) ([]*buffer.FrameBuffer, error) {
	if !s.configured {
		return nil, errors.WrapProtocol(errors.ErrNotConfigured,
			"Stream", "exportBuffers", "configuration check")
	}

	bufs, err := s.handle.ExportBuffers(device.OutputQueue, count)
	if err != nil {
		return nil, errors.WrapDevice(err, "Stream", "exportBuffers", "buffer export")
	}
	return bufs, nil
}

// start imports the buffer counts recorded at configuration time and enables
// streaming on both queues, input side first. Any failure triggers stop();
// partial activation is never left in place.
func (s *stream) start() error {
	if err := s.handle.ImportBuffers(device.InputQueue, s.inputBufferCount); err != nil {
		s.stop()
		return errors.WrapDevice(err, "Stream", "start", "input buffer import")
	}

	if err := s.handle.ImportBuffers(device.OutputQueue, s.outputBufferCount); err != nil {
		s.stop()
		return errors.WrapDevice(err, "Stream", "start", "output buffer import")
	}

	if err := s.handle.StreamOn(device.InputQueue); err != nil {
		s.stop()
		return errors.WrapDevice(err, "Stream", "start", "input stream on")
	}

	if err := s.handle.StreamOn(device.OutputQueue); err != nil {
		s.stop()
		return errors.WrapDevice(err, "Stream", "start", "output stream on")
	}

	s.started = true
	return nil
}

// stop disables streaming on both queues and releases imported buffers.
// Idempotent: safe on a stream that never fully started.
func (s *stream) stop() {
	if err := s.handle.StreamOff(device.OutputQueue); err != nil {
		s.logger.Warn("Output stream off failed", "error", err)
	}
	if err := s.handle.StreamOff(device.InputQueue); err != nil {
		s.logger.Warn("Input stream off failed", "error", err)
	}
	if err := s.handle.ReleaseBuffers(device.OutputQueue); err != nil {
		s.logger.Warn("Output buffer release failed", "error", err)
	}
	if err := s.handle.ReleaseBuffers(device.InputQueue); err != nil {
		s.logger.Warn("Input buffer release failed", "error", err)
	}
	s.started = false
}

// close stops the stream and releases its device handle.
func (s *stream) close() {
	s.stop()
	s.handle.Close()
}

// queueBuffers submits the input buffer to the device's input queue and the
// destination to its output queue. If the input submission fails the output
// is not submitted; a single stream never ends up half-queued.
func (s *stream) queueBuffers(input, output *buffer.FrameBuffer) error {
	if err := s.handle.Submit(device.InputQueue, input); err != nil {
		return errors.WrapDevice(err, "Stream", "queueBuffers", "input submit")
	}

	if err := s.handle.Submit(device.OutputQueue, output); err != nil {
		return errors.WrapDevice(err, "Stream", "queueBuffers", "output submit")
	}

	return nil
}

// bufferReady receives completion notifications from the device handle.
// Runs on the converter's dispatch context.
func (s *stream) bufferReady(q device.Queue, b *buffer.FrameBuffer) {
	switch q {
	case device.InputQueue:
		s.conv.inputBufferReady(s.index, b)
	case device.OutputQueue:
		s.conv.outputBufferReady(s.index, b)
	}
}
