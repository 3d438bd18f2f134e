package converter

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
	"github.com/makewise-vision/libcamera-raspberrypi/device"
	"github.com/makewise-vision/libcamera-raspberrypi/errors"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
	"github.com/makewise-vision/libcamera-raspberrypi/metric"
)

// State represents the current lifecycle state of the converter
type State int

const (
	// StateUnconfigured indicates no streams are configured
	StateUnconfigured State = iota
	// StateConfigured indicates streams are configured but not streaming
	StateConfigured
	// StateStarted indicates all streams are streaming
	StateStarted
	// StateStopped indicates streams were stopped after running
	StateStopped
)

// String returns a string representation of the converter state
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps holds everything needed to construct a Converter.
type Deps struct {
	// Node is the device node all stream handles are opened on
	Node string
	// Factory creates device handles for the configured backend
	Factory device.Factory
	// Logger is the structured logger; defaults to slog.Default
	Logger *slog.Logger
	// Metrics is the optional metrics registry
	Metrics *metric.Registry
}

// Converter fans one input frame out to N independently-operating hardware
// conversion streams and consolidates their completions.
//
// All methods and both event callbacks execute on a single serialized
// dispatch context; see the package documentation for the threading
// contract.
type Converter struct {
	node    string
	factory device.Factory
	logger  *slog.Logger
	metrics *converterMetrics

	streams []*stream

	// pending maps an in-flight input buffer identity to the number of
	// per-stream completions still outstanding. Counts are strictly
	// positive; an entry is erased atomically with its count reaching
	// zero, which coincides with exactly one InputBufferDone emission.
	pending map[buffer.ID]int

	state State

	// InputBufferDone fires exactly once per queued input buffer, after
	// every stream that consumed it has finished with it.
	InputBufferDone func(b *buffer.FrameBuffer)

	// OutputBufferDone fires once per produced output buffer, with the
	// index of the stream that produced it. No ordering is guaranteed
	// between streams, nor relative to InputBufferDone.
	OutputBufferDone func(streamIndex int, b *buffer.FrameBuffer)
}

// New creates a converter for the given device node and backend factory.
func New(deps Deps) (*Converter, error) {
	if deps.Factory == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument,
			"Converter", "New", "factory validation")
	}
	if deps.Node == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument,
			"Converter", "New", "device node validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "converter", "node", deps.Node)

	metrics, err := newConverterMetrics(deps.Metrics)
	if err != nil {
		logger.Error("Failed to initialize converter metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	return &Converter{
		node:    deps.Node,
		factory: deps.Factory,
		logger:  logger,
		metrics: metrics,
		pending: make(map[buffer.ID]int),
		state:   StateUnconfigured,
	}, nil
}

// State returns the current lifecycle state.
func (c *Converter) State() State {
	return c.state
}

// StreamCount returns the number of configured output streams.
func (c *Converter) StreamCount() int {
	return len(c.streams)
}

// PendingConversions returns the number of input buffers currently tracked
// in the pending-conversion table.
func (c *Converter) PendingConversions() int {
	return len(c.pending)
}

// Configure discards any existing streams and builds one per output
// description, configuring each against the shared input description. On the
// first failure all streams constructed so far are torn down and the error
// is returned; no partially-configured state survives.
func (c *Converter) Configure(input format.StreamDescription, outputs []format.StreamDescription) error {
	if c.state == StateStarted {
		return errors.WrapProtocol(errors.ErrAlreadyStarted,
			"Converter", "Configure", "lifecycle check")
	}

	if err := input.Validate(); err != nil {
		return errors.Wrap(err, "Converter", "Configure", "input description validation")
	}
	if len(outputs) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Converter", "Configure", "output list validation")
	}
	for i, out := range outputs {
		if err := out.Validate(); err != nil {
			return errors.Wrap(err, "Converter", "Configure",
				fmt.Sprintf("output %d description validation", i))
		}
	}

	// Scoped construction: build the new stream set aside and only swap
	// it in once every stream has configured successfully.
	fresh := make([]*stream, 0, len(outputs))
	teardown := func() {
		for _, s := range fresh {
			s.close()
		}
	}

	for i, out := range outputs {
		s, err := newStream(c, i)
		if err != nil {
			c.logger.Error("Failed to create stream", "index", i, "error", err)
			teardown()
			return err
		}
		fresh = append(fresh, s)

		if err := s.configure(input, out); err != nil {
			teardown()
			return err
		}
	}

	for _, s := range c.streams {
		s.close()
	}
	c.streams = fresh
	c.pending = make(map[buffer.ID]int)
	c.state = StateConfigured
	c.metrics.setActiveStreams(len(fresh))

	c.logger.Info("Converter configured",
		"input", input.String(), "streams", len(fresh))

	return nil
}

// ExportBuffers allocates count destination buffers on the given stream.
func (c *Converter) ExportBuffers(output, count int) ([]*buffer.FrameBuffer, error) {
	if c.state == StateUnconfigured {
		return nil, errors.WrapProtocol(errors.ErrNotConfigured,
			"Converter", "ExportBuffers", "lifecycle check")
	}
	if output < 0 || output >= len(c.streams) {
		return nil, errors.WrapInvalid(errors.ErrStreamIndex,
			"Converter", "ExportBuffers", "stream index check")
	}

	return c.streams[output].exportBuffers(count)
}

// Start starts every stream in order. On the first failure every stream
// started so far is stopped again and the error is returned.
func (c *Converter) Start() error {
	switch c.state {
	case StateUnconfigured:
		return errors.WrapProtocol(errors.ErrNotConfigured,
			"Converter", "Start", "lifecycle check")
	case StateStarted:
		return errors.WrapProtocol(errors.ErrAlreadyStarted,
			"Converter", "Start", "lifecycle check")
	}

	for i, s := range c.streams {
		if err := s.start(); err != nil {
			c.logger.Error("Failed to start stream", "index", i, "error", err)
			// The failed stream has already self-stopped; unwind the
			// ones before it in reverse order.
			for k := i - 1; k >= 0; k-- {
				c.streams[k].stop()
			}
			return err
		}
	}

	c.state = StateStarted
	c.logger.Info("Converter started", "streams", len(c.streams))
	return nil
}

// Stop stops every stream in reverse order of start, so no stream is starved
// of buffers by one already stopped. Idempotent, and safe even if Start was
// never called or partially failed. Buffers still tracked in the pending
// table have indeterminate completion status afterwards.
func (c *Converter) Stop() {
	for i := len(c.streams) - 1; i >= 0; i-- {
		c.streams[i].stop()
	}

	if len(c.pending) > 0 {
		c.logger.Warn("Stopped with conversions in flight",
			"pending", len(c.pending))
	}

	if c.state == StateStarted {
		c.state = StateStopped
		c.logger.Info("Converter stopped")
	}
}

// QueueBuffers submits one input buffer to every configured stream, paired
// with that stream's designated destination from outputs (keyed by stream
// index). The outputs must cover every configured stream exactly once with
// distinct buffers. If a per-stream submission fails partway through, the
// error is returned and buffers already accepted by earlier streams remain
// submitted; the hardware owns that state once accepted.
func (c *Converter) QueueBuffers(input *buffer.FrameBuffer, outputs map[int]*buffer.FrameBuffer) error {
	if err := c.queueBuffers(input, outputs); err != nil {
		c.metrics.recordQueueError()
		return err
	}
	return nil
}

func (c *Converter) queueBuffers(input *buffer.FrameBuffer, outputs map[int]*buffer.FrameBuffer) error {
	if c.state != StateStarted {
		return errors.WrapProtocol(errors.ErrNotStarted,
			"Converter", "QueueBuffers", "lifecycle check")
	}
	if input == nil {
		return errors.WrapInvalid(errors.ErrNilBuffer,
			"Converter", "QueueBuffers", "input buffer check")
	}
	if len(outputs) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidArgument,
			"Converter", "QueueBuffers", "output map check")
	}

	// Validate the outputs: every entry must reference a configured
	// stream with a distinct, non-nil destination buffer.
	seen := make(map[buffer.ID]struct{}, len(outputs))
	indexes := make([]int, 0, len(outputs))
	for index, out := range outputs {
		if out == nil {
			return errors.WrapInvalid(errors.ErrNilBuffer,
				"Converter", "QueueBuffers",
				fmt.Sprintf("output buffer check for stream %d", index))
		}
		if index < 0 || index >= len(c.streams) {
			return errors.WrapInvalid(errors.ErrStreamIndex,
				"Converter", "QueueBuffers",
				fmt.Sprintf("stream index check for %d", index))
		}
		if _, dup := seen[out.ID()]; dup {
			return errors.WrapInvalid(errors.ErrBufferAliased,
				"Converter", "QueueBuffers", "output aliasing check")
		}
		seen[out.ID()] = struct{}{}
		indexes = append(indexes, index)
	}

	if len(seen) != len(c.streams) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: got %d output buffers for %d streams",
				errors.ErrInvalidArgument, len(seen), len(c.streams)),
			"Converter", "QueueBuffers", "output count check")
	}

	if _, exists := c.pending[input.ID()]; exists {
		return errors.WrapInvalid(errors.ErrBufferPending,
			"Converter", "QueueBuffers", "pending conversion check")
	}

	// Queue the input and output buffers to all the streams, in stream
	// index order.
	sort.Ints(indexes)
	for _, index := range indexes {
		if err := c.streams[index].queueBuffers(input, outputs[index]); err != nil {
			return err
		}
	}

	// Track the input with the number of streams as a reference count.
	// The stream releasing the last reference signals completion.
	c.pending[input.ID()] = len(outputs)
	c.metrics.recordQueued(len(c.pending))

	return nil
}

// inputBufferReady consolidates per-stream input-side completions. A buffer
// not present in the pending table is a stale notification, racing against
// table eviction, and is discarded.
func (c *Converter) inputBufferReady(streamIndex int, b *buffer.FrameBuffer) {
	remaining, ok := c.pending[b.ID()]
	if !ok {
		c.logger.Debug("Discarding stale input completion",
			"stream", streamIndex, "buffer", b.ID())
		c.metrics.recordStale()
		return
	}

	remaining--
	if remaining > 0 {
		c.pending[b.ID()] = remaining
		return
	}

	delete(c.pending, b.ID())
	c.metrics.recordConversionDone(len(c.pending))

	if c.InputBufferDone != nil {
		c.InputBufferDone(b)
	}
}

// outputBufferReady forwards per-stream output completions one-to-one;
// output buffers are per-stream by construction and never consolidated.
func (c *Converter) outputBufferReady(streamIndex int, b *buffer.FrameBuffer) {
	c.metrics.recordOutputDone()

	if c.OutputBufferDone != nil {
		c.OutputBufferDone(streamIndex, b)
	}
}

// Formats probes which pixel formats the device can produce when fed the
// given input format, by negotiating the input side and enumerating the
// output side on a throwaway handle.
func (c *Converter) Formats(input format.PixelFormat) []format.PixelFormat {
	handle, err := c.openProbe()
	if err != nil {
		return nil
	}
	defer handle.Close()

	df := format.DeviceFormat{
		Fourcc: input,
		Size:   format.Size{Width: 1, Height: 1},
	}
	if err := handle.NegotiateFormat(device.InputQueue, &df); err != nil {
		c.logger.Error("Failed to set format", "error", err)
		return nil
	}
	if df.Fourcc != input {
		c.logger.Debug("Input format not supported", "format", input)
		return nil
	}

	return handle.EnumFormats(device.OutputQueue)
}

// Sizes probes the scaling range the device supports for the given input
// size by negotiating the extremes on the output side.
func (c *Converter) Sizes(input format.Size) (format.SizeRange, error) {
	handle, err := c.openProbe()
	if err != nil {
		return format.SizeRange{}, err
	}
	defer handle.Close()

	df := format.DeviceFormat{Size: input}
	if err := handle.NegotiateFormat(device.InputQueue, &df); err != nil {
		return format.SizeRange{}, errors.WrapDevice(err,
			"Converter", "Sizes", "input size negotiation")
	}

	var sizes format.SizeRange

	df.Size = format.Size{Width: 1, Height: 1}
	if err := handle.NegotiateFormat(device.OutputQueue, &df); err != nil {
		return format.SizeRange{}, errors.WrapDevice(err,
			"Converter", "Sizes", "minimum size negotiation")
	}
	sizes.Min = df.Size

	df.Size = format.Size{Width: math.MaxInt32, Height: math.MaxInt32}
	if err := handle.NegotiateFormat(device.OutputQueue, &df); err != nil {
		return format.SizeRange{}, errors.WrapDevice(err,
			"Converter", "Sizes", "maximum size negotiation")
	}
	sizes.Max = df.Size

	return sizes, nil
}

// StrideAndFrameSize asks the device what stride and plane size it would use
// for the given output format, without committing to it.
func (c *Converter) StrideAndFrameSize(pf format.PixelFormat, size format.Size) (int, int, error) {
	handle, err := c.openProbe()
	if err != nil {
		return 0, 0, err
	}
	defer handle.Close()

	df := format.DeviceFormat{Fourcc: pf, Size: size}
	if err := handle.TryFormat(device.OutputQueue, &df); err != nil {
		return 0, 0, errors.WrapDevice(err,
			"Converter", "StrideAndFrameSize", "format trial")
	}

	return df.Stride, df.PlaneSize, nil
}

// openProbe opens a short-lived handle for capability queries.
func (c *Converter) openProbe() (device.Handle, error) {
	handle, err := c.factory(c.node, c.logger)
	if err != nil {
		return nil, errors.WrapDevice(err, "Converter", "openProbe", "device creation")
	}
	if err := handle.Open(); err != nil {
		handle.Close()
		return nil, errors.WrapDevice(err, "Converter", "openProbe", "device open")
	}
	return handle, nil
}
