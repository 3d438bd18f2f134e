package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
	"github.com/makewise-vision/libcamera-raspberrypi/converter"
	"github.com/makewise-vision/libcamera-raspberrypi/dispatch"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
)

// framePump drives the conversion engine with synthetic input frames when no
// capture source is attached, which is the normal mode for the loopback
// backend. One frame is in flight at a time; the next is queued one interval
// after the previous one fully completes.
//
// All methods except start run on the engine's dispatch loop.
type framePump struct {
	loop     *dispatch.Loop
	conv     *converter.Converter
	logger   *slog.Logger
	interval time.Duration

	inputs  []*buffer.FrameBuffer
	outputs [][]*buffer.FrameBuffer
	depth   int
	slot    int

	outstanding int
	inputDone   bool
	stopped     bool

	framesQueued uint64
}

// newFramePump allocates the buffer pools. Must run on the dispatch loop,
// after the converter is configured and before it starts.
func newFramePump(
	loop *dispatch.Loop,
	conv *converter.Converter,
	input format.StreamDescription,
	outputs []format.StreamDescription,
	interval time.Duration,
	logger *slog.Logger,
) (*framePump, error) {
	p := &framePump{
		loop:     loop,
		conv:     conv,
		logger:   logger.With("component", "pump"),
		interval: interval,
		depth:    input.BufferCount,
	}

	planeSize := input.Stride * input.Size.Height
	for i := 0; i < input.BufferCount; i++ {
		p.inputs = append(p.inputs, buffer.New(buffer.Plane{FD: -1, Length: planeSize}))
	}

	for i, desc := range outputs {
		bufs, err := conv.ExportBuffers(i, desc.BufferCount)
		if err != nil {
			return nil, fmt.Errorf("export buffers for stream %d: %w", i, err)
		}
		p.outputs = append(p.outputs, bufs)
		if desc.BufferCount < p.depth {
			p.depth = desc.BufferCount
		}
	}

	return p, nil
}

// start queues the first frame. Safe to call from any goroutine.
func (p *framePump) start() {
	_ = p.loop.Post(p.queueNext)
}

// stop prevents further frames from being queued. In-flight completions
// still drain through the engine.
func (p *framePump) stop() {
	p.stopped = true
}

func (p *framePump) frames() uint64 {
	return p.framesQueued
}

func (p *framePump) queueNext() {
	if p.stopped {
		return
	}

	slot := p.slot % p.depth
	p.slot++

	input := p.inputs[slot]
	outs := make(map[int]*buffer.FrameBuffer, len(p.outputs))
	for i := range p.outputs {
		outs[i] = p.outputs[i][slot]
	}

	if err := p.conv.QueueBuffers(input, outs); err != nil {
		p.logger.Error("Failed to queue frame", "error", err)
		p.stopped = true
		return
	}

	p.framesQueued++
	p.outstanding = len(outs)
	p.inputDone = false
}

// onInputDone is wired into the converter's InputBufferDone callback.
func (p *framePump) onInputDone(*buffer.FrameBuffer) {
	p.inputDone = true
	p.maybeSchedule()
}

// onOutputDone is wired into the converter's OutputBufferDone callback.
func (p *framePump) onOutputDone(int, *buffer.FrameBuffer) {
	p.outstanding--
	p.maybeSchedule()
}

func (p *framePump) maybeSchedule() {
	if p.stopped || !p.inputDone || p.outstanding > 0 {
		return
	}

	time.AfterFunc(p.interval, func() {
		_ = p.loop.Post(p.queueNext)
	})
}
