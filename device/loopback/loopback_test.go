package loopback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makewise-vision/libcamera-raspberrypi/buffer"
	"github.com/makewise-vision/libcamera-raspberrypi/device"
	"github.com/makewise-vision/libcamera-raspberrypi/errors"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
)

func newOpenDevice(t *testing.T) *Device {
	t.Helper()
	h, err := New("loopback0", nil)
	require.NoError(t, err)
	require.NoError(t, h.Open())
	t.Cleanup(h.Close)
	return h.(*Device)
}

func startStreaming(t *testing.T, d *Device) {
	t.Helper()
	require.NoError(t, d.StreamOn(device.InputQueue))
	require.NoError(t, d.StreamOn(device.OutputQueue))
}

func TestRegister(t *testing.T) {
	reg := device.NewRegistry()
	require.NoError(t, Register(reg))

	registration, err := reg.Get(Name)
	require.NoError(t, err)
	assert.NotNil(t, registration.Factory)

	_, ok := reg.Match("loopback")
	assert.True(t, ok)
}

func TestOpenTwiceRejected(t *testing.T) {
	d := newOpenDevice(t)
	err := d.Open()
	require.Error(t, err)
	assert.True(t, errors.IsProtocol(err))
}

func TestNegotiateFillsGeometry(t *testing.T) {
	d := newOpenDevice(t)

	f := format.DeviceFormat{Fourcc: format.NV12, Size: format.Size{Width: 1280, Height: 720}}
	require.NoError(t, d.NegotiateFormat(device.OutputQueue, &f))

	assert.Equal(t, 1280, f.Stride)
	assert.Equal(t, 1280*720, f.PlaneSize)
}

func TestNegotiateAlignsStride(t *testing.T) {
	d := newOpenDevice(t)

	f := format.DeviceFormat{Fourcc: format.NV12, Size: format.Size{Width: 1000, Height: 500}}
	require.NoError(t, d.NegotiateFormat(device.InputQueue, &f))

	assert.Equal(t, 1024, f.Stride)
	assert.Equal(t, 1024*500, f.PlaneSize)
}

func TestNegotiateKeepsRequestedStride(t *testing.T) {
	d := newOpenDevice(t)

	f := format.DeviceFormat{
		Fourcc: format.YUYV,
		Size:   format.Size{Width: 640, Height: 480},
		Stride: 1280,
	}
	require.NoError(t, d.NegotiateFormat(device.InputQueue, &f))
	assert.Equal(t, 1280, f.Stride)
}

func TestNegotiateRejectsInvalidFormat(t *testing.T) {
	d := newOpenDevice(t)

	f := format.DeviceFormat{Size: format.Size{Width: 640, Height: 480}}
	err := d.NegotiateFormat(device.InputQueue, &f)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNegotiateClosedDevice(t *testing.T) {
	h, err := New("loopback0", nil)
	require.NoError(t, err)

	f := format.DeviceFormat{Fourcc: format.NV12, Size: format.Size{Width: 64, Height: 64}}
	err = h.NegotiateFormat(device.InputQueue, &f)
	require.Error(t, err)
	assert.True(t, errors.IsDevice(err))
}

func TestExportBuffersSizedFromNegotiation(t *testing.T) {
	d := newOpenDevice(t)

	f := format.DeviceFormat{Fourcc: format.NV12, Size: format.Size{Width: 128, Height: 64}}
	require.NoError(t, d.NegotiateFormat(device.OutputQueue, &f))

	bufs, err := d.ExportBuffers(device.OutputQueue, 3)
	require.NoError(t, err)
	require.Len(t, bufs, 3)
	assert.Equal(t, f.PlaneSize, bufs[0].Planes()[0].Length)
	assert.NotEqual(t, bufs[0].ID(), bufs[1].ID())
}

func TestSubmitRequiresStreaming(t *testing.T) {
	d := newOpenDevice(t)

	err := d.Submit(device.InputQueue, buffer.New())
	require.Error(t, err)
	assert.True(t, errors.IsProtocol(err))
}

func TestPairCompletesInOrder(t *testing.T) {
	d := newOpenDevice(t)
	startStreaming(t, d)

	var completions []struct {
		q device.Queue
		b *buffer.FrameBuffer
	}
	d.SetCompletionHandler(func(q device.Queue, b *buffer.FrameBuffer) {
		completions = append(completions, struct {
			q device.Queue
			b *buffer.FrameBuffer
		}{q, b})
	})

	in := buffer.New()
	out := buffer.New()

	require.NoError(t, d.Submit(device.InputQueue, in))
	assert.Empty(t, completions, "no completion until the pair exists")

	require.NoError(t, d.Submit(device.OutputQueue, out))
	require.Len(t, completions, 2)
	assert.Equal(t, device.InputQueue, completions[0].q)
	assert.Same(t, in, completions[0].b)
	assert.Equal(t, device.OutputQueue, completions[1].q)
	assert.Same(t, out, completions[1].b)

	assert.Equal(t, buffer.StatusSuccess, in.Metadata.Status)
	assert.Equal(t, in.Metadata.Sequence, out.Metadata.Sequence)
	assert.False(t, out.Metadata.Timestamp.IsZero())
}

func TestSequenceIncrements(t *testing.T) {
	d := newOpenDevice(t)
	startStreaming(t, d)
	d.SetCompletionHandler(func(device.Queue, *buffer.FrameBuffer) {})

	first := buffer.New()
	second := buffer.New()
	require.NoError(t, d.Submit(device.InputQueue, first))
	require.NoError(t, d.Submit(device.OutputQueue, buffer.New()))
	require.NoError(t, d.Submit(device.InputQueue, second))
	require.NoError(t, d.Submit(device.OutputQueue, buffer.New()))

	assert.Equal(t, first.Metadata.Sequence+1, second.Metadata.Sequence)
}

func TestStreamOffCancelsQueued(t *testing.T) {
	d := newOpenDevice(t)
	startStreaming(t, d)

	var completed int
	d.SetCompletionHandler(func(device.Queue, *buffer.FrameBuffer) { completed++ })

	require.NoError(t, d.Submit(device.InputQueue, buffer.New()))
	require.NoError(t, d.StreamOff(device.InputQueue))

	require.NoError(t, d.StreamOn(device.InputQueue))
	require.NoError(t, d.Submit(device.OutputQueue, buffer.New()))
	assert.Zero(t, completed, "cancelled input must not pair with later output")
}

func TestDispatchedDefersCompletions(t *testing.T) {
	d := newOpenDevice(t)
	startStreaming(t, d)

	var posted []func()
	wrapped := device.Dispatched(d, func(task func()) { posted = append(posted, task) })

	var completed int
	wrapped.SetCompletionHandler(func(device.Queue, *buffer.FrameBuffer) { completed++ })

	require.NoError(t, wrapped.Submit(device.InputQueue, buffer.New()))
	require.NoError(t, wrapped.Submit(device.OutputQueue, buffer.New()))

	assert.Zero(t, completed, "completion must wait for the dispatcher")
	require.Len(t, posted, 2)
	for _, task := range posted {
		task()
	}
	assert.Equal(t, 2, completed)
}
