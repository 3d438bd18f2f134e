package converter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makewise-vision/libcamera-raspberrypi/device"
	pipeerrors "github.com/makewise-vision/libcamera-raspberrypi/errors"
	"github.com/makewise-vision/libcamera-raspberrypi/format"
	"github.com/makewise-vision/libcamera-raspberrypi/testutil"
)

func TestStreamConfigureOutputMismatch(t *testing.T) {
	// Device clamps the requested output size; the stream must reject the
	// configuration instead of silently accepting a different geometry.
	conv, _ := newTestConverter(t, func(_ int, d *testutil.Device) {
		d.NegotiateAdjust = func(q device.Queue, f *format.DeviceFormat) {
			if q == device.OutputQueue && f.Size.Width > 640 {
				f.Size = format.Size{Width: 640, Height: 480}
			}
		}
	})

	err := conv.Configure(testInputDesc(), []format.StreamDescription{
		testOutputDesc(1280, 720),
	})
	require.Error(t, err)
	assert.True(t, pipeerrors.IsUnsupported(err))
}

func TestStreamConfigureInputNegotiationError(t *testing.T) {
	conv, _ := newTestConverter(t, func(_ int, d *testutil.Device) {
		d.NegotiateErr = map[device.Queue]error{
			device.InputQueue: errors.New("EINVAL"),
		}
	})

	err := conv.Configure(testInputDesc(), []format.StreamDescription{
		testOutputDesc(1280, 720),
	})
	require.Error(t, err)
	assert.True(t, pipeerrors.IsDevice(err))
}

func TestStreamConfigureFailsFast(t *testing.T) {
	// An input-side mismatch must abort before the output queue is ever
	// negotiated.
	conv, pool := newTestConverter(t, func(_ int, d *testutil.Device) {
		d.NegotiateAdjust = func(q device.Queue, f *format.DeviceFormat) {
			if q == device.InputQueue {
				f.Fourcc = format.NV12
			}
		}
	})

	err := conv.Configure(testInputDesc(), []format.StreamDescription{
		testOutputDesc(1280, 720),
	})
	require.Error(t, err)
	require.Len(t, pool.Devices, 1)
	assert.Empty(t, pool.Devices[0].Negotiated[device.OutputQueue])
}

func TestStreamStartImportFailureSelfStops(t *testing.T) {
	conv, pool := newTestConverter(t, func(_ int, d *testutil.Device) {
		d.ImportErr = map[device.Queue]error{
			device.OutputQueue: errors.New("ENOMEM"),
		}
	})

	require.NoError(t, conv.Configure(testInputDesc(), []format.StreamDescription{
		testOutputDesc(1280, 720),
	}))

	err := conv.Start()
	require.Error(t, err)
	assert.True(t, pipeerrors.IsDevice(err))

	// Partial activation is unwound: imports released, nothing streaming.
	d := pool.Devices[0]
	assert.Positive(t, d.Released[device.InputQueue])
	assert.False(t, d.Streaming[device.InputQueue])
	assert.False(t, d.Streaming[device.OutputQueue])
}

func TestStreamStartOutputStreamOnFailureSelfStops(t *testing.T) {
	conv, pool := newTestConverter(t, func(_ int, d *testutil.Device) {
		d.StreamOnErr = map[device.Queue]error{
			device.OutputQueue: errors.New("EBUSY"),
		}
	})

	require.NoError(t, conv.Configure(testInputDesc(), []format.StreamDescription{
		testOutputDesc(1280, 720),
	}))

	err := conv.Start()
	require.Error(t, err)

	// The input queue had been enabled and must be off again.
	assert.False(t, pool.Devices[0].Streaming[device.InputQueue])
}
