package device

import "github.com/makewise-vision/libcamera-raspberrypi/buffer"

// Dispatched wraps a handle so completion notifications are handed to post
// instead of being invoked on whatever goroutine the backend completes from.
// Wiring post to the engine's dispatch loop satisfies the CompletionHandler
// serialization contract for backends that complete elsewhere.
func Dispatched(h Handle, post func(task func())) Handle {
	return &dispatched{Handle: h, post: post}
}

type dispatched struct {
	Handle
	post func(task func())
}

func (d *dispatched) SetCompletionHandler(handler CompletionHandler) {
	d.Handle.SetCompletionHandler(func(q Queue, b *buffer.FrameBuffer) {
		d.post(func() { handler(q, b) })
	})
}
