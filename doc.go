// Package mediapipe provides a multi-stream media conversion engine for
// memory-to-memory conversion hardware, plus the daemon that hosts it.
//
// # Architecture
//
// One input frame is fanned out to N conversion streams, each backed by its
// own device handle on the same hardware unit. The engine consolidates the
// per-stream input-side completions into a single "input complete" event and
// forwards output-side completions one-to-one.
//
//	                ┌───────────────┐
//	 input frame ──►│   Converter   │
//	                │  (fan-out +   │
//	                │ consolidation)│
//	                └──┬────┬────┬──┘
//	                   ▼    ▼    ▼
//	              ┌──────┐┌──────┐┌──────┐
//	              │stream││stream││stream│   one device handle each
//	              │  0   ││  1   ││  2   │
//	              └──┬───┘└──┬───┘└──┬───┘
//	                 ▼       ▼       ▼
//	              output  output  output
//
// # Threading Model
//
// The engine is deliberately lock-free: every engine method and every device
// completion is executed on a single serialized dispatch loop (package
// dispatch). Backends that complete on their own goroutines are bridged with
// device.Dispatched.
//
// # Packages
//
// Engine:
//   - converter: the fan-out engine and per-stream controllers
//   - dispatch: the serialized execution context
//   - buffer: opaque frame buffer handles with identity tokens
//   - format: pixel formats, geometry, stream descriptions
//
// Device layer:
//   - device: the backend capability interface and backend registry
//   - device/loopback: software pass-through backend (no hardware)
//
// Infrastructure:
//   - config: YAML pipeline configuration
//   - errors: classified error handling
//   - metric: Prometheus metrics registry
//   - notifier: NATS event publishing
//   - gateway: WebSocket monitoring endpoint
//   - testutil: scriptable fake device for engine tests
//
// # Binary
//
// cmd/mediapiped wires everything together:
//
//	./bin/mediapiped --config configs/pipeline.yaml
//
// With the loopback backend and the built-in frame pump it runs a complete
// pipeline with no hardware attached, exposing /metrics and /ws endpoints
// and publishing completion events over NATS when configured.
package mediapipe
