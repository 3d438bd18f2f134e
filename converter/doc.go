// Package converter implements the multi-stream buffer conversion engine.
//
// A Converter presents N hardware conversion units as a single logical unit
// with one input and N outputs. Each configured output is served by its own
// stream controller owning one device handle. Queueing an input buffer fans
// it out to every stream paired with that stream's destination buffer; the
// engine tracks per-stream completions in a pending-conversion table and
// reports the input buffer done exactly once, when the last stream releases
// it.
//
// The engine is deliberately lock-free: every method and every device
// completion must execute on one serialized dispatch context (see package
// dispatch). Frame buffers are never owned by the engine; it borrows caller
// references between queue and completion and uses them purely as identity
// keys.
package converter
