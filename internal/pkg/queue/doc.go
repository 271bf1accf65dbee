// Package queue provides a broker-agnostic pull-based message gateway.
//
// Unlike push-style consumers, callers ask for a bounded batch with
// Consume(ctx, source, maxMessages) and settle each delivery with Ack or
// Nack. This keeps scheduled consumption and operator-triggered drains on
// the same code path.
package queue
