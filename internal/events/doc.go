// Package events provides an in-process publish/subscribe bus with ordered,
// at-most-once delivery per subscriber.
//
// Each subscriber owns an unbounded queue drained by its own goroutine, so a
// slow handler delays only itself and never the publisher.
package events
