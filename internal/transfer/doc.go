// Package transfer executes batches of copy and convert operations.
//
// An Orchestrator routes each item either to the conversion engine or to a
// plain copy, caps the two kinds of work independently with weighted
// semaphores, and serializes writes to any one destination volume. Items
// fail in isolation: a failure marks that item and never touches its
// siblings. Batches are optionally journaled to SQLite so history survives
// restarts.
package transfer
