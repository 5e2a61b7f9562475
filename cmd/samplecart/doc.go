// Package main hosts the samplecart CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: volume listing and eject, file operations confined to
// the daemon's roots, single-file conversion, and batch transfers with a
// progress bar. `watch` attaches to the daemon's WebSocket channel and
// prints volume notifications as they arrive.
//
// Keep this package lean: add behavior to the internal packages first and
// surface it here through commands or flags.
package main
