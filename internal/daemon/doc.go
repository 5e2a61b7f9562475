// Package daemon coordinates the long-running samplecart process.
//
// It wires configuration, the volume watcher, the volume directory, the
// conversion engine, the transfer orchestrator and its journal, the bridge
// gateway and the HTTP/WebSocket API into a single lifecycle, with a
// flock-based lock preventing a second instance from touching the same
// state directory.
//
// Keep orchestration logic here: the operations themselves live in their
// own packages while the daemon focuses on startup, shutdown and status.
package daemon
