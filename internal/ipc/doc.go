// Package ipc exposes the bridge gateway over JSON-RPC on a Unix socket and
// ships the matching client used by the CLI.
//
// Errors cross the socket as "<code>: <message>" strings produced by
// faults.Encode; the client decodes them back so callers can still match
// with errors.Is against the faults sentinels.
//
// Reuse these DTOs when adding endpoints so the CLI and daemon stay
// compatible across versions.
package ipc
