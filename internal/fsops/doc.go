// Package fsops lists, inspects and mutates filesystem entries on local
// roots and mounted volumes.
//
// Every open registers with the shared handle registry for its lifetime and
// every operation consults the device guard first, so work against a pulled
// card fails with faults.ErrDeviceGone. Directory-level operations are
// best-effort and report per-entry outcomes in Counts.
package fsops
