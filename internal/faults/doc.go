// Package faults defines the error taxonomy shared by every samplecart
// component and the wire codes used when errors cross the IPC boundary.
//
// Components tag failures with one of the sentinel markers through Wrap or
// FromOS so callers can branch with errors.Is regardless of how many layers
// of context were added on the way up. Batch code attaches these errors to
// individual transfer items; single-item operations return them directly.
package faults
