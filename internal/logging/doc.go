// Package logging assembles structured slog loggers and formatting helpers used
// across samplecart.
//
// It owns the console and JSON handlers, level parsing, rotating file output,
// and context helpers that tag log lines with request, batch and volume
// identifiers. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
