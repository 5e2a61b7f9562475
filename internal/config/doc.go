// Package config loads, normalizes, and validates samplecart configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts and $USER in mount roots), reads TOML files, and honours the
// SAMPLECART_LOCAL_ROOTS environment override. The Config type centralizes
// every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
