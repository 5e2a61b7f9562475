package faults

import (
	"errors"
	"strings"
)

// Wire codes for the error taxonomy. They are stable across releases because
// front-ends switch on them.
const (
	CodeNotFound          = "not_found"
	CodePermission        = "permission"
	CodeUnsupportedFormat = "unsupported_format"
	CodeCorruptFile       = "corrupt_file"
	CodeInsufficientSpace = "insufficient_space"
	CodeDeviceBusy        = "device_busy"
	CodeDeviceGone        = "device_gone"
	CodeCollision         = "collision"
	CodePathSecurity      = "path_security"
	CodeCancelled         = "cancelled"
	CodeInternal          = "internal"
)

var markers = []struct {
	code   string
	marker error
}{
	{CodeDeviceGone, ErrDeviceGone},
	{CodeDeviceBusy, ErrDeviceBusy},
	{CodePathSecurity, ErrPathSecurity},
	{CodeCollision, ErrCollision},
	{CodeCancelled, ErrCancelled},
	{CodeInsufficientSpace, ErrInsufficientSpace},
	{CodeUnsupportedFormat, ErrUnsupportedFormat},
	{CodeCorruptFile, ErrCorruptFile},
	{CodePermission, ErrPermission},
	{CodeNotFound, ErrNotFound},
}

// Code returns the wire code for err, or CodeInternal when err carries no
// taxonomy marker.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range markers {
		if errors.Is(err, m.marker) {
			return m.code
		}
	}
	return CodeInternal
}

// Marker returns the sentinel for a wire code.
func Marker(code string) (error, bool) {
	for _, m := range markers {
		if m.code == code {
			return m.marker, true
		}
	}
	return nil, false
}

// Encode renders err as "<code>: <message>" for transports that only carry
// strings.
func Encode(err error) string {
	if err == nil {
		return ""
	}
	return Code(err) + ": " + err.Error()
}

// Decode reverses Encode. Strings without a known code prefix decode to an
// unmarked error carrying the full text.
func Decode(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	code, rest, ok := strings.Cut(text, ": ")
	if !ok {
		return &remoteError{msg: text}
	}
	marker, known := Marker(code)
	if !known {
		return &remoteError{msg: strings.TrimPrefix(text, CodeInternal+": ")}
	}
	return &remoteError{msg: rest, marker: marker}
}

type remoteError struct {
	msg    string
	marker error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.marker }
