// Package audio is the conversion engine: it decodes WAV and AIFF files,
// applies the resample, downmix, requantize, leading-silence trim and peak
// normalization stages in that fixed order, and encodes the result.
//
// Unset ConversionSpec fields are pass-through. A spec that changes nothing
// degrades to a byte-level copy so the destination is bit-identical to the
// source. All writes go through a partial temp file that is renamed into
// place only after the encode finishes.
package audio
