package audio

import (
	"encoding/binary"
	"math"
)

// Buffer holds decoded samples per channel, scaled so integer full scale
// maps to [-1, 1). Integer sources round-trip exactly through float64.
type Buffer struct {
	SampleRate int
	Channels   [][]float64
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func newBuffer(rate, channels, frames int) *Buffer {
	b := &Buffer{SampleRate: rate, Channels: make([][]float64, channels)}
	for c := range b.Channels {
		b.Channels[c] = make([]float64, frames)
	}
	return b
}

func fullScale(bits int) float64 {
	return math.Ldexp(1, bits-1)
}

// decodeFrames fills buf starting at frame offset from interleaved raw bytes.
func decodeFrames(buf *Buffer, offset int, raw []byte, f Format) {
	width := f.bytesPerSample()
	channels := len(buf.Channels)
	frames := len(raw) / (width * channels)
	scale := 1 / fullScale(f.BitDepth)
	pos := 0
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			sample := raw[pos : pos+width]
			pos += width
			var v float64
			switch {
			case f.Float && width == 4:
				v = float64(math.Float32frombits(readUint32(sample, f.BigEndian)))
			case f.Float && width == 8:
				v = math.Float64frombits(readUint64(sample, f.BigEndian))
			default:
				v = float64(readInt(sample, f)) * scale
			}
			buf.Channels[c][offset+i] = v
		}
	}
}

func readInt(b []byte, f Format) int64 {
	switch len(b) {
	case 1:
		if f.Container == ContainerWAV {
			return int64(b[0]) - 128
		}
		return int64(int8(b[0]))
	case 2:
		if f.BigEndian {
			return int64(int16(binary.BigEndian.Uint16(b)))
		}
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		var u uint32
		if f.BigEndian {
			u = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
		} else {
			u = uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
		}
		return int64(int32(u<<8) >> 8)
	default:
		return int64(int32(readUint32(b, f.BigEndian)))
	}
}

func readUint32(b []byte, bigEndian bool) uint32 {
	if bigEndian {
		return binary.BigEndian.Uint32(b)
	}
	return binary.LittleEndian.Uint32(b)
}

func readUint64(b []byte, bigEndian bool) uint64 {
	if bigEndian {
		return binary.BigEndian.Uint64(b)
	}
	return binary.LittleEndian.Uint64(b)
}

// quantizer converts float samples to integers at a fixed depth, rounding
// half away from zero and clamping to the representable range, or to
// ±limit when a normalization ceiling applies.
type quantizer struct {
	scale float64
	min   float64
	max   float64
}

func newQuantizer(bits int, ceiling float64) quantizer {
	scale := fullScale(bits)
	q := quantizer{scale: scale, min: -scale, max: scale - 1}
	if ceiling > 0 && ceiling < 1 {
		limit := math.Floor(ceiling * scale)
		q.min, q.max = -limit, math.Min(limit, q.max)
	}
	return q
}

func (q quantizer) quantize(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v * q.scale)
	if r > q.max {
		r = q.max
	}
	if r < q.min {
		r = q.min
	}
	return int64(r)
}

// encodeFrames writes frames [from, to) of buf as interleaved integers.
func encodeFrames(dst []byte, buf *Buffer, from, to int, bits int, container Container, bigEndian bool, q quantizer) []byte {
	width := (bits + 7) / 8
	for i := from; i < to; i++ {
		for c := range buf.Channels {
			v := q.quantize(buf.Channels[c][i])
			var tmp [4]byte
			switch width {
			case 1:
				if container == ContainerWAV {
					tmp[0] = byte(v + 128)
				} else {
					tmp[0] = byte(int8(v))
				}
			case 2:
				if bigEndian {
					binary.BigEndian.PutUint16(tmp[:], uint16(int16(v)))
				} else {
					binary.LittleEndian.PutUint16(tmp[:], uint16(int16(v)))
				}
			case 3:
				u := uint32(int32(v))
				if bigEndian {
					tmp[0], tmp[1], tmp[2] = byte(u>>16), byte(u>>8), byte(u)
				} else {
					tmp[0], tmp[1], tmp[2] = byte(u), byte(u>>8), byte(u>>16)
				}
			default:
				if bigEndian {
					binary.BigEndian.PutUint32(tmp[:], uint32(int32(v)))
				} else {
					binary.LittleEndian.PutUint32(tmp[:], uint32(int32(v)))
				}
			}
			dst = append(dst, tmp[:width]...)
		}
	}
	return dst
}
