package testsupport

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Sine returns frames of a sine wave as integers at the given depth.
func Sine(frames, rate int, freq, amplitude float64, bits int) []int32 {
	scale := math.Ldexp(1, bits-1) - 1
	out := make([]int32, frames)
	for i := range out {
		out[i] = int32(math.Round(amplitude * scale * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))))
	}
	return out
}

// WriteWAV writes an integer PCM RIFF/WAVE file. channels[c][i] holds
// signed samples at the given depth.
func WriteWAV(t testing.TB, path string, rate, bits int, channels [][]int32) {
	t.Helper()
	width := bits / 8
	frames := len(channels[0])
	data := make([]byte, 0, frames*len(channels)*width)
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			v := ch[i]
			switch width {
			case 1:
				data = append(data, byte(v+128))
			case 2:
				data = binary.LittleEndian.AppendUint16(data, uint16(int16(v)))
			case 3:
				data = append(data, byte(v), byte(v>>8), byte(v>>16))
			default:
				data = binary.LittleEndian.AppendUint32(data, uint32(v))
			}
		}
	}
	writeRIFF(t, path, 1, rate, bits, len(channels), data)
}

// WriteFloatWAV writes a 32-bit IEEE float RIFF/WAVE file.
func WriteFloatWAV(t testing.TB, path string, rate int, channels [][]float32) {
	t.Helper()
	frames := len(channels[0])
	data := make([]byte, 0, frames*len(channels)*4)
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(ch[i]))
		}
	}
	writeRIFF(t, path, 3, rate, 32, len(channels), data)
}

func writeRIFF(t testing.TB, path string, tag uint16, rate, bits, channels int, data []byte) {
	t.Helper()
	block := channels * bits / 8
	out := make([]byte, 0, 44+len(data)+1)
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(data)+len(data)%2))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, tag)
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(rate))
	out = binary.LittleEndian.AppendUint32(out, uint32(rate*block))
	out = binary.LittleEndian.AppendUint16(out, uint16(block))
	out = binary.LittleEndian.AppendUint16(out, uint16(bits))
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	if len(data)%2 == 1 {
		out = append(out, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadWAVSamples decodes an integer PCM WAV written with a canonical
// 44-byte header, returning per-channel samples.
func ReadWAVSamples(t testing.TB, path string) (rate, bits int, channels [][]int32) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[36:40]) != "data" {
		t.Fatalf("%s is not a canonical WAV file", path)
	}
	count := int(binary.LittleEndian.Uint16(raw[22:24]))
	rate = int(binary.LittleEndian.Uint32(raw[24:28]))
	bits = int(binary.LittleEndian.Uint16(raw[34:36]))
	size := int(binary.LittleEndian.Uint32(raw[40:44]))
	data := raw[44 : 44+size]
	width := bits / 8
	frames := size / (width * count)
	channels = make([][]int32, count)
	for c := range channels {
		channels[c] = make([]int32, frames)
	}
	pos := 0
	for i := 0; i < frames; i++ {
		for c := 0; c < count; c++ {
			b := data[pos : pos+width]
			pos += width
			switch width {
			case 1:
				channels[c][i] = int32(b[0]) - 128
			case 2:
				channels[c][i] = int32(int16(binary.LittleEndian.Uint16(b)))
			case 3:
				channels[c][i] = int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8 >> 8
			default:
				channels[c][i] = int32(binary.LittleEndian.Uint32(b))
			}
		}
	}
	return rate, bits, channels
}
