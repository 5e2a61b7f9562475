package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

func parseAIFF(r io.ReadSeeker, fileSize int64) (pcmLayout, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return pcmLayout{}, corrupt("truncated FORM header", err)
	}
	form := string(header[8:12])
	if string(header[0:4]) != "FORM" || (form != "AIFF" && form != "AIFC") {
		return pcmLayout{}, unsupported("not an AIFF file")
	}

	var (
		layout   pcmLayout
		haveComm bool
		haveSSND bool
		frames   int64
	)
	f := &layout.format
	f.Container = ContainerAIFF
	f.BigEndian = true
	pos := int64(12)
	for pos+8 <= fileSize {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return pcmLayout{}, corrupt("truncated chunk header", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.BigEndian.Uint32(chunk[4:8]))
		body := pos + 8
		switch id {
		case "COMM":
			if size < 18 {
				return pcmLayout{}, corrupt("COMM chunk too small", nil)
			}
			buf := make([]byte, min(size, 22))
			if _, err := io.ReadFull(r, buf); err != nil {
				return pcmLayout{}, corrupt("truncated COMM chunk", err)
			}
			f.Channels = int(int16(binary.BigEndian.Uint16(buf[0:2])))
			frames = int64(binary.BigEndian.Uint32(buf[2:6]))
			bits := int(int16(binary.BigEndian.Uint16(buf[6:8])))
			f.SampleRate = int(math.Round(decodeExtended(buf[8:18])))
			f.BitDepth = ((bits + 7) / 8) * 8
			if form == "AIFC" {
				if len(buf) < 22 {
					return pcmLayout{}, corrupt("AIFC COMM chunk missing compression type", nil)
				}
				switch string(buf[18:22]) {
				case "NONE", "twos":
				case "sowt":
					f.BigEndian = false
				case "fl32", "FL32":
					f.Float, f.BitDepth = true, 32
				case "fl64", "FL64":
					f.Float, f.BitDepth = true, 64
				default:
					return pcmLayout{}, unsupported(fmt.Sprintf("AIFC compression %q", buf[18:22]))
				}
			}
			haveComm = true
		case "SSND":
			if size < 8 || body+size > fileSize {
				return pcmLayout{}, corrupt("SSND chunk exceeds file size", nil)
			}
			var hdr [8]byte
			if _, err := io.ReadFull(r, hdr[:]); err != nil {
				return pcmLayout{}, corrupt("truncated SSND chunk", err)
			}
			offset := int64(binary.BigEndian.Uint32(hdr[0:4]))
			if offset > size-8 {
				return pcmLayout{}, corrupt("SSND offset exceeds chunk", nil)
			}
			layout.dataOffset = body + 8 + offset
			layout.dataSize = size - 8 - offset
			haveSSND = true
		}
		pos = body + size + size&1
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return pcmLayout{}, corrupt("seek past chunk", err)
		}
	}
	if !haveComm {
		return pcmLayout{}, corrupt("missing COMM chunk", nil)
	}
	if err := checkShape(*f); err != nil {
		return pcmLayout{}, err
	}
	if !f.Float && !ValidBitDepth(f.BitDepth) {
		return pcmLayout{}, unsupported(fmt.Sprintf("%d-bit integer PCM", f.BitDepth))
	}
	if frames > 0 && !haveSSND {
		return pcmLayout{}, corrupt("missing SSND chunk", nil)
	}
	block := int64(f.Channels * f.bytesPerSample())
	if frames*block > layout.dataSize {
		return pcmLayout{}, corrupt(fmt.Sprintf("COMM declares %d frames but SSND holds %d", frames, layout.dataSize/block), nil)
	}
	f.Frames = frames
	layout.dataSize = frames * block
	return layout, nil
}

func writeAIFFHeader(w io.Writer, f Format) error {
	width := f.bytesPerSample()
	dataSize := f.Frames * int64(f.Channels*width)
	formSize := 4 + (8 + 18) + (8 + 8 + dataSize + dataSize&1)
	if formSize > 0xFFFFFFFF {
		return unsupported("output exceeds 4 GiB AIFF limit")
	}
	header := make([]byte, 54)
	copy(header[0:4], "FORM")
	binary.BigEndian.PutUint32(header[4:8], uint32(formSize))
	copy(header[8:12], "AIFF")
	copy(header[12:16], "COMM")
	binary.BigEndian.PutUint32(header[16:20], 18)
	binary.BigEndian.PutUint16(header[20:22], uint16(f.Channels))
	binary.BigEndian.PutUint32(header[22:26], uint32(f.Frames))
	binary.BigEndian.PutUint16(header[26:28], uint16(f.BitDepth))
	encodeExtended(header[28:38], float64(f.SampleRate))
	copy(header[38:42], "SSND")
	binary.BigEndian.PutUint32(header[42:46], uint32(8+dataSize))
	// offset and block size stay zero
	_, err := w.Write(header)
	return err
}

// decodeExtended reads an IEEE 754 80-bit extended float (big-endian).
func decodeExtended(b []byte) float64 {
	se := binary.BigEndian.Uint16(b[0:2])
	mant := binary.BigEndian.Uint64(b[2:10])
	if se&0x7fff == 0 && mant == 0 {
		return 0
	}
	exp := int(se&0x7fff) - 16383
	v := math.Ldexp(float64(mant), exp-63)
	if se&0x8000 != 0 {
		v = -v
	}
	return v
}

func encodeExtended(b []byte, v float64) {
	for i := range b[:10] {
		b[i] = 0
	}
	if v <= 0 {
		return
	}
	frac, exp := math.Frexp(v) // v = frac * 2^exp, frac in [0.5, 1)
	binary.BigEndian.PutUint16(b[0:2], uint16(exp-1+16383))
	binary.BigEndian.PutUint64(b[2:10], uint64(math.Ldexp(frac, 64)))
}
