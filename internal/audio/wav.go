package audio

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	wavFormatPCM        = 0x0001
	wavFormatIEEEFloat  = 0x0003
	wavFormatExtensible = 0xFFFE
)

// pcmLayout locates the sample data inside a container.
type pcmLayout struct {
	format     Format
	dataOffset int64
	dataSize   int64
}

func parseWAV(r io.ReadSeeker, fileSize int64) (pcmLayout, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return pcmLayout{}, corrupt("truncated RIFF header", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return pcmLayout{}, unsupported("not a RIFF/WAVE file")
	}

	var (
		layout  pcmLayout
		haveFmt bool
		haveDat bool
		tag     uint16
		align   uint16
	)
	layout.format.Container = ContainerWAV
	pos := int64(12)
	for pos+8 <= fileSize {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return pcmLayout{}, corrupt("truncated chunk header", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if size < 16 {
				return pcmLayout{}, corrupt("fmt chunk too small", nil)
			}
			buf := make([]byte, min(size, 40))
			if _, err := io.ReadFull(r, buf); err != nil {
				return pcmLayout{}, corrupt("truncated fmt chunk", err)
			}
			tag = binary.LittleEndian.Uint16(buf[0:2])
			layout.format.Channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			layout.format.SampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			align = binary.LittleEndian.Uint16(buf[12:14])
			layout.format.BitDepth = int(binary.LittleEndian.Uint16(buf[14:16]))
			if tag == wavFormatExtensible {
				if len(buf) < 40 {
					return pcmLayout{}, corrupt("extensible fmt chunk too small", nil)
				}
				tag = binary.LittleEndian.Uint16(buf[24:26])
			}
			haveFmt = true
		case "data":
			if body+size > fileSize {
				return pcmLayout{}, corrupt(fmt.Sprintf("data chunk claims %d bytes but only %d remain", size, fileSize-body), nil)
			}
			layout.dataOffset = body
			layout.dataSize = size
			haveDat = true
		}
		pos = body + size + size&1
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return pcmLayout{}, corrupt("seek past chunk", err)
		}
	}
	if !haveFmt || !haveDat {
		return pcmLayout{}, corrupt("missing fmt or data chunk", nil)
	}

	f := &layout.format
	switch tag {
	case wavFormatPCM:
		if !ValidBitDepth(f.BitDepth) {
			return pcmLayout{}, unsupported(fmt.Sprintf("%d-bit integer PCM", f.BitDepth))
		}
	case wavFormatIEEEFloat:
		if f.BitDepth != 32 && f.BitDepth != 64 {
			return pcmLayout{}, unsupported(fmt.Sprintf("%d-bit float", f.BitDepth))
		}
		f.Float = true
	default:
		return pcmLayout{}, unsupported(fmt.Sprintf("WAVE format tag 0x%04x", tag))
	}
	if err := checkShape(*f); err != nil {
		return pcmLayout{}, err
	}
	if int(align) != f.Channels*f.bytesPerSample() {
		return pcmLayout{}, corrupt(fmt.Sprintf("block align %d does not match %d channels of %d bits", align, f.Channels, f.BitDepth), nil)
	}
	f.Frames = layout.dataSize / int64(align)
	return layout, nil
}

func writeWAVHeader(w io.Writer, f Format) error {
	width := f.bytesPerSample()
	dataSize := f.Frames * int64(f.Channels*width)
	if 36+dataSize+dataSize&1 > 0xFFFFFFFF {
		return unsupported("output exceeds 4 GiB WAV limit")
	}
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize+dataSize&1))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(f.SampleRate*f.Channels*width))
	binary.LittleEndian.PutUint16(header[32:34], uint16(f.Channels*width))
	binary.LittleEndian.PutUint16(header[34:36], uint16(f.BitDepth))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	_, err := w.Write(header)
	return err
}

func checkShape(f Format) error {
	if f.Channels <= 0 || f.Channels > 64 {
		return corrupt(fmt.Sprintf("invalid channel count %d", f.Channels), nil)
	}
	if f.SampleRate <= 0 {
		return corrupt(fmt.Sprintf("invalid sample rate %d", f.SampleRate), nil)
	}
	return nil
}
