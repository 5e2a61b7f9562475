package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"samplecart/internal/faults"
)

func corrupt(msg string, err error) error {
	return faults.Wrap(faults.ErrCorruptFile, "audio", "decode", msg, err)
}

func unsupported(msg string) error {
	return faults.Wrap(faults.ErrUnsupportedFormat, "audio", "decode", msg, nil)
}

// sniff identifies the container from the leading bytes.
func sniff(head []byte) (Container, error) {
	switch {
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return ContainerWAV, nil
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("FORM")) &&
		(bytes.Equal(head[8:12], []byte("AIFF")) || bytes.Equal(head[8:12], []byte("AIFC"))):
		return ContainerAIFF, nil
	case len(head) >= 4 && bytes.Equal(head[0:4], []byte("fLaC")):
		return "", unsupported("FLAC")
	case len(head) >= 4 && bytes.Equal(head[0:4], []byte("OggS")):
		return "", unsupported("Ogg")
	case len(head) >= 3 && bytes.Equal(head[0:3], []byte("ID3")),
		len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return "", unsupported("MPEG audio")
	case len(head) >= 4 && (bytes.Equal(head[0:4], []byte("RIFF")) || bytes.Equal(head[0:4], []byte("FORM"))):
		return "", unsupported("RIFF/IFF file without audio form type")
	case len(head) < 12:
		return "", corrupt(fmt.Sprintf("file too short (%d bytes)", len(head)), nil)
	default:
		return "", unsupported("unrecognized audio container")
	}
}

// parseLayout sniffs and parses the container header of r.
func parseLayout(r io.ReadSeeker, size int64) (pcmLayout, error) {
	head := make([]byte, 12)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return pcmLayout{}, err
	}
	container, err := sniff(head[:n])
	if err != nil {
		return pcmLayout{}, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return pcmLayout{}, err
	}
	if container == ContainerWAV {
		return parseWAV(r, size)
	}
	return parseAIFF(r, size)
}

// Probe reads only the container header of path and reports its format.
func Probe(ctx context.Context, path string) (Format, error) {
	if err := ctx.Err(); err != nil {
		return Format{}, faults.FromOS("audio", "probe", path, err)
	}
	file, err := os.Open(path)
	if err != nil {
		return Format{}, faults.FromOS("audio", "probe", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return Format{}, faults.FromOS("audio", "probe", path, err)
	}
	layout, err := parseLayout(file, info.Size())
	if err != nil {
		return Format{}, fmt.Errorf("probe %s: %w", path, faults.FromOS("audio", "probe", path, err))
	}
	return layout.format, nil
}
