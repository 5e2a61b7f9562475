package audio

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"samplecart/internal/faults"
)

// Container identifies an audio file layout.
type Container string

const (
	ContainerWAV  Container = "wav"
	ContainerAIFF Container = "aiff"
)

// ParseContainer accepts container names and common file extensions.
func ParseContainer(value string) (Container, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), ".")) {
	case "wav", "wave":
		return ContainerWAV, nil
	case "aif", "aiff", "aifc":
		return ContainerAIFF, nil
	default:
		return "", faults.Wrap(faults.ErrUnsupportedFormat, "audio", "container", fmt.Sprintf("unsupported container %q", value), nil)
	}
}

// ContainerForPath guesses the container from a file extension.
func ContainerForPath(path string) (Container, bool) {
	c, err := ParseContainer(filepath.Ext(path))
	return c, err == nil
}

// Format describes the PCM layout of a decoded or probed file.
type Format struct {
	Container  Container `json:"container"`
	SampleRate int       `json:"sampleRate"`
	BitDepth   int       `json:"bitDepth"`
	Channels   int       `json:"channels"`
	Float      bool      `json:"float,omitempty"`
	Frames     int64     `json:"frames"`
	BigEndian  bool      `json:"-"`
}

// Duration is the playback length implied by Frames and SampleRate.
func (f Format) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(f.Frames) / float64(f.SampleRate) * float64(time.Second))
}

func (f Format) bytesPerSample() int { return (f.BitDepth + 7) / 8 }

func (f Format) String() string {
	kind := "int"
	if f.Float {
		kind = "float"
	}
	return fmt.Sprintf("%s %d Hz %d-bit %s %dch", f.Container, f.SampleRate, f.BitDepth, kind, f.Channels)
}

var validBitDepths = map[int]struct{}{8: {}, 16: {}, 24: {}, 32: {}}

// ValidBitDepth reports whether depth is a supported integer output depth.
func ValidBitDepth(depth int) bool {
	_, ok := validBitDepths[depth]
	return ok
}

const (
	minSampleRate = 1000
	maxSampleRate = 768000
)

// Spec is a declarative conversion request. A nil field preserves the
// corresponding source property.
type Spec struct {
	SampleRate         *int       `json:"targetSampleRateHz,omitempty"`
	BitDepth           *int       `json:"targetBitDepth,omitempty"`
	Container          *Container `json:"targetContainer,omitempty"`
	MonoDownmix        *bool      `json:"monoDownmix,omitempty"`
	Normalize          *bool      `json:"normalize,omitempty"`
	TrimLeadingSilence *bool      `json:"trimLeadingSilence,omitempty"`
}

// IsZero reports whether every field is unset.
func (s Spec) IsZero() bool {
	return s.SampleRate == nil && s.BitDepth == nil && s.Container == nil &&
		s.MonoDownmix == nil && s.Normalize == nil && s.TrimLeadingSilence == nil
}

// RequestsTransform reports whether s asks for any change at all
// without looking at the source. False boolean flags count as unset.
func (s Spec) RequestsTransform() bool {
	return s.SampleRate != nil || s.BitDepth != nil || s.Container != nil ||
		isTrue(s.MonoDownmix) || isTrue(s.Normalize) || isTrue(s.TrimLeadingSilence)
}

// Validate checks field ranges.
func (s Spec) Validate() error {
	if s.SampleRate != nil && (*s.SampleRate < minSampleRate || *s.SampleRate > maxSampleRate) {
		return faults.Wrap(faults.ErrUnsupportedFormat, "audio", "spec", fmt.Sprintf("sample rate %d Hz out of range", *s.SampleRate), nil)
	}
	if s.BitDepth != nil && !ValidBitDepth(*s.BitDepth) {
		return faults.Wrap(faults.ErrUnsupportedFormat, "audio", "spec", fmt.Sprintf("bit depth %d not supported", *s.BitDepth), nil)
	}
	if s.Container != nil {
		if _, err := ParseContainer(string(*s.Container)); err != nil {
			return err
		}
	}
	return nil
}

// noopFor reports whether applying s to src would leave samples and
// container untouched.
func (s Spec) noopFor(src Format) bool {
	if isTrue(s.Normalize) || isTrue(s.TrimLeadingSilence) {
		return false
	}
	if s.SampleRate != nil && *s.SampleRate != src.SampleRate {
		return false
	}
	if s.BitDepth != nil && (*s.BitDepth != src.BitDepth || src.Float) {
		return false
	}
	if s.Container != nil && *s.Container != src.Container {
		return false
	}
	if isTrue(s.MonoDownmix) && src.Channels != 1 {
		return false
	}
	return true
}

func isTrue(b *bool) bool { return b != nil && *b }
