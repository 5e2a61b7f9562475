package audio_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"samplecart/internal/audio"
	"samplecart/internal/faults"
	"samplecart/internal/testsupport"
)

func newEngine(hooks audio.Hooks) *audio.Engine {
	if hooks.FreeSpace == nil {
		hooks.FreeSpace = func(string) (uint64, error) { return math.MaxInt64, nil }
	}
	return audio.NewEngine(audio.DefaultOptions(), hooks, nil)
}

func ptr[T any](v T) *T { return &v }

func stereoSine(frames, rate, bits int) [][]int32 {
	return [][]int32{
		testsupport.Sine(frames, rate, 440, 0.5, bits),
		testsupport.Sine(frames, rate, 660, 0.25, bits),
	}
}

func TestConvertAllUnsetIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "kick.wav")
	testsupport.WriteWAV(t, src, 44100, 16, stereoSine(1000, 44100, 16))
	// Trailing bytes outside any chunk must survive because nothing is decoded.
	f, err := os.OpenFile(src, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("junk"))
	f.Close()

	dst := filepath.Join(dir, "out", "kick.wav")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	res, err := newEngine(audio.Hooks{}).Convert(context.Background(), src, dst, audio.Spec{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.ByteCopy {
		t.Fatal("expected byte copy for empty spec")
	}
	want, _ := os.ReadFile(src)
	got, _ := os.ReadFile(dst)
	if !bytes.Equal(want, got) {
		t.Fatal("output differs from source")
	}
}

func TestConvertMatchingSpecDegradesToCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "snare.wav")
	testsupport.WriteWAV(t, src, 48000, 24, stereoSine(256, 48000, 24))
	dst := filepath.Join(dir, "snare-copy.wav")

	spec := audio.Spec{SampleRate: ptr(48000), BitDepth: ptr(24), Normalize: ptr(false)}
	res, err := newEngine(audio.Hooks{}).Convert(context.Background(), src, dst, spec)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.ByteCopy || res.Source.SampleRate != 48000 {
		t.Fatalf("expected byte copy with probed source format, got %+v", res)
	}
}

func TestConvertResampleAndRequantize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "pad.wav")
	const frames = 24000
	testsupport.WriteWAV(t, src, 48000, 24, stereoSine(frames, 48000, 24))
	dst := filepath.Join(dir, "pad-44.wav")

	spec := audio.Spec{SampleRate: ptr(44100), BitDepth: ptr(16)}
	res, err := newEngine(audio.Hooks{}).Convert(context.Background(), src, dst, spec)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.ByteCopy {
		t.Fatal("expected a real conversion")
	}

	out, err := audio.Probe(context.Background(), dst)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.SampleRate != 44100 || out.BitDepth != 16 || out.Channels != 2 {
		t.Fatalf("unexpected output format %s", out)
	}
	in, err := audio.Probe(context.Background(), src)
	if err != nil {
		t.Fatalf("Probe source: %v", err)
	}
	period := time.Second / 44100
	if diff := (out.Duration() - in.Duration()).Abs(); diff > period {
		t.Fatalf("duration drift %v exceeds one sample period %v", diff, period)
	}
}

func TestConvertMonoDownmixAndAIFF(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "loop.wav")
	testsupport.WriteWAV(t, src, 44100, 16, stereoSine(2000, 44100, 16))
	dst := filepath.Join(dir, "loop.aif")

	spec := audio.Spec{MonoDownmix: ptr(true), Container: ptr(audio.ContainerAIFF)}
	if _, err := newEngine(audio.Hooks{}).Convert(context.Background(), src, dst, spec); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out, err := audio.Probe(context.Background(), dst)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.Container != audio.ContainerAIFF || out.Channels != 1 || out.Frames != 2000 || out.SampleRate != 44100 {
		t.Fatalf("unexpected output %s frames=%d", out, out.Frames)
	}
}

func TestConvertContainerRoundTripIsSampleExact(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hat.wav")
	channels := stereoSine(777, 48000, 24)
	testsupport.WriteWAV(t, src, 48000, 24, channels)
	aiff := filepath.Join(dir, "hat.aiff")
	back := filepath.Join(dir, "hat-back.wav")

	engine := newEngine(audio.Hooks{})
	if _, err := engine.Convert(context.Background(), src, aiff, audio.Spec{Container: ptr(audio.ContainerAIFF)}); err != nil {
		t.Fatalf("to aiff: %v", err)
	}
	if _, err := engine.Convert(context.Background(), aiff, back, audio.Spec{Container: ptr(audio.ContainerWAV)}); err != nil {
		t.Fatalf("to wav: %v", err)
	}
	_, bits, got := testsupport.ReadWAVSamples(t, back)
	if bits != 24 {
		t.Fatalf("expected 24-bit output, got %d", bits)
	}
	for c := range channels {
		for i := range channels[c] {
			if got[c][i] != channels[c][i] {
				t.Fatalf("channel %d frame %d: got %d want %d", c, i, got[c][i], channels[c][i])
			}
		}
	}
}

func TestConvertTrimThenNormalize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "vox.wav")
	signal := testsupport.Sine(1000, 44100, 220, 0.3, 16)
	samples := append(make([]int32, 250), signal[1:]...)
	testsupport.WriteWAV(t, src, 44100, 16, [][]int32{samples})
	dst := filepath.Join(dir, "vox-norm.wav")

	spec := audio.Spec{TrimLeadingSilence: ptr(true), Normalize: ptr(true)}
	res, err := newEngine(audio.Hooks{}).Convert(context.Background(), src, dst, spec)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.TrimmedFrames != 250 {
		t.Fatalf("expected 250 trimmed frames, got %d", res.TrimmedFrames)
	}
	_, bits, got := testsupport.ReadWAVSamples(t, dst)
	if len(got[0]) != len(samples)-250 {
		t.Fatalf("unexpected frame count %d", len(got[0]))
	}
	ceiling := math.Pow(10, -0.1/20)
	scale := math.Ldexp(1, bits-1)
	var peak float64
	for _, v := range got[0] {
		peak = math.Max(peak, math.Abs(float64(v))/scale)
	}
	if peak > ceiling || peak < ceiling-2/scale {
		t.Fatalf("peak %v not at ceiling %v", peak, ceiling)
	}
}

func TestConvertFloatSourceDefaultsTo24Bit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "float.wav")
	testsupport.WriteFloatWAV(t, src, 96000, [][]float32{{0, 0.5, -0.5, 1.5}})
	dst := filepath.Join(dir, "float-44.wav")

	if _, err := newEngine(audio.Hooks{}).Convert(context.Background(), src, dst, audio.Spec{SampleRate: ptr(48000)}); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out, err := audio.Probe(context.Background(), dst)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if out.BitDepth != 24 || out.Float || out.Frames != 2 {
		t.Fatalf("unexpected output %s frames=%d", out, out.Frames)
	}
}

func TestConvertFailuresLeaveNoOutput(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "ok.wav")
	testsupport.WriteWAV(t, wav, 44100, 16, stereoSine(4096, 44100, 16))
	flac := filepath.Join(dir, "song.flac")
	if err := os.WriteFile(flac, []byte("fLaC\x00\x00\x00\x22rest-of-stream"), 0o644); err != nil {
		t.Fatal(err)
	}
	truncated := filepath.Join(dir, "cut.wav")
	raw, _ := os.ReadFile(wav)
	if err := os.WriteFile(truncated, raw[:30], 0o644); err != nil {
		t.Fatal(err)
	}

	gone := faults.Wrap(faults.ErrDeviceGone, "devices", "guard", "card pulled", nil)
	cases := []struct {
		name  string
		src   string
		hooks audio.Hooks
		want  error
	}{
		{"unsupported", flac, audio.Hooks{}, faults.ErrUnsupportedFormat},
		{"corrupt", truncated, audio.Hooks{}, faults.ErrCorruptFile},
		{"missing", filepath.Join(dir, "nope.wav"), audio.Hooks{}, faults.ErrNotFound},
		{"no space", wav, audio.Hooks{FreeSpace: func(string) (uint64, error) { return 10, nil }}, faults.ErrInsufficientSpace},
		{"device gone", wav, audio.Hooks{Guard: func(p string) error {
			if filepath.Base(p) == "out.wav" {
				return gone
			}
			return nil
		}}, faults.ErrDeviceGone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dst := filepath.Join(dir, tc.name, "out.wav")
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				t.Fatal(err)
			}
			_, err := newEngine(tc.hooks).Convert(context.Background(), tc.src, dst, audio.Spec{BitDepth: ptr(8)})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			entries, _ := os.ReadDir(filepath.Dir(dst))
			if len(entries) != 0 {
				t.Fatalf("expected empty destination dir, found %d entries", len(entries))
			}
		})
	}
}

func TestConvertCancelledRemovesPartial(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "long.wav")
	testsupport.WriteWAV(t, src, 44100, 16, stereoSine(100000, 44100, 16))
	dst := filepath.Join(dir, "out", "long.wav")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	hooks := audio.Hooks{Guard: func(p string) error {
		if p == dst {
			calls++
			if calls == 3 {
				cancel()
			}
		}
		return nil
	}}
	_, err := newEngine(hooks).Convert(ctx, src, dst, audio.Spec{BitDepth: ptr(24)})
	if !errors.Is(err, faults.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 0 {
		t.Fatalf("expected no partial output, found %d entries", len(entries))
	}
}

func TestConvertRejectsExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.wav")
	testsupport.WriteWAV(t, src, 44100, 16, stereoSine(10, 44100, 16))
	dst := filepath.Join(dir, "b.wav")
	if err := os.WriteFile(dst, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := newEngine(audio.Hooks{}).Convert(context.Background(), src, dst, audio.Spec{MonoDownmix: ptr(true)})
	if !errors.Is(err, faults.ErrCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
}

func TestSpecValidate(t *testing.T) {
	bad := []audio.Spec{
		{SampleRate: ptr(12)},
		{BitDepth: ptr(20)},
		{Container: ptr(audio.Container("mp3"))},
	}
	for _, spec := range bad {
		if err := spec.Validate(); !errors.Is(err, faults.ErrUnsupportedFormat) {
			t.Fatalf("expected unsupported format for %+v, got %v", spec, err)
		}
	}
	if (audio.Spec{Normalize: ptr(false)}).RequestsTransform() {
		t.Fatal("false flags should not request a transform")
	}
}

func TestConvertLockedHoldsLockOnlyForWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hat.wav")
	testsupport.WriteWAV(t, src, 48000, 24, stereoSine(2048, 48000, 24))
	engine := newEngine(audio.Hooks{})

	t.Run("convert", func(t *testing.T) {
		dst := filepath.Join(dir, "hat-16.wav")
		var held, released bool
		lock := func(context.Context) (func(), error) {
			if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("destination touched before lock: %v", err)
			}
			held = true
			return func() {
				if _, err := os.Stat(dst); err != nil {
					t.Errorf("lock released before commit: %v", err)
				}
				released = true
			}, nil
		}
		if _, err := engine.ConvertLocked(context.Background(), src, dst, audio.Spec{BitDepth: ptr(16)}, lock); err != nil {
			t.Fatalf("ConvertLocked: %v", err)
		}
		if !held || !released {
			t.Fatalf("lock held=%v released=%v", held, released)
		}
	})

	t.Run("byte copy", func(t *testing.T) {
		dst := filepath.Join(dir, "hat-copy.wav")
		calls := 0
		lock := func(context.Context) (func(), error) {
			calls++
			return func() {}, nil
		}
		res, err := engine.ConvertLocked(context.Background(), src, dst, audio.Spec{BitDepth: ptr(24)}, lock)
		if err != nil {
			t.Fatalf("ConvertLocked: %v", err)
		}
		if !res.ByteCopy || calls != 1 {
			t.Fatalf("byte copy took lock %d times, result %+v", calls, res)
		}
	})

	t.Run("lock cancelled", func(t *testing.T) {
		dst := filepath.Join(dir, "hat-cancelled.wav")
		lock := func(context.Context) (func(), error) { return nil, context.Canceled }
		_, err := engine.ConvertLocked(context.Background(), src, dst, audio.Spec{BitDepth: ptr(16)}, lock)
		if !errors.Is(err, faults.ErrCancelled) {
			t.Fatalf("expected cancelled, got %v", err)
		}
		if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("destination written without lock: %v", err)
		}
	})
}
