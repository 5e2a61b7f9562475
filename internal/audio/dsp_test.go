package audio

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestNormalizeNeverExceedsCeiling(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	ceilings := []float64{-0.1, -1, -3, -12, 0}
	for trial := 0; trial < 200; trial++ {
		channels := 1 + rng.IntN(3)
		frames := 1 + rng.IntN(512)
		buf := newBuffer(44100, channels, frames)
		amp := rng.Float64() * 4
		for _, ch := range buf.Channels {
			for i := range ch {
				ch[i] = (rng.Float64()*2 - 1) * amp
			}
		}
		db := ceilings[trial%len(ceilings)]
		bits := []int{8, 16, 24, 32}[trial%4]
		ceiling := DBToLinear(db)

		Normalize(buf, ceiling)
		q := newQuantizer(bits, ceiling)
		for _, ch := range buf.Channels {
			for _, v := range ch {
				got := math.Abs(float64(q.quantize(v))) / q.scale
				if got > ceiling+1e-12 {
					t.Fatalf("trial %d: sample %v above ceiling %v (bits %d)", trial, got, ceiling, bits)
				}
			}
		}
	}
}

func TestNormalizeKeepsPolarityAndSilence(t *testing.T) {
	buf := &Buffer{SampleRate: 48000, Channels: [][]float64{{0.1, -0.25, 0.05}, {-0.2, 0.2, 0}}}
	gain := Normalize(buf, 0.5)
	if gain <= 0 {
		t.Fatalf("expected positive gain, got %v", gain)
	}
	if buf.Channels[0][1] != -0.5 || buf.Channels[0][0] <= 0 || buf.Channels[1][0] >= 0 {
		t.Fatalf("polarity or scaling changed unexpectedly: %v", buf.Channels)
	}

	silent := &Buffer{SampleRate: 48000, Channels: [][]float64{{0, 0, 0}}}
	if gain := Normalize(silent, 0.9); gain != 1 {
		t.Fatalf("expected unity gain on silence, got %v", gain)
	}
}

func TestDownmixIncludesEveryChannel(t *testing.T) {
	const channels = 6
	buf := newBuffer(44100, channels, channels)
	for c := range buf.Channels {
		buf.Channels[c][c] = 0.6
	}
	out := Downmix(buf)
	if len(out.Channels) != 1 {
		t.Fatalf("expected one channel, got %d", len(out.Channels))
	}
	for i, v := range out.Channels[0] {
		if math.Abs(v-0.1) > 1e-12 {
			t.Fatalf("frame %d: expected contribution 0.1 from channel %d, got %v", i, i, v)
		}
	}

	mono := newBuffer(44100, 1, 4)
	if Downmix(mono) != mono {
		t.Fatal("expected mono input to pass through")
	}
}

func TestResampleFrameCountAndLevel(t *testing.T) {
	cases := []struct {
		from, to, frames, want int
	}{
		{48000, 44100, 4800, 4410},
		{44100, 48000, 1000, 1088},
		{44100, 22050, 1001, 501},
		{8000, 96000, 10, 120},
	}
	for _, tc := range cases {
		buf := newBuffer(tc.from, 1, tc.frames)
		out := Resample(buf, tc.to, 16)
		if out.Frames() != tc.want {
			t.Fatalf("%d->%d with %d frames: got %d want %d", tc.from, tc.to, tc.frames, out.Frames(), tc.want)
		}
		if out.SampleRate != tc.to {
			t.Fatalf("unexpected rate %d", out.SampleRate)
		}
	}

	// A 440 Hz tone survives 48k -> 44.1k with its amplitude intact.
	const frames = 9600
	buf := newBuffer(48000, 1, frames)
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/48000)
	}
	out := Resample(buf, 44100, 32)
	var peak float64
	for _, v := range out.Channels[0][1000 : out.Frames()-1000] {
		peak = math.Max(peak, math.Abs(v))
	}
	if math.Abs(peak-0.5) > 0.01 {
		t.Fatalf("expected peak near 0.5 after resampling, got %v", peak)
	}
}

func TestRequantizeRoundsHalfAwayFromZero(t *testing.T) {
	scale := fullScale(16)
	buf := &Buffer{SampleRate: 8000, Channels: [][]float64{{1.5 / scale, -1.5 / scale, 0.4 / scale, 1.0, -1.0}}}
	Requantize(buf, 16)
	want := []float64{2 / scale, -2 / scale, 0, (scale - 1) / scale, -1}
	for i, v := range buf.Channels[0] {
		if v != want[i] {
			t.Fatalf("sample %d: got %v want %v", i, v*scale, want[i]*scale)
		}
	}
}

func TestTrimLeadingSilenceOnlyTouchesStart(t *testing.T) {
	threshold := DBToLinear(-60)
	buf := &Buffer{SampleRate: 8000, Channels: [][]float64{
		{0, 0.0001, 0, 0.5, 0, 0, 0.2, 0},
		{0, 0, 0, 0, 0, 0, 0, 0},
	}}
	out, trimmed := TrimLeadingSilence(buf, threshold)
	if trimmed != 3 || out.Frames() != 5 {
		t.Fatalf("expected 3 frames trimmed leaving 5, got %d and %d", trimmed, out.Frames())
	}
	if out.Channels[0][0] != 0.5 || out.Channels[0][len(out.Channels[0])-1] != 0 {
		t.Fatalf("interior or trailing samples changed: %v", out.Channels[0])
	}

	silent := &Buffer{SampleRate: 8000, Channels: [][]float64{{0, 0, 0}}}
	if out, trimmed := TrimLeadingSilence(silent, threshold); trimmed != 0 || out.Frames() != 3 {
		t.Fatalf("expected all-silent buffer untouched, got %d trimmed", trimmed)
	}
}

func TestExtendedFloatRoundTrip(t *testing.T) {
	for _, rate := range []int{8000, 11025, 22050, 44100, 48000, 96000, 192000} {
		var b [10]byte
		encodeExtended(b[:], float64(rate))
		if got := decodeExtended(b[:]); got != float64(rate) {
			t.Fatalf("rate %d decoded as %v", rate, got)
		}
	}
	// 44100 Hz as written by common tools.
	known := []byte{0x40, 0x0E, 0xAC, 0x44, 0, 0, 0, 0, 0, 0}
	if got := decodeExtended(known); got != 44100 {
		t.Fatalf("expected 44100, got %v", got)
	}
}

func TestSniff(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		ok   bool
	}{
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVE"), true},
		{"aifc", []byte("FORM\x00\x00\x00\x00AIFC"), true},
		{"flac", []byte("fLaC\x00\x00\x00\x22\x00\x00\x00\x00"), false},
		{"mp3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00\x00\x00"), false},
		{"avi", []byte("RIFF\x00\x00\x00\x00AVI "), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sniff(tc.head)
			if (err == nil) != tc.ok {
				t.Fatalf("sniff(%q) error = %v", tc.head, err)
			}
		})
	}
}
