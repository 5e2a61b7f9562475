package audio

import (
	"math"
)

// Resample converts buf to rate with a Blackman-windowed sinc kernel of
// taps zero crossings per side, band-limited to the lower Nyquist. The
// result has round(frames*rate/src) frames.
func Resample(buf *Buffer, rate, taps int) *Buffer {
	if buf.SampleRate == rate || buf.Frames() == 0 {
		out := *buf
		out.SampleRate = rate
		return &out
	}
	if taps <= 0 {
		taps = 32
	}
	inFrames := buf.Frames()
	ratio := float64(rate) / float64(buf.SampleRate)
	outFrames := int(math.Round(float64(inFrames) * ratio))
	cutoff := math.Min(1, ratio)
	half := float64(taps) / cutoff
	step := 1 / ratio

	out := newBuffer(rate, len(buf.Channels), outFrames)
	weights := make([]float64, 0, int(2*half)+2)
	for n := 0; n < outFrames; n++ {
		t := float64(n) * step
		lo := int(math.Ceil(t - half))
		hi := int(math.Floor(t + half))
		weights = weights[:0]
		var sum float64
		for k := lo; k <= hi; k++ {
			x := t - float64(k)
			w := cutoff * sinc(cutoff*x) * blackman(x/half)
			weights = append(weights, w)
			sum += w
		}
		if sum == 0 {
			sum = 1
		}
		for c, in := range buf.Channels {
			var acc float64
			for i, w := range weights {
				k := lo + i
				if k < 0 || k >= inFrames {
					continue
				}
				acc += in[k] * w
			}
			out.Channels[c][n] = acc / sum
		}
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackman evaluates the window on u in [-1, 1].
func blackman(u float64) float64 {
	if u <= -1 || u >= 1 {
		return 0
	}
	return 0.42 + 0.5*math.Cos(math.Pi*u) + 0.08*math.Cos(2*math.Pi*u)
}

// Downmix averages every channel into one. Each input channel contributes
// with weight 1/channels.
func Downmix(buf *Buffer) *Buffer {
	if len(buf.Channels) <= 1 {
		return buf
	}
	frames := buf.Frames()
	out := newBuffer(buf.SampleRate, 1, frames)
	scale := 1 / float64(len(buf.Channels))
	mono := out.Channels[0]
	for _, ch := range buf.Channels {
		for i, v := range ch {
			mono[i] += v
		}
	}
	for i := range mono {
		mono[i] *= scale
	}
	return out
}

// Requantize snaps samples onto the grid of the given integer depth,
// rounding half away from zero and clamping to the representable range.
func Requantize(buf *Buffer, bits int) {
	q := newQuantizer(bits, 0)
	for _, ch := range buf.Channels {
		for i, v := range ch {
			ch[i] = float64(q.quantize(v)) / q.scale
		}
	}
}

// DBToLinear converts dBFS to a linear amplitude.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// TrimLeadingSilence drops frames before the first frame in which any
// channel reaches threshold (linear). Interior and trailing quiet passages
// are kept. A buffer that never reaches the threshold is left unchanged.
func TrimLeadingSilence(buf *Buffer, threshold float64) (*Buffer, int) {
	frames := buf.Frames()
	first := frames
	for _, ch := range buf.Channels {
		for i := 0; i < first; i++ {
			if math.Abs(ch[i]) >= threshold {
				first = i
				break
			}
		}
	}
	if first == 0 || first == frames {
		return buf, 0
	}
	out := &Buffer{SampleRate: buf.SampleRate, Channels: make([][]float64, len(buf.Channels))}
	for c, ch := range buf.Channels {
		out.Channels[c] = ch[first:]
	}
	return out, first
}

// Peak returns the largest absolute sample value.
func Peak(buf *Buffer) float64 {
	var peak float64
	for _, ch := range buf.Channels {
		for _, v := range ch {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}
	return peak
}

// Normalize applies one positive gain to every sample so the peak lands on
// ceiling (linear). Silent buffers are returned untouched. The returned
// gain is 1 when nothing changed.
func Normalize(buf *Buffer, ceiling float64) float64 {
	peak := Peak(buf)
	if peak == 0 || ceiling <= 0 {
		return 1
	}
	gain := ceiling / peak
	for _, ch := range buf.Channels {
		for i := range ch {
			ch[i] *= gain
		}
	}
	return gain
}
