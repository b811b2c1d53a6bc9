package audio

import "math"

// levelFloorDB is the quietest level that still registers on the meter.
const levelFloorDB = 50.0

// SampleBuffer accumulates mono samples at the native capture rate for one
// recording. It is single-writer; the owner serialises access.
type SampleBuffer struct {
	samples []float32
}

func NewSampleBuffer(capacity int) *SampleBuffer {
	return &SampleBuffer{samples: make([]float32, 0, capacity)}
}

// Append adds a batch, down-mixing interleaved multi-channel frames to mono
// by averaging.
func (b *SampleBuffer) Append(batch FrameBatch) {
	ch := int(batch.Channels)
	if ch <= 1 {
		b.samples = append(b.samples, batch.Samples...)
		return
	}
	frames := len(batch.Samples) / ch
	for i := range frames {
		var sum float32
		for c := range ch {
			sum += batch.Samples[i*ch+c]
		}
		b.samples = append(b.samples, sum/float32(ch))
	}
}

func (b *SampleBuffer) Len() int { return len(b.samples) }

// Reset discards buffered samples and re-reserves capacity.
func (b *SampleBuffer) Reset(capacity int) {
	if cap(b.samples) >= capacity {
		b.samples = b.samples[:0]
		return
	}
	b.samples = make([]float32, 0, capacity)
}

// DrainResampled consumes every buffered sample and returns them resampled
// from nativeRate to targetRate. The buffer is empty afterwards.
func (b *SampleBuffer) DrainResampled(nativeRate, targetRate uint32) []float32 {
	out := Resample(b.samples, nativeRate, targetRate)
	b.samples = nil
	return out
}

// Resample converts samples between rates by linear interpolation. Output
// length is floor(len(samples) * to / from). Equal rates return a copy.
func Resample(samples []float32, from, to uint32) []float32 {
	if len(samples) == 0 {
		return []float32{}
	}
	if from == to || from == 0 || to == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, 0, n)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		switch {
		case idx+1 < len(samples):
			out = append(out, samples[idx]*(1-frac)+samples[idx+1]*frac)
		case idx < len(samples):
			out = append(out, samples[idx])
		}
	}
	return out
}

// Level maps the RMS of samples to a 0..1 meter value: 20*log10(rms) dBFS,
// shifted by 50 dB and scaled, clamped to [0, 1].
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	return min(1, max(0, (db+levelFloorDB)/levelFloorDB))
}

// toPCM16 clamps to [-1, 1] and scales by 32767, truncating toward zero.
func toPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * math.MaxInt16)
}
