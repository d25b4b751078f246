package audioconv

import (
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func toMono16k(pcm []float32, channels, rate int) []float32 {
	if rate <= 0 {
		rate = 44100
	}
	return Resample(Downmix(pcm, channels), rate, SampleRate)
}

func truncate(pcm []float32, max int) []float32 {
	if max > 0 && len(pcm) > max {
		return pcm[:max]
	}
	return pcm
}

func intsToFloat(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1, 1))
	}
	return out
}

func int16sToFloat(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between rates by linear interpolation.
func Resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	ratio := float64(to) / float64(from)
	out := make([]float32, int(math.Ceil(float64(len(in))*ratio)))
	last := len(in) - 1
	for i := range out {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}

func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var s float64
	for _, x := range frame {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(frame)))
}

// EncodeWAV writes mono float PCM as 16-bit WAV.
func EncodeWAV(w io.WriteSeeker, pcm []float32, rate int) error {
	data := make([]int, len(pcm))
	for i, x := range pcm {
		data[i] = int(clamp(float64(x), -1, 1) * 32767)
	}

	enc := wav.NewEncoder(w, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
