package audio

import (
	"context"
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	DefaultWindowSize = 1024
	DefaultHopSize    = 512

	rolloffPercent = 0.85
)

// Extractor decodes audio files and computes acoustic summary features.
type Extractor struct {
	Decoder    Decoder
	WindowSize int
	HopSize    int
}

// Extract returns the record metadata and feature map for path. On error the
// record still carries the path and format.
func (e Extractor) Extract(ctx context.Context, path string) (Record, map[string]float64, error) {
	rec := NewRecord(path)
	clip, err := e.Decoder.Decode(ctx, path)
	if err != nil {
		return rec, nil, err
	}
	rec.Duration = clip.Duration()
	rec.SampleRate = clip.SampleRate
	rec.Channels = clip.Channels

	features, err := e.Features(clip)
	if err != nil {
		return rec, nil, err
	}
	return rec, features, nil
}

// Features computes duration, energy and spectral shape statistics of clip.
func (e Extractor) Features(clip *Clip) (map[string]float64, error) {
	if clip == nil || len(clip.Samples) == 0 {
		return nil, errors.New("clip has no samples")
	}
	if clip.SampleRate <= 0 {
		return nil, errors.New("clip has no sample rate")
	}
	windowSize := e.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	hopSize := e.HopSize
	if hopSize <= 0 {
		hopSize = DefaultHopSize
	}

	features := map[string]float64{
		"duration":           clip.Duration().Seconds(),
		"rms":                rms(clip.Samples),
		"zero_crossing_rate": zeroCrossingRate(clip.Samples),
	}

	frames := stft(clip.Samples, windowSize, hopSize, hamming(windowSize))
	binHz := float64(clip.SampleRate) / float64(windowSize)

	var centroidSum, bandwidthSum, rolloffSum float64
	var counted int
	for _, mag := range frames {
		var total, weighted float64
		for i, m := range mag {
			total += m
			weighted += m * float64(i) * binHz
		}
		if total == 0 {
			continue
		}
		centroid := weighted / total

		var spread float64
		for i, m := range mag {
			d := float64(i)*binHz - centroid
			spread += m * d * d
		}

		threshold := rolloffPercent * total
		var cumulative float64
		rolloff := float64(len(mag)-1) * binHz
		for i, m := range mag {
			cumulative += m
			if cumulative >= threshold {
				rolloff = float64(i) * binHz
				break
			}
		}

		centroidSum += centroid
		bandwidthSum += math.Sqrt(spread / total)
		rolloffSum += rolloff
		counted++
	}
	if counted > 0 {
		features["spectral_centroid"] = centroidSum / float64(counted)
		features["spectral_bandwidth"] = bandwidthSum / float64(counted)
		features["spectral_rolloff"] = rolloffSum / float64(counted)
	} else {
		features["spectral_centroid"] = 0
		features["spectral_bandwidth"] = 0
		features["spectral_rolloff"] = 0
	}
	return features, nil
}

func hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// stft returns the magnitude spectrum of each windowed frame. Input shorter
// than one window yields a single zero-padded frame.
func stft(samples []float64, windowSize, hopSize int, window []float64) [][]float64 {
	var spectrogram [][]float64
	for start := 0; start == 0 || start+windowSize <= len(samples); start += hopSize {
		frame := make([]float64, windowSize)
		copy(frame, samples[start:min(start+windowSize, len(samples))])
		for i := range frame {
			frame[i] *= window[i]
		}
		spectrogram = append(spectrogram, magnitude(fft.FFTReal(frame)))
	}
	return spectrogram
}

func magnitude(spectrum []complex128) []float64 {
	half := len(spectrum)/2 + 1
	mag := make([]float64, half)
	for i := 0; i < half; i++ {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	return mag
}

func rms(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
