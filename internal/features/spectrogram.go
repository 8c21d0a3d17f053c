package features

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	SegmentLength  = 1024
	SegmentOverlap = 512

	tukeyAlpha = 0.25
	epsilon    = 1e-10
)

// Spectrogram is a one-sided power spectral density per frame.
type Spectrogram struct {
	Freqs []float64
	Times []float64
	// Power is indexed [frame][bin].
	Power [][]float64
}

// SpectralStats summarise per-frame centroid and bandwidth over time.
type SpectralStats struct {
	CentroidMean  float64 `json:"centroid_mean"`
	CentroidStd   float64 `json:"centroid_std"`
	BandwidthMean float64 `json:"bandwidth_mean"`
	BandwidthStd  float64 `json:"bandwidth_std"`
}

// ComputeSpectrogram splits samples into Tukey-windowed segments of
// SegmentLength with SegmentOverlap, removes each segment's mean and returns
// density-scaled one-sided power. Signals shorter than SegmentLength are
// analysed as a single segment spanning the whole signal.
func ComputeSpectrogram(samples []float64, sampleRate int) Spectrogram {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return Spectrogram{}
	}

	nperseg := SegmentLength
	step := SegmentLength - SegmentOverlap
	frames := 0
	if n < nperseg {
		nperseg = n
		frames = 1
	} else {
		frames = (n-nperseg)/step + 1
	}

	window := tukeyWindow(nperseg, tukeyAlpha)
	scale := 1 / (float64(sampleRate) * floats.Dot(window, window))
	if math.IsInf(scale, 0) {
		scale = 0
	}

	bins := nperseg/2 + 1
	fs := float64(sampleRate)
	sg := Spectrogram{
		Freqs: make([]float64, bins),
		Times: make([]float64, frames),
		Power: make([][]float64, frames),
	}
	for k := range sg.Freqs {
		sg.Freqs[k] = float64(k) * fs / float64(nperseg)
	}

	plan := fourier.NewFFT(nperseg)
	seg := make([]float64, nperseg)
	coeffs := make([]complex128, bins)

	for i := 0; i < frames; i++ {
		start := i * step
		copy(seg, samples[start:start+nperseg])
		mean := floats.Sum(seg) / float64(nperseg)
		for j := range seg {
			seg[j] = (seg[j] - mean) * window[j]
		}

		coeffs = plan.Coefficients(coeffs, seg)

		row := make([]float64, bins)
		for k, c := range coeffs {
			p := (real(c)*real(c) + imag(c)*imag(c)) * scale
			if k > 0 && (nperseg%2 == 1 || k < bins-1) {
				p *= 2
			}
			row[k] = p
		}
		sg.Power[i] = row
		sg.Times[i] = (float64(nperseg)/2 + float64(start)) / fs
	}
	return sg
}

// Stats computes the energy-weighted centroid and bandwidth of every frame
// and returns their population mean and standard deviation.
func (sg Spectrogram) Stats() SpectralStats {
	if len(sg.Power) == 0 {
		return SpectralStats{}
	}

	centroids := make([]float64, len(sg.Power))
	bandwidths := make([]float64, len(sg.Power))
	for i, row := range sg.Power {
		total := floats.Sum(row) + epsilon
		c := floats.Dot(sg.Freqs, row) / total

		var spread float64
		for k, p := range row {
			d := sg.Freqs[k] - c
			spread += d * d * p
		}
		centroids[i] = c
		bandwidths[i] = math.Sqrt(spread / total)
	}

	var st SpectralStats
	st.CentroidMean, st.CentroidStd = stat.PopMeanStdDev(centroids, nil)
	st.BandwidthMean, st.BandwidthStd = stat.PopMeanStdDev(bandwidths, nil)
	return st
}

// ComputeSpectralStats is ComputeSpectrogram followed by Stats.
func ComputeSpectralStats(samples []float64, sampleRate int) SpectralStats {
	return ComputeSpectrogram(samples, sampleRate).Stats()
}

// tukeyWindow returns a periodic Tukey window: the symmetric window of
// length n+1 with its last point dropped.
func tukeyWindow(n int, alpha float64) []float64 {
	m := n + 1
	full := make([]float64, m)
	width := int(math.Floor(alpha * float64(m-1) / 2))
	for i := range full {
		x := float64(i)
		switch {
		case i <= width:
			full[i] = 0.5 * (1 + math.Cos(math.Pi*(-1+2*x/alpha/float64(m-1))))
		case i >= m-width-1:
			full[i] = 0.5 * (1 + math.Cos(math.Pi*(-2/alpha+1+2*x/alpha/float64(m-1))))
		default:
			full[i] = 1
		}
	}
	return full[:n]
}
