// Package similarity scores how alike two clips sound from their feature
// profiles.
package similarity

import (
	"math"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/internal/features"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// BandWeights weight the band-energy differences, lowest band first.
var BandWeights = [features.NumBands]float64{0.35, 0.25, 0.20, 0.15, 0.05}

const (
	weightCentroidMean  = 0.4
	weightCentroidStd   = 0.2
	weightBandwidthMean = 0.3
	weightBandwidthStd  = 0.1

	weightEnergy    = 0.45
	weightSpectral  = 0.30
	weightFrequency = 0.25

	significance = 0.05
	dampening    = 0.8
)

// Result is the similarity breakdown for one pair of clips.
type Result struct {
	Total      float64 `json:"total"`
	Energy     float64 `json:"energy"`
	Spectral   float64 `json:"spectral"`
	Frequency  float64 `json:"frequency"`
	Confidence float64 `json:"confidence"`
	// PValue is the two-sided significance of the spectrum correlation.
	PValue float64 `json:"p_value"`
}

// ComputeSimilarity normalises both waveforms to unit energy, profiles them
// and compares the profiles. Either waveform having zero energy yields
// features.ErrDegenerateSignal.
func ComputeSimilarity(a, b *audio.Waveform) (Result, error) {
	if a == nil || b == nil {
		return Result{}, features.ErrDegenerateSignal
	}
	pa, err := features.ExtractNormalized(a.Samples, a.SampleRate)
	if err != nil {
		return Result{}, err
	}
	pb, err := features.ExtractNormalized(b.Samples, b.SampleRate)
	if err != nil {
		return Result{}, err
	}
	return Compare(pa, pb), nil
}

// Compare scores two profiles produced by features.ExtractNormalized.
func Compare(a, b features.Profile) Result {
	var r Result
	r.Energy = EnergySimilarity(a.BandEnergies, b.BandEnergies)
	r.Spectral = SpectralSimilarity(a.Stats, b.Stats)

	corr, p := Correlate(a.Magnitudes, b.Magnitudes)
	r.PValue = p
	r.Frequency = (corr + 1) / 2
	if math.IsNaN(corr) {
		r.Frequency = 0
	}
	if p > significance {
		r.Frequency *= dampening
	}

	r.Total = weightEnergy*r.Energy + weightSpectral*r.Spectral + weightFrequency*r.Frequency

	checks := []bool{
		r.Energy > 0.7,
		r.Spectral > 0.6,
		r.Frequency > 0.5,
		p < significance,
	}
	var passed int
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	r.Confidence = float64(passed) / float64(len(checks))
	if r.Confidence < 0.5 {
		r.Total *= dampening
	}
	return r
}

// EnergySimilarity is 1 minus the band-weighted absolute difference.
func EnergySimilarity(a, b features.BandEnergies) float64 {
	var diff float64
	for i := range a {
		diff += math.Abs(a[i]-b[i]) * BandWeights[i]
	}
	return 1 - diff
}

// SpectralSimilarity compares the four spectral statistics relative to the
// larger magnitude of each pair. A pair of zeros counts as identical.
func SpectralSimilarity(a, b features.SpectralStats) float64 {
	pairs := [...]struct {
		x, y, weight float64
	}{
		{a.CentroidMean, b.CentroidMean, weightCentroidMean},
		{a.CentroidStd, b.CentroidStd, weightCentroidStd},
		{a.BandwidthMean, b.BandwidthMean, weightBandwidthMean},
		{a.BandwidthStd, b.BandwidthStd, weightBandwidthStd},
	}

	var sum float64
	for _, p := range pairs {
		max := math.Max(math.Abs(p.x), math.Abs(p.y))
		if max > 0 {
			sum += (1 - math.Abs(p.x-p.y)/max) * p.weight
		} else {
			sum += p.weight
		}
	}
	return sum
}

// Correlate returns the Pearson correlation of x and y, truncated to the
// shorter length, and its two-sided p-value. When the correlation is
// undefined (fewer than two points or a constant input) it returns NaN and
// p = 1.
func Correlate(x, y []float64) (r, p float64) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < 2 {
		return math.NaN(), 1
	}
	x, y = x[:n], y[:n]
	if constant(x) || constant(y) {
		return math.NaN(), 1
	}

	r = stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return r, 1
	}
	r = math.Max(-1, math.Min(1, r))
	return r, pValue(r, n)
}

// pValue is the two-sided probability of a correlation at least as strong
// as r under the null hypothesis, from Student's t with n-2 degrees of
// freedom.
func pValue(r float64, n int) float64 {
	if n <= 2 {
		return 1
	}
	if math.Abs(r) == 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/((1-r)*(1+r)))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return math.Min(1, 2*dist.Survival(math.Abs(t)))
}

func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}
