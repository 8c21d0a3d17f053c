package similarity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noiseWave(seed int64, n, rate int) *audio.Waveform {
	r := rand.New(rand.NewSource(seed))
	s := make([]float64, n)
	for i := range s {
		s[i] = r.Float64()*2 - 1
	}
	return &audio.Waveform{Samples: s, SampleRate: rate, Channels: 1}
}

func toneWave(freq float64, n, rate int) *audio.Waveform {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
	}
	return &audio.Waveform{Samples: s, SampleRate: rate, Channels: 1}
}

func TestSelfSimilarity(t *testing.T) {
	for name, w := range map[string]*audio.Waveform{
		"noise": noiseWave(1, 8000, 16000),
		"tone":  toneWave(440, 8000, 16000),
	} {
		r, err := ComputeSimilarity(w, w)
		require.NoError(t, err, name)

		assert.InDelta(t, 1.0, r.Total, 1e-9, name)
		assert.InDelta(t, 1.0, r.Energy, 1e-12, name)
		assert.InDelta(t, 1.0, r.Spectral, 1e-12, name)
		assert.InDelta(t, 1.0, r.Frequency, 1e-9, name)
		assert.Equal(t, 1.0, r.Confidence, name)
		assert.Less(t, r.PValue, 0.05, name)
	}
}

func TestSymmetry(t *testing.T) {
	a := noiseWave(2, 6000, 16000)
	b := toneWave(1500, 9000, 16000)

	ab, err := ComputeSimilarity(a, b)
	require.NoError(t, err)
	ba, err := ComputeSimilarity(b, a)
	require.NoError(t, err)

	assert.InDelta(t, ab.Energy, ba.Energy, 1e-12)
	assert.InDelta(t, ab.Spectral, ba.Spectral, 1e-12)
	assert.InDelta(t, ab.Frequency, ba.Frequency, 1e-9)
	assert.Equal(t, ab.Confidence, ba.Confidence)
	assert.InDelta(t, ab.Total, ba.Total, 1e-9)
}

func TestDissimilarClipsScoreLower(t *testing.T) {
	low := toneWave(150, 16000, 16000)
	low2 := toneWave(160, 16000, 16000)
	high := toneWave(5000, 16000, 16000)

	near, err := ComputeSimilarity(low, low2)
	require.NoError(t, err)
	far, err := ComputeSimilarity(low, high)
	require.NoError(t, err)

	assert.Greater(t, near.Total, far.Total)
	assert.Greater(t, near.Energy, far.Energy)
}

func TestZeroEnergyIsDegenerate(t *testing.T) {
	silent := &audio.Waveform{Samples: make([]float64, 2048), SampleRate: 8000}
	_, err := ComputeSimilarity(silent, noiseWave(3, 2048, 8000))
	assert.ErrorIs(t, err, features.ErrDegenerateSignal)

	_, err = ComputeSimilarity(nil, silent)
	assert.ErrorIs(t, err, features.ErrDegenerateSignal)
}

func TestConstantSpectrumHasNoFrequencyEvidence(t *testing.T) {
	// A unit impulse has a flat magnitude spectrum.
	impulse := make([]float64, 4096)
	impulse[0] = 1
	w := &audio.Waveform{Samples: impulse, SampleRate: 8000}

	r, err := ComputeSimilarity(w, noiseWave(4, 4096, 8000))
	require.NoError(t, err)

	assert.Equal(t, 0.0, r.Frequency)
	assert.Equal(t, 1.0, r.PValue)
	assert.False(t, math.IsNaN(r.Total))
}

func TestEnergySimilarity(t *testing.T) {
	a := features.BandEnergies{1, 0, 0, 0, 0}
	b := features.BandEnergies{0, 0, 0, 0, 1}
	assert.InDelta(t, 1-0.35-0.05, EnergySimilarity(a, b), 1e-12)
	assert.Equal(t, 1.0, EnergySimilarity(a, a))
}

func TestSpectralSimilarity(t *testing.T) {
	a := features.SpectralStats{CentroidMean: 1000, CentroidStd: 0, BandwidthMean: 200, BandwidthStd: 50}
	b := features.SpectralStats{CentroidMean: 500, CentroidStd: 0, BandwidthMean: 200, BandwidthStd: 0}

	// centroid mean 0.4*0.5, centroid std both zero 0.2, bandwidth mean 0.3, bandwidth std 0
	assert.InDelta(t, 0.2+0.2+0.3, SpectralSimilarity(a, b), 1e-12)
}

func TestCorrelate(t *testing.T) {
	r, p := Correlate([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 6, 8, 10, 99})
	assert.InDelta(t, 1.0, r, 1e-12)
	assert.Less(t, p, 1e-6)

	r, p = Correlate([]float64{1, 2}, []float64{2, 1})
	assert.InDelta(t, -1.0, r, 1e-12)
	assert.Equal(t, 1.0, p)

	r, p = Correlate([]float64{1}, []float64{1})
	assert.True(t, math.IsNaN(r))
	assert.Equal(t, 1.0, p)
}

func TestPValueMatchesStudentT(t *testing.T) {
	// r = 0.5 over 10 points: t = 1.633 with 8 degrees of freedom.
	assert.InDelta(t, 0.1411, pValue(0.5, 10), 2e-3)
	assert.Equal(t, 0.0, pValue(1, 10))
	assert.Equal(t, 1.0, pValue(0.3, 2))
}

func TestLowConfidenceDampensTotal(t *testing.T) {
	a := features.Profile{
		BandEnergies: features.BandEnergies{1, 0, 0, 0, 0},
		Stats:        features.SpectralStats{CentroidMean: 100, BandwidthMean: 10},
		Magnitudes:   []float64{1, 1, 1},
	}
	b := features.Profile{
		BandEnergies: features.BandEnergies{0, 0, 0, 0, 1},
		Stats:        features.SpectralStats{CentroidMean: 6000, BandwidthMean: 900},
		Magnitudes:   []float64{1, 2, 3},
	}
	r := Compare(a, b)

	assert.Equal(t, 0.0, r.Confidence)
	undamped := 0.45*r.Energy + 0.30*r.Spectral + 0.25*r.Frequency
	assert.InDelta(t, undamped*0.8, r.Total, 1e-12)
}
