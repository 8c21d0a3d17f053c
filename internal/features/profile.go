package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrDegenerateSignal is returned for a waveform that has no samples, holds
// non-finite values or has zero energy and so cannot be normalised.
var ErrDegenerateSignal = errors.New("degenerate signal: zero energy")

// Profile holds every descriptor the scorer needs for one clip.
type Profile struct {
	SampleRate   int           `json:"sample_rate"`
	BandEnergies BandEnergies  `json:"band_energies"`
	Stats        SpectralStats `json:"stft_features"`
	Magnitudes   []float64     `json:"-"`
}

// Normalize returns a copy of samples scaled to unit energy.
func Normalize(samples []float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty waveform", ErrDegenerateSignal)
	}
	energy := floats.Dot(samples, samples)
	if energy == 0 {
		return nil, ErrDegenerateSignal
	}
	if !isFinite(energy) {
		return nil, fmt.Errorf("%w: non-finite samples", ErrDegenerateSignal)
	}

	out := make([]float64, len(samples))
	copy(out, samples)
	floats.Scale(1/math.Sqrt(energy), out)
	return out, nil
}

// Extract computes band energies, spectral statistics and the magnitude
// spectrum of samples as given.
func Extract(samples []float64, sampleRate int) (Profile, error) {
	if sampleRate <= 0 {
		return Profile{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(samples) == 0 {
		return Profile{}, fmt.Errorf("%w: empty waveform", ErrDegenerateSignal)
	}

	energies, spec := ComputeBandEnergies(samples, sampleRate)
	return Profile{
		SampleRate:   sampleRate,
		BandEnergies: energies,
		Stats:        ComputeSpectralStats(samples, sampleRate),
		Magnitudes:   spec.Magnitudes,
	}, nil
}

// ExtractNormalized normalises samples to unit energy before extracting.
// Profiles compared by the similarity scorer must come from here.
func ExtractNormalized(samples []float64, sampleRate int) (Profile, error) {
	if sampleRate <= 0 {
		return Profile{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	norm, err := Normalize(samples)
	if err != nil {
		return Profile{}, err
	}
	return Extract(norm, sampleRate)
}
