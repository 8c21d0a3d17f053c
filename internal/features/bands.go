package features

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

// Band is an inclusive frequency range in Hz.
type Band struct {
	Low  float64
	High float64
}

// NumBands is the length of a band-energy vector.
const NumBands = 5

// Bands are the analysis bands, lowest first.
var Bands = [NumBands]Band{
	{20, 200},
	{200, 500},
	{500, 2000},
	{2000, 4000},
	{4000, 8000},
}

// BandEnergies is the share of spectral energy per entry of Bands. It sums
// to 1 unless the signal has no energy inside any band, in which case every
// entry is 0.
type BandEnergies [NumBands]float64

func (e BandEnergies) Sum() float64 { return floats.Sum(e[:]) }

// Spectrum is the non-negative half of a signal's DFT.
type Spectrum struct {
	Freqs      []float64
	Magnitudes []float64
}

// ComputeSpectrum runs a DFT over the whole signal and keeps the bins with
// non-negative frequency: (n+1)/2 of them, bin k at k*sampleRate/n Hz.
func ComputeSpectrum(samples []float64, sampleRate int) Spectrum {
	n := len(samples)
	if n == 0 {
		return Spectrum{}
	}

	coeffs := fft.FFTReal(samples)
	half := (n + 1) / 2

	spec := Spectrum{
		Freqs:      make([]float64, half),
		Magnitudes: make([]float64, half),
	}
	step := float64(sampleRate) / float64(n)
	for k := 0; k < half; k++ {
		spec.Freqs[k] = float64(k) * step
		spec.Magnitudes[k] = cmplx.Abs(coeffs[k])
	}
	return spec
}

// Energies sums squared magnitudes per band and normalises the result.
func (s Spectrum) Energies() BandEnergies {
	var e BandEnergies
	for k, f := range s.Freqs {
		m := s.Magnitudes[k]
		for b, band := range Bands {
			if f >= band.Low && f <= band.High {
				e[b] += m * m
			}
		}
	}

	if total := e.Sum(); total > 0 {
		floats.Scale(1/total, e[:])
	}
	return e
}

// ComputeBandEnergies returns the band-energy vector of samples together
// with the spectrum it was derived from.
func ComputeBandEnergies(samples []float64, sampleRate int) (BandEnergies, Spectrum) {
	spec := ComputeSpectrum(samples, sampleRate)
	return spec.Energies(), spec
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
