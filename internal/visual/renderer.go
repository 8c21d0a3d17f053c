// Package visual renders spectrogram images of waveforms.
package visual

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	"github.com/eligwz/spectrogram"
)

const (
	DefaultWidth  = 1000
	DefaultHeight = 600

	dataURLPrefix = "data:image/png;base64,"
)

type Renderer struct {
	width  int
	height int
}

// NewRenderer returns a renderer producing width x height images with one
// frequency bin per row. Non-positive sizes fall back to the defaults.
func NewRenderer(width, height int) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Renderer{width: width, height: height}
}

// Render draws the magnitude spectrogram of samples on a black background.
func (r *Renderer) Render(samples []float64, sampleRate int) (img *spectrogram.Image128, err error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to render")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	img = spectrogram.NewImage128(image.Rect(0, 0, r.width, r.height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Drawfft has no error return.
	defer func() {
		if rec := recover(); rec != nil {
			img, err = nil, fmt.Errorf("rendering spectrogram: %v", rec)
		}
	}()

	spectrogram.Drawfft(
		img,
		samples,
		uint32(sampleRate),
		uint32(r.height),
		false, // Hamming window
		false, // FFT
		true,  // magnitude
		false, // linear scale
	)
	return img, nil
}

// PNG renders samples and encodes the image.
func (r *Renderer) PNG(samples []float64, sampleRate int) ([]byte, error) {
	img, err := r.Render(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL renders samples as a base64 PNG data URL.
func (r *Renderer) DataURL(samples []float64, sampleRate int) (string, error) {
	b, err := r.PNG(samples, sampleRate)
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(b), nil
}

// WriteFile saves the rendered PNG at path.
func (r *Renderer) WriteFile(path string, samples []float64, sampleRate int) error {
	b, err := r.PNG(samples, sampleRate)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// DecodeDataURL returns the PNG bytes carried by a data URL from DataURL.
func DecodeDataURL(url string) ([]byte, error) {
	if len(url) < len(dataURLPrefix) || url[:len(dataURLPrefix)] != dataURLPrefix {
		return nil, fmt.Errorf("not a PNG data URL")
	}
	return base64.StdEncoding.DecodeString(url[len(dataURLPrefix):])
}
