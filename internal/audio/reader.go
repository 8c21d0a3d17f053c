package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

var (
	errNotWAV         = errors.New("not a WAV/RIFF file")
	errNeedsTranscode = errors.New("WAV encoding not readable natively")
	errNoSamples      = errors.New("no audio samples")
)

// Waveform is a decoded single-channel signal. Samples are in [-1, 1].
type Waveform struct {
	Samples    []float64
	SampleRate int
	// Channels is the channel count of the source before downmixing.
	Channels int
}

// Duration returns the length of the waveform in seconds.
func (w *Waveform) Duration() float64 {
	if w == nil || w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// DecodeError reports a file that could not be read as audio.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s as audio: %v", filepath.Base(e.Path), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Loader turns encoded audio files into mono waveforms. WAV files with 16, 24
// or 32-bit integer PCM are decoded in-process; anything else is transcoded to
// PCM WAV by ffmpeg first, keeping the native sample rate and channel layout.
type Loader struct {
	TempDir   string
	FFmpegBin string
}

func NewLoader(tempDir string) *Loader {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Loader{TempDir: tempDir, FFmpegBin: "ffmpeg"}
}

// Load decodes the file at path. Every failure is a *DecodeError except
// context cancellation, which is returned as is.
func (l *Loader) Load(ctx context.Context, path string) (*Waveform, error) {
	w, err := ReadWavAsMono(path)
	if err == nil {
		return w, nil
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, errNoSamples) {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if !errors.Is(err, errNotWAV) && !errors.Is(err, errNeedsTranscode) {
		return nil, &DecodeError{Path: path, Err: err}
	}

	converted, convErr := ConvertToWAV(ctx, path, l.TempDir, ConvertWAVConfig{FFmpegBin: l.FFmpegBin})
	if convErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DecodeError{Path: path, Err: convErr}
	}
	defer os.Remove(converted)

	w, err = ReadWavAsMono(converted)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return w, nil
}

// ReadWavAsMono reads an integer PCM WAV file and averages its channels into
// a mono waveform normalised to [-1, 1].
func ReadWavAsMono(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return DecodeWav(f)
}

// DecodeWav is ReadWavAsMono over an already opened stream.
func DecodeWav(r io.ReadSeeker) (*Waveform, error) {
	if !hasRIFFHeader(r) {
		return nil, errNotWAV
	}

	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errNotWAV
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: audio format %d", errNeedsTranscode, dec.WavAudioFormat)
	}
	switch dec.BitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", errNeedsTranscode, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, errNoSamples
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = int(dec.NumChans)
	}
	if channels <= 0 {
		return nil, errors.New("invalid channel count 0")
	}
	sampleRate := buf.Format.SampleRate
	if sampleRate <= 0 {
		sampleRate = int(dec.SampleRate)
	}
	if sampleRate <= 0 {
		return nil, errors.New("invalid sample rate 0")
	}

	scale := 1.0 / float64(int64(1)<<(uint(dec.BitDepth)-1))
	samples := downmix(buf.Data, channels, scale)
	if len(samples) == 0 {
		return nil, errNoSamples
	}

	return &Waveform{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// hasRIFFHeader peeks at the first 12 bytes and rewinds.
func hasRIFFHeader(r io.ReadSeeker) bool {
	var hdr [12]byte
	_, err := io.ReadFull(r, hdr[:])
	if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil {
		return false
	}
	if err != nil {
		return false
	}
	return string(hdr[0:4]) == "RIFF" && string(hdr[8:12]) == "WAVE"
}

// downmix converts interleaved integer samples to mono float64 by averaging
// the channels of each frame. A trailing partial frame is dropped.
func downmix(data []int, channels int, scale float64) []float64 {
	if channels == 1 {
		out := make([]float64, len(data))
		for i, s := range data {
			out[i] = float64(s) * scale
		}
		return out
	}

	frames := len(data) / channels
	out := make([]float64, frames)
	inv := 1.0 / float64(channels)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c])
		}
		out[i] = sum * scale * inv
	}
	return out
}

// IsWAVName reports whether the file name carries a .wav extension.
func IsWAVName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".wav")
}
