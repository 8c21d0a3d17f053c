package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sine(freq float64, sampleRate, n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func writeTestWAV(t *testing.T, name string, samples []float64, sampleRate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := WriteWAVFile(path, samples, sampleRate, channels); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	return path
}

func TestReadWavAsMono(t *testing.T) {
	samples := sine(440, 8000, 8000, 0.5)
	path := writeTestWAV(t, "tone.wav", samples, 8000, 1)

	w, err := ReadWavAsMono(path)
	if err != nil {
		t.Fatalf("ReadWavAsMono: %v", err)
	}
	if w.SampleRate != 8000 {
		t.Errorf("sample rate = %d, want 8000", w.SampleRate)
	}
	if w.Channels != 1 {
		t.Errorf("channels = %d, want 1", w.Channels)
	}
	if len(w.Samples) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(w.Samples), len(samples))
	}
	for i := range samples {
		if math.Abs(w.Samples[i]-samples[i]) > 1e-3 {
			t.Fatalf("sample %d = %f, want %f", i, w.Samples[i], samples[i])
		}
	}
	if d := w.Duration(); math.Abs(d-1.0) > 1e-9 {
		t.Errorf("duration = %f, want 1.0", d)
	}
}

func TestReadWavStereoIsAveraged(t *testing.T) {
	// left = 0.5, right = -0.25 in every frame
	frames := 100
	interleaved := make([]float64, 0, frames*2)
	for i := 0; i < frames; i++ {
		interleaved = append(interleaved, 0.5, -0.25)
	}
	path := writeTestWAV(t, "stereo.wav", interleaved, 22050, 2)

	w, err := ReadWavAsMono(path)
	if err != nil {
		t.Fatalf("ReadWavAsMono: %v", err)
	}
	if w.Channels != 2 {
		t.Errorf("channels = %d, want 2", w.Channels)
	}
	if len(w.Samples) != frames {
		t.Fatalf("got %d samples, want %d", len(w.Samples), frames)
	}
	for i, s := range w.Samples {
		if math.Abs(s-0.125) > 1e-3 {
			t.Fatalf("sample %d = %f, want 0.125", i, s)
		}
	}
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		data     []int
		channels int
		want     []float64
	}{
		{"mono", []int{2, -4}, 1, []float64{1, -2}},
		{"stereo", []int{2, 4, -2, -6}, 2, []float64{1.5, -2}},
		{"partial frame dropped", []int{2, 4, 6}, 2, []float64{1.5}},
		{"three channels", []int{3, 3, 6}, 3, []float64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := downmix(tt.data, tt.channels, 0.5)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-12 {
					t.Errorf("[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeWavRejectsNonRIFF(t *testing.T) {
	_, err := DecodeWav(bytes.NewReader([]byte("INVALID HEADER DATA")))
	if !errors.Is(err, errNotWAV) {
		t.Errorf("expected errNotWAV, got %v", err)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	l := NewLoader(t.TempDir())
	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T %v", err, err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestLoaderGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.mp3")
	if err := os.WriteFile(path, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(t.TempDir())
	_, err := l.Load(context.Background(), path)

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T %v", err, err)
	}
	if de.Path != path {
		t.Errorf("DecodeError.Path = %q, want %q", de.Path, path)
	}
}

func TestLoaderTranscodesWithFFmpeg(t *testing.T) {
	if !FFmpegAvailable("") {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	src := writeTestWAV(t, "src.wav", sine(1000, 16000, 16000, 0.3), 16000, 1)

	// Same bytes under another name still go through the WAV fast path, so
	// transcode explicitly and check the loader reads the result.
	out, err := ConvertToWAV(context.Background(), src, dir, ConvertWAVConfig{})
	if err != nil {
		t.Fatalf("ConvertToWAV: %v", err)
	}
	w, err := NewLoader(dir).Load(context.Background(), out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w.SampleRate != 16000 || len(w.Samples) != 16000 {
		t.Errorf("got rate %d len %d, want 16000/16000", w.SampleRate, len(w.Samples))
	}
}

func TestFormatPolicy(t *testing.T) {
	p := NewFormatPolicy([]string{".WAV", "mp3", " flac ", "mp3", ""})

	if got := p.Formats(); len(got) != 3 || got[0] != "wav" || got[1] != "mp3" || got[2] != "flac" {
		t.Errorf("Formats() = %v", got)
	}
	if !p.Allowed("clip.Wav") {
		t.Error("clip.Wav should be allowed")
	}
	if err := p.Check("clip.ogg"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Check(clip.ogg) = %v, want ErrUnsupportedFormat", err)
	}
	if err := p.Check("noext"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Check(noext) = %v, want ErrUnsupportedFormat", err)
	}

	def := NewFormatPolicy(nil)
	if len(def.Formats()) != len(DefaultFormats) {
		t.Errorf("default policy = %v", def.Formats())
	}
}

func TestParseFormats(t *testing.T) {
	got := ParseFormats("wav, mp3,,flac ")
	want := []string{"wav", "mp3", "flac"}
	if len(got) != len(want) {
		t.Fatalf("ParseFormats = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
