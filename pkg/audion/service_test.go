package audion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 16000

func quietLogger() Logger {
	return logger.New(logger.Config{Level: logger.ERROR, Output: io.Discard})
}

func newTestService(t *testing.T, opts ...Option) Service {
	t.Helper()
	dir := t.TempDir()
	base := []Option{
		WithDBPath(filepath.Join(dir, "runs.sqlite3")),
		WithTempDir(dir),
		WithLogger(quietLogger()),
		WithSpectrogramSize(120, 64),
		WithWorkers(2),
	}
	svc, err := NewService(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func toneFile(t *testing.T, name string, freq, amp float64, channels int) Clip {
	t.Helper()
	n := testRate / 2
	samples := make([]float64, 0, n*channels)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
		for c := 0; c < channels; c++ {
			samples = append(samples, v)
		}
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, audio.WriteWAVFile(path, samples, testRate, channels))
	return Clip{Path: path, Name: name}
}

func silentFile(t *testing.T, name string) Clip {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, audio.WriteWAVFile(path, make([]float64, 4096), testRate, 1))
	return Clip{Path: path, Name: name}
}

func TestMatchPairsMatchingTones(t *testing.T) {
	svc := newTestService(t)

	tests := []Clip{
		toneFile(t, "low_test.wav", 300, 0.5, 1),
		toneFile(t, "high_test.wav", 3000, 0.5, 2),
	}
	refs := []Clip{
		toneFile(t, "high_ref.wav", 3000, 0.2, 1),
		toneFile(t, "low_ref.wav", 300, 0.9, 1),
	}

	res, err := svc.Match(context.Background(), tests, refs, true)
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, "low_ref.wav", *res.Results[0].Match)
	assert.Equal(t, "high_ref.wav", *res.Results[1].Match)
	assert.Equal(t, 0, res.UnmatchedCount)
	assert.Greater(t, res.TotalScore, 1.8)
	assert.NotEmpty(t, res.Results[0].Spectrogram)

	require.Len(t, res.SimilarityMatrix, 2)
	assert.Greater(t, res.SimilarityMatrix[0][1], res.SimilarityMatrix[0][0])
	assert.Greater(t, res.SimilarityMatrix[1][0], res.SimilarityMatrix[1][1])

	require.NotEmpty(t, res.RunID)
	run, err := svc.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "match", run.Kind)
	assert.Len(t, run.Clips, 4)
	assert.NotContains(t, string(run.Payload), "data:image/png")
}

func TestMatchLeavesOneUnmatched(t *testing.T) {
	svc := newTestService(t, WithSpectrograms(false))

	tests := []Clip{
		toneFile(t, "a.wav", 300, 0.5, 1),
		toneFile(t, "b.wav", 3000, 0.5, 1),
		toneFile(t, "c.wav", 6000, 0.5, 1),
	}
	refs := []Clip{
		toneFile(t, "a_ref.wav", 300, 0.5, 1),
		toneFile(t, "b_ref.wav", 3000, 0.5, 1),
	}

	res, err := svc.Match(context.Background(), tests, refs, true)
	require.NoError(t, err)

	assert.Equal(t, 1, res.UnmatchedCount)
	assert.Equal(t, "a_ref.wav", *res.Results[0].Match)
	assert.Equal(t, "b_ref.wav", *res.Results[1].Match)
	assert.Nil(t, res.Results[2].Match)
	assert.Empty(t, res.Results[0].Spectrogram, "spectrograms are disabled in config")
}

func TestMatchValidation(t *testing.T) {
	svc := newTestService(t, WithHistory(false))
	a := toneFile(t, "a.wav", 300, 0.5, 1)

	_, err := svc.Match(context.Background(), nil, []Clip{a}, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Match(context.Background(), []Clip{a}, nil, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Match(context.Background(), []Clip{a, a, a}, []Clip{a}, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.True(t, IsClientError(err))

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageValidate, se.Stage)
}

func TestUnsupportedFormat(t *testing.T) {
	svc := newTestService(t, WithHistory(false), WithAllowedFormats("wav"))

	clip := toneFile(t, "a.wav", 300, 0.5, 1)
	clip.Name = "a.ogg"

	_, err := svc.Analyze(context.Background(), clip, false)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.True(t, IsClientError(err))
	assert.Equal(t, []string{"wav"}, svc.Formats())
}

func TestCompareDegenerateSignal(t *testing.T) {
	svc := newTestService(t, WithHistory(false))

	_, err := svc.Compare(context.Background(), silentFile(t, "silent.wav"), toneFile(t, "a.wav", 440, 0.5, 1))
	assert.ErrorIs(t, err, ErrDegenerateSignal)
	assert.False(t, IsClientError(err))

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageExtract, se.Stage)
	assert.Equal(t, "silent.wav", se.Clip)
}

func TestCompareSelf(t *testing.T) {
	svc := newTestService(t, WithCacheDir(filepath.Join(t.TempDir(), "cache")))
	a := toneFile(t, "a.wav", 440, 0.5, 1)

	for i := 0; i < 2; i++ {
		c, err := svc.Compare(context.Background(), a, a)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, c.Similarity.Total, 1e-9)
		assert.Equal(t, 1.0, c.Similarity.Confidence)
		assert.NotEmpty(t, c.RunID)
	}

	runs, err := svc.ListRuns("compare", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestDecodeErrorIsClientError(t *testing.T) {
	svc := newTestService(t, WithHistory(false), WithFFmpeg("definitely-not-ffmpeg"))

	clip := Clip{Path: filepath.Join(t.TempDir(), "missing.wav"), Name: "missing.wav"}
	_, err := svc.Analyze(context.Background(), clip, false)

	var de *DecodeError
	assert.True(t, errors.As(err, &de), "got %v", err)
	assert.True(t, IsClientError(err))
}

func TestAnalyze(t *testing.T) {
	svc := newTestService(t)

	a, err := svc.Analyze(context.Background(), toneFile(t, "stereo.wav", 1000, 0.5, 2), true)
	require.NoError(t, err)

	assert.Equal(t, "stereo.wav", a.Filename)
	assert.Equal(t, testRate, a.SampleRate)
	assert.Equal(t, 2, a.Channels)
	assert.InDelta(t, 0.5, a.Duration, 1e-9)
	assert.Greater(t, a.BandEnergies[2], 0.99)
	assert.InDelta(t, 1000, a.STFTFeatures.CentroidMean, 25)
	assert.Contains(t, a.Spectrogram, "data:image/png;base64,")

	run, err := svc.GetRun(a.RunID)
	require.NoError(t, err)

	var stored Analysis
	require.NoError(t, json.Unmarshal(run.Payload, &stored))
	assert.Equal(t, "stereo.wav", stored.Filename)
	assert.Empty(t, stored.Spectrogram)

	require.NoError(t, svc.DeleteRun(a.RunID))
	_, err = svc.GetRun(a.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestAnalyzeSilentClipIsAllowed(t *testing.T) {
	svc := newTestService(t, WithHistory(false))

	a, err := svc.Analyze(context.Background(), silentFile(t, "silent.wav"), false)
	require.NoError(t, err)
	assert.Equal(t, BandEnergies{}, a.BandEnergies)
	assert.Empty(t, a.RunID)
}

func TestHistoryDisabled(t *testing.T) {
	svc := newTestService(t, WithHistory(false))

	_, err := svc.ListRuns("", 0)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
	_, err = svc.GetRun("x")
	assert.ErrorIs(t, err, ErrHistoryDisabled)
	assert.ErrorIs(t, svc.DeleteRun("x"), ErrHistoryDisabled)
}

func TestProgressEvents(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}
	last := map[string]ProgressEvent{}

	svc := newTestService(t, WithHistory(false), WithProgress(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		counts[ev.Stage]++
		last[ev.Stage] = ev
	}))

	tests := []Clip{toneFile(t, "a.wav", 300, 0.5, 1), toneFile(t, "b.wav", 600, 0.5, 1)}
	refs := []Clip{toneFile(t, "c.wav", 300, 0.5, 1), toneFile(t, "d.wav", 600, 0.5, 1), toneFile(t, "e.wav", 900, 0.5, 1)}

	_, err := svc.Match(context.Background(), tests, refs, false)
	require.NoError(t, err)

	assert.Equal(t, 5, counts[ProgressProfile])
	assert.Equal(t, 6, counts[ProgressScore])
	assert.Equal(t, 6, last[ProgressScore].Done)
	assert.Equal(t, 6, last[ProgressScore].Total)
}

func TestMatchCancelled(t *testing.T) {
	svc := newTestService(t, WithHistory(false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := toneFile(t, "a.wav", 300, 0.5, 1)
	_, err := svc.Match(ctx, []Clip{a}, []Clip{a}, false)
	assert.ErrorIs(t, err, context.Canceled)
}
