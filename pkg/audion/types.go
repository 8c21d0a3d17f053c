package audion

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/himanishpuri/audion/internal/features"
	"github.com/himanishpuri/audion/internal/report"
	"github.com/himanishpuri/audion/internal/similarity"
)

type (
	BandEnergies     = features.BandEnergies
	SpectralStats    = features.SpectralStats
	SimilarityResult = similarity.Result
	Report           = report.Report
	ClipResult       = report.ClipResult
)

// Clip is an audio file to analyse. Name is what the caller knows the file
// as (for uploads, the original filename); it defaults to the base of Path.
type Clip struct {
	Path string
	Name string
}

func NewClip(path string) Clip {
	return Clip{Path: path, Name: filepath.Base(path)}
}

// DisplayName returns Name, or the base of Path when Name is empty.
func (c Clip) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return filepath.Base(c.Path)
}

// Analysis describes a single clip.
type Analysis struct {
	RunID        string        `json:"run_id,omitempty"`
	Filename     string        `json:"filename"`
	SampleRate   int           `json:"sample_rate"`
	Channels     int           `json:"channels"`
	Duration     float64       `json:"duration"`
	BandEnergies BandEnergies  `json:"band_energies"`
	STFTFeatures SpectralStats `json:"stft_features"`
	Spectrogram  string        `json:"spectrogram,omitempty"`
}

// Comparison is the similarity of two clips.
type Comparison struct {
	RunID      string           `json:"run_id,omitempty"`
	A          string           `json:"a"`
	B          string           `json:"b"`
	Similarity SimilarityResult `json:"similarity"`
}

type MatchResult struct {
	RunID string `json:"run_id,omitempty"`
	*Report
}

type RunSummary struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	TestCount      int       `json:"test_count"`
	ReferenceCount int       `json:"reference_count"`
	TotalScore     float64   `json:"total_score"`
	UnmatchedCount int       `json:"unmatched_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type RunClip struct {
	Role        string  `json:"role"`
	Position    int     `json:"position"`
	Name        string  `json:"name"`
	SampleRate  int     `json:"sample_rate"`
	DurationSec float64 `json:"duration_sec"`
}

// Run is a stored request with its inputs and JSON result.
type Run struct {
	RunSummary
	Clips   []RunClip       `json:"clips"`
	Payload json.RawMessage `json:"result,omitempty"`
}

// ProgressEvent reports that Done of Total items in Stage have finished.
type ProgressEvent struct {
	Stage string
	Done  int
	Total int
	Item  string
}

type ProgressFunc func(ProgressEvent)

const (
	ProgressProfile = "profile"
	ProgressScore   = "score"
)
