// Package report assembles match outcomes into the structure returned to
// callers.
package report

import (
	"fmt"

	"github.com/himanishpuri/audion/internal/matching"
	"github.com/himanishpuri/audion/internal/similarity"
)

// ClipResult is the outcome for one test clip. Match and SimilarityDetails
// are nil for the unmatched clip.
type ClipResult struct {
	Test              string             `json:"test"`
	Match             *string            `json:"match"`
	MatchIndex        int                `json:"match_index"`
	Confidence        float64            `json:"confidence"`
	SimilarityDetails *similarity.Result `json:"similarity_details"`
	Spectrogram       string             `json:"spectrogram,omitempty"`
}

// Matched reports whether the clip was paired with a reference.
func (c ClipResult) Matched() bool { return c.Match != nil }

// Report is the full result of one matching request.
type Report struct {
	Tests            []string     `json:"tests"`
	References       []string     `json:"references"`
	Results          []ClipResult `json:"results"`
	SimilarityMatrix [][]float64  `json:"similarity_matrix"`
	TotalScore       float64      `json:"total_score"`
	UnmatchedCount   int          `json:"unmatched_count"`
	Warnings         []string     `json:"warnings,omitempty"`
}

// DetailFunc recomputes the full similarity breakdown of a matched pair.
type DetailFunc func(test, ref int) (similarity.Result, error)

// VisualFunc renders an image for a matched test clip.
type VisualFunc func(test int) (string, error)

type Input struct {
	Tests      []string
	References []string
	Matrix     [][]float64
	Matching   matching.Matching
	Details    DetailFunc
	// Visual is optional.
	Visual VisualFunc
}

// Assemble builds the report in test clip order. A failing Details call
// aborts; a failing Visual call is recorded as a warning.
func Assemble(in Input) (*Report, error) {
	if len(in.Matrix) != len(in.Tests) {
		return nil, fmt.Errorf("matrix has %d rows for %d test clips", len(in.Matrix), len(in.Tests))
	}
	if in.Details == nil {
		return nil, fmt.Errorf("no detail function")
	}

	rep := &Report{
		Tests:            in.Tests,
		References:       in.References,
		Results:          make([]ClipResult, 0, len(in.Tests)),
		SimilarityMatrix: in.Matrix,
		TotalScore:       in.Matching.Score,
	}
	if in.Matching.HasUnmatched() {
		rep.UnmatchedCount = 1
	}

	for i, name := range in.Tests {
		res := ClipResult{Test: name, MatchIndex: -1}

		ref, ok := in.Matching.Pairs[i]
		if i == in.Matching.Unmatched || !ok {
			rep.Results = append(rep.Results, res)
			continue
		}
		if ref < 0 || ref >= len(in.References) {
			return nil, fmt.Errorf("test clip %d matched to unknown reference %d", i, ref)
		}

		details, err := in.Details(i, ref)
		if err != nil {
			return nil, fmt.Errorf("similarity details for %s: %w", name, err)
		}
		refName := in.References[ref]
		res.Match = &refName
		res.MatchIndex = ref
		res.Confidence = in.Matrix[i][ref]
		res.SimilarityDetails = &details

		if in.Visual != nil {
			img, err := in.Visual(i)
			if err != nil {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("spectrogram for %s: %v", name, err))
			} else {
				res.Spectrogram = img
			}
		}
		rep.Results = append(rep.Results, res)
	}
	return rep, nil
}

// Pairs returns the matched (test, reference) names in test order.
func (r *Report) Pairs() [][2]string {
	var out [][2]string
	for _, res := range r.Results {
		if res.Match != nil {
			out = append(out, [2]string{res.Test, *res.Match})
		}
	}
	return out
}

// StripImages returns a copy of the report without spectrogram images.
func (r *Report) StripImages() *Report {
	cp := *r
	cp.Results = make([]ClipResult, len(r.Results))
	for i, res := range r.Results {
		res.Spectrogram = ""
		cp.Results[i] = res
	}
	return &cp
}
