package audion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/internal/cache"
	"github.com/himanishpuri/audion/internal/features"
	"github.com/himanishpuri/audion/internal/matching"
	"github.com/himanishpuri/audion/internal/report"
	"github.com/himanishpuri/audion/internal/similarity"
	"github.com/himanishpuri/audion/internal/storage"
	"github.com/himanishpuri/audion/internal/visual"
	"github.com/himanishpuri/audion/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// audionService is the default implementation of the Service interface.
type audionService struct {
	storage  Storage
	cache    *cache.ProfileCache
	loader   *audio.Loader
	formats  audio.FormatPolicy
	renderer *visual.Renderer
	log      Logger
	config   *Config
}

// loadedClip is a decoded clip with its profile.
type loadedClip struct {
	clip    Clip
	wave    *audio.Waveform
	profile features.Profile
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	var stor Storage
	var err error
	if cfg.History {
		if cfg.Storage != nil {
			stor = cfg.Storage
		} else {
			stor, err = NewSQLiteStorage(cfg.DBPath)
			if err != nil {
				return nil, fmt.Errorf("failed to create storage: %w", err)
			}
		}
	}

	var pc *cache.ProfileCache
	if cfg.CacheDir != "" {
		pc, err = cache.Open(cfg.CacheDir, cfg.CacheTTL)
		if err != nil {
			if stor != nil {
				stor.Close()
			}
			return nil, fmt.Errorf("failed to open feature cache: %w", err)
		}
	}

	loader := audio.NewLoader(cfg.TempDir)
	loader.FFmpegBin = cfg.FFmpegBin

	return &audionService{
		storage:  stor,
		cache:    pc,
		loader:   loader,
		formats:  audio.NewFormatPolicy(cfg.AllowedFormats),
		renderer: visual.NewRenderer(cfg.SpectrogramWidth, cfg.SpectrogramHeight),
		log:      cfg.Logger,
		config:   cfg,
	}, nil
}

func (s *audionService) Formats() []string {
	return s.formats.Formats()
}

// Analyze extracts features from the clip's samples as decoded, without
// normalisation.
func (s *audionService) Analyze(ctx context.Context, clip Clip, spectrogram bool) (*Analysis, error) {
	name := clip.DisplayName()
	s.log.Infof("Analyzing %s", name)

	lc, err := s.loadClip(ctx, clip, cache.KindRaw)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Filename:     name,
		SampleRate:   lc.wave.SampleRate,
		Channels:     lc.wave.Channels,
		Duration:     lc.wave.Duration(),
		BandEnergies: lc.profile.BandEnergies,
		STFTFeatures: lc.profile.Stats,
	}
	if spectrogram && s.config.Spectrograms {
		img, err := s.renderer.DataURL(lc.wave.Samples, lc.wave.SampleRate)
		if err != nil {
			s.log.Warnf("Spectrogram for %s failed: %v", name, err)
		} else {
			a.Spectrogram = img
		}
	}

	stored := *a
	stored.Spectrogram = ""
	a.RunID = s.saveRun(&Run{
		RunSummary: RunSummary{Kind: storage.KindAnalyze, TestCount: 1},
		Clips:      []RunClip{runClip(storage.RoleInput, 0, lc)},
	}, stored)

	return a, nil
}

// Compare scores two clips against each other.
func (s *audionService) Compare(ctx context.Context, a, b Clip) (*Comparison, error) {
	s.log.Infof("Comparing %s with %s", a.DisplayName(), b.DisplayName())

	loaded, err := s.loadAll(ctx, []Clip{a, b}, cache.KindNormalized)
	if err != nil {
		return nil, err
	}

	c := &Comparison{
		A:          a.DisplayName(),
		B:          b.DisplayName(),
		Similarity: similarity.Compare(loaded[0].profile, loaded[1].profile),
	}
	c.RunID = s.saveRun(&Run{
		RunSummary: RunSummary{Kind: storage.KindCompare, TestCount: 1, ReferenceCount: 1, TotalScore: c.Similarity.Total},
		Clips: []RunClip{
			runClip(storage.RoleTest, 0, loaded[0]),
			runClip(storage.RoleReference, 0, loaded[1]),
		},
	}, c)

	return c, nil
}

// Match loads and profiles every clip, scores each test/reference pair,
// finds the matching and assembles the report.
func (s *audionService) Match(ctx context.Context, tests, references []Clip, spectrograms bool) (*MatchResult, error) {
	if err := validateMatchInput(len(tests), len(references)); err != nil {
		return nil, err
	}
	s.log.Infof("Matching %d test clips against %d references", len(tests), len(references))

	all := make([]Clip, 0, len(tests)+len(references))
	all = append(all, tests...)
	all = append(all, references...)

	loaded, err := s.loadAll(ctx, all, cache.KindNormalized)
	if err != nil {
		return nil, err
	}
	testClips, refClips := loaded[:len(tests)], loaded[len(tests):]

	matrix := s.similarityMatrix(testClips, refClips)

	m, err := matching.FindMatching(matrix)
	if err != nil {
		return nil, stageErr(StageMatch, "", err)
	}
	if m.HasUnmatched() {
		s.log.Infof("Left %s unmatched", testClips[m.Unmatched].clip.DisplayName())
	}

	in := report.Input{
		Tests:      clipNames(testClips),
		References: clipNames(refClips),
		Matrix:     matrix,
		Matching:   m,
		Details: func(t, r int) (similarity.Result, error) {
			return similarity.Compare(testClips[t].profile, refClips[r].profile), nil
		},
	}
	if spectrograms && s.config.Spectrograms {
		in.Visual = func(t int) (string, error) {
			w := testClips[t].wave
			return s.renderer.DataURL(w.Samples, w.SampleRate)
		}
	}

	rep, err := report.Assemble(in)
	if err != nil {
		return nil, stageErr(StageMatch, "", err)
	}
	for _, w := range rep.Warnings {
		s.log.Warnf("%s", w)
	}

	run := &Run{
		RunSummary: RunSummary{
			Kind:           storage.KindMatch,
			TestCount:      len(tests),
			ReferenceCount: len(references),
			TotalScore:     rep.TotalScore,
			UnmatchedCount: rep.UnmatchedCount,
		},
	}
	for i, lc := range testClips {
		run.Clips = append(run.Clips, runClip(storage.RoleTest, i, lc))
	}
	for i, lc := range refClips {
		run.Clips = append(run.Clips, runClip(storage.RoleReference, i, lc))
	}

	return &MatchResult{
		RunID:  s.saveRun(run, rep.StripImages()),
		Report: rep,
	}, nil
}

func validateMatchInput(nTest, nRef int) error {
	switch {
	case nTest == 0:
		return stageErr(StageValidate, "", fmt.Errorf("%w: no test clips", ErrInvalidInput))
	case nRef == 0:
		return stageErr(StageValidate, "", fmt.Errorf("%w: no reference clips", ErrInvalidInput))
	case nRef < nTest-1:
		return stageErr(StageValidate, "", fmt.Errorf(
			"%w: %d references cannot cover %d test clips with at most one unmatched",
			ErrInvalidInput, nRef, nTest))
	}
	return nil
}

// similarityMatrix scores every test profile against every reference.
func (s *audionService) similarityMatrix(tests, refs []*loadedClip) [][]float64 {
	total := len(tests) * len(refs)
	done := 0
	matrix := make([][]float64, len(tests))
	for i, t := range tests {
		matrix[i] = make([]float64, len(refs))
		for j, r := range refs {
			res := similarity.Compare(t.profile, r.profile)
			matrix[i][j] = res.Total
			done++
			s.progress(ProgressEvent{Stage: ProgressScore, Done: done, Total: total, Item: t.clip.DisplayName()})
			s.log.Debugf("similarity %s ~ %s = %.4f (confidence %.2f)",
				t.clip.DisplayName(), r.clip.DisplayName(), res.Total, res.Confidence)
		}
	}
	return matrix
}

// loadAll validates, decodes and profiles clips concurrently. Results keep
// the input order; the first failure cancels the rest.
func (s *audionService) loadAll(ctx context.Context, clips []Clip, kind cache.Kind) ([]*loadedClip, error) {
	for _, c := range clips {
		if err := s.formats.Check(c.DisplayName()); err != nil {
			return nil, stageErr(StageValidate, c.DisplayName(), err)
		}
	}

	out := make([]*loadedClip, len(clips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	var mu sync.Mutex
	done := 0
	for i, c := range clips {
		i, c := i, c
		g.Go(func() error {
			lc, err := s.loadClip(gctx, c, kind)
			if err != nil {
				return err
			}
			out[i] = lc

			mu.Lock()
			done++
			ev := ProgressEvent{Stage: ProgressProfile, Done: done, Total: len(clips), Item: c.DisplayName()}
			s.progress(ev)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// loadClip decodes one clip and computes its profile, going through the
// feature cache when one is configured.
func (s *audionService) loadClip(ctx context.Context, clip Clip, kind cache.Kind) (*loadedClip, error) {
	name := clip.DisplayName()
	if err := s.formats.Check(name); err != nil {
		return nil, stageErr(StageValidate, name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wave, err := s.loader.Load(ctx, clip.Path)
	if err != nil {
		return nil, stageErr(StageLoad, name, err)
	}
	s.log.Debugf("Loaded %s: %d samples at %d Hz, %d channel(s)", name, len(wave.Samples), wave.SampleRate, wave.Channels)

	extract := features.Extract
	if kind == cache.KindNormalized {
		extract = features.ExtractNormalized
	}
	profile, err := s.cache.Profile(wave.Samples, wave.SampleRate, kind,
		func() (features.Profile, error) { return extract(wave.Samples, wave.SampleRate) },
		func(err error) { s.log.Warnf("Feature cache: %v", err) },
	)
	if err != nil {
		return nil, stageErr(StageExtract, name, err)
	}

	return &loadedClip{clip: clip, wave: wave, profile: profile}, nil
}

func (s *audionService) progress(ev ProgressEvent) {
	if s.config.Progress != nil {
		s.config.Progress(ev)
	}
}

// saveRun stores run with payload as its JSON result and returns the new ID.
// History failures are logged and never fail the request.
func (s *audionService) saveRun(run *Run, payload any) string {
	if s.storage == nil {
		return ""
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.log.Warnf("Encoding %s run: %v", run.Kind, err)
		return ""
	}
	run.Payload = b
	run.CreatedAt = time.Now().UTC()

	id, err := s.storage.SaveRun(run)
	if err != nil {
		s.log.Warnf("Saving %s run: %v", run.Kind, err)
		return ""
	}
	s.log.Debugf("Saved %s run %s", run.Kind, id)
	return id
}

func (s *audionService) ListRuns(kind string, limit int) ([]RunSummary, error) {
	if s.storage == nil {
		return nil, ErrHistoryDisabled
	}
	return s.storage.ListRuns(kind, limit)
}

func (s *audionService) GetRun(id string) (*Run, error) {
	if s.storage == nil {
		return nil, ErrHistoryDisabled
	}
	return s.storage.GetRun(id)
}

func (s *audionService) DeleteRun(id string) error {
	if s.storage == nil {
		return ErrHistoryDisabled
	}
	return s.storage.DeleteRun(id)
}

func (s *audionService) Close() error {
	var firstErr error
	if err := s.cache.Close(); err != nil {
		firstErr = err
	}
	if s.storage != nil {
		if err := s.storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func runClip(role string, pos int, lc *loadedClip) RunClip {
	return RunClip{
		Role:        role,
		Position:    pos,
		Name:        lc.clip.DisplayName(),
		SampleRate:  lc.wave.SampleRate,
		DurationSec: lc.wave.Duration(),
	}
}

func clipNames(clips []*loadedClip) []string {
	out := make([]string, len(clips))
	for i, lc := range clips {
		out[i] = lc.clip.DisplayName()
	}
	return out
}
