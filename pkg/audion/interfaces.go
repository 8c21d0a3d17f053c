package audion

import (
	"context"
)

type Service interface {
	// Analyze extracts features from a single clip. The spectrogram is
	// rendered only when requested and enabled in the config.
	Analyze(ctx context.Context, clip Clip, spectrogram bool) (*Analysis, error)
	Compare(ctx context.Context, a, b Clip) (*Comparison, error)
	// Match pairs every test clip with a reference clip, leaving at most one
	// test clip unmatched.
	Match(ctx context.Context, tests, references []Clip, spectrograms bool) (*MatchResult, error)
	ListRuns(kind string, limit int) ([]RunSummary, error)
	GetRun(id string) (*Run, error)
	DeleteRun(id string) error
	Formats() []string
	Close() error
}

type Storage interface {
	SaveRun(run *Run) (string, error)
	GetRun(id string) (*Run, error)
	ListRuns(kind string, limit int) ([]RunSummary, error)
	DeleteRun(id string) error
	CountRuns() (int, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
