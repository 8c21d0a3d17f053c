package audion

import (
	"encoding/json"

	"github.com/himanishpuri/audion/internal/storage"
)

// storageAdapter adapts storage.DBClient to the Storage interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStorage opens the run history database at dbPath.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) SaveRun(run *Run) (string, error) {
	row := &storage.Run{
		ID:             run.ID,
		Kind:           run.Kind,
		TestCount:      run.TestCount,
		ReferenceCount: run.ReferenceCount,
		TotalScore:     run.TotalScore,
		UnmatchedCount: run.UnmatchedCount,
		Payload:        string(run.Payload),
		CreatedAt:      run.CreatedAt,
		Clips:          make([]storage.RunClip, len(run.Clips)),
	}
	for i, c := range run.Clips {
		row.Clips[i] = storage.RunClip{
			Role:        c.Role,
			Position:    c.Position,
			Name:        c.Name,
			SampleRate:  c.SampleRate,
			DurationSec: c.DurationSec,
		}
	}
	id, err := s.db.SaveRun(row)
	if err != nil {
		return "", err
	}
	run.ID = id
	run.CreatedAt = row.CreatedAt
	return id, nil
}

func (s *storageAdapter) GetRun(id string) (*Run, error) {
	row, err := s.db.GetRun(id)
	if err != nil {
		return nil, err
	}

	run := &Run{
		RunSummary: toSummary(*row),
		Clips:      make([]RunClip, len(row.Clips)),
	}
	if row.Payload != "" {
		run.Payload = json.RawMessage(row.Payload)
	}
	for i, c := range row.Clips {
		run.Clips[i] = RunClip{
			Role:        c.Role,
			Position:    c.Position,
			Name:        c.Name,
			SampleRate:  c.SampleRate,
			DurationSec: c.DurationSec,
		}
	}
	return run, nil
}

func (s *storageAdapter) ListRuns(kind string, limit int) ([]RunSummary, error) {
	rows, err := s.db.ListRuns(kind, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(rows))
	for i, r := range rows {
		out[i] = toSummary(r)
	}
	return out, nil
}

func (s *storageAdapter) DeleteRun(id string) error {
	return s.db.DeleteRun(id)
}

func (s *storageAdapter) CountRuns() (int, error) {
	n, err := s.db.CountRuns()
	return int(n), err
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}

func toSummary(r storage.Run) RunSummary {
	return RunSummary{
		ID:             r.ID,
		Kind:           r.Kind,
		TestCount:      r.TestCount,
		ReferenceCount: r.ReferenceCount,
		TotalScore:     r.TotalScore,
		UnmatchedCount: r.UnmatchedCount,
		CreatedAt:      r.CreatedAt,
	}
}
