package audion

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/internal/features"
	"github.com/himanishpuri/audion/internal/matching"
	"github.com/himanishpuri/audion/internal/storage"
)

type DecodeError = audio.DecodeError

var (
	ErrDegenerateSignal   = features.ErrDegenerateSignal
	ErrMatchingInfeasible = matching.ErrInfeasible
	ErrUnsupportedFormat  = audio.ErrUnsupportedFormat
	ErrRunNotFound        = storage.ErrRunNotFound

	ErrInvalidInput    = errors.New("invalid input")
	ErrHistoryDisabled = errors.New("run history is disabled")
)

// Stage names the step of a request that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageLoad     Stage = "load"
	StageExtract  Stage = "extract"
	StageMatch    Stage = "match"
)

// StageError attaches the failing stage and clip to an error.
type StageError struct {
	Stage Stage
	Clip  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Clip == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Clip, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, clip string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Clip: clip, Err: err}
}

// IsClientError reports whether err was caused by the caller's input rather
// than by the service.
func IsClientError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrInvalidInput)
}
