package scraper

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateCode     = errors.New("scraper: duplicate source code")
	ErrDuplicatePath     = errors.New("scraper: duplicate source path")
	ErrInvalidTransition = errors.New("scraper: invalid state transition")
	ErrRunTimeout        = errors.New("scraper: run timeout exceeded")
	ErrNoSink            = errors.New("scraper: no fact sink configured")
	ErrNoDimensionClient = errors.New("scraper: no dimension client configured")
	ErrEmptyReload       = errors.New("scraper: full reload with no rows")
)

// StageError wraps a fatal error with the life-cycle stage it occurred in.
type StageError struct {
	Job   string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Job, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SourceError is a per-source failure that did not abort the run.
type SourceError struct {
	Stage Stage
	Code  string
	URL   string
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Stage, e.Code, e.URL, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
