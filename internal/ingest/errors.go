package ingest

import (
	"errors"
	"fmt"
)

// Pipeline stage names, used in errors, logs, spans and metrics.
const (
	StageReceive  = "receive"
	StageExtract  = "extract"
	StageBuild    = "build"
	StagePromote  = "promote"
	StageValidate = "validate"
	StageCatalog  = "catalog"
)

// ExtractionError reports a malformed, empty, oversized or unsafe archive.
type ExtractionError struct {
	Entry  string // offending entry name, if any
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := "extraction failed: " + e.Reason
	if e.Entry != "" {
		msg += fmt.Sprintf(" (entry %q)", e.Entry)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// BuildFailure reports a failed dependency install or build, a timeout, or
// a build that produced no discoverable output directory.
type BuildFailure struct {
	Phase    string // "manifest", "install", "build" or "output"
	ExitCode int    // -1 when the process did not exit normally
	TimedOut bool
	Output   []byte // combined stdout and stderr, possibly truncated
	Err      error
}

func (e *BuildFailure) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("build failed: %s timed out", e.Phase)
	case e.Phase == "output" || e.Phase == "manifest":
		if e.Err != nil {
			return "build failed: " + e.Err.Error()
		}
		return "build failed: " + e.Phase
	case e.ExitCode > 0:
		return fmt.Sprintf("build failed: %s exited with status %d", e.Phase, e.ExitCode)
	case e.Err != nil:
		return fmt.Sprintf("build failed: %s: %v", e.Phase, e.Err)
	default:
		return "build failed: " + e.Phase
	}
}

func (e *BuildFailure) Unwrap() error { return e.Err }

// MissingEntryPoint reports a package without index.html at its root.
type MissingEntryPoint struct {
	Key string
}

func (e *MissingEntryPoint) Error() string {
	return fmt.Sprintf("package %s has no index.html at its root", e.Key)
}

// StorageError reports a filesystem failure during any stage.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, path string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

// Failure wraps an ingestion error with the storage key and the stage
// that stopped it. The key lets operators look up retained build logs.
type Failure struct {
	Key   string
	Stage string
	Err   error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.Key, e.Stage, e.Err)
}

func (e *Failure) Unwrap() error { return e.Err }

// StageOf returns the pipeline stage an ingestion error belongs to.
func StageOf(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Stage != "" {
		return f.Stage
	}
	var (
		ee *ExtractionError
		bf *BuildFailure
		me *MissingEntryPoint
	)
	switch {
	case errors.As(err, &ee):
		return StageExtract
	case errors.As(err, &bf):
		return StageBuild
	case errors.As(err, &me):
		return StageValidate
	}
	return ""
}
