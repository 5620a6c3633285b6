package lightning

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for the lightning package.
var (
	// ErrSourceFetch is returned when a plugin source cannot be materialized
	// (package manager failure, clone failure, missing path).
	ErrSourceFetch = errors.New("source fetch failed")

	// ErrMultipleArtifacts is returned when a plugin folder holds more than
	// one candidate file for a single artifact category.
	ErrMultipleArtifacts = errors.New("multiple artifacts")

	// ErrInvalidSampleData is returned when the primary sample data file is not valid JSON.
	ErrInvalidSampleData = errors.New("invalid sample data")

	// ErrDuplicateName is returned when a visualization type name is already taken.
	ErrDuplicateName = errors.New("duplicate visualization type name")

	// ErrPersistence is returned for any other storage-layer rejection.
	ErrPersistence = errors.New("persistence failed")

	// ErrNotFound is returned when a visualization type does not exist.
	ErrNotFound = errors.New("visualization type not found")

	// ErrNotModule is returned by registry operations on folder-sourced types.
	ErrNotModule = errors.New("visualization type is not a module")

	// ErrUninstall is returned when removing an installed package fails.
	ErrUninstall = errors.New("uninstall failed")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// SourceFetchError describes a failure to materialize a plugin source tree.
type SourceFetchError struct {
	Strategy string // registry, link, git, folder
	Source   string
	Cause    error
}

func (e *SourceFetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s fetch of %s failed: %v", e.Strategy, e.Source, e.Cause)
	}
	return fmt.Sprintf("%s fetch of %s failed", e.Strategy, e.Source)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for SourceFetchError.
func (e *SourceFetchError) Is(target error) bool {
	return target == ErrSourceFetch
}

// MultipleArtifactsError reports an ambiguous plugin folder.
type MultipleArtifactsError struct {
	Category string
	Matches  []string
}

func (e *MultipleArtifactsError) Error() string {
	return fmt.Sprintf("there can't be more than one %s file (found %s)", e.Category, strings.Join(e.Matches, ", "))
}

// Is implements error matching for MultipleArtifactsError.
func (e *MultipleArtifactsError) Is(target error) bool {
	return target == ErrMultipleArtifacts
}

// InvalidSampleDataError reports a sample data file that failed to parse.
type InvalidSampleDataError struct {
	Path  string
	Cause error
}

func (e *InvalidSampleDataError) Error() string {
	return fmt.Sprintf("invalid sample data [%s]: %v", e.Path, e.Cause)
}

func (e *InvalidSampleDataError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for InvalidSampleDataError.
func (e *InvalidSampleDataError) Is(target error) bool {
	return target == ErrInvalidSampleData
}

// DuplicateNameError reports a uniqueness violation on the name column.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("visualization type %q already exists", e.Name)
}

// Is implements error matching for DuplicateNameError.
func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op    string
	Name  string
	Cause error
}

func (e *PersistenceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// IngestError records the stage at which an ingestion failed.
type IngestError struct {
	Stage  Stage
	Source string
	Err    error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.Source, e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage an ingestion error was raised in, or StageDone
// when err did not come from an ingestion.
func StageOf(err error) Stage {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Stage
	}
	return StageDone
}
