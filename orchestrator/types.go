package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/surface/types"
	"github.com/yairfalse/surface/wal"
)

// ErrScanInProgress is returned when an exclusive scan is already running
var ErrScanInProgress = errors.New("scan already in progress")

// LoadError reports that a collection could not be read before the pass began.
// No findings were computed or persisted.
type LoadError struct {
	Collection string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Collection, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PartialPersistError reports findings that were computed but whose bulk
// insert failed. Result carries the counts of the completed pass.
type PartialPersistError struct {
	Computed int
	Result   *types.ScanResult
	Err      error
}

func (e *PartialPersistError) Error() string {
	return fmt.Sprintf("persist findings: %d computed, none guaranteed stored: %v", e.Computed, e.Err)
}

func (e *PartialPersistError) Unwrap() error { return e.Err }

// Emitter receives the report of every finished pass
type Emitter interface {
	Emit(ctx context.Context, report types.ScanReport) error
}

// Journal records scan lifecycle entries
type Journal interface {
	Append(entryType wal.EntryType, subjectID string, data any) error
	AppendError(entryType wal.EntryType, subjectID string, data any, err error) error
}
