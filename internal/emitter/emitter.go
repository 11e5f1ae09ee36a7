// Package emitter delivers scan reports to outputs after each scan pass.
package emitter

import (
	"context"
	"errors"

	"github.com/yairfalse/surface/types"
)

// Emitter outputs scan reports to a backend.
type Emitter interface {
	// Emit sends one scan report to the backend.
	Emit(ctx context.Context, report types.ScanReport) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Add appends an emitter.
func (m *MultiEmitter) Add(e Emitter) {
	m.emitters = append(m.emitters, e)
}

// Len returns the number of emitters.
func (m *MultiEmitter) Len() int {
	return len(m.emitters)
}

// Emit sends to every emitter. One failing backend does not starve the rest.
func (m *MultiEmitter) Emit(ctx context.Context, report types.ScanReport) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
