// Package archive writes applied working-set updates to durable sinks.
package archive

import (
	"errors"

	"chronos-radar/internal/store"
)

// Writer receives the entities upserted by one applied batch.
type Writer interface {
	WriteBatch(entities []store.TrackedEntity) error
}

// MultiWriter fans a batch out to several writers. Every writer sees the
// batch even when an earlier one fails; the errors are joined.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter drops nil writers.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// WriteBatch sends es to every writer.
func (mw *MultiWriter) WriteBatch(es []store.TrackedEntity) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.WriteBatch(es); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len is the number of writers.
func (mw *MultiWriter) Len() int { return len(mw.writers) }
