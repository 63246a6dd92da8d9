package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hazyhaar/moisson/capture"
	"github.com/hazyhaar/moisson/session"
)

// ErrTransient wraps an error worth retrying: network hiccups, slow loads,
// anything that may succeed on the next attempt.
type ErrTransient struct {
	URL   string
	Cause error
}

func (e *ErrTransient) Error() string {
	return fmt.Sprintf("batch: transient failure for %s: %v", e.URL, e.Cause)
}

func (e *ErrTransient) Unwrap() error { return e.Cause }

// ErrPersistence wraps a disk write failure while recording an entry's
// outcome. Fatal for that entry only; the batch moves on.
type ErrPersistence struct {
	Cause error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("batch: progress not recordable: %v", e.Cause)
}

func (e *ErrPersistence) Unwrap() error { return e.Cause }

// ErrSessionFatal wraps a dead-session condition. It aborts the batch: no
// further entry can succeed on a closed browser.
type ErrSessionFatal struct {
	Cause error
}

func (e *ErrSessionFatal) Error() string {
	return fmt.Sprintf("batch: session unusable: %v", e.Cause)
}

func (e *ErrSessionFatal) Unwrap() error { return e.Cause }

// kind buckets a per-entry error for the retry and abort decisions.
type kind int

const (
	kindTransient kind = iota // retry the entry
	kindEntry                 // record failure, move on
	kindFatal                 // abort the batch
)

// classify buckets an entry's error. Context sentinels are deliberately
// not inspected here: a navigation timeout surfaces as DeadlineExceeded
// and must be retried like any other transient failure. Whether the
// caller's own context died is the Runner's call, made against that
// context directly.
func classify(err error) kind {
	var qe *capture.QualityError
	var ce *capture.ChallengeError
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	switch {
	case errors.Is(err, session.ErrClosed):
		return kindFatal
	case errors.As(err, &qe), errors.As(err, &ce):
		return kindEntry
	// Disk write failures will not heal on a retry seconds later.
	case errors.As(err, &pathErr), errors.As(err, &linkErr):
		return kindEntry
	default:
		return kindTransient
	}
}
