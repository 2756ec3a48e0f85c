package segstore

import (
	"errors"

	"github.com/hupe1980/segstore/segment"
)

// IsNotFound reports whether err indicates a missing segment, either
// unwritten or reclaimed by garbage collection.
func IsNotFound(err error) bool {
	var nf *segment.NotFoundError
	return errors.As(err, &nf)
}

// AsNotFound extracts the segment-not-found details from err.
func AsNotFound(err error) (*segment.NotFoundError, bool) {
	var nf *segment.NotFoundError
	ok := errors.As(err, &nf)
	return nf, ok
}

// IsExecution reports whether err wraps a failed segment load, for
// example an IO error in the backing store. The cause is reachable
// through errors.Unwrap.
func IsExecution(err error) bool {
	var ee *segment.ExecutionError
	return errors.As(err, &ee)
}

// IsInvalidSegment reports whether err indicates malformed segment
// bytes.
func IsInvalidSegment(err error) bool {
	return errors.Is(err, segment.ErrInvalidSegment)
}

// IsBadRecord reports whether err indicates a read outside a record's
// bounds or of a record that does not exist.
func IsBadRecord(err error) bool {
	return errors.Is(err, segment.ErrBadRecord)
}

// IsRecordTooLarge reports whether err indicates a record that cannot
// fit a segment.
func IsRecordTooLarge(err error) bool {
	return errors.Is(err, segment.ErrRecordTooLarge)
}
