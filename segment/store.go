package segment

import "fmt"

// Store is the persistence contract consumed by the core: segments are
// written once, never mutated, and read back by ID. Implementations
// differ in medium (memory, files, object storage) but are
// indistinguishable above this interface.
type Store interface {
	// ContainsSegment reports whether the store holds a segment with
	// the given ID.
	ContainsSegment(id *ID) bool

	// ReadSegment returns the segment with the given ID. A missing
	// segment is reported as a *NotFoundError.
	ReadSegment(id *ID) (*Segment, error)

	// WriteSegment persists data under the given ID. The write is
	// durable when the call returns.
	WriteSegment(id *ID, data []byte) error

	// Tracker returns the store's ID intern table.
	Tracker() *Tracker
}

// NotFoundError reports that a store holds no segment for an ID. The
// message carries the ID's GC info so that reads of reclaimed segments
// are diagnosable. Never retried internally.
type NotFoundError struct {
	ID *ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("segment %v not found (%s)", e.ID, e.ID.GCInfo())
}

// ExecutionError reports that loading a segment failed for a reason
// other than the segment being absent, for example an IO error in the
// underlying store.
//
// The underlying error can be accessed via errors.Unwrap.
type ExecutionError struct {
	ID    *ID
	cause error
}

// NewExecutionError wraps a failed segment load.
func NewExecutionError(id *ID, cause error) *ExecutionError {
	return &ExecutionError{ID: id, cause: cause}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("loading segment %v failed: %v", e.ID, e.cause)
}

func (e *ExecutionError) Unwrap() error { return e.cause }
