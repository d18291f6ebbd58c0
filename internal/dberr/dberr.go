// Package dberr defines the error classes shared by the page store and the tree.
package dberr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrIO is the class of failures reported by the backing store.
	ErrIO = errors.New("bpindex: i/o error")

	// ErrCorrupt is the class of structurally invalid blocks or node ids.
	ErrCorrupt = errors.New("bpindex: corrupt index")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("bpindex: store is closed")
)

// IOError reports a failed operation on the backing store.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("bpindex: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes every IOError match ErrIO.
func (e *IOError) Is(target error) bool { return target == ErrIO }

// CorruptionError reports a block or node id that violates the file format.
// ID is -1 when the failure is not tied to a node.
type CorruptionError struct {
	ID     int32
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.ID < 0 {
		return "bpindex: corrupt index: " + e.Reason
	}
	return fmt.Sprintf("bpindex: corrupt node %d: %s", e.ID, e.Reason)
}

// Is makes every CorruptionError match ErrCorrupt.
func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupt }

// IO wraps err as an IOError with a stack trace.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&IOError{Op: op, Err: err})
}

// Corrupt builds a CorruptionError with a stack trace.
func Corrupt(id int32, format string, args ...interface{}) error {
	return errors.WithStack(&CorruptionError{ID: id, Reason: fmt.Sprintf(format, args...)})
}
