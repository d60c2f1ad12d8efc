package presence

import (
	"errors"
	"fmt"
)

var (
	ErrHubClosed = errors.New("hub is not running")
	ErrQueueFull = errors.New("persistence queue is full")
)

// PersistenceError wraps a failed snapshot load or save. The triggering
// operation is abandoned; nothing is retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
