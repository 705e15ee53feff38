package testutil

import (
	"errors"
	"fmt"
)

// ErrInjected is behind every fault the test doubles in this package return.
var ErrInjected = errors.New("testutil: injected fault")

// FaultError is a failure injected into a log sink or entry source.
type FaultError struct {
	Op    string
	Index int
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s failed at index %d", e.Op, e.Index)
}

func (e *FaultError) Unwrap() error { return ErrInjected }

// Fault builds a FaultError for op at index.
func Fault(op string, index int) *FaultError {
	return &FaultError{Op: op, Index: index}
}
