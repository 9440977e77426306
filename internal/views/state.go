// Package views keeps the presentation state of each screen: what is being
// shown, whether it is loading and which message to show when a call fails.
// Controllers are safe for concurrent use; a response that arrives after a
// newer request was started is dropped.
package views

import (
	"errors"

	"ledger/internal/api"
)

type Status int

const (
	Idle Status = iota
	Loading
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the snapshot a screen renders. Data keeps the last successful
// result while a reload is in flight or after it failed.
type State[T any] struct {
	Status  Status
	Data    T
	Err     error
	Message string
}

// Unauthenticated reports whether the last failure was a session
// rejection, after which the application returns to the login screen.
func (s State[T]) Unauthenticated() bool {
	return errors.Is(s.Err, api.ErrUnauthenticated)
}

func (s State[T]) loading() State[T] {
	return State[T]{Status: Loading, Data: s.Data}
}

func (s State[T]) ready(data T) State[T] {
	return State[T]{Status: Ready, Data: data}
}

func (s State[T]) failed(err error, fallback string) State[T] {
	return State[T]{Status: Failed, Data: s.Data, Err: err, Message: api.Message(err, fallback)}
}
