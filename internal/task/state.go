package task

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is the outer shape of a task state, shared by every category.
type Kind int

const (
	KindPending Kind = iota
	KindLoading
	KindDone
	KindError
	KindCanceled
)

var kindNames = [...]string{"pending", "loading", "done", "error", "canceled"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) Terminal() bool { return k == KindDone || k == KindError || k == KindCanceled }

// State is one observable state of a task. L is the category specific
// loading phase and T the finished document.
type State[T, L any] struct {
	Kind  Kind
	Phase L
	Value T
	Err   *Error
}

func Pending[T, L any]() State[T, L] { return State[T, L]{Kind: KindPending} }

func Loading[T, L any](phase L) State[T, L] { return State[T, L]{Kind: KindLoading, Phase: phase} }

func Done[T, L any](v T) State[T, L] { return State[T, L]{Kind: KindDone, Value: v} }

func Failed[T, L any](err error) State[T, L] { return State[T, L]{Kind: KindError, Err: Snapshot(err)} }

func Canceled[T, L any]() State[T, L] { return State[T, L]{Kind: KindCanceled} }

func (s State[T, L]) Terminal() bool { return s.Kind.Terminal() }

func (s State[T, L]) String() string {
	switch s.Kind {
	case KindLoading:
		return fmt.Sprintf("loading(%v)", s.Phase)
	case KindError:
		return fmt.Sprintf("error(%v)", s.Err)
	default:
		return s.Kind.String()
	}
}

// Summary is the type-erased view of a state for transports and logs.
type Summary struct {
	ID       uuid.UUID `json:"id"`
	Category string    `json:"category"`
	State    string    `json:"state"`
	Phase    string    `json:"phase,omitempty"`
	Error    string    `json:"error,omitempty"`
	Value    any       `json:"value,omitempty"`
}

func (s State[T, L]) Summarize(id uuid.UUID, category string) Summary {
	out := Summary{ID: id, Category: category, State: s.Kind.String()}
	switch s.Kind {
	case KindLoading:
		out.Phase = fmt.Sprint(s.Phase)
	case KindDone:
		out.Value = s.Value
	case KindError:
		out.Error = s.Err.Error()
	}
	return out
}

// Error is the owned snapshot of a workflow failure. It is immutable once
// published, so every observer may keep and compare it.
type Error struct {
	Message string
	cause   error
}

// Snapshot captures err. Passing an *Error returns it unchanged.
func Snapshot(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return &Error{Message: err.Error(), cause: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }
