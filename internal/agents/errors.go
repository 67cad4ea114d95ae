package agents

import (
	"errors"
	"fmt"

	"github.com/talgya/feedsim/internal/content"
)

var (
	ErrPostNotFound      = errors.New("post not found")
	ErrCommentNotFound   = errors.New("comment not found")
	ErrNoCandidates      = errors.New("no candidates available")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInternal          = errors.New("internal error")
)

// TransitionError reports a transition that could not be completed. The agent
// has already been moved to a safe state by the time the caller sees it.
type TransitionError struct {
	From StateKind
	To   StateKind
	ID   content.ID // content involved, if any
	Err  error
}

func (e *TransitionError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s -> %s (content %d): %v", e.From, e.To, e.ID, e.Err)
	}
	return fmt.Sprintf("%s -> %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func transitionErr(from, to StateKind, id content.ID, err error) *TransitionError {
	return &TransitionError{From: from, To: to, ID: id, Err: err}
}

// Recoverable reports whether the agent can carry on browsing after err.
// Internal errors send the agent offline instead.
func Recoverable(err error) bool {
	return err != nil && !errors.Is(err, ErrInternal)
}
