package agents

import (
	"fmt"

	"github.com/talgya/feedsim/internal/content"
)

// StateKind enumerates the agent states.
type StateKind uint8

const (
	StateOffline StateKind = iota
	StateScrolling
	StateReadingPost
	StateReadingComments
	StateCreatingPost
	StateCreatingComment
)

// NumStates is the number of state kinds.
const NumStates = 6

var stateNames = [NumStates]string{
	"offline", "scrolling", "reading_post", "reading_comments", "creating_post", "creating_comment",
}

func (k StateKind) String() string {
	if int(k) < len(stateNames) {
		return stateNames[k]
	}
	return "unknown"
}

// MarshalText renders the state kind by name in JSON.
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a state name.
func (k *StateKind) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*k = StateKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// State is the closed set of agent states. Waiting is modeled with explicit
// tick counters inside the state, never with suspended execution.
type State interface {
	Kind() StateKind
	isState()
}

// Progress counts ticks spent against ticks required for a timed activity.
type Progress struct {
	Spent    int `json:"ticks_spent"`
	Required int `json:"ticks_required"`
}

// Done reports whether the activity has run its course.
func (p Progress) Done() bool {
	return p.Spent >= p.Required
}

// Fraction is Spent/Required in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Required <= 0 || p.Spent >= p.Required {
		return 1
	}
	return float64(p.Spent) / float64(p.Required)
}

type Offline struct{}

type Scrolling struct {
	Recommended []content.ID `json:"recommended"`
}

type ReadingPost struct {
	PostID    content.ID       `json:"post_id"`
	CreatorID content.AuthorID `json:"creator_id"`
	Progress
	Gain float64 `json:"potential_interest_gain"`
}

type ReadingComments struct {
	PostID     content.ID       `json:"post_id"`
	CreatorID  content.AuthorID `json:"creator_id"`
	CommentIDs []content.ID     `json:"comment_ids"`
	Index      int              `json:"index"`
	Progress
	Gain float64 `json:"potential_interest_gain"`
}

// CreatingPost is authoring a new post. PostID stays zero until the driver
// publishes the post and assigns its ID.
type CreatingPost struct {
	PostID content.ID `json:"post_id"`
	Progress
}

// CreatingComment is authoring a comment on PostID. CommentID is assigned on publish.
type CreatingComment struct {
	PostID    content.ID `json:"post_id"`
	CommentID content.ID `json:"comment_id"`
	Progress
}

func (Offline) Kind() StateKind         { return StateOffline }
func (Scrolling) Kind() StateKind       { return StateScrolling }
func (ReadingPost) Kind() StateKind     { return StateReadingPost }
func (ReadingComments) Kind() StateKind { return StateReadingComments }
func (CreatingPost) Kind() StateKind    { return StateCreatingPost }
func (CreatingComment) Kind() StateKind { return StateCreatingComment }

func (Offline) isState()         {}
func (Scrolling) isState()       {}
func (ReadingPost) isState()     {}
func (ReadingComments) isState() {}
func (CreatingPost) isState()    {}
func (CreatingComment) isState() {}

// StateProgress returns the progress of timed states; Offline and Scrolling
// report complete.
func StateProgress(s State) float64 {
	switch st := s.(type) {
	case ReadingPost:
		return st.Fraction()
	case ReadingComments:
		return st.Fraction()
	case CreatingPost:
		return st.Fraction()
	case CreatingComment:
		return st.Fraction()
	default:
		return 1
	}
}
