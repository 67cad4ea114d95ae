package agents

import "math/rand"

// Transition decisions, one enum per source state.

type OfflineTransition uint8

const (
	OfflineStay OfflineTransition = iota
	OfflineToScrolling
)

type ScrollingTransition uint8

const (
	ScrollingRefresh ScrollingTransition = iota
	ScrollingToReadingPost
	ScrollingToReadingComments
	ScrollingToCreatingPost
	ScrollingToCreatingComment
	ScrollingToOffline
)

type ReadingPostTransition uint8

const (
	ReadingPostContinue ReadingPostTransition = iota
	ReadingPostToScrolling
	ReadingPostToReadingComments
	ReadingPostToCreatingComment
	ReadingPostToOffline
)

type ReadingCommentsTransition uint8

const (
	ReadingCommentsContinue ReadingCommentsTransition = iota // keep reading the current comment
	ReadingCommentsNext                                      // current comment done, move to the next
	ReadingCommentsToScrolling
	ReadingCommentsToReadingPost
	ReadingCommentsToCreatingComment
	ReadingCommentsToOffline
)

// CreatingTransition covers both authoring states.
type CreatingTransition uint8

const (
	CreatingContinue CreatingTransition = iota
	CreatingToScrolling
	CreatingToOffline
)

// Policy decides where an individual goes next. Progress counters have
// already been advanced for the current tick when a policy is consulted.
// Policies must draw randomness only from rng.
type Policy interface {
	Offline(a *Agent, rng *rand.Rand) OfflineTransition
	Scrolling(a *Agent, s Scrolling, rng *rand.Rand) ScrollingTransition
	ReadingPost(a *Agent, s ReadingPost, rng *rand.Rand) ReadingPostTransition
	ReadingComments(a *Agent, s ReadingComments, rng *rand.Rand) ReadingCommentsTransition
	CreatingPost(a *Agent, s CreatingPost, rng *rand.Rand) CreatingTransition
	CreatingComment(a *Agent, s CreatingComment, rng *rand.Rand) CreatingTransition
}

// DefaultPolicy is the stock behavioral model.
type DefaultPolicy struct{}

var _ Policy = DefaultPolicy{}

func (DefaultPolicy) Offline(a *Agent, rng *rand.Rand) OfflineTransition {
	if rng.Float64() < a.Individual.NextPostLikelihood {
		return OfflineToScrolling
	}
	return OfflineStay
}

func (DefaultPolicy) Scrolling(a *Agent, s Scrolling, rng *rand.Rand) ScrollingTransition {
	r := rng.Float64()
	switch {
	case r < 0.6*a.Individual.NextPostLikelihood:
		return ScrollingToReadingPost
	case r < 0.8:
		return ScrollingToReadingComments
	case r < 0.9:
		// Only agents inclined to author actually start a post.
		if rng.Float64() < a.CreationFrequency {
			return ScrollingToCreatingPost
		}
		return ScrollingRefresh
	case r < 0.95:
		return ScrollingToCreatingComment
	default:
		return ScrollingToOffline
	}
}

func (DefaultPolicy) ReadingPost(a *Agent, s ReadingPost, rng *rand.Rand) ReadingPostTransition {
	if !s.Done() && rng.Float64() <= a.Individual.AttentionSpan {
		return ReadingPostContinue
	}

	r := rng.Float64()
	switch {
	case r < 0.4:
		return ReadingPostToReadingComments
	case r < 0.6:
		return ReadingPostToCreatingComment
	case r < 0.95:
		return ReadingPostToScrolling
	default:
		return ReadingPostToOffline
	}
}

func (DefaultPolicy) ReadingComments(a *Agent, s ReadingComments, rng *rand.Rand) ReadingCommentsTransition {
	if !s.Done() && rng.Float64() <= a.Individual.AttentionSpan {
		return ReadingCommentsContinue
	}
	if s.Index < len(s.CommentIDs)-1 {
		return ReadingCommentsNext
	}

	r := rng.Float64()
	switch {
	case r < 0.2:
		return ReadingCommentsToCreatingComment
	case r < 0.9:
		return ReadingCommentsToScrolling
	default:
		return ReadingCommentsToOffline
	}
}

func (DefaultPolicy) CreatingPost(a *Agent, s CreatingPost, rng *rand.Rand) CreatingTransition {
	return finishCreating(s.Progress, rng)
}

func (DefaultPolicy) CreatingComment(a *Agent, s CreatingComment, rng *rand.Rand) CreatingTransition {
	return finishCreating(s.Progress, rng)
}

func finishCreating(p Progress, rng *rand.Rand) CreatingTransition {
	if !p.Done() {
		return CreatingContinue
	}
	if rng.Float64() < 0.8 {
		return CreatingToScrolling
	}
	return CreatingToOffline
}
