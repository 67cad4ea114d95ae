// Agent behavior: one Tick call advances an agent's state machine by one
// step against a read-only view of the content pool. Nothing here writes to
// the pool; new content, engagement and reader marks come back in the
// Outcome for the driver to apply after every agent has moved.
package agents

import (
	"time"

	"github.com/talgya/feedsim/internal/content"
	"github.com/talgya/feedsim/internal/interest"
	"github.com/talgya/feedsim/internal/recommend"
)

// baseInterestGain is the interest absorbed from fully reading unrelated
// content; fully aligned content doubles it.
const baseInterestGain = 0.2

const defaultBatchSize = 10

// TickContext carries the per-tick inputs shared by all agents.
type TickContext struct {
	Now      time.Time
	Settings Settings
	Policy   Policy // nil means DefaultPolicy
}

// Outcome is what one agent produced during a tick.
type Outcome struct {
	AgentID AgentID
	From    StateKind
	To      StateKind

	Post    *content.Post    // New post awaiting an ID
	Comment *content.Comment // New comment awaiting an ID; PostID is set
	Engaged []content.ID     // Content to credit with one engagement unit each
	Read    []content.ID     // Posts finished this tick
	Err     error            // Recovered *TransitionError, if any
}

// step holds the scratch state of a single Tick call.
type step struct {
	a          *Agent
	view       recommend.View
	tc         TickContext
	out        Outcome
	reinforced map[string]bool
}

// Tick advances the agent by one step. It never fails: transition errors are
// recovered into a safe state and reported in Outcome.Err.
func (a *Agent) Tick(view recommend.View, tc TickContext) Outcome {
	if tc.Policy == nil {
		tc.Policy = DefaultPolicy{}
	}
	if a.State == nil {
		a.State = Offline{}
	}

	st := &step{
		a:    a,
		view: view,
		tc:   tc,
		out:  Outcome{AgentID: a.ID, From: a.StateKind()},
	}

	switch a.Kind {
	case KindIndividual:
		st.individual()
	default:
		st.publisher()
	}

	st.out.To = a.StateKind()
	return st.out
}

// ── Bots and organisations ─────────────────────────────────────────

func (st *step) publisher() {
	a := st.a
	s, ok := a.State.(CreatingPost)
	if !ok {
		st.out.Err = transitionErr(a.StateKind(), StateCreatingPost, 0, ErrInvalidTransition)
		a.State = CreatingPost{Progress: Progress{Required: st.publishTicks()}}
		return
	}

	s.Spent++
	if !s.Done() {
		a.State = s
		return
	}

	post, err := a.composePost(st.tc.Settings, st.tc.Now)
	if err != nil {
		st.out.Err = transitionErr(StateCreatingPost, StateCreatingPost, 0, err)
	} else {
		st.out.Post = post
	}
	a.State = CreatingPost{Progress: Progress{Required: st.publishTicks()}}
}

func (st *step) publishTicks() int {
	if st.a.Kind == KindOrganisation {
		return st.a.organisationTicks()
	}
	return st.tc.Settings.BotCreationTicks
}

// ── Individuals ────────────────────────────────────────────────────

func (st *step) individual() {
	a := st.a
	if a.Individual == nil {
		a.Individual = &Individual{}
	}
	if a.Individual.Viewed == nil {
		a.Individual.Viewed = content.NewIDSet()
	}
	if a.Individual.ViewedComments == nil {
		a.Individual.ViewedComments = content.NewIDSet()
	}
	if a.StateKind() != StateOffline {
		a.Individual.SessionTicks++
	}

	var (
		next State
		terr *TransitionError
	)
	switch s := a.State.(type) {
	case Offline:
		next = st.fromOffline()
	case Scrolling:
		next, terr = st.fromScrolling(s)
	case ReadingPost:
		next, terr = st.fromReadingPost(s)
	case ReadingComments:
		next, terr = st.fromReadingComments(s)
	case CreatingPost:
		next, terr = st.fromCreatingPost(s)
	case CreatingComment:
		next, terr = st.fromCreatingComment(s)
	default:
		next = Offline{}
	}

	if terr != nil {
		st.out.Err = terr
		next = st.recover(terr)
	}
	a.State = next

	if rate := st.tc.Settings.InterestDecayRate; rate > 0 {
		a.Profile.Decay(rate, st.reinforced)
	}
}

func (st *step) recover(err error) State {
	if !Recoverable(err) {
		return Offline{}
	}
	return st.enterScrolling()
}

func (st *step) fromOffline() State {
	if st.tc.Policy.Offline(st.a, st.a.rng) != OfflineToScrolling {
		return Offline{}
	}
	st.a.Individual.SessionTicks = 0
	return st.enterScrolling()
}

// enterScrolling fetches a fresh batch and marks it viewed so it is not
// offered again.
func (st *step) enterScrolling() State {
	ind := st.a.Individual
	count := st.tc.Settings.RecommendationCount
	if count <= 0 {
		count = defaultBatchSize
	}

	recs := st.view.PostRecommendations(st.a.Profile, ind.Viewed, count, st.tc.Now)
	ind.Viewed.Add(recs...)
	return Scrolling{Recommended: recs}
}

func (st *step) fromScrolling(s Scrolling) (State, *TransitionError) {
	switch st.tc.Policy.Scrolling(st.a, s, st.a.rng) {
	case ScrollingRefresh:
		return st.enterScrolling(), nil

	case ScrollingToReadingPost:
		post, err := st.selectPost(s.Recommended, StateReadingPost)
		if err != nil {
			return nil, err
		}
		return st.startReadingPost(post), nil

	case ScrollingToReadingComments:
		post, err := st.selectPost(s.Recommended, StateReadingComments)
		if err != nil {
			return nil, err
		}
		return st.startReadingComments(post, StateScrolling)

	case ScrollingToCreatingPost:
		return CreatingPost{Progress: Progress{Required: st.a.postTicks(st.tc.Settings)}}, nil

	case ScrollingToCreatingComment:
		post, err := st.selectPost(s.Recommended, StateCreatingComment)
		if err != nil {
			return nil, err
		}
		return CreatingComment{
			PostID:   post.ID,
			Progress: Progress{Required: st.a.commentTicks(st.tc.Settings)},
		}, nil

	case ScrollingToOffline:
		return Offline{}, nil

	default:
		return nil, transitionErr(StateScrolling, StateScrolling, 0, ErrInvalidTransition)
	}
}

// selectPost draws one post from a batch, weighted by similarity to the
// agent's interests.
func (st *step) selectPost(ids []content.ID, to StateKind) (*content.Post, *TransitionError) {
	if len(ids) == 0 {
		return nil, transitionErr(StateScrolling, to, 0, ErrNoCandidates)
	}

	posts := make([]*content.Post, len(ids))
	weights := make([]float64, len(ids))
	for i, id := range ids {
		p, err := st.view.Post(id)
		if err != nil {
			return nil, transitionErr(StateScrolling, to, id, ErrPostNotFound)
		}
		posts[i] = p
		weights[i] = st.view.Similarity(st.a.Profile, p.Profile)
	}
	return posts[weightedPick(st.a.rng.Float64(), weights)], nil
}

// weightedPick walks weights subtracting each from draw*total and returns the
// first index where the remainder is no longer positive. If rounding leaves
// the walk without a hit, the last index is returned.
func weightedPick(draw float64, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	remaining := draw * total
	for i, w := range weights {
		remaining -= w
		if remaining <= 0 {
			return i
		}
	}
	return len(weights) - 1
}

func (st *step) interestGain(p *interest.Profile) float64 {
	sim := 0.0
	if !st.a.Profile.IsEmpty() {
		sim = st.view.Similarity(st.a.Profile, p)
	}
	return baseInterestGain * (1 + min(sim, 1))
}

func (st *step) startReadingPost(post *content.Post) ReadingPost {
	return ReadingPost{
		PostID:    post.ID,
		CreatorID: post.CreatorID,
		Progress:  Progress{Required: readTicks(post.Length, st.a.Individual.ReadSpeed)},
		Gain:      st.interestGain(post.Profile),
	}
}

func (st *step) startReadingComments(post *content.Post, from StateKind) (State, *TransitionError) {
	batch := st.tc.Settings.CommentBatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	ids, err := st.view.CommentRecommendations(post.ID, st.a.Individual.ViewedComments, batch)
	if err != nil {
		return nil, transitionErr(from, StateReadingComments, post.ID, ErrPostNotFound)
	}
	if len(ids) == 0 {
		return nil, transitionErr(from, StateReadingComments, post.ID, ErrNoCandidates)
	}

	first, err := st.view.Comment(ids[0])
	if err != nil {
		return nil, transitionErr(from, StateReadingComments, ids[0], ErrCommentNotFound)
	}

	return ReadingComments{
		PostID:     post.ID,
		CreatorID:  post.CreatorID,
		CommentIDs: ids,
		Progress:   Progress{Required: readTicks(first.Length, st.a.Individual.ReadSpeed)},
		Gain:       st.interestGain(first.Profile),
	}, nil
}

// absorb applies one tick's share of a content profile to the agent.
func (st *step) absorb(p *interest.Profile, intensity float64) {
	st.a.Profile.Absorb(p, intensity)
	if st.reinforced == nil {
		st.reinforced = make(map[string]bool, len(p.Topics))
	}
	for tag := range p.Topics {
		st.reinforced[tag] = true
	}
}

func (st *step) fromReadingPost(s ReadingPost) (State, *TransitionError) {
	s.Spent++

	post, err := st.view.Post(s.PostID)
	if err != nil {
		return nil, transitionErr(StateReadingPost, StateReadingPost, s.PostID, ErrPostNotFound)
	}

	decision := st.tc.Policy.ReadingPost(st.a, s, st.a.rng)
	if decision == ReadingPostContinue {
		// Front-loaded: half the gain lands on the first tick.
		st.absorb(post.Profile, s.Gain/float64(s.Spent+1))
		return s, nil
	}

	ind := st.a.Individual
	ind.Viewed.Add(post.ID)
	ind.rememberRead(post.ID)
	st.out.Read = append(st.out.Read, post.ID)
	st.out.Engaged = append(st.out.Engaged, post.ID)

	switch decision {
	case ReadingPostToReadingComments:
		return st.startReadingComments(post, StateReadingPost)
	case ReadingPostToCreatingComment:
		return CreatingComment{
			PostID:   post.ID,
			Progress: Progress{Required: st.a.commentTicks(st.tc.Settings)},
		}, nil
	case ReadingPostToScrolling:
		return st.enterScrolling(), nil
	case ReadingPostToOffline:
		return Offline{}, nil
	default:
		return nil, transitionErr(StateReadingPost, StateReadingPost, post.ID, ErrInvalidTransition)
	}
}

func (st *step) fromReadingComments(s ReadingComments) (State, *TransitionError) {
	s.Spent++

	if s.Index < 0 || s.Index >= len(s.CommentIDs) {
		return nil, transitionErr(StateReadingComments, StateReadingComments, s.PostID, ErrInvalidTransition)
	}
	current, err := st.view.Comment(s.CommentIDs[s.Index])
	if err != nil {
		return nil, transitionErr(StateReadingComments, StateReadingComments, s.CommentIDs[s.Index], ErrCommentNotFound)
	}

	decision := st.tc.Policy.ReadingComments(st.a, s, st.a.rng)
	if decision == ReadingCommentsContinue {
		st.absorb(current.Profile, s.Gain/float64(s.Spent+1))
		return s, nil
	}

	st.a.Individual.ViewedComments.Add(current.ID)
	st.out.Engaged = append(st.out.Engaged, current.ID)

	switch decision {
	case ReadingCommentsNext:
		next := s.Index + 1
		if next >= len(s.CommentIDs) {
			return nil, transitionErr(StateReadingComments, StateReadingComments, s.PostID, ErrInvalidTransition)
		}
		c, err := st.view.Comment(s.CommentIDs[next])
		if err != nil {
			return nil, transitionErr(StateReadingComments, StateReadingComments, s.CommentIDs[next], ErrCommentNotFound)
		}
		s.Index = next
		s.Progress = Progress{Required: readTicks(c.Length, st.a.Individual.ReadSpeed)}
		s.Gain = st.interestGain(c.Profile)
		return s, nil

	case ReadingCommentsToReadingPost:
		post, err := st.view.Post(s.PostID)
		if err != nil {
			return nil, transitionErr(StateReadingComments, StateReadingPost, s.PostID, ErrPostNotFound)
		}
		return st.startReadingPost(post), nil

	case ReadingCommentsToCreatingComment:
		return CreatingComment{
			PostID:   s.PostID,
			Progress: Progress{Required: st.a.commentTicks(st.tc.Settings)},
		}, nil

	case ReadingCommentsToScrolling:
		return st.enterScrolling(), nil

	case ReadingCommentsToOffline:
		return Offline{}, nil

	default:
		return nil, transitionErr(StateReadingComments, StateReadingComments, s.PostID, ErrInvalidTransition)
	}
}

func (st *step) fromCreatingPost(s CreatingPost) (State, *TransitionError) {
	s.Spent++

	decision := st.tc.Policy.CreatingPost(st.a, s, st.a.rng)
	if decision == CreatingContinue {
		return s, nil
	}

	post, err := st.a.composePost(st.tc.Settings, st.tc.Now)
	if err != nil {
		return nil, transitionErr(StateCreatingPost, StateScrolling, 0, err)
	}
	st.out.Post = post

	return st.afterCreating(StateCreatingPost, decision)
}

func (st *step) fromCreatingComment(s CreatingComment) (State, *TransitionError) {
	s.Spent++

	decision := st.tc.Policy.CreatingComment(st.a, s, st.a.rng)
	if decision == CreatingContinue {
		return s, nil
	}

	if _, err := st.view.Post(s.PostID); err != nil {
		return nil, transitionErr(StateCreatingComment, StateScrolling, s.PostID, ErrPostNotFound)
	}
	c, err := st.a.composeComment(s.PostID, st.tc.Settings, st.tc.Now)
	if err != nil {
		return nil, transitionErr(StateCreatingComment, StateScrolling, s.PostID, err)
	}
	st.out.Comment = c
	st.out.Engaged = append(st.out.Engaged, s.PostID)

	return st.afterCreating(StateCreatingComment, decision)
}

func (st *step) afterCreating(from StateKind, decision CreatingTransition) (State, *TransitionError) {
	switch decision {
	case CreatingToScrolling:
		return st.enterScrolling(), nil
	case CreatingToOffline:
		return Offline{}, nil
	default:
		return nil, transitionErr(from, from, 0, ErrInvalidTransition)
	}
}

// Diversity is 1 minus the mean similarity between the agent's interests and
// its most recent reads. ok is false when there is nothing to compare.
func (a *Agent) Diversity(view recommend.View) (score float64, ok bool) {
	if a.Individual == nil || len(a.Individual.RecentReads) == 0 {
		return 0, false
	}

	sum, n := 0.0, 0
	for _, id := range a.Individual.RecentReads {
		p, err := view.Post(id)
		if err != nil {
			continue
		}
		sum += view.Similarity(a.Profile, p.Profile)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return 1 - sum/float64(n), true
}
