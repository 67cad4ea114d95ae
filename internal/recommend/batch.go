package recommend

import (
	"time"

	"github.com/talgya/feedsim/internal/content"
	"github.com/talgya/feedsim/internal/interest"
)

// Mutator is the write surface available inside Apply.
type Mutator interface {
	CreatePost(p *content.Post) error
	AddComment(postID content.ID, c *content.Comment) error
	IncreaseEngagement(id content.ID) error
	AddReader(postID content.ID, agent content.AuthorID) error
}

// Read runs fn with the read lock held for its whole duration, so every
// lookup fn makes sees the same pool. The View is only valid inside fn, and
// fn must not call the engine's own methods or it may deadlock against a
// waiting writer. fn may use the View from several goroutines.
func (e *Engine) Read(fn func(View) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(heldView{e})
}

// Apply runs fn with the write lock held, so a batch of mutations lands
// atomically with respect to readers.
func (e *Engine) Apply(fn func(Mutator) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(heldMutator{e})
}

// heldView reads the pool without locking; the caller holds the lock.
type heldView struct{ e *Engine }

func (v heldView) Similarity(a, b *interest.Profile) float64 {
	return v.e.Similarity(a, b)
}

func (v heldView) PostRecommendations(viewer *interest.Profile, excluded content.IDSet, count int, now time.Time) []content.ID {
	return v.e.postRecommendations(viewer, excluded, count, now)
}

func (v heldView) CommentRecommendations(postID content.ID, excluded content.IDSet, count int) ([]content.ID, error) {
	return v.e.commentRecommendations(postID, excluded, count)
}

func (v heldView) Post(id content.ID) (*content.Post, error) {
	return v.e.post(id)
}

func (v heldView) Comment(id content.ID) (*content.Comment, error) {
	return v.e.comment(id)
}

type heldMutator struct{ e *Engine }

func (m heldMutator) CreatePost(p *content.Post) error {
	return m.e.createPost(p)
}

func (m heldMutator) AddComment(postID content.ID, c *content.Comment) error {
	return m.e.addComment(postID, c)
}

func (m heldMutator) IncreaseEngagement(id content.ID) error {
	return m.e.increaseEngagement(id)
}

func (m heldMutator) AddReader(postID content.ID, agent content.AuthorID) error {
	return m.e.addReader(postID, agent)
}
