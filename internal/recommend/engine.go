// Package recommend owns the content pool and scores content against
// interest profiles: cosine similarity, exponential recency decay and
// normalized engagement.
package recommend

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/talgya/feedsim/internal/content"
	"github.com/talgya/feedsim/internal/interest"
	"github.com/talgya/feedsim/internal/vecmath"
)

// EngagementUnit is the fixed amount one engagement event adds.
const EngagementUnit = 1.0

var (
	ErrNotFound    = errors.New("content not found")
	ErrDuplicateID = errors.New("duplicate content id")
)

// Config holds the scoring weights. The weights are not required to sum to 1;
// the final clamp absorbs any overflow unless NormalizeWeights is set.
type Config struct {
	InterestWeight   float64 `json:"interest_weight" yaml:"interest_weight"`
	RecencyWeight    float64 `json:"recency_weight" yaml:"recency_weight"`
	EngagementWeight float64 `json:"engagement_weight" yaml:"engagement_weight"`
	RecencyDecayRate float64 `json:"recency_decay_rate" yaml:"recency_decay_rate"` // per hour
	VectorDimension  int     `json:"vector_dimension" yaml:"vector_dimension"`
	NormalizeWeights bool    `json:"normalize_weights" yaml:"normalize_weights"`
}

// DefaultConfig returns the stock scoring configuration.
func DefaultConfig() Config {
	return Config{
		InterestWeight:   0.5,
		RecencyWeight:    0.3,
		EngagementWeight: 0.2,
		RecencyDecayRate: 0.05,
		VectorDimension:  interest.DefaultDimension,
	}
}

// WeightSum is the sum of the three scoring weights.
func (c Config) WeightSum() float64 {
	return c.InterestWeight + c.RecencyWeight + c.EngagementWeight
}

func (c Config) effective() Config {
	sum := c.WeightSum()
	if !c.NormalizeWeights || sum <= 0 {
		return c
	}
	c.InterestWeight /= sum
	c.RecencyWeight /= sum
	c.EngagementWeight /= sum
	return c
}

// View is the read-only surface agents see during a tick.
type View interface {
	Similarity(a, b *interest.Profile) float64
	PostRecommendations(viewer *interest.Profile, excluded content.IDSet, count int, now time.Time) []content.ID
	CommentRecommendations(postID content.ID, excluded content.IDSet, count int) ([]content.ID, error)
	Post(id content.ID) (*content.Post, error)
	Comment(id content.ID) (*content.Comment, error)
}

// location addresses a piece of content in the pool; comment is -1 for posts.
type location struct {
	post    int
	comment int
}

// Engine is the recommendation engine and owner of the content pool.
// It is safe for concurrent use: reads share a lock, mutations are exclusive.
type Engine struct {
	mu sync.RWMutex

	cfg     Config
	weights Config
	index   *interest.TagIndex

	posts         []*content.Post
	byID          map[content.ID]location
	nextID        content.ID
	maxEngagement float64
	comments      int
}

var _ View = (*Engine)(nil)

// New builds an engine over a fixed tag vocabulary.
func New(tags []string, cfg Config) (*Engine, error) {
	idx, err := interest.NewTagIndex(tags, cfg.VectorDimension)
	if err != nil {
		return nil, fmt.Errorf("tag index: %w", err)
	}
	cfg.VectorDimension = idx.Dimension()

	return &Engine{
		cfg:     cfg,
		weights: cfg.effective(),
		index:   idx,
		byID:    make(map[content.ID]location),
		nextID:  1,
	}, nil
}

// Index returns the engine's tag table.
func (e *Engine) Index() *interest.TagIndex {
	return e.index
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// NewProfile returns an empty profile laid out by the engine's tag table.
func (e *Engine) NewProfile() *interest.Profile {
	return interest.NewProfile(e.index)
}

// NextID reserves the next content ID. IDs are never reused.
func (e *Engine) NextID() content.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	return id
}

// Similarity is the cosine similarity of two profiles' vectors, clamped to
// [0, 1]; opposed profiles count as irrelevant rather than penalized.
func (e *Engine) Similarity(a, b *interest.Profile) float64 {
	if a == nil || b == nil {
		return 0
	}
	return vecmath.Clamp(vecmath.CosineSimilarity(a.Vector, b.Vector), 0, 1)
}

// Score rates post for viewer at now, in [0, 1].
func (e *Engine) Score(post *content.Post, viewer *interest.Profile, now time.Time) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.score(post, viewer, now)
}

func (e *Engine) score(post *content.Post, viewer *interest.Profile, now time.Time) float64 {
	w := e.weights

	alignment := e.Similarity(viewer, post.Profile)
	recency := math.Exp(-w.RecencyDecayRate * content.AgeHours(post.Timestamp, now))

	engagement := 0.0
	if e.maxEngagement > 0 {
		engagement = post.Engagement / e.maxEngagement
	}

	s := alignment*w.InterestWeight + recency*w.RecencyWeight + engagement*w.EngagementWeight
	return vecmath.Clamp(s, 0, 1)
}

type scored struct {
	id    content.ID
	score float64
}

// rank sorts by score descending, lower ID first on ties.
func rank(items []scored, count int) []content.ID {
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].id < items[j].id
	})
	if count < len(items) {
		items = items[:count]
	}
	ids := make([]content.ID, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}

// PostRecommendations returns up to count post IDs not in excluded, best first.
func (e *Engine) PostRecommendations(viewer *interest.Profile, excluded content.IDSet, count int, now time.Time) []content.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.postRecommendations(viewer, excluded, count, now)
}

func (e *Engine) postRecommendations(viewer *interest.Profile, excluded content.IDSet, count int, now time.Time) []content.ID {
	if count <= 0 {
		return nil
	}

	items := make([]scored, 0, len(e.posts))
	for _, p := range e.posts {
		if excluded.Has(p.ID) {
			continue
		}
		items = append(items, scored{id: p.ID, score: e.score(p, viewer, now)})
	}
	return rank(items, count)
}

// CommentRecommendations ranks one post's comments by engagement alone.
func (e *Engine) CommentRecommendations(postID content.ID, excluded content.IDSet, count int) ([]content.ID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.commentRecommendations(postID, excluded, count)
}

func (e *Engine) commentRecommendations(postID content.ID, excluded content.IDSet, count int) ([]content.ID, error) {
	post, err := e.post(postID)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	items := make([]scored, 0, len(post.Comments))
	for _, c := range post.Comments {
		if excluded.Has(c.ID) {
			continue
		}
		items = append(items, scored{id: c.ID, score: c.Engagement})
	}
	return rank(items, count), nil
}

// Post looks up a post. The returned post is shared; callers must not mutate it.
func (e *Engine) Post(id content.ID) (*content.Post, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.post(id)
}

func (e *Engine) post(id content.ID) (*content.Post, error) {
	loc, ok := e.byID[id]
	if !ok || loc.comment >= 0 {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return e.posts[loc.post], nil
}

// Comment looks up a comment by its own ID.
func (e *Engine) Comment(id content.ID) (*content.Comment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.comment(id)
}

func (e *Engine) comment(id content.ID) (*content.Comment, error) {
	loc, ok := e.byID[id]
	if !ok || loc.comment < 0 {
		return nil, fmt.Errorf("comment %d: %w", id, ErrNotFound)
	}
	return e.posts[loc.post].Comments[loc.comment], nil
}

// ContentByID resolves any content ID to its post: the post itself, or the
// parent of a comment.
func (e *Engine) ContentByID(id content.ID) (*content.Post, content.Kind, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	loc, ok := e.byID[id]
	if !ok {
		return nil, content.KindPost, fmt.Errorf("content %d: %w", id, ErrNotFound)
	}
	if loc.comment >= 0 {
		return e.posts[loc.post], content.KindComment, nil
	}
	return e.posts[loc.post], content.KindPost, nil
}

// CreatePost appends a post to the pool. A zero ID is assigned from the
// counter; an explicit ID must be unused.
func (e *Engine) CreatePost(p *content.Post) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createPost(p)
}

func (e *Engine) createPost(p *content.Post) error {
	if err := e.checkIDs(p); err != nil {
		return err
	}

	// Explicit IDs move the counter first so assigned ones cannot land on them.
	ids := []*content.ID{&p.ID}
	for _, c := range p.Comments {
		ids = append(ids, &c.ID)
	}
	for _, id := range ids {
		if *id != 0 {
			e.claimID(id)
		}
	}
	for _, id := range ids {
		if *id == 0 {
			e.claimID(id)
		}
	}

	e.byID[p.ID] = location{post: len(e.posts), comment: -1}
	for i, c := range p.Comments {
		c.PostID = p.ID
		e.byID[c.ID] = location{post: len(e.posts), comment: i}
		e.comments++
	}
	e.posts = append(e.posts, p)
	if p.Engagement > e.maxEngagement {
		e.maxEngagement = p.Engagement
	}
	return nil
}

// checkIDs rejects a post whose explicit IDs collide with the pool or with
// each other. Nothing is modified.
func (e *Engine) checkIDs(p *content.Post) error {
	ids := make([]content.ID, 0, len(p.Comments)+1)
	ids = append(ids, p.ID)
	for _, c := range p.Comments {
		ids = append(ids, c.ID)
	}

	seen := make(map[content.ID]bool, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, taken := e.byID[id]; taken || seen[id] {
			return fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
		seen[id] = true
	}
	return nil
}

// AddComment attaches a comment to an existing post.
func (e *Engine) AddComment(postID content.ID, c *content.Comment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addComment(postID, c)
}

func (e *Engine) addComment(postID content.ID, c *content.Comment) error {
	loc, ok := e.byID[postID]
	if !ok || loc.comment >= 0 {
		return fmt.Errorf("post %d: %w", postID, ErrNotFound)
	}
	if c.ID != 0 {
		if _, taken := e.byID[c.ID]; taken {
			return fmt.Errorf("%w: %d", ErrDuplicateID, c.ID)
		}
	}
	e.claimID(&c.ID)

	post := e.posts[loc.post]
	c.PostID = postID
	e.byID[c.ID] = location{post: loc.post, comment: len(post.Comments)}
	post.Comments = append(post.Comments, c)
	e.comments++
	return nil
}

// claimID assigns a zero ID from the counter, or advances the counter past
// an explicit one. Callers check for collisions first.
func (e *Engine) claimID(id *content.ID) {
	if *id == 0 {
		*id = e.nextID
		e.nextID++
		return
	}
	if *id >= e.nextID {
		e.nextID = *id + 1
	}
}

// IncreaseEngagement adds one engagement unit to a post or comment.
func (e *Engine) IncreaseEngagement(id content.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.increaseEngagement(id)
}

func (e *Engine) increaseEngagement(id content.ID) error {
	loc, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("content %d: %w", id, ErrNotFound)
	}

	post := e.posts[loc.post]
	if loc.comment >= 0 {
		post.Comments[loc.comment].Engagement += EngagementUnit
		return nil
	}
	post.Engagement += EngagementUnit
	if post.Engagement > e.maxEngagement {
		e.maxEngagement = post.Engagement
	}
	return nil
}

// AddReader records that agent read a post. Repeat reads are recorded once.
func (e *Engine) AddReader(postID content.ID, agent content.AuthorID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addReader(postID, agent)
}

func (e *Engine) addReader(postID content.ID, agent content.AuthorID) error {
	post, err := e.post(postID)
	if err != nil {
		return err
	}
	if !post.HasReader(agent) {
		post.Readers = append(post.Readers, agent)
	}
	return nil
}

// Posts returns a snapshot of the pool in creation order.
func (e *Engine) Posts() []*content.Post {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*content.Post, len(e.posts))
	copy(out, e.posts)
	return out
}

// Export returns detached copies of every post with ID at least from, in
// pool order, for persistence. Engagement and readers reflect the moment
// of the call.
func (e *Engine) Export(from content.ID) []*content.Post {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*content.Post
	for _, p := range e.posts {
		if p.ID >= from {
			out = append(out, p.Copy())
		}
	}
	return out
}

// Counts returns the number of posts and comments in the pool.
func (e *Engine) Counts() (posts, comments int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.posts), e.comments
}

// TopPosts returns up to n posts by engagement, lower ID first on ties.
func (e *Engine) TopPosts(n int) []*content.Post {
	e.mu.RLock()
	defer e.mu.RUnlock()

	items := make([]scored, len(e.posts))
	for i, p := range e.posts {
		items[i] = scored{id: p.ID, score: p.Engagement}
	}
	ids := rank(items, n)

	out := make([]*content.Post, len(ids))
	for i, id := range ids {
		out[i] = e.posts[e.byID[id].post]
	}
	return out
}

// EngagementGini measures how unevenly engagement is spread across posts:
// 0 when every post has the same engagement, approaching 1 when one post has it all.
func (e *Engine) EngagementGini() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.posts)
	if n == 0 {
		return 0
	}
	vals := make([]float64, n)
	total := 0.0
	for i, p := range e.posts {
		vals[i] = p.Engagement
		total += p.Engagement
	}
	if total == 0 {
		return 0
	}
	sort.Float64s(vals)

	weighted := 0.0
	for i, v := range vals {
		weighted += float64(i+1) * v
	}
	return (2*weighted)/(float64(n)*total) - float64(n+1)/float64(n)
}
