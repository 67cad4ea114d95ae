// Package content defines posts and comments, the units agents read and
// author. Content is immutable once created except for engagement, readers
// and comments, which only the recommendation engine mutates.
package content

import (
	"time"

	"github.com/talgya/feedsim/internal/interest"
)

// ID identifies a post or comment. Posts and comments share one ID space.
type ID uint64

// AuthorID is the agent that created a piece of content. It mirrors
// agents.AgentID without importing the agents package.
type AuthorID uint64

// Kind distinguishes posts from comments.
type Kind uint8

const (
	KindPost Kind = iota
	KindComment
)

func (k Kind) String() string {
	if k == KindComment {
		return "comment"
	}
	return "post"
}

// Post is a top-level piece of content.
type Post struct {
	ID         ID                `json:"id"`
	CreatorID  AuthorID          `json:"creator_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Profile    *interest.Profile `json:"profile"`
	Length     int               `json:"length"`
	Readers    []AuthorID        `json:"readers"`
	Comments   []*Comment        `json:"comments"`
	Engagement float64           `json:"engagement"`
}

// Comment belongs to exactly one post.
type Comment struct {
	ID          ID                `json:"id"`
	PostID      ID                `json:"post_id"`
	CommenterID AuthorID          `json:"commenter_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Profile     *interest.Profile `json:"profile"`
	Length      int               `json:"length"`
	Engagement  float64           `json:"engagement"`
}

// CommentIDs returns the IDs of the post's comments in append order.
func (p *Post) CommentIDs() []ID {
	ids := make([]ID, len(p.Comments))
	for i, c := range p.Comments {
		ids[i] = c.ID
	}
	return ids
}

// Copy returns a snapshot of the post whose mutable parts (readers, comments
// and engagement) are detached from the pool. Profiles are immutable once
// published and stay shared.
func (p *Post) Copy() *Post {
	out := *p
	out.Readers = append([]AuthorID(nil), p.Readers...)
	out.Comments = make([]*Comment, len(p.Comments))
	for i, c := range p.Comments {
		cc := *c
		out.Comments[i] = &cc
	}
	return &out
}

// HasReader reports whether agent has already been recorded as a reader.
func (p *Post) HasReader(agent AuthorID) bool {
	for _, r := range p.Readers {
		if r == agent {
			return true
		}
	}
	return false
}

// AgeHours is the time since creation in hours, never negative.
func AgeHours(created, now time.Time) float64 {
	h := now.Sub(created).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// IDSet is a set of content IDs.
type IDSet map[ID]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...ID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts ids.
func (s IDSet) Add(ids ...ID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Has reports membership. A nil set contains nothing.
func (s IDSet) Has(id ID) bool {
	_, ok := s[id]
	return ok
}
