package agents

import (
	"fmt"
	"time"

	"github.com/talgya/feedsim/internal/content"
)

// Settings are the simulation parameters agents read while ticking.
type Settings struct {
	MaxPostLength       int
	MaxCommentLength    int
	BaseContentLength   int
	MinContentTags      int
	MaxContentTags      int
	BotCreationTicks    int
	RecommendationCount int
	CommentBatchSize    int
	InterestDecayRate   float64
}

// DefaultSettings mirrors the stock simulation configuration.
func DefaultSettings() Settings {
	return Settings{
		MaxPostLength:       60,
		MaxCommentLength:    10,
		BaseContentLength:   20,
		MinContentTags:      1,
		MaxContentTags:      3,
		BotCreationTicks:    4,
		RecommendationCount: 10,
		CommentBatchSize:    10,
	}
}

// organisationMaxTicks caps authoring time when create speed is near zero.
const organisationMaxTicks = 3000

// composePost builds a post from the agent's own interests. The ID is left
// zero for the driver to assign.
func (a *Agent) composePost(s Settings, now time.Time) (*content.Post, error) {
	tags := a.Profile.SelectTags(a.rng, s.MinContentTags, s.MaxContentTags)
	length := s.BaseContentLength + int(a.rng.Float64()*float64(s.MaxPostLength))
	if length <= 0 {
		return nil, fmt.Errorf("%w: post of length %d", ErrInternal, length)
	}

	return &content.Post{
		CreatorID: content.AuthorID(a.ID),
		Timestamp: now,
		Profile:   a.Profile.Filtered(tags),
		Length:    length,
	}, nil
}

// composeComment builds a comment on postID.
func (a *Agent) composeComment(postID content.ID, s Settings, now time.Time) (*content.Comment, error) {
	tags := a.Profile.SelectTags(a.rng, s.MinContentTags, s.MaxContentTags)
	length := s.BaseContentLength/2 + int(a.rng.Float64()*float64(s.MaxCommentLength))
	if length <= 0 {
		return nil, fmt.Errorf("%w: comment of length %d", ErrInternal, length)
	}

	return &content.Comment{
		PostID:      postID,
		CommenterID: content.AuthorID(a.ID),
		Timestamp:   now,
		Profile:     a.Profile.Filtered(tags),
		Length:      length,
	}, nil
}

func readTicks(length int, readSpeed float64) int {
	return int(float64(length) * (1 - readSpeed))
}

func (a *Agent) postTicks(s Settings) int {
	return int(float64(s.MaxPostLength) * (1 - a.CreateSpeed))
}

func (a *Agent) commentTicks(s Settings) int {
	return int(float64(s.MaxCommentLength) * (1 - a.CreateSpeed))
}

func (a *Agent) organisationTicks() int {
	speed := max(a.CreateSpeed, 0.01)
	return min(int(a.rng.Float64()*30/speed), organisationMaxTicks)
}
