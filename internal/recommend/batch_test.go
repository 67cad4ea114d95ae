package recommend

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/feedsim/internal/content"
)

func TestReadMatchesLockedMethods(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	a := addPost(t, e, map[string]float64{"politics": 1}, epoch)
	addPost(t, e, map[string]float64{"sports": 1}, epoch)
	c := &content.Comment{CommenterID: 2, Timestamp: epoch, Profile: profileOf(e, map[string]float64{"politics": 1}), Length: 3}
	require.NoError(t, e.AddComment(a, c))

	viewer := profileOf(e, map[string]float64{"politics": 1})
	want := e.PostRecommendations(viewer, nil, 5, epoch)

	err := e.Read(func(v View) error {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.Equal(t, want, v.PostRecommendations(viewer, nil, 5, epoch))
			}()
		}
		wg.Wait()

		ids, err := v.CommentRecommendations(a, nil, 5)
		require.NoError(t, err)
		assert.Equal(t, []content.ID{c.ID}, ids)

		got, err := v.Comment(c.ID)
		require.NoError(t, err)
		assert.Same(t, c, got)

		_, err = v.Post(c.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestReadPropagatesError(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	boom := errors.New("boom")
	assert.ErrorIs(t, e.Read(func(View) error { return boom }), boom)
}

func TestApplyBatch(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	post := &content.Post{CreatorID: 1, Timestamp: epoch, Profile: profileOf(e, map[string]float64{"science": 1}), Length: 5}
	comment := &content.Comment{CommenterID: 2, Timestamp: epoch, Profile: profileOf(e, map[string]float64{"science": 1}), Length: 2}

	err := e.Apply(func(m Mutator) error {
		require.NoError(t, m.CreatePost(post))
		require.NoError(t, m.AddComment(post.ID, comment))
		require.NoError(t, m.IncreaseEngagement(post.ID))
		require.NoError(t, m.IncreaseEngagement(comment.ID))
		require.NoError(t, m.AddReader(post.ID, 2))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, content.ID(1), post.ID)
	assert.Equal(t, content.ID(2), comment.ID)
	assert.Equal(t, post.ID, comment.PostID)
	assert.Equal(t, 1.0, post.Engagement)
	assert.Equal(t, 1.0, comment.Engagement)
	assert.Equal(t, []content.AuthorID{2}, post.Readers)

	posts, comments := e.Counts()
	assert.Equal(t, 1, posts)
	assert.Equal(t, 1, comments)
}

func TestApplyReportsMissingContent(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	err := e.Apply(func(m Mutator) error {
		return m.IncreaseEngagement(42)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
