package content

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPostHelpers(t *testing.T) {
	p := &Post{
		ID:       1,
		Readers:  []AuthorID{4, 9},
		Comments: []*Comment{{ID: 2, PostID: 1}, {ID: 5, PostID: 1}},
	}

	assert.Equal(t, []ID{2, 5}, p.CommentIDs())
	assert.True(t, p.HasReader(9))
	assert.False(t, p.HasReader(3))
}

func TestAgeHours(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 2.5, AgeHours(base, base.Add(150*time.Minute)), 1e-9)
	assert.Equal(t, 0.0, AgeHours(base.Add(time.Hour), base), "future timestamps count as fresh")
}

func TestIDSet(t *testing.T) {
	s := NewIDSet(1, 2)
	s.Add(7)

	assert.True(t, s.Has(1))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(3))

	var empty IDSet
	assert.False(t, empty.Has(1))
	assert.Equal(t, "post", KindPost.String())
	assert.Equal(t, "comment", KindComment.String())
}

func TestPostCopyDetaches(t *testing.T) {
	p := &Post{ID: 1, Readers: []AuthorID{3}, Comments: []*Comment{{ID: 2, PostID: 1}}, Engagement: 1}
	cp := p.Copy()

	p.Readers = append(p.Readers, 4)
	p.Comments[0].Engagement = 5
	p.Engagement = 9

	assert.Equal(t, []AuthorID{3}, cp.Readers)
	assert.Equal(t, 0.0, cp.Comments[0].Engagement)
	assert.Equal(t, 1.0, cp.Engagement)
	assert.Equal(t, ID(2), cp.Comments[0].ID)
}
