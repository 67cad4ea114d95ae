package interest

import (
	"errors"
	"fmt"
)

// DefaultDimension is the interest vector width used when none is configured.
const DefaultDimension = 100

var (
	ErrEmptyTag     = errors.New("empty tag")
	ErrDuplicateTag = errors.New("duplicate tag")
	ErrTooManyTags  = errors.New("vocabulary exceeds vector dimension")
)

// TagIndex is the bijective tag ↔ vector-position table shared by every
// profile in a simulation. It is immutable once built and safe for
// concurrent reads.
type TagIndex struct {
	toIndex map[string]int
	tags    []string
	dim     int
}

// NewTagIndex maps tags to positions 0..len(tags)-1 in the order given.
func NewTagIndex(tags []string, dim int) (*TagIndex, error) {
	if dim <= 0 {
		dim = DefaultDimension
	}
	if len(tags) > dim {
		return nil, fmt.Errorf("%w: %d tags, dimension %d", ErrTooManyTags, len(tags), dim)
	}

	idx := &TagIndex{
		toIndex: make(map[string]int, len(tags)),
		tags:    make([]string, 0, len(tags)),
		dim:     dim,
	}
	for _, tag := range tags {
		if tag == "" {
			return nil, ErrEmptyTag
		}
		if _, ok := idx.toIndex[tag]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTag, tag)
		}
		idx.toIndex[tag] = len(idx.tags)
		idx.tags = append(idx.tags, tag)
	}
	return idx, nil
}

// Index returns the vector position for tag.
func (t *TagIndex) Index(tag string) (int, bool) {
	i, ok := t.toIndex[tag]
	return i, ok
}

// Tag returns the tag stored at position i.
func (t *TagIndex) Tag(i int) (string, bool) {
	if i < 0 || i >= len(t.tags) {
		return "", false
	}
	return t.tags[i], true
}

// Dimension is the length of every vector built against this index.
func (t *TagIndex) Dimension() int {
	return t.dim
}

// Tags returns a copy of the vocabulary in index order.
func (t *TagIndex) Tags() []string {
	out := make([]string, len(t.tags))
	copy(out, t.tags)
	return out
}

// Len is the vocabulary size.
func (t *TagIndex) Len() int {
	return len(t.tags)
}
