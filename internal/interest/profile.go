// Package interest models an agent's or content item's topical position:
// a set of weighted tags with per-tag agreement, projected onto a dense
// vector for similarity scoring.
package interest

import (
	"math"
	"math/rand"
	"sort"
)

// pruneBelow drops decayed topics whose weight no longer matters.
const pruneBelow = 1e-6

// Topic is one tag's share of a profile.
type Topic struct {
	Weight    float64 `json:"weight"`    // 0.0–1.0, sums to 1 across a normalized profile
	Agreement float64 `json:"agreement"` // -1.0–1.0, never normalized
}

// Profile is a weighted tag set plus its vector projection.
// Call Normalize after mutating Topics directly; the mutating methods below
// already do.
type Profile struct {
	Topics      map[string]Topic `json:"topics"`
	TotalWeight float64          `json:"total_weight"`
	Vector      []float64        `json:"-"`

	index *TagIndex
}

// NewProfile creates an empty profile whose vector is laid out by idx.
func NewProfile(idx *TagIndex) *Profile {
	p := &Profile{
		Topics: make(map[string]Topic),
		index:  idx,
	}
	if idx != nil {
		p.Vector = make([]float64, idx.Dimension())
	}
	return p
}

// Index returns the tag table the profile projects through.
func (p *Profile) Index() *TagIndex {
	return p.index
}

// Len is the number of topics.
func (p *Profile) Len() int {
	return len(p.Topics)
}

// IsEmpty reports whether the profile has no weight at all.
func (p *Profile) IsEmpty() bool {
	for _, t := range p.Topics {
		if t.Weight > 0 {
			return false
		}
	}
	return true
}

// Weight returns the weight of tag, or 0 if absent.
func (p *Profile) Weight(tag string) float64 {
	return p.Topics[tag].Weight
}

// Set assigns a topic without normalizing.
func (p *Profile) Set(tag string, weight, agreement float64) {
	if p.Topics == nil {
		p.Topics = make(map[string]Topic)
	}
	p.Topics[tag] = Topic{Weight: weight, Agreement: agreement}
}

// Normalize rescales weights to sum to 1 and rebuilds the vector.
// A profile with zero total weight is left as is.
func (p *Profile) Normalize() {
	tags := p.sortedTags()

	total := 0.0
	for _, tag := range tags {
		total += p.Topics[tag].Weight
	}
	p.TotalWeight = total

	if total != 0 {
		for _, tag := range tags {
			t := p.Topics[tag]
			t.Weight /= total
			p.Topics[tag] = t
		}
		p.TotalWeight = 1
	}
	p.rebuildVector()
}

func (p *Profile) rebuildVector() {
	if p.index == nil {
		return
	}
	if len(p.Vector) != p.index.Dimension() {
		p.Vector = make([]float64, p.index.Dimension())
	}
	for i := range p.Vector {
		p.Vector[i] = 0
	}
	for tag, t := range p.Topics {
		// Tags outside the vocabulary keep their weight but are invisible to scoring.
		if i, ok := p.index.Index(tag); ok {
			p.Vector[i] = t.Weight
		}
	}
}

// Absorb blends src into p: every tag of src gains src.weight*intensity.
// New tags start with neutral agreement. intensity is not clamped.
func (p *Profile) Absorb(src *Profile, intensity float64) {
	if src == nil {
		return
	}
	if p.Topics == nil {
		p.Topics = make(map[string]Topic)
	}
	for _, tag := range src.sortedTags() {
		t := p.Topics[tag]
		t.Weight += src.Topics[tag].Weight * intensity
		p.Topics[tag] = t
	}
	p.Normalize()
}

// SelectTags picks between minTags and maxTags tags for a new piece of
// content. The first tag is a roulette draw over the weights; the rest are
// drawn uniformly from what remains. Bounds are capped at the number of
// topics, and an empty profile yields nil.
func (p *Profile) SelectTags(rng *rand.Rand, minTags, maxTags int) []string {
	ranked := p.ranked()
	if len(ranked) == 0 {
		return nil
	}

	upper := min(maxTags, len(ranked))
	lower := min(max(minTags, 0), upper)
	if upper <= 0 {
		return nil
	}
	count := lower + rng.Intn(upper-lower+1)

	total := 0.0
	for _, t := range ranked {
		total += p.Topics[t].Weight
	}

	first := 0
	if total > 0 {
		draw := rng.Float64() * total
		for i, t := range ranked {
			draw -= p.Topics[t].Weight
			if draw <= 0 {
				first = i
				break
			}
		}
	}

	selected := []string{ranked[first]}
	remaining := append(append([]string{}, ranked[:first]...), ranked[first+1:]...)
	for len(selected) < count && len(remaining) > 0 {
		i := rng.Intn(len(remaining))
		selected = append(selected, remaining[i])
		remaining = append(remaining[:i], remaining[i+1:]...)
	}
	return selected
}

// Filtered returns a new, separately normalized profile holding only tags.
// Tags p does not have are skipped.
func (p *Profile) Filtered(tags []string) *Profile {
	out := NewProfile(p.index)
	for _, tag := range tags {
		if t, ok := p.Topics[tag]; ok {
			out.Topics[tag] = t
		}
	}
	out.Normalize()
	return out
}

// Clone returns a deep copy sharing the same tag index.
func (p *Profile) Clone() *Profile {
	out := &Profile{
		Topics:      make(map[string]Topic, len(p.Topics)),
		TotalWeight: p.TotalWeight,
		index:       p.index,
	}
	for tag, t := range p.Topics {
		out.Topics[tag] = t
	}
	if p.Vector != nil {
		out.Vector = make([]float64, len(p.Vector))
		copy(out.Vector, p.Vector)
	}
	return out
}

// Decay shrinks every topic not in spared by (1-rate), drops topics that
// fall below a negligible weight, and renormalizes. A rate of 0 is a no-op.
func (p *Profile) Decay(rate float64, spared map[string]bool) {
	if rate <= 0 || len(p.Topics) == 0 {
		return
	}
	if rate > 1 {
		rate = 1
	}
	for _, tag := range p.sortedTags() {
		if spared[tag] {
			continue
		}
		t := p.Topics[tag]
		t.Weight *= 1 - rate
		if t.Weight < pruneBelow {
			delete(p.Topics, tag)
			continue
		}
		p.Topics[tag] = t
	}
	p.Normalize()
}

// TopTags returns up to n tags by descending weight.
func (p *Profile) TopTags(n int) []string {
	ranked := p.ranked()
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// Concentration is the Herfindahl index of the weights: 1 for a single-topic
// profile, 1/n for n equal topics, 0 when empty.
func (p *Profile) Concentration() float64 {
	hhi := 0.0
	for _, tag := range p.sortedTags() {
		w := p.Topics[tag].Weight
		hhi += w * w
	}
	return hhi
}

// Polarization is the weight-averaged absolute agreement.
func (p *Profile) Polarization() float64 {
	sum := 0.0
	for _, tag := range p.sortedTags() {
		t := p.Topics[tag]
		sum += t.Weight * math.Abs(t.Agreement)
	}
	return sum
}

func (p *Profile) sortedTags() []string {
	tags := make([]string, 0, len(p.Topics))
	for tag := range p.Topics {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ranked orders tags by weight descending, then name ascending.
func (p *Profile) ranked() []string {
	tags := p.sortedTags()
	sort.SliceStable(tags, func(i, j int) bool {
		return p.Topics[tags[i]].Weight > p.Topics[tags[j]].Weight
	})
	return tags
}
