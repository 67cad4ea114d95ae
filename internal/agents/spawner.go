// Agent spawning: creates the initial population with traits and starting
// interests. Individuals draw their interests from a smooth noise landscape
// over (agent ID, tag index), so agents with nearby IDs start out with
// correlated tastes.
package agents

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/feedsim/internal/entropy"
	"github.com/talgya/feedsim/internal/interest"
)

// PopulationConfig controls initial population generation.
type PopulationConfig struct {
	Individuals   int
	Bots          int
	Organisations int

	StartingTagsIndividual   int
	StartingTagsBot          int
	StartingTagsOrganisation int
}

// Landscape sampling scales: agents drift slowly along x, tags are far apart along y.
const (
	agentStep = 0.15
	tagStep   = 0.9
)

// Spawner creates agents for the simulation.
type Spawner struct {
	seed      int64
	rng       *rand.Rand
	nextID    AgentID
	landscape opensimplex.Noise
	index     *interest.TagIndex
}

// NewSpawner creates an agent spawner with the given seed.
func NewSpawner(seed int64, idx *interest.TagIndex) *Spawner {
	return &Spawner{
		seed:      seed,
		rng:       rand.New(rand.NewSource(seed + 300)),
		nextID:    1,
		landscape: opensimplex.NewNormalized(seed),
		index:     idx,
	}
}

// SetNextID sets the next agent ID to be issued.
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// SpawnPopulation creates individuals, then bots, then organisations, with
// consecutive IDs.
func (s *Spawner) SpawnPopulation(pc PopulationConfig) []*Agent {
	out := make([]*Agent, 0, pc.Individuals+pc.Bots+pc.Organisations)
	for i := 0; i < pc.Individuals; i++ {
		out = append(out, s.SpawnIndividual(pc.StartingTagsIndividual))
	}
	for i := 0; i < pc.Bots; i++ {
		out = append(out, s.SpawnBot(pc.StartingTagsBot))
	}
	for i := 0; i < pc.Organisations; i++ {
		out = append(out, s.SpawnOrganisation())
	}
	return out
}

func (s *Spawner) next() AgentID {
	id := s.nextID
	s.nextID++
	return id
}

// SpawnIndividual creates a browsing agent with up to startingTags interests.
func (s *Spawner) SpawnIndividual(startingTags int) *Agent {
	id := s.next()

	profile := interest.NewProfile(s.index)
	for _, pick := range s.landscapeTags(id, startingTags) {
		profile.Set(pick.tag, pick.affinity, s.rng.Float64()*2-1)
	}
	profile.Normalize()

	traits := Individual{
		NextPostLikelihood: s.rng.Float64(),
		AttentionSpan:      min(s.rng.Float64(), 0.5),
		ReadSpeed:          s.rng.Float64(),
	}
	createSpeed := s.rng.Float64()
	frequency := min(s.rng.Float64(), 0.3)

	return NewIndividual(id, profile, traits, createSpeed, frequency, entropy.NewStream(s.seed, uint64(id)))
}

// SpawnBot creates a bot that splits its attention evenly across startingTags tags.
func (s *Spawner) SpawnBot(startingTags int) *Agent {
	id := s.next()

	profile := interest.NewProfile(s.index)
	for _, tag := range s.uniformTags(startingTags) {
		profile.Set(tag, 1, s.rng.Float64()*2-1)
	}
	profile.Normalize()

	return NewBot(id, profile, entropy.NewStream(s.seed, uint64(id)))
}

// SpawnOrganisation creates a single-topic publisher.
func (s *Spawner) SpawnOrganisation() *Agent {
	id := s.next()

	profile := interest.NewProfile(s.index)
	for _, tag := range s.uniformTags(1) {
		profile.Set(tag, 0.9, s.rng.Float64()*2-1)
	}
	profile.Normalize()

	return NewOrganisation(id, profile, entropy.NewStream(s.seed, uint64(id)))
}

type tagAffinity struct {
	tag      string
	affinity float64
}

// landscapeTags draws n distinct tags without replacement, weighted by the
// agent's affinity for each tag in the noise landscape.
func (s *Spawner) landscapeTags(id AgentID, n int) []tagAffinity {
	tags := s.index.Tags()
	pool := make([]tagAffinity, len(tags))
	for j, tag := range tags {
		a := octaveNoise(s.landscape, float64(id)*agentStep, float64(j)*tagStep, 3, 1.0, 0.5)
		pool[j] = tagAffinity{tag: tag, affinity: 0.05 + a}
	}

	n = min(n, len(pool))
	out := make([]tagAffinity, 0, n)
	for len(out) < n {
		weights := make([]float64, len(pool))
		for i, p := range pool {
			weights[i] = p.affinity
		}
		i := weightedPick(s.rng.Float64(), weights)
		out = append(out, pool[i])
		pool = append(pool[:i], pool[i+1:]...)
	}
	return out
}

func (s *Spawner) uniformTags(n int) []string {
	tags := s.index.Tags()
	s.rng.Shuffle(len(tags), func(i, j int) { tags[i], tags[j] = tags[j], tags[i] })
	return tags[:min(n, len(tags))]
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
