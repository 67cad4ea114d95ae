package engine

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/feedsim/internal/agents"
	"github.com/talgya/feedsim/internal/content"
	"github.com/talgya/feedsim/internal/interest"
	"github.com/talgya/feedsim/internal/recommend"
)

var (
	testTags = []string{"politics", "technology", "science", "entertainment", "sports", "health"}
	epoch    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestSim(t *testing.T, seed int64, workers int) *Simulation {
	t.Helper()
	pool, err := recommend.New(testTags, recommend.DefaultConfig())
	require.NoError(t, err)

	pop := agents.NewSpawner(seed, pool.Index()).SpawnPopulation(agents.PopulationConfig{
		Individuals:              30,
		Bots:                     3,
		Organisations:            2,
		StartingTagsIndividual:   3,
		StartingTagsBot:          2,
		StartingTagsOrganisation: 1,
	})

	return NewSimulation(pool, pop, Options{
		Clock:    Clock{Start: epoch, TickDuration: time.Minute},
		Settings: agents.DefaultSettings(),
		Workers:  workers,
	})
}

func runTicks(s *Simulation, n int) {
	for tick := uint64(1); tick <= uint64(n); tick++ {
		s.TickMinute(tick)
	}
}

type postPrint struct {
	ID         content.ID
	Creator    content.AuthorID
	Engagement float64
	Readers    []content.AuthorID
	Comments   []content.ID
	Tags       []string
}

type agentPrint struct {
	State   agents.StateKind
	Created []content.ID
	Tags    []string
}

func fingerprint(s *Simulation) ([]postPrint, []agentPrint) {
	var posts []postPrint
	for _, p := range s.Pool.Posts() {
		posts = append(posts, postPrint{
			ID: p.ID, Creator: p.CreatorID, Engagement: p.Engagement,
			Readers: p.Readers, Comments: p.CommentIDs(), Tags: p.Profile.TopTags(10),
		})
	}
	var ags []agentPrint
	for _, a := range s.Agents {
		ags = append(ags, agentPrint{State: a.StateKind(), Created: a.Created, Tags: a.Profile.TopTags(10)})
	}
	return posts, ags
}

func TestTickIsIndependentOfWorkerCount(t *testing.T) {
	serial := newTestSim(t, 99, 1)
	parallel := newTestSim(t, 99, 8)
	runTicks(serial, 300)
	runTicks(parallel, 300)

	sp, sa := fingerprint(serial)
	pp, pa := fingerprint(parallel)
	require.NotEmpty(t, sp, "the run should have produced content")
	assert.Equal(t, sp, pp)
	assert.Equal(t, sa, pa)
	assert.Equal(t, serial.Stats().TotalErrors, parallel.Stats().TotalErrors)
}

func TestCommitAssignsIDsAndRecordsAuthorship(t *testing.T) {
	s := newTestSim(t, 5, 4)
	runTicks(s, 200)

	posts, comments := s.Pool.Counts()
	require.Positive(t, posts)

	owned := 0
	for _, a := range s.Agents {
		for _, id := range a.Created {
			p, kind, err := s.Pool.ContentByID(id)
			require.NoError(t, err)
			if kind == content.KindPost {
				assert.Equal(t, content.AuthorID(a.ID), p.CreatorID)
			} else {
				c, err := s.Pool.Comment(id)
				require.NoError(t, err)
				assert.Equal(t, content.AuthorID(a.ID), c.CommenterID)
			}
			owned++
		}
	}
	assert.Equal(t, posts+comments, owned, "every piece of content has exactly one author record")
	assert.Equal(t, content.ID(posts+comments+1), s.Pool.NextID())
}

func TestEventsAndStats(t *testing.T) {
	s := newTestSim(t, 11, 2)
	runTicks(s, 120)

	st := s.Stats()
	assert.Equal(t, uint64(120), st.Tick)
	assert.Equal(t, 35, st.Agents)
	total := 0
	for _, n := range st.StateCounts {
		total += n
	}
	assert.Equal(t, 35, total)

	full := s.UpdateStats()
	assert.Greater(t, full.MeanConcentration, 0.0)
	assert.LessOrEqual(t, full.MeanConcentration, 1.0)
	assert.GreaterOrEqual(t, full.EngagementGini, 0.0)
	assert.GreaterOrEqual(t, full.Polarization, 0.0)
	assert.LessOrEqual(t, full.Polarization, 1.0)

	events := s.RecentEvents(10)
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i-1].Tick, events[i].Tick, "newest first")
	}
	created := 0
	for _, e := range s.EventsSince(0) {
		if e.Category == EventPostCreated {
			created++
			_, err := s.Pool.Post(e.ContentID)
			assert.NoError(t, err)
		}
	}
	posts, _ := s.Pool.Counts()
	assert.Equal(t, posts, created)
	assert.Empty(t, s.EventsSince(120))
}

func TestStatsJSONUsesStateNames(t *testing.T) {
	s := newTestSim(t, 3, 1)
	data, err := json.Marshal(s.Stats())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"offline":30`)
	assert.Contains(t, string(data), `"creating_post":5`)
}

func TestAgentViewsAreDetached(t *testing.T) {
	s := newTestSim(t, 8, 2)
	runTicks(s, 60)

	views := s.AgentViews()
	require.Len(t, views, len(s.Agents))
	v, ok := s.AgentView(1)
	require.True(t, ok)
	assert.Equal(t, agents.KindIndividual, v.Kind)
	require.NotNil(t, v.Individual)
	assert.Nil(t, v.Individual.Viewed)

	v.Profile.Set("politics", 42, 0)
	assert.NotEqual(t, 42.0, s.AgentIndex[1].Profile.Weight("politics"))

	_, ok = s.AgentView(999)
	assert.False(t, ok)

	data, err := json.Marshal(views)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":`)
}

func TestRecommendationsFor(t *testing.T) {
	s := newTestSim(t, 4, 2)
	runTicks(s, 120)

	recs, ok := s.RecommendationsFor(1, 5)
	require.True(t, ok)
	assert.LessOrEqual(t, len(recs), 5)
	viewed := s.AgentIndex[1].Individual.Viewed
	for i, r := range recs {
		assert.False(t, viewed.Has(r.PostID))
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, recs[i-1].Score, r.Score)
		}
	}

	_, ok = s.RecommendationsFor(999, 5)
	assert.False(t, ok)
}

func TestSnapshot(t *testing.T) {
	s := newTestSim(t, 6, 2)
	runTicks(s, 90)

	snap := s.Snapshot(0, 60)
	assert.Equal(t, uint64(90), snap.Tick)
	assert.Equal(t, epoch.Add(90*time.Minute), snap.Time)
	assert.Len(t, snap.Agents, 35)
	posts, _ := s.Pool.Counts()
	assert.Len(t, snap.Posts, posts)
	for _, e := range snap.Events {
		assert.Greater(t, e.Tick, uint64(60))
	}
}

func TestTickMinuteCountsErrors(t *testing.T) {
	pool, err := recommend.New(testTags, recommend.DefaultConfig())
	require.NoError(t, err)
	profile := pool.NewProfile()
	profile.Set("politics", 1, 0)
	profile.Normalize()

	a := agents.NewIndividual(1, profile, agents.Individual{NextPostLikelihood: 1}, 0.5, 0.3, nil)
	a.State = agents.ReadingPost{PostID: 404}
	s := NewSimulation(pool, []*agents.Agent{a}, Options{
		Clock:    Clock{Start: epoch, TickDuration: time.Minute},
		Settings: agents.DefaultSettings(),
	})

	s.TickMinute(1)
	st := s.Stats()
	assert.Equal(t, 1, st.TickErrors)
	assert.Equal(t, uint64(1), st.TotalErrors)
	assert.Equal(t, 1, st.StateCounts[agents.StateScrolling])
}

func TestPostAccessorsReturnCopies(t *testing.T) {
	s := newTestSim(t, 12, 2)
	runTicks(s, 120)

	top := s.TopPosts(3)
	require.NotEmpty(t, top)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Engagement, top[i].Engagement)
	}

	p, err := s.Post(top[0].ID)
	require.NoError(t, err)
	p.Engagement = -1
	p.Readers = append(p.Readers, 999)
	live, err := s.Pool.Post(top[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, -1.0, live.Engagement)
	assert.False(t, live.HasReader(999))

	_, err = s.Post(1 << 40)
	assert.ErrorIs(t, err, recommend.ErrNotFound)
}

// refreshing keeps scrolling individuals on fresh batches.
type refreshing struct{ agents.DefaultPolicy }

func (refreshing) Scrolling(*agents.Agent, agents.Scrolling, *rand.Rand) agents.ScrollingTransition {
	return agents.ScrollingRefresh
}

func TestContentIsInvisibleDuringItsOwnTick(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			pool, err := recommend.New(testTags, recommend.DefaultConfig())
			require.NoError(t, err)
			profile := func() *interest.Profile {
				p := interest.NewProfile(pool.Index())
				p.Set("science", 1, 0.5)
				p.Normalize()
				return p
			}

			bot := agents.NewBot(1, profile(), rand.New(rand.NewSource(1)))
			reader := agents.NewIndividual(2, profile(), agents.Individual{NextPostLikelihood: 1}, 0.5, 0, rand.New(rand.NewSource(2)))
			s := NewSimulation(pool, []*agents.Agent{bot, reader}, Options{
				Clock:    Clock{Start: epoch, TickDuration: time.Minute},
				Settings: agents.DefaultSettings(),
				Policy:   refreshing{},
				Workers:  workers,
			})

			// The bot publishes while the reader draws its first batch.
			s.TickMinute(1)
			require.Len(t, bot.Created, 1)
			posts, _ := pool.Counts()
			assert.Equal(t, 1, posts)
			scrolling, ok := reader.State.(agents.Scrolling)
			require.True(t, ok)
			assert.Empty(t, scrolling.Recommended)

			s.TickMinute(2)
			scrolling, ok = reader.State.(agents.Scrolling)
			require.True(t, ok)
			assert.Equal(t, bot.Created, scrolling.Recommended)
		})
	}
}
