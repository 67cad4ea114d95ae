// Simulation ties the agent population to the content pool and runs it each tick.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/feedsim/internal/agents"
	"github.com/talgya/feedsim/internal/content"
	"github.com/talgya/feedsim/internal/interest"
	"github.com/talgya/feedsim/internal/logging"
	"github.com/talgya/feedsim/internal/recommend"
)

// maxEvents bounds the in-memory event log.
const maxEvents = 5000

// Event categories.
const (
	EventPostCreated    = "post_created"
	EventCommentCreated = "comment_created"
	EventWentOffline    = "went_offline"
)

// Event is a notable occurrence in the simulation.
type Event struct {
	Tick        uint64         `json:"tick" db:"tick"`
	Time        time.Time      `json:"time" db:"sim_time"`
	Category    string         `json:"category" db:"category"`
	AgentID     agents.AgentID `json:"agent_id" db:"agent_id"`
	ContentID   content.ID     `json:"content_id,omitempty" db:"content_id"`
	Description string         `json:"description" db:"description"`
}

// SimStats tracks aggregate statistics. State counts and error counts are
// refreshed every tick; the remaining measures on UpdateStats.
type SimStats struct {
	Tick        uint64                   `json:"tick"`
	Agents      int                      `json:"agents"`
	StateCounts map[agents.StateKind]int `json:"state_counts"`
	Posts       int                      `json:"posts"`
	Comments    int                      `json:"comments"`

	MeanConcentration float64 `json:"mean_concentration"` // Herfindahl index of interest weights
	EngagementGini    float64 `json:"engagement_gini"`
	MeanDiversity     float64 `json:"mean_diversity"`
	Polarization      float64 `json:"polarization"`

	TickErrors  int    `json:"tick_errors"`
	TotalErrors uint64 `json:"total_errors"`
}

func (st SimStats) clone() SimStats {
	counts := make(map[agents.StateKind]int, len(st.StateCounts))
	for k, v := range st.StateCounts {
		counts[k] = v
	}
	st.StateCounts = counts
	return st
}

// Options configures a Simulation.
type Options struct {
	Clock    Clock
	Settings agents.Settings
	Policy   agents.Policy // nil means agents.DefaultPolicy
	Workers  int           // 0 means GOMAXPROCS
}

// Simulation holds the population and the pool and advances them together.
// All methods are safe to call from API goroutines while the loop runs.
type Simulation struct {
	mu sync.RWMutex

	Pool       *recommend.Engine
	Agents     []*agents.Agent
	AgentIndex map[agents.AgentID]*agents.Agent
	Events     []Event // Recent events, oldest first
	LastTick   uint64  // Most recent tick processed

	clock    Clock
	settings agents.Settings
	policy   agents.Policy
	workers  int

	stats SimStats
}

// NewSimulation creates a Simulation over an existing pool and population.
func NewSimulation(pool *recommend.Engine, ag []*agents.Agent, opts Options) *Simulation {
	index := make(map[agents.AgentID]*agents.Agent, len(ag))
	for _, a := range ag {
		index[a.ID] = a
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	policy := opts.Policy
	if policy == nil {
		policy = agents.DefaultPolicy{}
	}

	sim := &Simulation{
		Pool:       pool,
		Agents:     ag,
		AgentIndex: index,
		clock:      opts.Clock,
		settings:   opts.Settings,
		policy:     policy,
		workers:    workers,
	}
	sim.countStates()
	sim.updateStats()
	return sim
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastTick
}

// Clock returns the simulation clock.
func (s *Simulation) Clock() Clock {
	return s.clock
}

// TickMinute advances every agent by one step. Agents decide in parallel
// against a frozen pool; their outcomes are then applied in agent order, so
// the result does not depend on the number of workers.
func (s *Simulation) TickMinute(tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastTick = tick
	now := s.clock.Now(tick)
	tc := agents.TickContext{Now: now, Settings: s.settings, Policy: s.policy}

	outcomes := make([]agents.Outcome, len(s.Agents))
	_ = s.Pool.Read(func(view recommend.View) error {
		var g errgroup.Group
		g.SetLimit(s.workers)
		for i, a := range s.Agents {
			g.Go(func() error {
				outcomes[i] = a.Tick(view, tc)
				return nil
			})
		}
		return g.Wait()
	})

	errCount := 0
	_ = s.Pool.Apply(func(m recommend.Mutator) error {
		for i, out := range outcomes {
			if out.Err != nil {
				errCount++
			}
			s.commit(m, s.Agents[i], out, tick, now)
		}
		return nil
	})

	s.stats.Tick = tick
	s.stats.TickErrors = errCount
	s.stats.TotalErrors += uint64(errCount)
	s.stats.Posts, s.stats.Comments = s.Pool.Counts()
	s.countStates()
	s.trimEvents()
}

// commit applies one agent's outcome. Pending content gets its ID here.
func (s *Simulation) commit(m recommend.Mutator, a *agents.Agent, out agents.Outcome, tick uint64, now time.Time) {
	ctx := context.Background()
	if out.Err != nil {
		slog.Debug("transition error", "tick", tick, "agent", a.ID, "from", out.From, "to", out.To, "error", out.Err)
	} else if out.From != out.To {
		slog.Log(ctx, logging.LevelTrace, "transition", "tick", tick, "agent", a.ID, "from", out.From, "to", out.To)
	}

	if out.Post != nil {
		if err := m.CreatePost(out.Post); err != nil {
			slog.Warn("post rejected", "tick", tick, "agent", a.ID, "error", err)
		} else {
			a.RecordCreated(out.Post.ID)
			s.addEvent(Event{
				Tick: tick, Time: now, Category: EventPostCreated,
				AgentID: a.ID, ContentID: out.Post.ID,
				Description: fmt.Sprintf("%s %d posted on %v", a.Kind, a.ID, out.Post.Profile.TopTags(3)),
			})
		}
	}

	if out.Comment != nil {
		if err := m.AddComment(out.Comment.PostID, out.Comment); err != nil {
			slog.Debug("comment rejected", "tick", tick, "agent", a.ID, "post", out.Comment.PostID, "error", err)
		} else {
			a.RecordCreated(out.Comment.ID)
			s.addEvent(Event{
				Tick: tick, Time: now, Category: EventCommentCreated,
				AgentID: a.ID, ContentID: out.Comment.ID,
				Description: fmt.Sprintf("agent %d commented on post %d", a.ID, out.Comment.PostID),
			})
		}
	}

	for _, id := range out.Engaged {
		if err := m.IncreaseEngagement(id); err != nil {
			slog.Debug("engagement dropped", "tick", tick, "agent", a.ID, "content", id, "error", err)
		}
	}
	for _, id := range out.Read {
		if err := m.AddReader(id, content.AuthorID(a.ID)); err != nil {
			slog.Debug("reader dropped", "tick", tick, "agent", a.ID, "post", id, "error", err)
		}
	}

	if out.To == agents.StateOffline && out.From != agents.StateOffline {
		s.addEvent(Event{
			Tick: tick, Time: now, Category: EventWentOffline, AgentID: a.ID,
			Description: fmt.Sprintf("agent %d went offline", a.ID),
		})
	}
}

func (s *Simulation) addEvent(e Event) {
	s.Events = append(s.Events, e)
}

func (s *Simulation) trimEvents() {
	if len(s.Events) > maxEvents {
		s.Events = append([]Event(nil), s.Events[len(s.Events)-maxEvents:]...)
	}
}

// TickHour refreshes aggregate stats and logs an hourly summary.
func (s *Simulation) TickHour(tick uint64) {
	st := s.UpdateStats()
	slog.Debug("hourly summary",
		"tick", tick,
		"time", SimTime(tick),
		"posts", st.Posts,
		"comments", st.Comments,
		"errors", st.TotalErrors,
	)
}

// TickDay logs the daily report.
func (s *Simulation) TickDay(tick uint64) {
	st := s.UpdateStats()

	s.mu.RLock()
	eventCounts := make(map[string]int)
	since := tick - min(tick, TicksPerSimDay)
	for _, e := range s.Events {
		if e.Tick > since {
			eventCounts[e.Category]++
		}
	}
	s.mu.RUnlock()

	slog.Info("daily report",
		"tick", tick,
		"time", SimTime(tick),
		"agents", st.Agents,
		"online", st.Agents-st.StateCounts[agents.StateOffline],
		"posts", st.Posts,
		"comments", st.Comments,
		"concentration", fmt.Sprintf("%.3f", st.MeanConcentration),
		"gini", fmt.Sprintf("%.3f", st.EngagementGini),
		"diversity", fmt.Sprintf("%.3f", st.MeanDiversity),
		"polarization", fmt.Sprintf("%.3f", st.Polarization),
		"events_post", eventCounts[EventPostCreated],
		"events_comment", eventCounts[EventCommentCreated],
		"events_offline", eventCounts[EventWentOffline],
		"errors", st.TotalErrors,
	)
}

// UpdateStats recomputes every aggregate measure and returns the result.
func (s *Simulation) UpdateStats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateStats()
	return s.stats.clone()
}

// Stats returns the last computed statistics.
func (s *Simulation) Stats() SimStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.clone()
}

func (s *Simulation) countStates() {
	counts := make(map[agents.StateKind]int, agents.NumStates)
	for _, a := range s.Agents {
		counts[a.StateKind()]++
	}
	s.stats.StateCounts = counts
	s.stats.Agents = len(s.Agents)
}

func (s *Simulation) updateStats() {
	s.stats.Tick = s.LastTick
	s.stats.Posts, s.stats.Comments = s.Pool.Counts()
	s.stats.EngagementGini = s.Pool.EngagementGini()

	var conc, pol, div float64
	var nProfiles, nDiv int
	_ = s.Pool.Read(func(view recommend.View) error {
		for _, a := range s.Agents {
			if !a.Profile.IsEmpty() {
				conc += a.Profile.Concentration()
				pol += a.Profile.Polarization()
				nProfiles++
			}
			if d, ok := a.Diversity(view); ok {
				div += d
				nDiv++
			}
		}
		return nil
	})

	s.stats.MeanConcentration = mean(conc, nProfiles)
	s.stats.Polarization = mean(pol, nProfiles)
	s.stats.MeanDiversity = mean(div, nDiv)
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// RecentEvents returns up to limit of the newest events, newest first.
func (s *Simulation) RecentEvents(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, len(s.Events))
	out := make([]Event, 0, n)
	for i := len(s.Events) - 1; i >= len(s.Events)-n; i-- {
		out = append(out, s.Events[i])
	}
	return out
}

// EventsSince returns the events recorded after tick, oldest first.
func (s *Simulation) EventsSince(tick uint64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.Events {
		if e.Tick > tick {
			out = append(out, e)
		}
	}
	return out
}

// AgentView is a detached, JSON-friendly copy of an agent.
type AgentView struct {
	ID                agents.AgentID     `json:"id"`
	Kind              agents.Kind        `json:"kind"`
	State             agents.StateKind   `json:"state"`
	Progress          float64            `json:"progress"`
	Detail            agents.State       `json:"detail"`
	Profile           *interest.Profile  `json:"profile"`
	TopTags           []string           `json:"top_tags"`
	Created           []content.ID       `json:"created"`
	CreateSpeed       float64            `json:"create_speed"`
	CreationFrequency float64            `json:"creation_frequency"`
	Individual        *agents.Individual `json:"individual,omitempty"`
}

func viewOf(a *agents.Agent) AgentView {
	v := AgentView{
		ID:                a.ID,
		Kind:              a.Kind,
		State:             a.StateKind(),
		Progress:          agents.StateProgress(a.State),
		Detail:            a.State,
		Profile:           a.Profile.Clone(),
		TopTags:           a.Profile.TopTags(3),
		Created:           append([]content.ID(nil), a.Created...),
		CreateSpeed:       a.CreateSpeed,
		CreationFrequency: a.CreationFrequency,
	}
	if a.Individual != nil {
		ind := *a.Individual
		ind.RecentReads = append([]content.ID(nil), ind.RecentReads...)
		ind.Viewed, ind.ViewedComments = nil, nil
		v.Individual = &ind
	}
	return v
}

// AgentViews returns a copy of every agent in ID order.
func (s *Simulation) AgentViews() []AgentView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AgentView, len(s.Agents))
	for i, a := range s.Agents {
		out[i] = viewOf(a)
	}
	return out
}

// AgentView returns a copy of one agent.
func (s *Simulation) AgentView(id agents.AgentID) (AgentView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.AgentIndex[id]
	if !ok {
		return AgentView{}, false
	}
	return viewOf(a), true
}

// Recommendation is one scored entry of an agent's would-be feed.
type Recommendation struct {
	PostID content.ID `json:"post_id"`
	Score  float64    `json:"score"`
}

// RecommendationsFor returns what the pool would show the agent right now,
// excluding what it has already seen.
func (s *Simulation) RecommendationsFor(id agents.AgentID, count int) ([]Recommendation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.AgentIndex[id]
	if !ok {
		return nil, false
	}
	var viewed content.IDSet
	if a.Individual != nil {
		viewed = a.Individual.Viewed
	}

	// The pool only changes inside TickMinute, which is held off by s.mu.
	now := s.clock.Now(s.LastTick)
	ids := s.Pool.PostRecommendations(a.Profile, viewed, count, now)
	out := make([]Recommendation, 0, len(ids))
	for _, pid := range ids {
		p, err := s.Pool.Post(pid)
		if err != nil {
			continue
		}
		out = append(out, Recommendation{PostID: pid, Score: s.Pool.Score(p, a.Profile, now)})
	}
	return out, true
}

// TopPosts returns copies of up to n posts by engagement.
func (s *Simulation) TopPosts(n int) []*content.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	top := s.Pool.TopPosts(n)
	out := make([]*content.Post, len(top))
	for i, p := range top {
		out[i] = p.Copy()
	}
	return out
}

// Post returns a copy of one post.
func (s *Simulation) Post(id content.ID) (*content.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.Pool.Post(id)
	if err != nil {
		return nil, err
	}
	return p.Copy(), nil
}

// Snapshot is a consistent copy of the simulation for persistence.
type Snapshot struct {
	Tick   uint64
	Time   time.Time
	Agents []AgentView
	Posts  []*content.Post
	Events []Event
	Stats  SimStats
}

// Snapshot copies the population, the posts with IDs of at least fromPost,
// and the events after sinceTick.
func (s *Simulation) Snapshot(fromPost content.ID, sinceTick uint64) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Tick:   s.LastTick,
		Time:   s.clock.Now(s.LastTick),
		Agents: make([]AgentView, len(s.Agents)),
		Posts:  s.Pool.Export(fromPost),
		Stats:  s.stats.clone(),
	}
	for i, a := range s.Agents {
		snap.Agents[i] = viewOf(a)
	}
	for _, e := range s.Events {
		if e.Tick > sinceTick {
			snap.Events = append(snap.Events, e)
		}
	}
	return snap
}
