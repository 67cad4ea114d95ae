// Package agents provides the agent data model and the per-agent behavioral
// state machine: individuals browse, read and author content; bots and
// organisations only publish.
package agents

import (
	"fmt"
	"math/rand"

	"github.com/talgya/feedsim/internal/content"
	"github.com/talgya/feedsim/internal/interest"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Kind is the agent's behavioral role.
type Kind uint8

const (
	KindIndividual   Kind = iota // Full browse/read/author state machine
	KindBot                      // Publishes on a fixed cadence
	KindOrganisation             // Publishes single-topic content at its own pace
)

func (k Kind) String() string {
	switch k {
	case KindBot:
		return "bot"
	case KindOrganisation:
		return "organisation"
	default:
		return "individual"
	}
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for _, kind := range []Kind{KindIndividual, KindBot, KindOrganisation} {
		if kind.String() == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown agent kind %q", b)
}

// maxRecentReads bounds the history used for the diversity score.
const maxRecentReads = 5

// Core is the substrate shared by every role.
type Core struct {
	ID                AgentID           `json:"id"`
	Kind              Kind              `json:"kind"`
	Profile           *interest.Profile `json:"profile"`
	Created           []content.ID      `json:"created"`
	CreateSpeed       float64           `json:"create_speed"`       // 1 = fastest author, 0 = never finishes
	CreationFrequency float64           `json:"creation_frequency"` // 1 = posts whenever possible, 0 = never
}

// Individual holds the traits and history only browsing agents have.
type Individual struct {
	NextPostLikelihood float64 `json:"next_post_likelihood"` // Chance per tick of coming online
	AttentionSpan      float64 `json:"attention_span"`       // 1 = reads anything through, 0 = headlines only
	ReadSpeed          float64 `json:"read_speed"`           // 1 = instant, 0 = never finishes

	Viewed         content.IDSet `json:"-"` // Posts already recommended; excluded from future batches
	ViewedComments content.IDSet `json:"-"`
	RecentReads    []content.ID  `json:"recent_reads"`
	SessionTicks   int           `json:"session_ticks"`
}

// Agent is a tagged variant over roles: Individual is non-nil only for
// KindIndividual. Each agent carries its own random stream so ticks can run
// in parallel without sharing a generator.
type Agent struct {
	Core
	Individual *Individual `json:"individual,omitempty"`
	State      State       `json:"-"`

	rng *rand.Rand
}

// NewIndividual creates an offline browsing agent.
func NewIndividual(id AgentID, profile *interest.Profile, traits Individual, createSpeed, frequency float64, rng *rand.Rand) *Agent {
	if traits.Viewed == nil {
		traits.Viewed = content.NewIDSet()
	}
	if traits.ViewedComments == nil {
		traits.ViewedComments = content.NewIDSet()
	}
	return &Agent{
		Core: Core{
			ID:                id,
			Kind:              KindIndividual,
			Profile:           profile,
			CreateSpeed:       createSpeed,
			CreationFrequency: frequency,
		},
		Individual: &traits,
		State:      Offline{},
		rng:        rng,
	}
}

// publisherCreateSpeed is the create speed of bots and organisations.
const publisherCreateSpeed = 1.0

// NewBot creates a bot that publishes its first post on its first tick.
func NewBot(id AgentID, profile *interest.Profile, rng *rand.Rand) *Agent {
	return &Agent{
		Core: Core{
			ID:                id,
			Kind:              KindBot,
			Profile:           profile,
			CreateSpeed:       publisherCreateSpeed,
			CreationFrequency: 1,
		},
		State: CreatingPost{Progress: Progress{Required: 1}},
		rng:   rng,
	}
}

// NewOrganisation creates an organisation that, like a bot, publishes its
// first post on its first tick.
func NewOrganisation(id AgentID, profile *interest.Profile, rng *rand.Rand) *Agent {
	return &Agent{
		Core: Core{
			ID:                id,
			Kind:              KindOrganisation,
			Profile:           profile,
			CreateSpeed:       publisherCreateSpeed,
			CreationFrequency: 1,
		},
		State: CreatingPost{Progress: Progress{Required: 1}},
		rng:   rng,
	}
}

// StateKind returns the kind of the active state.
func (a *Agent) StateKind() StateKind {
	if a.State == nil {
		return StateOffline
	}
	return a.State.Kind()
}

// RecordCreated appends a published content ID once the driver has assigned it.
func (a *Agent) RecordCreated(id content.ID) {
	a.Created = append(a.Created, id)
}

func (ind *Individual) rememberRead(id content.ID) {
	ind.RecentReads = append(ind.RecentReads, id)
	if len(ind.RecentReads) > maxRecentReads {
		ind.RecentReads = ind.RecentReads[len(ind.RecentReads)-maxRecentReads:]
	}
}
