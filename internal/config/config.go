// Package config provides configuration loading for feedsim.
// Settings come from defaults, then an optional YAML file, then FEEDSIM_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/feedsim/internal/agents"
	"github.com/talgya/feedsim/internal/logging"
	"github.com/talgya/feedsim/internal/recommend"
)

// DefaultPath is searched by Load when no explicit path is given.
const DefaultPath = "feedsim.yaml"

// Config contains all feedsim settings.
type Config struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Engine     recommend.Config `json:"engine" yaml:"engine"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	API        APIConfig        `json:"api" yaml:"api"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// SimulationConfig sizes the population and sets content and timing rules.
type SimulationConfig struct {
	Individuals   int `json:"individuals" yaml:"individuals"`
	Bots          int `json:"bots" yaml:"bots"`
	Organisations int `json:"organisations" yaml:"organisations"`

	Tags         []string     `json:"tags" yaml:"tags"`
	StartingTags StartingTags `json:"starting_tags" yaml:"starting_tags"`

	MaxPostLength     int `json:"max_post_length" yaml:"max_post_length"`
	MaxCommentLength  int `json:"max_comment_length" yaml:"max_comment_length"`
	BaseContentLength int `json:"base_content_length" yaml:"base_content_length"`
	MinContentTags    int `json:"min_content_tags" yaml:"min_content_tags"`
	MaxContentTags    int `json:"max_content_tags" yaml:"max_content_tags"`
	BotCreationTicks  int `json:"bot_creation_ticks" yaml:"bot_creation_ticks"`

	RecommendationCount int     `json:"recommendation_count" yaml:"recommendation_count"`
	CommentBatchSize    int     `json:"comment_batch_size" yaml:"comment_batch_size"`
	InterestDecayRate   float64 `json:"interest_decay_rate" yaml:"interest_decay_rate"`

	// TickRateMS is the wall-clock pause between ticks; 0 runs flat out.
	TickRateMS int `json:"tick_rate_ms" yaml:"tick_rate_ms"`
	// TickDuration is how much simulated time one tick covers.
	TickDuration time.Duration `json:"tick_duration" yaml:"tick_duration"`
	// Seed 0 picks a random seed at startup.
	Seed int64 `json:"seed" yaml:"seed"`
	// Workers 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
	// Ticks 0 runs until interrupted.
	Ticks int `json:"ticks" yaml:"ticks"`
}

// StartingTags is how many distinct tags each role starts with.
type StartingTags struct {
	Individual   int `json:"individual" yaml:"individual"`
	Bot          int `json:"bot" yaml:"bot"`
	Organisation int `json:"organisation" yaml:"organisation"`
}

// StorageConfig selects the run database. An empty DSN disables persistence.
type StorageConfig struct {
	Driver            string        `json:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN               string        `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	SaveIntervalTicks int           `json:"save_interval_ticks" yaml:"save_interval_ticks"`
	BreakerFailures   int           `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`
}

// APIConfig configures the observation API. Port 0 disables it.
type APIConfig struct {
	Port        int     `json:"port" yaml:"port"`
	AdminKey    string  `json:"admin_key,omitempty" yaml:"admin_key,omitempty"`
	RateLimit   float64 `json:"rate_limit" yaml:"rate_limit"` // requests per second per IP
	RateBurst   int     `json:"rate_burst" yaml:"rate_burst"`
	CORSOrigins string  `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// Comma-separated proxy addresses or CIDR ranges whose X-Forwarded-For
	// is believed. Empty means the header is ignored.
	TrustedProxies string `json:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

// LoggingConfig sets the log verbosity: "info" (default), "debug" or "trace".
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

// DefaultTags is the stock vocabulary.
var DefaultTags = []string{
	"politics", "technology", "science", "entertainment",
	"sports", "health", "education", "business",
}

// Default returns a Config with the stock settings.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Individuals:         3,
			Bots:                2,
			Organisations:       2,
			Tags:                append([]string(nil), DefaultTags...),
			StartingTags:        StartingTags{Individual: 3, Bot: 3, Organisation: 3},
			MaxPostLength:       60,
			MaxCommentLength:    10,
			BaseContentLength:   20,
			MinContentTags:      1,
			MaxContentTags:      3,
			BotCreationTicks:    4,
			RecommendationCount: 10,
			CommentBatchSize:    10,
			TickRateMS:          100,
			TickDuration:        time.Minute,
		},
		Engine: recommend.DefaultConfig(),
		Storage: StorageConfig{
			Driver:            "sqlite",
			SaveIntervalTicks: 60,
			BreakerFailures:   3,
			BreakerTimeout:    30 * time.Second,
		},
		API: APIConfig{
			RateLimit: 5,
			RateBurst: 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path, or DefaultPath if path is empty and the file exists, and
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Storage.DSN = expandEnvVars(cfg.Storage.DSN)
	cfg.API.AdminKey = expandEnvVars(cfg.API.AdminKey)
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	s := c.Simulation
	var errs []error

	if s.Individuals < 0 || s.Bots < 0 || s.Organisations < 0 {
		errs = append(errs, fmt.Errorf("population counts must be non-negative, got %d/%d/%d",
			s.Individuals, s.Bots, s.Organisations))
	}
	if len(s.Tags) == 0 {
		errs = append(errs, errors.New("tags must not be empty"))
	}
	dim := c.Engine.VectorDimension
	if dim <= 0 {
		dim = 100
	}
	if len(s.Tags) > dim {
		errs = append(errs, fmt.Errorf("%d tags exceed vector dimension %d", len(s.Tags), dim))
	}
	for role, n := range map[string]int{
		"individual":   s.StartingTags.Individual,
		"bot":          s.StartingTags.Bot,
		"organisation": s.StartingTags.Organisation,
	} {
		if n < 0 || n > len(s.Tags) {
			errs = append(errs, fmt.Errorf("starting_tags.%s must be between 0 and %d, got %d", role, len(s.Tags), n))
		}
	}
	if s.MinContentTags < 0 || s.MinContentTags > s.MaxContentTags {
		errs = append(errs, fmt.Errorf("content tags: min %d must not exceed max %d", s.MinContentTags, s.MaxContentTags))
	}
	if s.MaxPostLength < 0 || s.MaxCommentLength < 0 || s.BaseContentLength < 0 {
		errs = append(errs, errors.New("content lengths must be non-negative"))
	}
	if s.BotCreationTicks < 1 {
		errs = append(errs, fmt.Errorf("bot_creation_ticks must be at least 1, got %d", s.BotCreationTicks))
	}
	if s.InterestDecayRate < 0 || s.InterestDecayRate > 1 {
		errs = append(errs, fmt.Errorf("interest_decay_rate must be between 0 and 1, got %f", s.InterestDecayRate))
	}
	if s.TickRateMS < 0 || s.TickDuration <= 0 || s.Workers < 0 || s.Ticks < 0 {
		errs = append(errs, errors.New("tick_rate_ms, workers and ticks must be non-negative and tick_duration positive"))
	}

	e := c.Engine
	if e.InterestWeight < 0 || e.RecencyWeight < 0 || e.EngagementWeight < 0 {
		errs = append(errs, errors.New("scoring weights must be non-negative"))
	}
	if e.RecencyDecayRate < 0 {
		errs = append(errs, fmt.Errorf("recency_decay_rate must be non-negative, got %f", e.RecencyDecayRate))
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if c.Storage.DSN != "" && !validDrivers[c.Storage.Driver] {
		errs = append(errs, fmt.Errorf("invalid storage driver: %s (valid: sqlite, postgres)", c.Storage.Driver))
	}
	if c.Storage.SaveIntervalTicks < 0 {
		errs = append(errs, errors.New("save_interval_ticks must be non-negative"))
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid api port: %d", c.API.Port))
	}
	if c.API.Port != 0 && c.API.RateLimit <= 0 {
		errs = append(errs, errors.New("rate_limit must be positive when the api is enabled"))
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("invalid log level: %s (valid: info, debug, trace, warn, error)", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// WeightsWarning describes scoring weights that do not sum to 1, or returns
// "" when they do. Scores are clamped to [0,1] either way.
func (c *Config) WeightsWarning() string {
	sum := c.Engine.WeightSum()
	if math.Abs(sum-1) < 1e-9 {
		return ""
	}
	if c.Engine.NormalizeWeights {
		return fmt.Sprintf("scoring weights sum to %.3f; rescaling to 1", sum)
	}
	return fmt.Sprintf("scoring weights sum to %.3f; scores will be clamped to [0,1]", sum)
}

// AgentSettings extracts the parameters agents read while ticking.
func (c *Config) AgentSettings() agents.Settings {
	s := c.Simulation
	return agents.Settings{
		MaxPostLength:       s.MaxPostLength,
		MaxCommentLength:    s.MaxCommentLength,
		BaseContentLength:   s.BaseContentLength,
		MinContentTags:      s.MinContentTags,
		MaxContentTags:      s.MaxContentTags,
		BotCreationTicks:    s.BotCreationTicks,
		RecommendationCount: s.RecommendationCount,
		CommentBatchSize:    s.CommentBatchSize,
		InterestDecayRate:   s.InterestDecayRate,
	}
}

// Population extracts the spawner settings.
func (c *Config) Population() agents.PopulationConfig {
	s := c.Simulation
	return agents.PopulationConfig{
		Individuals:              s.Individuals,
		Bots:                     s.Bots,
		Organisations:            s.Organisations,
		StartingTagsIndividual:   s.StartingTags.Individual,
		StartingTagsBot:          s.StartingTags.Bot,
		StartingTagsOrganisation: s.StartingTags.Organisation,
	}
}

// TickRate is the wall-clock interval between ticks.
func (c *Config) TickRate() time.Duration {
	return time.Duration(c.Simulation.TickRateMS) * time.Millisecond
}

// applyEnvOverrides applies FEEDSIM_* environment variables to the config.
func applyEnvOverrides(cfg *Config) error {
	ints := map[string]*int{
		"FEEDSIM_INDIVIDUALS":   &cfg.Simulation.Individuals,
		"FEEDSIM_BOTS":          &cfg.Simulation.Bots,
		"FEEDSIM_ORGANISATIONS": &cfg.Simulation.Organisations,
		"FEEDSIM_WORKERS":       &cfg.Simulation.Workers,
		"FEEDSIM_TICKS":         &cfg.Simulation.Ticks,
		"FEEDSIM_TICK_RATE_MS":  &cfg.Simulation.TickRateMS,
		"FEEDSIM_API_PORT":      &cfg.API.Port,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("FEEDSIM_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FEEDSIM_SEED: %w", err)
		}
		cfg.Simulation.Seed = n
	}
	if v := os.Getenv("FEEDSIM_INTEREST_DECAY_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FEEDSIM_INTEREST_DECAY_RATE: %w", err)
		}
		cfg.Simulation.InterestDecayRate = f
	}
	if v := os.Getenv("FEEDSIM_TAGS"); v != "" {
		cfg.Simulation.Tags = splitList(v)
	}

	if v := os.Getenv("FEEDSIM_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("FEEDSIM_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("FEEDSIM_ADMIN_KEY"); v != "" {
		cfg.API.AdminKey = v
	}
	if v := os.Getenv("FEEDSIM_CORS_ORIGINS"); v != "" {
		cfg.API.CORSOrigins = v
	}
	if v := os.Getenv("FEEDSIM_TRUSTED_PROXIES"); v != "" {
		cfg.API.TrustedProxies = v
	}
	if v := os.Getenv("FEEDSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
