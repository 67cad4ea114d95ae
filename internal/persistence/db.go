// Package persistence stores simulation runs: periodic snapshots of agents,
// content and stats, plus the event log. SQLite is the default backend;
// Postgres is supported and stores interest vectors with pgvector.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite"

	"github.com/talgya/feedsim/internal/engine"
	"github.com/talgya/feedsim/internal/interest"
	"github.com/talgya/feedsim/internal/vecmath"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupported is returned for queries the backend cannot answer.
var ErrUnsupported = errors.New("not supported by this storage backend")

// Options selects and configures the backend.
type Options struct {
	Driver          string
	DSN             string
	VectorDimension int // Width of pgvector columns; ignored for SQLite
}

// DB wraps a database connection for run persistence.
type DB struct {
	conn    *sqlx.DB
	driver  string
	dim     int
	vectors bool // pgvector columns are available
}

// Open opens or creates the run database and applies the schema.
func Open(opts Options) (*DB, error) {
	var (
		conn *sqlx.DB
		err  error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		opts.Driver = DriverSQLite
		conn, err = sqlx.Open("sqlite", sqliteDSN(opts.DSN))
		if err == nil {
			// SQLite allows one writer; serialize through a single connection.
			conn.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		conn, err = sqlx.Open("postgres", opts.DSN)
	default:
		return nil, fmt.Errorf("open db: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	dim := opts.VectorDimension
	if dim <= 0 {
		dim = interest.DefaultDimension
	}
	db := &DB{conn: conn, driver: opts.Driver, dim: dim}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the backend name.
func (db *DB) Driver() string {
	return db.driver
}

// Vectors reports whether interest vectors are stored.
func (db *DB) Vectors() bool {
	return db.vectors
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		seed INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		last_tick INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		state TEXT NOT NULL,
		top_tags TEXT NOT NULL,
		created_count INTEGER NOT NULL,
		profile_json TEXT NOT NULL,
		traits_json TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS posts (
		run_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		creator_id INTEGER NOT NULL,
		sim_time TIMESTAMP NOT NULL,
		length INTEGER NOT NULL,
		engagement REAL NOT NULL,
		reader_count INTEGER NOT NULL,
		comment_count INTEGER NOT NULL,
		profile_json TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS comments (
		run_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		post_id INTEGER NOT NULL,
		commenter_id INTEGER NOT NULL,
		sim_time TIMESTAMP NOT NULL,
		length INTEGER NOT NULL,
		engagement REAL NOT NULL,
		profile_json TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		sim_time TIMESTAMP NOT NULL,
		category TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		content_id INTEGER NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stats (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		stats_json TEXT NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_posts_run_engagement ON posts(run_id, engagement);
	CREATE INDEX IF NOT EXISTS idx_comments_run_post ON comments(run_id, post_id);
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		seed BIGINT NOT NULL,
		config_json TEXT NOT NULL,
		last_tick BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		state TEXT NOT NULL,
		top_tags TEXT NOT NULL,
		created_count INTEGER NOT NULL,
		profile_json TEXT NOT NULL,
		traits_json TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS posts (
		run_id TEXT NOT NULL,
		id BIGINT NOT NULL,
		creator_id BIGINT NOT NULL,
		sim_time TIMESTAMPTZ NOT NULL,
		length INTEGER NOT NULL,
		engagement DOUBLE PRECISION NOT NULL,
		reader_count INTEGER NOT NULL,
		comment_count INTEGER NOT NULL,
		profile_json TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS comments (
		run_id TEXT NOT NULL,
		id BIGINT NOT NULL,
		post_id BIGINT NOT NULL,
		commenter_id BIGINT NOT NULL,
		sim_time TIMESTAMPTZ NOT NULL,
		length INTEGER NOT NULL,
		engagement DOUBLE PRECISION NOT NULL,
		profile_json TEXT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		tick BIGINT NOT NULL,
		sim_time TIMESTAMPTZ NOT NULL,
		category TEXT NOT NULL,
		agent_id BIGINT NOT NULL,
		content_id BIGINT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stats (
		run_id TEXT NOT NULL,
		tick BIGINT NOT NULL,
		stats_json TEXT NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_posts_run_engagement ON posts(run_id, engagement);
	CREATE INDEX IF NOT EXISTS idx_comments_run_post ON comments(run_id, post_id);
`

func (db *DB) migrate() error {
	if db.driver == DriverSQLite {
		_, err := db.conn.Exec(sqliteSchema)
		return err
	}

	if _, err := db.conn.Exec(postgresSchema); err != nil {
		return err
	}

	// Interest vectors need the pgvector extension; runs are still stored without it.
	if _, err := db.conn.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		slog.Warn("pgvector unavailable, storing runs without interest vectors", "error", err)
		return nil
	}
	for _, table := range []string{"posts", "agents"} {
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS interests vector(%d)", table, db.dim)
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("add vector column to %s: %w", table, err)
		}
	}
	db.vectors = true
	return nil
}

// Run is one stored simulation run.
type Run struct {
	ID        string    `db:"id" json:"id"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	Seed      int64     `db:"seed" json:"seed"`
	Config    string    `db:"config_json" json:"config"`
	LastTick  int64     `db:"last_tick" json:"last_tick"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CreateRun registers a new run and returns it.
func (db *DB) CreateRun(seed int64, cfg any) (Run, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("encode config: %w", err)
	}

	now := time.Now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		StartedAt: now,
		Seed:      seed,
		Config:    string(cfgJSON),
		UpdatedAt: now,
	}
	_, err = db.conn.NamedExec(`INSERT INTO runs (id, started_at, seed, config_json, last_tick, updated_at)
		VALUES (:id, :started_at, :seed, :config_json, :last_tick, :updated_at)`, run)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Runs returns up to limit runs, most recent first.
func (db *DB) Runs(limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, db.conn.Rebind(
		"SELECT id, started_at, seed, config_json, last_tick, updated_at FROM runs ORDER BY started_at DESC LIMIT ?"),
		limit,
	)
	return runs, err
}

// GetRun looks up one run.
func (db *DB) GetRun(id string) (Run, error) {
	var run Run
	err := db.conn.Get(&run, db.conn.Rebind(
		"SELECT id, started_at, seed, config_json, last_tick, updated_at FROM runs WHERE id = ?"), id)
	return run, err
}

type agentTraits struct {
	CreateSpeed       float64 `json:"create_speed"`
	CreationFrequency float64 `json:"creation_frequency"`
	Individual        any     `json:"individual,omitempty"`
	Detail            any     `json:"detail"`
}

// SaveSnapshot writes a snapshot in one transaction: agents, posts and
// comments are upserted, events and stats appended, and the run's last tick
// advanced.
func (db *DB) SaveSnapshot(runID string, snap engine.Snapshot) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := db.saveAgents(tx, runID, snap.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := db.savePosts(tx, runID, snap); err != nil {
		return fmt.Errorf("save posts: %w", err)
	}
	if err := db.saveEvents(tx, runID, snap.Events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}

	statsJSON, err := json.Marshal(snap.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if _, err := tx.Exec(tx.Rebind(`INSERT INTO stats (run_id, tick, stats_json) VALUES (?, ?, ?)
		ON CONFLICT (run_id, tick) DO UPDATE SET stats_json = excluded.stats_json`),
		runID, snap.Tick, string(statsJSON)); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}

	if _, err := tx.Exec(tx.Rebind("UPDATE runs SET last_tick = ?, updated_at = ? WHERE id = ?"),
		snap.Tick, time.Now().UTC(), runID); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("snapshot saved", "run", runID, "tick", snap.Tick, "agents", len(snap.Agents), "posts", len(snap.Posts), "events", len(snap.Events))
	return nil
}

func (db *DB) saveAgents(tx *sqlx.Tx, runID string, views []engine.AgentView) error {
	cols := "run_id, id, kind, state, top_tags, created_count, profile_json, traits_json"
	vals := "?, ?, ?, ?, ?, ?, ?, ?"
	set := `kind = excluded.kind, state = excluded.state, top_tags = excluded.top_tags,
		created_count = excluded.created_count, profile_json = excluded.profile_json, traits_json = excluded.traits_json`
	if db.vectors {
		cols += ", interests"
		vals += ", ?"
		set += ", interests = excluded.interests"
	}

	stmt, err := tx.Preparex(tx.Rebind(fmt.Sprintf(
		"INSERT INTO agents (%s) VALUES (%s) ON CONFLICT (run_id, id) DO UPDATE SET %s", cols, vals, set)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range views {
		profileJSON, err := json.Marshal(a.Profile)
		if err != nil {
			return err
		}
		traits := agentTraits{
			CreateSpeed:       a.CreateSpeed,
			CreationFrequency: a.CreationFrequency,
			Detail:            a.Detail,
		}
		if a.Individual != nil {
			traits.Individual = a.Individual
		}
		traitsJSON, err := json.Marshal(traits)
		if err != nil {
			return err
		}

		args := []any{runID, a.ID, a.Kind.String(), a.State.String(), strings.Join(a.TopTags, ","),
			len(a.Created), string(profileJSON), string(traitsJSON)}
		if db.vectors {
			args = append(args, db.vector(a.Profile))
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("agent %d: %w", a.ID, err)
		}
	}
	return nil
}

func (db *DB) savePosts(tx *sqlx.Tx, runID string, snap engine.Snapshot) error {
	cols := "run_id, id, creator_id, sim_time, length, engagement, reader_count, comment_count, profile_json"
	vals := "?, ?, ?, ?, ?, ?, ?, ?, ?"
	set := "engagement = excluded.engagement, reader_count = excluded.reader_count, comment_count = excluded.comment_count"
	if db.vectors {
		cols += ", interests"
		vals += ", ?"
	}

	postStmt, err := tx.Preparex(tx.Rebind(fmt.Sprintf(
		"INSERT INTO posts (%s) VALUES (%s) ON CONFLICT (run_id, id) DO UPDATE SET %s", cols, vals, set)))
	if err != nil {
		return err
	}
	defer postStmt.Close()

	commentStmt, err := tx.Preparex(tx.Rebind(`INSERT INTO comments
		(run_id, id, post_id, commenter_id, sim_time, length, engagement, profile_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, id) DO UPDATE SET engagement = excluded.engagement`))
	if err != nil {
		return err
	}
	defer commentStmt.Close()

	for _, p := range snap.Posts {
		profileJSON, err := json.Marshal(p.Profile)
		if err != nil {
			return err
		}
		args := []any{runID, p.ID, p.CreatorID, p.Timestamp, p.Length, p.Engagement,
			len(p.Readers), len(p.Comments), string(profileJSON)}
		if db.vectors {
			args = append(args, db.vector(p.Profile))
		}
		if _, err := postStmt.Exec(args...); err != nil {
			return fmt.Errorf("post %d: %w", p.ID, err)
		}

		for _, c := range p.Comments {
			cJSON, err := json.Marshal(c.Profile)
			if err != nil {
				return err
			}
			if _, err := commentStmt.Exec(runID, c.ID, p.ID, c.CommenterID, c.Timestamp, c.Length,
				c.Engagement, string(cJSON)); err != nil {
				return fmt.Errorf("comment %d: %w", c.ID, err)
			}
		}
	}
	return nil
}

func (db *DB) saveEvents(tx *sqlx.Tx, runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.Preparex(tx.Rebind(`INSERT INTO events
		(run_id, tick, sim_time, category, agent_id, content_id, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(runID, e.Tick, e.Time, e.Category, e.AgentID, e.ContentID, e.Description); err != nil {
			return err
		}
	}
	return nil
}

// vector lays a profile out at the column width. Profiles built against a
// smaller index are zero-padded.
func (db *DB) vector(p *interest.Profile) pgvector.Vector {
	f32 := make([]float32, db.dim)
	if p != nil {
		copy(f32, vecmath.ToFloat32(p.Vector))
	}
	return pgvector.NewVector(f32)
}

// RecentEvents returns the most recent events of a run, newest first.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events, db.conn.Rebind(
		`SELECT tick, sim_time, category, agent_id, content_id, description
		FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?`),
		runID, limit,
	)
	return events, err
}

// PostRow is a stored post.
type PostRow struct {
	ID           int64     `db:"id" json:"id"`
	CreatorID    int64     `db:"creator_id" json:"creator_id"`
	SimTime      time.Time `db:"sim_time" json:"sim_time"`
	Length       int       `db:"length" json:"length"`
	Engagement   float64   `db:"engagement" json:"engagement"`
	ReaderCount  int       `db:"reader_count" json:"reader_count"`
	CommentCount int       `db:"comment_count" json:"comment_count"`
	Profile      string    `db:"profile_json" json:"profile"`
}

const postColumns = "p.id, p.creator_id, p.sim_time, p.length, p.engagement, p.reader_count, p.comment_count, p.profile_json"

// TopPosts returns a run's most engaged posts, lower ID first on ties.
func (db *DB) TopPosts(runID string, limit int) ([]PostRow, error) {
	var posts []PostRow
	err := db.conn.Select(&posts, db.conn.Rebind(
		"SELECT "+postColumns+" FROM posts p WHERE p.run_id = ? ORDER BY p.engagement DESC, p.id ASC LIMIT ?"),
		runID, limit,
	)
	return posts, err
}

// PostsNearAgent returns the posts whose interest vectors are closest (by
// cosine distance) to the stored interests of an agent. Requires pgvector.
func (db *DB) PostsNearAgent(runID string, agentID int64, limit int) ([]PostRow, error) {
	if !db.vectors {
		return nil, ErrUnsupported
	}
	var posts []PostRow
	err := db.conn.Select(&posts, db.conn.Rebind(
		`SELECT `+postColumns+` FROM posts p JOIN agents a ON a.run_id = p.run_id
		WHERE p.run_id = ? AND a.id = ?
		ORDER BY p.interests <=> a.interests, p.id LIMIT ?`),
		runID, agentID, limit,
	)
	return posts, err
}

// LatestStats returns the most recent stats row of a run.
func (db *DB) LatestStats(runID string) (engine.SimStats, error) {
	var raw string
	var st engine.SimStats
	err := db.conn.Get(&raw, db.conn.Rebind(
		"SELECT stats_json FROM stats WHERE run_id = ? ORDER BY tick DESC LIMIT 1"), runID)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(db.conn.Rebind(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value"),
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, db.conn.Rebind("SELECT value FROM meta WHERE key = ?"), key)
	return value, err
}
