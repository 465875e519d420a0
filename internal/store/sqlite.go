package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/MJE43/forage-arena-go/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLite implements Store on an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database at path in WAL mode. Call Migrate before use.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	// One writer keeps batch inserts ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Migrate applies the embedded goose migrations.
func (s *SQLite) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, sub)
	if err != nil {
		return fmt.Errorf("store: goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AppendMovementBatch inserts samples in a single transaction.
func (s *SQLite) AppendMovementBatch(ctx context.Context, samples []model.MovementSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO movements (session_id, round_index, timestamp_ms, timestamp_ns, x, y,
		                        heading, velocity, distance_from_last, acceleration, food_here)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for i, m := range samples {
		_, err := stmt.ExecContext(ctx,
			m.SessionID, m.RoundIndex, m.TimestampMs, m.TimestampAbs.UnixNano(), m.X, m.Y,
			m.Heading, m.Velocity, m.DistanceFromLast, m.Acceleration, m.FoodHere,
		)
		if err != nil {
			return fmt.Errorf("store: insert movement #%d: %w", i, err)
		}
	}
	return tx.Commit()
}

// AppendEvent inserts one event.
func (s *SQLite) AppendEvent(ctx context.Context, ev model.GameEvent) error {
	meta, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, round_index, event_type, timestamp_ms, timestamp_ns, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.RoundIndex, string(ev.EventType), ev.TimestampMs, ev.TimestampAbs.UnixNano(), meta,
	)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// AppendRound inserts the finalized round. A round is written once; a
// second write for the same (session, index) fails.
func (s *SQLite) AppendRound(ctx context.Context, r model.Round) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	positions, err := json.Marshal(r.ResourcePositions)
	if err != nil {
		return fmt.Errorf("store: marshal positions: %w", err)
	}
	var cluster sql.NullString
	if r.ClusterParams != nil {
		b, err := json.Marshal(r.ClusterParams)
		if err != nil {
			return fmt.Errorf("store: marshal cluster params: %w", err)
		}
		cluster = sql.NullString{String: string(b), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rounds (id, session_id, round_index, condition_name, start_ns, end_ns,
		                     duration_ms, rewards_collected, resource_positions, cluster_params, end_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.RoundIndex, r.Condition, r.StartTimestamp.UnixNano(), r.EndTimestamp.UnixNano(),
		r.DurationMs, r.RewardsCollected, string(positions), cluster, string(r.EndReason),
	)
	if err != nil {
		return fmt.Errorf("store: insert round: %w", err)
	}
	return nil
}

// SaveParticipant records a condition assignment. An existing assignment
// for the same key is kept; the first write wins.
func (s *SQLite) SaveParticipant(ctx context.Context, p model.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (participant_key, scheme, condition_name, assigned_at_ns)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(participant_key) DO NOTHING`,
		p.ParticipantKey, p.Scheme, p.Condition, p.AssignedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: save participant: %w", err)
	}
	return nil
}

// GetParticipant returns ErrNotFound for unknown keys.
func (s *SQLite) GetParticipant(ctx context.Context, participantKey string) (model.Participant, error) {
	var (
		p  model.Participant
		ns int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT participant_key, scheme, condition_name, assigned_at_ns
		 FROM participants WHERE participant_key = ?`, participantKey,
	).Scan(&p.ParticipantKey, &p.Scheme, &p.Condition, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Participant{}, ErrNotFound
	}
	if err != nil {
		return model.Participant{}, fmt.Errorf("store: get participant: %w", err)
	}
	p.AssignedAt = fromNanos(ns)
	return p, nil
}

// SaveSession inserts a session row.
func (s *SQLite) SaveSession(ctx context.Context, sess model.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("store: save session: empty id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, participant_key, condition_name, mode, started_at_ns)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.ParticipantKey, sess.Condition, sess.Mode, sess.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

// GetSession returns ErrNotFound for unknown ids.
func (s *SQLite) GetSession(ctx context.Context, id string) (model.Session, error) {
	var (
		sess model.Session
		ns   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, participant_key, condition_name, mode, started_at_ns FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.ParticipantKey, &sess.Condition, &sess.Mode, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("store: get session: %w", err)
	}
	sess.StartedAt = fromNanos(ns)
	return sess, nil
}

const roundColumns = `id, session_id, round_index, condition_name, start_ns, end_ns,
	duration_ms, rewards_collected, resource_positions, cluster_params, end_reason`

// GetRound returns ErrNotFound when the round has not been finalized.
func (s *SQLite) GetRound(ctx context.Context, sessionID string, roundIndex int) (model.Round, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE session_id = ? AND round_index = ?`,
		sessionID, roundIndex,
	)
	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Round{}, ErrNotFound
	}
	return r, err
}

// ListRounds returns a session's rounds ordered by index.
func (s *SQLite) ListRounds(ctx context.Context, sessionID string) ([]model.Round, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE session_id = ? ORDER BY round_index`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list rounds: %w", err)
	}
	defer rows.Close()

	var out []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetMovements returns a round's samples in timestamp order.
func (s *SQLite) GetMovements(ctx context.Context, sessionID string, roundIndex int) ([]model.MovementSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp_ms, timestamp_ns, x, y, heading, velocity, distance_from_last, acceleration, food_here
		 FROM movements WHERE session_id = ? AND round_index = ?
		 ORDER BY timestamp_ms, id`,
		sessionID, roundIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get movements: %w", err)
	}
	defer rows.Close()

	var out []model.MovementSample
	for rows.Next() {
		m := model.MovementSample{SessionID: sessionID, RoundIndex: roundIndex}
		var ns int64
		if err := rows.Scan(&m.TimestampMs, &ns, &m.X, &m.Y, &m.Heading, &m.Velocity,
			&m.DistanceFromLast, &m.Acceleration, &m.FoodHere); err != nil {
			return nil, fmt.Errorf("store: scan movement: %w", err)
		}
		m.TimestampAbs = fromNanos(ns)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetEvents returns a round's events in insertion order.
func (s *SQLite) GetEvents(ctx context.Context, sessionID string, roundIndex int) ([]model.GameEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, timestamp_ms, timestamp_ns, metadata
		 FROM events WHERE session_id = ? AND round_index = ? ORDER BY id`,
		sessionID, roundIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get events: %w", err)
	}
	defer rows.Close()

	var out []model.GameEvent
	for rows.Next() {
		ev := model.GameEvent{SessionID: sessionID, RoundIndex: roundIndex}
		var (
			typ  string
			ns   int64
			meta string
		)
		if err := rows.Scan(&typ, &ev.TimestampMs, &ns, &meta); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.EventType = model.EventType(typ)
		ev.TimestampAbs = fromNanos(ns)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("store: decode event metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (model.Round, error) {
	var (
		r              model.Round
		startNs, endNs int64
		positions      string
		cluster        sql.NullString
		reason         string
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.RoundIndex, &r.Condition, &startNs, &endNs,
		&r.DurationMs, &r.RewardsCollected, &positions, &cluster, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Round{}, err
		}
		return model.Round{}, fmt.Errorf("store: scan round: %w", err)
	}
	r.StartTimestamp = fromNanos(startNs)
	r.EndTimestamp = fromNanos(endNs)
	r.EndReason = model.EndReason(reason)
	if err := json.Unmarshal([]byte(positions), &r.ResourcePositions); err != nil {
		return model.Round{}, fmt.Errorf("store: decode positions: %w", err)
	}
	if cluster.Valid {
		r.ClusterParams = &model.ClusterParams{}
		if err := json.Unmarshal([]byte(cluster.String), r.ClusterParams); err != nil {
			return model.Round{}, fmt.Errorf("store: decode cluster params: %w", err)
		}
	}
	return r, nil
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("store: marshal event metadata: %w", err)
	}
	return string(b), nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
