package scheduler

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

// SessionRepository persists trader session state so sessions survive a
// process restart.
type SessionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB, log zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		db:  db,
		log: log.With().Str("repo", "sessions").Logger(),
	}
}

// InitSchema creates the sessions table if it does not exist.
func (r *SessionRepository) InitSchema() error {
	query := `CREATE TABLE IF NOT EXISTS trader_sessions (
		id               TEXT PRIMARY KEY,
		is_running       INTEGER NOT NULL DEFAULT 0,
		dry_run          INTEGER NOT NULL DEFAULT 1,
		interval_seconds INTEGER NOT NULL,
		next_run_at      INTEGER,
		last_run_at      INTEGER,
		last_portfolio   BLOB,
		last_result      BLOB,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	)`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create trader_sessions table: %w", err)
	}
	return nil
}

// Get returns a session by ID, or ErrSessionNotFound.
func (r *SessionRepository) Get(id string) (*domain.SessionState, error) {
	row := r.db.QueryRow(`SELECT id, is_running, dry_run, interval_seconds,
		next_run_at, last_run_at, last_portfolio, last_result, created_at, updated_at
		FROM trader_sessions WHERE id = ?`, id)

	state, err := r.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	return state, nil
}

// GetOrCreate returns the session or creates it with the given defaults.
func (r *SessionRepository) GetOrCreate(id string, dryRun bool, intervalSeconds int) (*domain.SessionState, error) {
	state, err := r.Get(id)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	state = &domain.SessionState{
		ID:              id,
		DryRun:          dryRun,
		IntervalSeconds: intervalSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err = r.db.Exec(`INSERT INTO trader_sessions
		(id, is_running, dry_run, interval_seconds, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?, ?)`,
		id, boolToInt(dryRun), intervalSeconds, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", id, err)
	}

	r.log.Info().Str("session_id", id).Msg("Session created")
	return state, nil
}

// Save writes the full session state back.
func (r *SessionRepository) Save(state *domain.SessionState) error {
	state.UpdatedAt = time.Now().UTC()

	var portfolioBlob, resultBlob []byte
	var err error
	if state.LastPortfolio != nil {
		if portfolioBlob, err = msgpack.Marshal(state.LastPortfolio); err != nil {
			return fmt.Errorf("failed to encode portfolio for session %s: %w", state.ID, err)
		}
	}
	if state.LastResult != nil {
		if resultBlob, err = msgpack.Marshal(state.LastResult); err != nil {
			return fmt.Errorf("failed to encode result for session %s: %w", state.ID, err)
		}
	}

	_, err = r.db.Exec(`UPDATE trader_sessions SET
		is_running = ?, dry_run = ?, interval_seconds = ?,
		next_run_at = ?, last_run_at = ?, last_portfolio = ?, last_result = ?,
		updated_at = ?
		WHERE id = ?`,
		boolToInt(state.IsRunning), boolToInt(state.DryRun), state.IntervalSeconds,
		unixOrNil(state.NextRunAt), unixOrNil(state.LastRunAt), portfolioBlob, resultBlob,
		state.UpdatedAt.Unix(), state.ID)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", state.ID, err)
	}
	return nil
}

// ListRunning returns the IDs of sessions marked running. Used on startup
// to resume loops interrupted by a shutdown.
func (r *SessionRepository) ListRunning() ([]string, error) {
	rows, err := r.db.Query(`SELECT id FROM trader_sessions WHERE is_running = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query running sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating running sessions: %w", err)
	}
	return ids, nil
}

func (r *SessionRepository) scanSession(row *sql.Row) (*domain.SessionState, error) {
	var state domain.SessionState
	var isRunning, dryRun int
	var nextRunAt, lastRunAt sql.NullInt64
	var portfolioBlob, resultBlob []byte
	var createdAt, updatedAt int64

	err := row.Scan(&state.ID, &isRunning, &dryRun, &state.IntervalSeconds,
		&nextRunAt, &lastRunAt, &portfolioBlob, &resultBlob, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	state.IsRunning = isRunning != 0
	state.DryRun = dryRun != 0
	state.NextRunAt = timeOrNil(nextRunAt)
	state.LastRunAt = timeOrNil(lastRunAt)
	state.CreatedAt = time.Unix(createdAt, 0).UTC()
	state.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if len(portfolioBlob) > 0 {
		if err := msgpack.Unmarshal(portfolioBlob, &state.LastPortfolio); err != nil {
			r.log.Warn().Err(err).Str("session_id", state.ID).Msg("Failed to decode stored portfolio")
		}
	}
	if len(resultBlob) > 0 {
		if err := msgpack.Unmarshal(resultBlob, &state.LastResult); err != nil {
			r.log.Warn().Err(err).Str("session_id", state.ID).Msg("Failed to decode stored result")
		}
	}
	return &state, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
