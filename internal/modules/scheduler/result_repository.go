package scheduler

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

// ResultRepository persists rebalance cycle results for history queries.
// The full result is stored as a msgpack blob; a few columns are broken
// out for filtering.
type ResultRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *sql.DB, log zerolog.Logger) *ResultRepository {
	return &ResultRepository{
		db:  db,
		log: log.With().Str("repo", "results").Logger(),
	}
}

// InitSchema creates the results table if it does not exist.
func (r *ResultRepository) InitSchema() error {
	query := `CREATE TABLE IF NOT EXISTS rebalance_results (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		dry_run     INTEGER NOT NULL,
		total_value REAL NOT NULL,
		executed    INTEGER NOT NULL,
		failed      INTEGER NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		payload     BLOB NOT NULL
	)`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create rebalance_results table: %w", err)
	}
	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_results_session
		ON rebalance_results (session_id, started_at DESC)`); err != nil {
		return fmt.Errorf("failed to create results index: %w", err)
	}
	return nil
}

// Save stores one cycle result.
func (r *ResultRepository) Save(result *domain.RunResult) error {
	payload, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result %s: %w", result.ID, err)
	}

	_, err = r.db.Exec(`INSERT INTO rebalance_results
		(id, session_id, started_at, finished_at, dry_run, total_value, executed, failed, error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.SessionID, result.StartedAt.Unix(), result.FinishedAt.Unix(),
		boolToInt(result.DryRun), result.TotalValue, result.Executed, result.Failed,
		result.Error, payload)
	if err != nil {
		return fmt.Errorf("failed to save result %s: %w", result.ID, err)
	}
	return nil
}

// ListBySession returns the most recent results for a session, newest first.
func (r *ResultRepository) ListBySession(sessionID string, limit int) ([]domain.RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT payload FROM rebalance_results
		WHERE session_id = ? ORDER BY started_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var results []domain.RunResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan result payload: %w", err)
		}
		var result domain.RunResult
		if err := msgpack.Unmarshal(payload, &result); err != nil {
			r.log.Warn().Err(err).Str("session_id", sessionID).Msg("Skipping undecodable result")
			continue
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

// Latest returns the newest result for a session, or nil when there is none.
func (r *ResultRepository) Latest(sessionID string) (*domain.RunResult, error) {
	results, err := r.ListBySession(sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// PruneOlderThan removes results started before the cutoff, keeping the
// history table from growing without bound.
func (r *ResultRepository) PruneOlderThan(cutoffUnix int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM rebalance_results WHERE started_at < ?`, cutoffUnix)
	if err != nil {
		return 0, fmt.Errorf("failed to prune results: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
