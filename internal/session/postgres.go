package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in a single table so session state
// survives restarts. Per-id linearizability comes from a row lock held
// across the read-merge-write in Upsert.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewPostgresStore(ctx context.Context, databaseURL string, ttl time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSessionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PostgresStore{pool: pool, ttl: ttl}, nil
}

func initSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		data JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init session schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, state, data, created_at, updated_at, expires_at FROM sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		_, _ = s.pool.Exec(ctx, `DELETE FROM sessions WHERE id=$1 AND expires_at=$2`, id, sess.ExpiresAt)
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, id string, stateOverride *State, patch *DataPatch) (*Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	sess := &Session{ID: id, State: StateWaiting, CreatedAt: now}

	row := tx.QueryRow(ctx,
		`SELECT id, state, data, created_at, updated_at, expires_at FROM sessions WHERE id=$1 FOR UPDATE`, id)
	existing, err := scanSession(row)
	switch {
	case err == nil:
		if !now.After(existing.ExpiresAt) {
			sess = existing
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("lock session: %w", err)
	}

	if stateOverride != nil {
		sess.State = NormalizeState(*stateOverride)
	}
	sess.Data.Apply(patch)
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)

	raw, err := json.Marshal(sess.Data)
	if err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, state, data, created_at, updated_at, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO UPDATE SET
			state=EXCLUDED.state,
			data=EXCLUDED.data,
			created_at=EXCLUDED.created_at,
			updated_at=EXCLUDED.updated_at,
			expires_at=EXCLUDED.expires_at`,
		sess.ID, string(sess.State), raw, sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE expires_at >= now()`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Ping reports database reachability for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess  Session
		state string
		raw   []byte
	)
	if err := row.Scan(&sess.ID, &state, &raw, &sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sess.Data); err != nil {
			return nil, fmt.Errorf("decode session data: %w", err)
		}
	}
	sess.State = NormalizeState(State(state))
	return &sess, nil
}
