package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andresmejia3/visage/internal/types"
)

// Store mirrors classification sessions into PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// SessionInfo summarizes one recorded session.
type SessionInfo struct {
	ID        uuid.UUID
	Source    string
	SourceID  string
	Alias     string
	StartedAt time.Time
	Faces     int
}

// Record is one stored classification row.
type Record struct {
	Seq       int
	Frame     int
	Gender    string
	Age       string
	Box       types.BoundingBox
	CreatedAt time.Time
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Auto-Migration
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL,
			alias TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS classifications (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			frame_index INT NOT NULL,
			gender TEXT NOT NULL,
			age TEXT NOT NULL,
			x1 INT NOT NULL,
			y1 INT NOT NULL,
			x2 INT NOT NULL,
			y2 INT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS classifications_session_id_idx ON classifications (session_id);
	`)
	return err
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// StartSession registers a new session and returns a sink bound to it.
func (s *Store) StartSession(ctx context.Context, source, sourceID, alias string) (*Session, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, source, source_id, alias, started_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, id, source, sourceID, alias)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	// Rows of a frame in flight still land after an interrupt.
	return &Session{ctx: context.WithoutCancel(ctx), store: s, id: id}, nil
}

// ListSessions returns every session, newest first, with its row count.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.source, s.source_id, s.alias, s.started_at, COUNT(c.id)
		FROM sessions s
		LEFT JOIN classifications c ON c.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SessionInfo, error) {
		var si SessionInfo
		err := row.Scan(&si.ID, &si.Source, &si.SourceID, &si.Alias, &si.StartedAt, &si.Faces)
		return si, err
	})
}

// ListRecords returns the rows of a session in append order.
func (s *Store) ListRecords(ctx context.Context, sessionID uuid.UUID) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, frame_index, gender, age, x1, y1, x2, y2, created_at
		FROM classifications
		WHERE session_id = $1
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.Seq, &r.Frame, &r.Gender, &r.Age, &r.Box.X1, &r.Box.Y1, &r.Box.X2, &r.Box.Y2, &r.CreatedAt)
		return r, err
	})
}

// FindSession resolves a full or prefix session id.
func (s *Store) FindSession(ctx context.Context, prefix string) (uuid.UUID, error) {
	if id, err := uuid.Parse(prefix); err == nil {
		return id, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT id FROM sessions WHERE id::text LIKE $1 || '%' LIMIT 2`, prefix)
	if err != nil {
		return uuid.Nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return uuid.Nil, err
	}

	switch len(ids) {
	case 0:
		return uuid.Nil, fmt.Errorf("no session matches %q", prefix)
	case 1:
		return ids[0], nil
	default:
		return uuid.Nil, fmt.Errorf("session prefix %q is ambiguous", prefix)
	}
}

// Reset drops all application tables.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS classifications CASCADE;
		DROP TABLE IF EXISTS sessions CASCADE;
	`)
	return err
}

// Session appends classification rows for one run. Rows are numbered in
// the order Append is called.
type Session struct {
	ctx   context.Context
	store *Store
	id    uuid.UUID

	mu  sync.Mutex
	seq int
}

// ID returns the session's identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Append inserts rec as the session's next row.
func (s *Session) Append(rec types.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.pool.Exec(s.ctx, `
		INSERT INTO classifications (session_id, seq, frame_index, gender, age, x1, y1, x2, y2)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.id, s.seq+1, rec.Frame, rec.Gender, rec.Age, rec.Box.X1, rec.Box.Y1, rec.Box.X2, rec.Box.Y2)
	if err != nil {
		return fmt.Errorf("insert classification: %w", err)
	}
	s.seq++
	return nil
}
