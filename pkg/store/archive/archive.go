// Package archive mirrors committed audit entries into durable SQL
// storage via database/sql. It supports both Postgres and SQLite
// through standard drivers.
//
// The mirror is a boundary collaborator: it subscribes to the ledger's
// entry-handler hook, and the ledger core never depends on it. Handlers
// run inside the append critical section, so an attached mirror writes
// synchronously and a slow database slows appends; deployments that
// cannot afford that should call Record from their own queue instead of
// Attach. Replay reads the mirror back in chain order so a fresh
// process can verify or restore the trail.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/attestia/grc-core/pkg/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq INTEGER PRIMARY KEY,
	id TEXT UNIQUE,
	ts TIMESTAMP,
	actor_id TEXT,
	actor_name TEXT,
	action TEXT,
	resource_type TEXT,
	resource_id TEXT,
	resource_name TEXT,
	description TEXT,
	category TEXT,
	severity TEXT,
	outcome TEXT,
	compliance BOOLEAN,
	previous_value TEXT,
	new_value TEXT,
	ip_address TEXT,
	user_agent TEXT,
	session_id TEXT,
	hash TEXT,
	previous_hash TEXT,
	signature TEXT
);
`

// Store is a SQL mirror of the audit chain.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an open database handle. The caller registers the driver
// (modernc.org/sqlite or lib/pq) and owns the handle's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "audit_archive"),
	}
}

// Init creates the mirror table.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: init schema: %v", ledger.ErrStorage, err)
	}
	return nil
}

// Record inserts one committed entry at its chain index.
func (s *Store) Record(ctx context.Context, seq int, e ledger.Entry) error {
	const query = `
		INSERT INTO audit_entries (
			seq, id, ts, actor_id, actor_name, action,
			resource_type, resource_id, resource_name, description,
			category, severity, outcome, compliance,
			previous_value, new_value, ip_address, user_agent, session_id,
			hash, previous_hash, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	_, err := s.db.ExecContext(ctx, query,
		seq, e.ID, e.Timestamp, e.ActorID, e.ActorName, e.Action,
		e.ResourceType, e.ResourceID, e.ResourceName, e.Description,
		string(e.Category), string(e.Severity), string(e.Outcome), e.Compliance,
		nullable(e.PreviousValue), nullable(e.NewValue),
		e.IPAddress, e.UserAgent, e.SessionID,
		e.Hash, e.PreviousHash, e.Signature,
	)
	if err != nil {
		return fmt.Errorf("%w: record entry %d: %v", ledger.ErrStorage, seq, err)
	}
	return nil
}

// Replay reads the full mirror back in chain order.
func (s *Store) Replay(ctx context.Context) ([]ledger.Entry, error) {
	const query = `
		SELECT id, ts, actor_id, actor_name, action,
			resource_type, resource_id, resource_name, description,
			category, severity, outcome, compliance,
			previous_value, new_value, ip_address, user_agent, session_id,
			hash, previous_hash, signature
		FROM audit_entries ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: replay: %v", ledger.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		var (
			e          ledger.Entry
			ts         time.Time
			prev, next sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &ts, &e.ActorID, &e.ActorName, &e.Action,
			&e.ResourceType, &e.ResourceID, &e.ResourceName, &e.Description,
			&e.Category, &e.Severity, &e.Outcome, &e.Compliance,
			&prev, &next, &e.IPAddress, &e.UserAgent, &e.SessionID,
			&e.Hash, &e.PreviousHash, &e.Signature,
		); err != nil {
			return nil, fmt.Errorf("%w: replay scan: %v", ledger.ErrStorage, err)
		}
		e.Timestamp = ts.UTC()
		if prev.Valid {
			e.PreviousValue = []byte(prev.String)
		}
		if next.Valid {
			e.NewValue = []byte(next.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: replay: %v", ledger.ErrStorage, err)
	}
	return entries, nil
}

// Attach subscribes the mirror to l. Each commit is mirrored
// synchronously inside the append critical section, bounded by a 5s
// timeout. Mirroring is best-effort: a storage fault is logged, never
// surfaced to the appender, so the in-process chain stays the source of
// truth.
func (s *Store) Attach(l *ledger.Ledger) {
	l.AddHandler(func(seq int, e ledger.Entry) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, seq, e); err != nil {
			s.logger.Warn("mirror write failed", "seq", seq, "error", err)
		}
	})
}

// nullable maps an absent snapshot to SQL NULL.
func nullable(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
