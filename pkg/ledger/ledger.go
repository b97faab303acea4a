// Package ledger records archived objects in Postgres, so snapshots can be
// found without listing the bucket.
package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Kind string

const (
	KindBus    Kind = "bus"
	KindRail   Kind = "rail"
	KindStatic Kind = "static"
)

// Entry describes one archived object.
type Entry struct {
	Kind      Kind
	Key       string
	WrittenAt time.Time
	ETag      string // Static archives only.
	SHA256    string
	Size      int
}

// NewEntry fills in the content hash and size.
func NewEntry(kind Kind, key string, at time.Time, content []byte) Entry {
	return Entry{
		Kind:      kind,
		Key:       key,
		WrittenAt: at,
		SHA256:    Hash(content),
		Size:      len(content),
	}
}

// Hash returns the hex sha256 of content.
func Hash(content []byte) string {
	hash := sha256.Sum256(content)
	return fmt.Sprintf("%x", hash[:])
}

type Ledger interface {
	Record(ctx context.Context, e Entry) error
}

type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(ctx context.Context, connString string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) Close() {
	l.pool.Close()
}

func (l *PostgresLedger) Record(ctx context.Context, e Entry) error {
	_, err := l.pool.Exec(ctx,
		"INSERT INTO archives (kind, object_key, written_at, etag, sha256, size) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (object_key) DO UPDATE SET written_at = EXCLUDED.written_at, etag = EXCLUDED.etag, sha256 = EXCLUDED.sha256, size = EXCLUDED.size",
		string(e.Kind), e.Key, e.WrittenAt, e.ETag, e.SHA256, e.Size,
	)
	return errors.Wrapf(err, "failed to record %s", e.Key)
}

// Nop discards entries. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// FakeLedger is an in-memory Ledger for tests.
type FakeLedger struct {
	mu      sync.Mutex
	entries []Entry

	// Err, when set, is returned by every Record.
	Err error
}

func (l *FakeLedger) Record(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.entries = append(l.entries, e)
	return nil
}

func (l *FakeLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
