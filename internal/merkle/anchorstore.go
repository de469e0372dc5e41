// v1
// internal/merkle/anchorstore.go
package merkle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// AnchorRecord is one closed batch whose root reached the ledger.
type AnchorRecord struct {
	BatchID    string    `db:"batch_id" json:"batchId"`
	Root       string    `db:"root" json:"root"`
	LeafCount  int       `db:"leaf_count" json:"leafCount"`
	TxRef      string    `db:"tx_ref" json:"txRef"`
	AnchoredAt time.Time `db:"anchored_at" json:"anchoredAt"`
}

// AnchorStore persists the batch ledger of anchored roots.
type AnchorStore interface {
	Record(ctx context.Context, rec AnchorRecord) error
}

var anchorMigrations = []string{
	`CREATE TABLE IF NOT EXISTS anchors (
		batch_id    TEXT PRIMARY KEY,
		root        TEXT NOT NULL,
		leaf_count  INTEGER NOT NULL,
		tx_ref      TEXT NOT NULL,
		anchored_at TIMESTAMPTZ NOT NULL
	)`,
}

// PostgresAnchorStore writes anchor records to postgres.
type PostgresAnchorStore struct {
	db *sqlx.DB
}

func NewPostgresAnchorStore(ctx context.Context, db *sqlx.DB) (*PostgresAnchorStore, error) {
	for _, stmt := range anchorMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("merkle: migrate anchors: %w", err)
		}
	}
	return &PostgresAnchorStore{db: db}, nil
}

func (s *PostgresAnchorStore) Record(ctx context.Context, rec AnchorRecord) error {
	const q = `INSERT INTO anchors (batch_id, root, leaf_count, tx_ref, anchored_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (batch_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, rec.BatchID, rec.Root, rec.LeafCount, rec.TxRef, rec.AnchoredAt); err != nil {
		return fmt.Errorf("merkle: record anchor: %w", err)
	}
	return nil
}

// MemoryAnchorStore backs tests and single-instance runs.
type MemoryAnchorStore struct {
	mu      sync.Mutex
	records []AnchorRecord
}

func NewMemoryAnchorStore() *MemoryAnchorStore {
	return &MemoryAnchorStore{}
}

func (s *MemoryAnchorStore) Record(_ context.Context, rec AnchorRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far.
func (s *MemoryAnchorStore) Records() []AnchorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AnchorRecord, len(s.records))
	copy(out, s.records)
	return out
}
