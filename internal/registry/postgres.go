// v2
// internal/registry/postgres.go
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		public_key        TEXT PRIMARY KEY,
		mac_address       TEXT NOT NULL DEFAULT '',
		token_address     TEXT NOT NULL DEFAULT '',
		last_tx_ref       TEXT NOT NULL DEFAULT '',
		owner_address     TEXT NOT NULL DEFAULT '',
		last_seen         BIGINT NOT NULL DEFAULT 0,
		revoked           BOOLEAN NOT NULL DEFAULT FALSE,
		challenge         TEXT NOT NULL DEFAULT '',
		challenge_expires BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS devices_token_address_idx ON devices (token_address) WHERE token_address <> ''`,
}

// PostgresStore is the durable registry backend. The single-statement upsert
// keeps per-key writes atomic under concurrent enrollment and ingestion.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: connect: %w", err)
	}
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: migrate: %w", err)
		}
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// DB exposes the pool so other durable stores can share the connection.
func (s *PostgresStore) DB() *sqlx.DB { return s.db }

func (s *PostgresStore) GetByPublicKey(ctx context.Context, publicKey string) (*Device, error) {
	var d Device
	err := s.db.GetContext(ctx, &d, `SELECT * FROM devices WHERE public_key = $1`, publicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get by public key: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) GetByToken(ctx context.Context, tokenAddress string) (*Device, error) {
	if tokenAddress == "" {
		return nil, ErrNotFound
	}
	var d Device
	err := s.db.GetContext(ctx, &d, `SELECT * FROM devices WHERE token_address = $1`, tokenAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get by token: %w", err)
	}
	return &d, nil
}

// Upsert merges the patch into the record in one statement. COALESCE leaves
// columns untouched when the corresponding patch field is nil.
func (s *PostgresStore) Upsert(ctx context.Context, publicKey string, p Patch) (*Device, error) {
	var d Device
	err := s.db.GetContext(ctx, &d, `
		INSERT INTO devices (public_key, mac_address, token_address, last_tx_ref,
			owner_address, last_seen, revoked, challenge, challenge_expires)
		VALUES ($1, COALESCE($2,''), COALESCE($3,''), COALESCE($4,''),
			COALESCE($5,''), COALESCE($6,0), COALESCE($7,FALSE), COALESCE($8,''), COALESCE($9,0))
		ON CONFLICT (public_key) DO UPDATE SET
			mac_address       = COALESCE($2, devices.mac_address),
			token_address     = COALESCE($3, devices.token_address),
			last_tx_ref       = COALESCE($4, devices.last_tx_ref),
			owner_address     = COALESCE($5, devices.owner_address),
			last_seen         = COALESCE($6, devices.last_seen),
			revoked           = COALESCE($7, devices.revoked),
			challenge         = COALESCE($8, devices.challenge),
			challenge_expires = COALESCE($9, devices.challenge_expires)
		RETURNING *`,
		publicKey, p.MACAddress, p.TokenAddress, p.LastTxRef,
		p.OwnerAddress, p.LastSeen, p.Revoked, p.Challenge, p.ChallengeExpires)
	if err != nil {
		return nil, fmt.Errorf("registry: upsert: %w", err)
	}
	return &d, nil
}

// ConsumeChallenge burns the nonce with a single conditional UPDATE so that
// concurrent consumers of the same challenge race on one row write, not on a
// read-then-write.
func (s *PostgresStore) ConsumeChallenge(ctx context.Context, publicKey, provided string) (bool, error) {
	if provided == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET challenge = '', challenge_expires = 0
		WHERE public_key = $1 AND challenge = $2`,
		publicKey, provided)
	if err != nil {
		return false, fmt.Errorf("registry: consume challenge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("registry: consume challenge: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, tokenAddress string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET revoked = TRUE WHERE token_address = $1`, tokenAddress)
	if err != nil {
		return fmt.Errorf("registry: revoke: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: revoke: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
