package jobstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAPIKey is returned when no active key matches the
// presented credential.
var ErrInvalidAPIKey = errors.New("invalid api key")

const keyPrefixLen = 8

// GenerateRawKey produces a new random credential. The raw value is
// returned once; only its hash is stored.
func GenerateRawKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateAPIKey stores a new key and returns the record plus the raw
// credential to hand to the caller.
func (db *Database) CreateAPIKey(ctx context.Context, name, description string, isAdmin bool, maxConcurrent int, expiresAt *time.Time) (*APIKey, string, error) {
	rawKey, err := GenerateRawKey()
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash api key: %w", err)
	}

	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	key := &APIKey{
		ID:                uuid.New(),
		Name:              name,
		KeyHash:           string(hash),
		KeyPrefix:         rawKey[:keyPrefixLen],
		IsActive:          true,
		IsAdmin:           isAdmin,
		MaxConcurrentJobs: maxConcurrent,
		CreatedAt:         time.Now().UTC(),
		ExpiresAt:         expiresAt,
	}
	if description != "" {
		key.Description = &description
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO api_keys (
			id, name, key_hash, key_prefix, is_active, is_admin,
			max_concurrent_jobs, created_at, expires_at, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.IsActive, key.IsAdmin,
		key.MaxConcurrentJobs, key.CreatedAt, key.ExpiresAt, key.Description)
	if err != nil {
		return nil, "", fmt.Errorf("failed to insert api key: %w", err)
	}

	return key, rawKey, nil
}

const apiKeyColumns = `id, name, key_hash, key_prefix, is_active, is_admin,
	max_concurrent_jobs, total_requests, last_used_at,
	created_at, expires_at, revoked_at, description`

func scanAPIKey(row pgx.Row) (*APIKey, error) {
	key := &APIKey{}
	err := row.Scan(
		&key.ID, &key.Name, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &key.IsAdmin,
		&key.MaxConcurrentJobs, &key.TotalRequests, &key.LastUsedAt,
		&key.CreatedAt, &key.ExpiresAt, &key.RevokedAt, &key.Description,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	return key, nil
}

// AuthenticateAPIKey resolves a raw credential to its key record. The
// prefix narrows the candidate set so the bcrypt comparison runs over
// at most a handful of rows.
func (db *Database) AuthenticateAPIKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if len(rawKey) < keyPrefixLen {
		return nil, ErrInvalidAPIKey
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND is_active`,
		rawKey[:keyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		if !key.Valid(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			return key, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return nil, ErrInvalidAPIKey
}

// TouchAPIKey records a successful use of the key.
func (db *Database) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE api_keys
		SET last_used_at = NOW(), total_requests = total_requests + 1
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// RevokeAPIKey deactivates a key by name.
func (db *Database) RevokeAPIKey(ctx context.Context, name string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE api_keys
		SET is_active = FALSE, revoked_at = NOW()
		WHERE name = $1 AND is_active`, name)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidAPIKey
	}
	return nil
}

// ListAPIKeys returns all keys, active and revoked.
func (db *Database) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
