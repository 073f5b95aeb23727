package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faucetdb/quotakey/internal/model"
)

// credentialRow is a flat struct that maps 1:1 to the credentials table.
// The scopes_json column stores the JSON-encoded []string.
type credentialRow struct {
	ID              string     `db:"id"`
	OwnerID         string     `db:"owner_id"`
	Name            string     `db:"name"`
	Prefix          string     `db:"key_prefix"`
	SecretHash      string     `db:"secret_hash"`
	ScopesJSON      string     `db:"scopes_json"`
	EnvironmentMode string     `db:"environment_mode"`
	IsActive        bool       `db:"is_active"`
	ExpiresAt       *time.Time `db:"expires_at"`
	LastUsedAt      *time.Time `db:"last_used_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

const credentialColumns = `id, owner_id, name, key_prefix, secret_hash, scopes_json,
	environment_mode, is_active, expires_at, last_used_at, created_at`

func credentialRowFromModel(c *model.Credential) (credentialRow, error) {
	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return credentialRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	return credentialRow{
		ID:              c.ID,
		OwnerID:         c.OwnerID,
		Name:            c.Name,
		Prefix:          c.Prefix,
		SecretHash:      c.SecretHash,
		ScopesJSON:      string(scopesJSON),
		EnvironmentMode: string(c.EnvironmentMode),
		IsActive:        c.IsActive,
		ExpiresAt:       utcPtr(c.ExpiresAt),
		LastUsedAt:      utcPtr(c.LastUsedAt),
		CreatedAt:       c.CreatedAt.UTC(),
	}, nil
}

func (r credentialRow) toModel() (model.Credential, error) {
	var scopes []string
	if r.ScopesJSON != "" {
		if err := json.Unmarshal([]byte(r.ScopesJSON), &scopes); err != nil {
			return model.Credential{}, fmt.Errorf("unmarshal scopes: %w", err)
		}
	}
	if scopes == nil {
		scopes = []string{}
	}
	return model.Credential{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Name:            r.Name,
		Prefix:          r.Prefix,
		SecretHash:      r.SecretHash,
		Scopes:          scopes,
		EnvironmentMode: model.EnvironmentMode(r.EnvironmentMode),
		IsActive:        r.IsActive,
		ExpiresAt:       utcPtr(r.ExpiresAt),
		LastUsedAt:      utcPtr(r.LastUsedAt),
		CreatedAt:       r.CreatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// CreateCredential inserts a new credential record. ID, OwnerID and
// SecretHash must already be set. CreatedAt is populated if zero.
func (s *Store) CreateCredential(ctx context.Context, c *model.Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	row, err := credentialRowFromModel(c)
	if err != nil {
		return err
	}

	const q = `INSERT INTO credentials
		(id, owner_id, name, key_prefix, secret_hash, scopes_json, environment_mode,
		 is_active, expires_at, last_used_at, created_at)
		VALUES
		(:id, :owner_id, :name, :key_prefix, :secret_hash, :scopes_json, :environment_mode,
		 :is_active, :expires_at, :last_used_at, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential returns the credential matching both id and ownerID.
func (s *Store) GetCredential(ctx context.Context, ownerID, id string) (*model.Credential, error) {
	q := s.db.Rebind(`SELECT ` + credentialColumns + ` FROM credentials WHERE id = ? AND owner_id = ?`)
	return s.getCredential(ctx, "get credential", q, id, ownerID)
}

// GetCredentialByHash looks up a credential by the SHA-256 hash of its
// secret. Ownership is not checked; this backs authentication.
func (s *Store) GetCredentialByHash(ctx context.Context, hash string) (*model.Credential, error) {
	q := s.db.Rebind(`SELECT ` + credentialColumns + ` FROM credentials WHERE secret_hash = ?`)
	return s.getCredential(ctx, "get credential by hash", q, hash)
}

func (s *Store) getCredential(ctx context.Context, op, q string, args ...interface{}) (*model.Credential, error) {
	var row credentialRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCredentials returns every credential owned by ownerID, newest first.
func (s *Store) ListCredentials(ctx context.Context, ownerID string) ([]model.Credential, error) {
	q := s.db.Rebind(`SELECT ` + credentialColumns + ` FROM credentials
		WHERE owner_id = ? ORDER BY created_at DESC, id DESC`)

	var rows []credentialRow
	if err := s.db.SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	creds := make([]model.Credential, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, nil
}

// CountCredentials returns the number of credentials owned by ownerID.
func (s *Store) CountCredentials(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM credentials WHERE owner_id = ?"), ownerID); err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return n, nil
}

// DeleteCredential removes the credential matching both id and ownerID and
// reports how many rows were deleted. Zero rows is not an error.
func (s *Store) DeleteCredential(ctx context.Context, ownerID, id string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM credentials WHERE id = ? AND owner_id = ?"), id, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete credential rows affected: %w", err)
	}
	return n, nil
}

// UpdateCredential applies patch to the credential matching both id and
// ownerID and reports how many rows were changed. Zero rows is not an error.
func (s *Store) UpdateCredential(ctx context.Context, ownerID, id string, patch model.CredentialPatch) (int64, error) {
	if patch.Empty() {
		return 0, nil
	}

	var (
		sets []string
		args []interface{}
	)
	if patch.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *patch.IsActive)
	}
	if patch.Scopes != nil {
		scopesJSON, err := json.Marshal(patch.Scopes)
		if err != nil {
			return 0, fmt.Errorf("marshal scopes: %w", err)
		}
		sets = append(sets, "scopes_json = ?")
		args = append(args, string(scopesJSON))
	}
	args = append(args, id, ownerID)

	q := s.db.Rebind("UPDATE credentials SET " + strings.Join(sets, ", ") + " WHERE id = ? AND owner_id = ?")
	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("update credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update credential rows affected: %w", err)
	}
	return n, nil
}

// TouchCredential sets the last_used_at timestamp for a credential.
func (s *Store) TouchCredential(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE credentials SET last_used_at = ? WHERE id = ?"), now, id)
	if err != nil {
		return fmt.Errorf("update credential last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
