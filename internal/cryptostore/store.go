// Package cryptostore is the encrypted SQLite-backed catalog of accounts
// and usage snapshots: transactional persistence with credential material
// encrypted at rest under a key derived from an operator passphrase.
package cryptostore

import (
	"context"
	"crypto/cipher"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = "1"

// ErrStore wraps every I/O, schema, or SQL failure this package surfaces.
var ErrStore = errors.New("store error")

// Store is the encrypted, SQLite-backed account and usage catalog. All
// queries share a single connection, so writes and reads are serialized.
type Store struct {
	db   *sql.DB
	aead cipher.AEAD
}

// Open opens (creating if absent) the database at dbPath, derives the
// encryption key from passphrase against a persisted salt, and applies
// the schema.
func Open(dbPath, passphrase string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrStore, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStore, pragma, err)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStore, err)
	}

	s := &Store{db: db}
	if err := s.checkSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}

	salt, err := s.bootstrapSalt()
	if err != nil {
		db.Close()
		return nil, err
	}

	aead, err := newCipher(deriveKey(passphrase, salt))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	s.aead = aead

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// bootstrapSalt reads the persisted KDF salt or generates and stores one
// on first run.
func (s *Store) bootstrapSalt() ([]byte, error) {
	encoded, err := s.getMetadata("kdf_salt")
	if err != nil {
		return nil, err
	}
	if encoded != "" {
		return base64.StdEncoding.DecodeString(encoded)
	}
	salt, err := randomSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := s.setMetadata("kdf_salt", base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}

func (s *Store) checkSchemaVersion() error {
	v, err := s.getMetadata("schema_version")
	if err != nil {
		return err
	}
	if v == "" {
		return s.setMetadata("schema_version", schemaVersion)
	}
	if v != schemaVersion {
		return fmt.Errorf("%w: database schema version %q incompatible with %q", ErrStore, v, schemaVersion)
	}
	return nil
}

func (s *Store) getMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: get metadata %s: %v", ErrStore, key, err)
	}
	return value, nil
}

func (s *Store) setMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("%w: set metadata %s: %v", ErrStore, key, err)
	}
	return nil
}

// SaveAccount is an idempotent upsert keyed by id; the credential is
// re-encrypted on every call.
func (s *Store) SaveAccount(ctx context.Context, a *gwmodel.Account) error {
	encrypted, err := encrypt(s.aead, a.APIKey)
	if err != nil {
		return fmt.Errorf("%w: encrypt credential: %v", ErrStore, err)
	}
	scopeJSON, err := json.Marshal(a.ModelScope)
	if err != nil {
		return fmt.Errorf("%w: marshal model_scope: %v", ErrStore, err)
	}

	var lastUsed *string
	if a.LastUsed != nil {
		v := a.LastUsed.UTC().Format(time.RFC3339)
		lastUsed = &v
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, label, api_key_encrypted, org_id, model_scope,
			daily_limit, monthly_limit, priority, enabled,
			created_at, updated_at, last_used
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			api_key_encrypted = excluded.api_key_encrypted,
			org_id = excluded.org_id,
			model_scope = excluded.model_scope,
			daily_limit = excluded.daily_limit,
			monthly_limit = excluded.monthly_limit,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at,
			last_used = excluded.last_used
	`,
		a.ID.String(), a.Label, encrypted, a.OrgID, string(scopeJSON),
		a.DailyLimit, a.MonthlyLimit, a.Priority, a.Enabled,
		a.CreatedAt.UTC().Format(time.RFC3339), a.UpdatedAt.UTC().Format(time.RFC3339), lastUsed,
	)
	if err != nil {
		return fmt.Errorf("%w: save account: %v", ErrStore, err)
	}
	return nil
}

const accountCols = `id, label, api_key_encrypted, org_id, model_scope,
	daily_limit, monthly_limit, priority, enabled, created_at, updated_at, last_used`

func (s *Store) scanAccount(scanner interface{ Scan(...any) error }) (*gwmodel.Account, error) {
	var (
		id, label, encryptedKey, scopeJSON, createdAt, updatedAt string
		orgID, lastUsed                                          sql.NullString
		dailyLimit, monthlyLimit                                 sql.NullFloat64
		priority                                                 int
		enabled                                                  bool
	)
	if err := scanner.Scan(&id, &label, &encryptedKey, &orgID, &scopeJSON,
		&dailyLimit, &monthlyLimit, &priority, &enabled, &createdAt, &updatedAt, &lastUsed); err != nil {
		return nil, err
	}

	apiKey, err := decrypt(s.aead, encryptedKey)
	if err != nil {
		return nil, err
	}

	var scope []string
	if err := json.Unmarshal([]byte(scopeJSON), &scope); err != nil {
		return nil, fmt.Errorf("%w: unmarshal model_scope: %v", ErrStore, err)
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: parse account id: %v", ErrStore, err)
	}
	createdAtT, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: parse created_at: %v", ErrStore, err)
	}
	updatedAtT, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: parse updated_at: %v", ErrStore, err)
	}

	a := &gwmodel.Account{
		ID:           parsedID,
		Label:        label,
		APIKey:       apiKey,
		ModelScope:   scope,
		Priority:     priority,
		Enabled:      enabled,
		CreatedAt:    createdAtT,
		UpdatedAt:    updatedAtT,
	}
	if orgID.Valid {
		a.OrgID = &orgID.String
	}
	if dailyLimit.Valid {
		a.DailyLimit = &dailyLimit.Float64
	}
	if monthlyLimit.Valid {
		a.MonthlyLimit = &monthlyLimit.Float64
	}
	if lastUsed.Valid {
		t, err := time.Parse(time.RFC3339, lastUsed.String)
		if err != nil {
			return nil, fmt.Errorf("%w: parse last_used: %v", ErrStore, err)
		}
		a.LastUsed = &t
	}
	return a, nil
}

// LoadAccount decrypts and returns the account, or nil if it does not exist.
func (s *Store) LoadAccount(ctx context.Context, id uuid.UUID) (*gwmodel.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountCols+" FROM accounts WHERE id = ?", id.String())
	a, err := s.scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, ErrDecrypt) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load account: %v", ErrStore, err)
	}
	return a, nil
}

// LoadAccounts returns every account ordered priority-desc, created-asc.
func (s *Store) LoadAccounts(ctx context.Context) ([]*gwmodel.Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+accountCols+" FROM accounts ORDER BY priority DESC, created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("%w: load accounts: %v", ErrStore, err)
	}
	defer rows.Close()

	var accounts []*gwmodel.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			if errors.Is(err, ErrDecrypt) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: scan account: %v", ErrStore, err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account and cascades to its usage snapshots.
// Reports whether anything was removed.
func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM usage_snapshots WHERE account_id = ?", id.String()); err != nil {
		return false, fmt.Errorf("%w: cascade delete snapshots: %v", ErrStore, err)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id.String())
	if err != nil {
		return false, fmt.Errorf("%w: delete account: %v", ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return n > 0, nil
}

// SaveUsageSnapshot appends a usage observation; history is never mutated.
func (s *Store) SaveUsageSnapshot(ctx context.Context, u *gwmodel.UsageSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_snapshots (
			account_id, tokens_used, cost_estimate, hard_limit,
			soft_limit, remaining_budget, daily_usage, monthly_usage, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.AccountID.String(), int64(u.TokensUsed), u.CostEstimate, u.HardLimit,
		u.SoftLimit, u.RemainingBudget, u.DailyUsage, u.MonthlyUsage, u.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: save usage snapshot: %v", ErrStore, err)
	}
	return nil
}

// LoadLatestUsage returns the newest-by-timestamp snapshot for an account,
// or nil if none exists.
func (s *Store) LoadLatestUsage(ctx context.Context, accountID uuid.UUID) (*gwmodel.UsageSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, tokens_used, cost_estimate, hard_limit, soft_limit,
			remaining_budget, daily_usage, monthly_usage, timestamp
		FROM usage_snapshots WHERE account_id = ? ORDER BY timestamp DESC LIMIT 1
	`, accountID.String())

	var (
		idStr                             string
		tokensUsed                        int64
		costEstimate, dailyUsage, monthly float64
		hardLimit, softLimit, remaining   sql.NullFloat64
		timestamp                         string
	)
	err := row.Scan(&idStr, &tokensUsed, &costEstimate, &hardLimit, &softLimit,
		&remaining, &dailyUsage, &monthly, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load latest usage: %v", ErrStore, err)
	}

	accountUUID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("%w: parse account_id: %v", ErrStore, err)
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: parse timestamp: %v", ErrStore, err)
	}

	u := &gwmodel.UsageSnapshot{
		AccountID:    accountUUID,
		TokensUsed:   uint64(tokensUsed),
		CostEstimate: costEstimate,
		DailyUsage:   dailyUsage,
		MonthlyUsage: monthly,
		Timestamp:    ts,
	}
	if hardLimit.Valid {
		u.HardLimit = &hardLimit.Float64
	}
	if softLimit.Valid {
		u.SoftLimit = &softLimit.Float64
	}
	if remaining.Valid {
		u.RemainingBudget = &remaining.Float64
	}
	return u, nil
}
