// Package authtoken validates access tokens: a token maps to an opaque
// Identity, or to one of ErrNotFound / ErrExpired. The envelope processor
// treats any non-nil error as Unauthorized and never inspects Identity
// beyond presence.
package authtoken

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotFound is returned when the token matches no known principal.
var ErrNotFound = errors.New("authtoken: not found")

// ErrExpired is returned when the token matched but has lapsed.
var ErrExpired = errors.New("authtoken: expired")

// Identity is the opaque result of a successful validation. The core only
// cares that it is present; callers may inspect Subject for logging.
type Identity struct {
	Subject string
	Scopes  []string
}

// Authenticator validates one access token per call.
type Authenticator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// TableAuthenticator validates tokens against a durable access-token table,
// the plain shared-secret mode the hub runs in day to day: an admin
// provisions a row, the client presents the raw token, the lookup hashes it
// before comparing so the table never stores tokens in the clear.
type TableAuthenticator struct {
	db *sql.DB
}

const tokenTableSchema = `
CREATE TABLE IF NOT EXISTS access_tokens (
	token_hash TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	scopes     TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMP
);
`

// NewTableAuthenticator wraps an already-open connection pool and ensures
// the access_tokens table exists.
func NewTableAuthenticator(ctx context.Context, db *sql.DB) (*TableAuthenticator, error) {
	if _, err := db.ExecContext(ctx, tokenTableSchema); err != nil {
		return nil, fmt.Errorf("authtoken: init schema: %w", err)
	}
	return &TableAuthenticator{db: db}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Validate looks up the hashed token. A row with a past expires_at is
// ErrExpired rather than ErrNotFound so callers can distinguish a stale
// credential from a bogus one.
func (a *TableAuthenticator) Validate(ctx context.Context, token string) (Identity, error) {
	row := a.db.QueryRowContext(ctx,
		"SELECT subject, scopes, expires_at FROM access_tokens WHERE token_hash = $1",
		hashToken(token))

	var subject, scopesCSV string
	var expiresAt sql.NullTime
	if err := row.Scan(&subject, &scopesCSV, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("authtoken: lookup: %w", err)
	}

	if expiresAt.Valid && expiresAt.Time.Before(time.Now()) {
		return Identity{}, ErrExpired
	}

	return Identity{Subject: subject, Scopes: splitScopes(scopesCSV)}, nil
}

// Provision inserts or replaces the row for token, hashing it before
// storage. A zero expiresAt means the token never expires.
func (a *TableAuthenticator) Provision(ctx context.Context, token, subject string, scopes []string, expiresAt time.Time) error {
	var exp any
	if !expiresAt.IsZero() {
		exp = expiresAt
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO access_tokens (token_hash, subject, scopes, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE SET
			subject = $2, scopes = $3, expires_at = $4`,
		hashToken(token), subject, joinScopes(scopes), exp)
	if err != nil {
		return fmt.Errorf("authtoken: provision: %w", err)
	}
	return nil
}

func splitScopes(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, csv[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// JWTAuthenticator validates signed bearer tokens instead of opaque
// shared secrets, for deployments that mint short-lived credentials rather
// than provisioning a table row per client.
type JWTAuthenticator struct {
	keyFunc jwt.Keyfunc
}

// NewJWTAuthenticator wraps a jwt.Keyfunc (typically backed by an
// InMemoryKeySet-style rotation set) for EdDSA/RSA-signed tokens.
func NewJWTAuthenticator(keyFunc jwt.Keyfunc) *JWTAuthenticator {
	return &JWTAuthenticator{keyFunc: keyFunc}
}

type hubClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

func (a *JWTAuthenticator) Validate(ctx context.Context, token string) (Identity, error) {
	claims := &hubClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpired
		}
		return Identity{}, ErrNotFound
	}
	if !parsed.Valid {
		return Identity{}, ErrNotFound
	}
	return Identity{Subject: claims.Subject, Scopes: claims.Scopes}, nil
}

// inMemoryRecord is one provisioned token for InMemoryAuthenticator.
type inMemoryRecord struct {
	identity  Identity
	expiresAt time.Time
}

// InMemoryAuthenticator is a process-local Authenticator for tests and for
// the lite-mode default: a plain map guarded by a mutex, with the same
// validate/provision contract as TableAuthenticator.
type InMemoryAuthenticator struct {
	mu      sync.RWMutex
	records map[string]inMemoryRecord
}

// NewInMemoryAuthenticator creates an empty authenticator.
func NewInMemoryAuthenticator() *InMemoryAuthenticator {
	return &InMemoryAuthenticator{records: make(map[string]inMemoryRecord)}
}

func (a *InMemoryAuthenticator) Provision(token string, identity Identity, expiresAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[token] = inMemoryRecord{identity: identity, expiresAt: expiresAt}
}

func (a *InMemoryAuthenticator) Validate(ctx context.Context, token string) (Identity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.records[token]
	if !ok {
		return Identity{}, ErrNotFound
	}
	if !rec.expiresAt.IsZero() && rec.expiresAt.Before(time.Now()) {
		return Identity{}, ErrExpired
	}
	return rec.identity, nil
}
