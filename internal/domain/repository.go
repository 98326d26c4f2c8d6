package domain

import "context"

// ActivitySource pulls activity data from the upstream account.
// Session and auth lifecycle live below this boundary: calls either
// succeed or fail with ErrRateLimited, an *AuthError the source could
// not recover from, or a fatal transport error.
type ActivitySource interface {
	// FetchPage returns activities [offset, offset+limit) in feed
	// order, newest first. An empty slice signals exhaustion.
	FetchPage(ctx context.Context, offset, limit int) ([]Activity, error)

	// FetchTrackBytes downloads one track file in the given export
	// format. An empty result is a valid "no data upstream" outcome,
	// not an error.
	FetchTrackBytes(ctx context.Context, id ActivityID, format string) ([]byte, error)
}

// SessionStore persists upstream session tokens across restarts.
// Implementation: SQLCipher-encrypted SQLite database.
type SessionStore interface {
	// GetToken returns the stored token value, or "" if absent.
	GetToken(name string) (string, error)

	// SetToken stores or replaces a token.
	SetToken(name, value string) error

	// Close releases the underlying database connection.
	Close() error
}

// KeyProvider abstracts the source of the session store encryption
// key. Implementation: local key file with 0600 permissions.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
