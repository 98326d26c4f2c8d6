package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/trackvault/internal/domain"
)

const sessionDBName = "session.db"

// SessionDB implements domain.SessionStore with a SQLCipher encrypted
// SQLite database, so Garmin session tokens never sit on disk in plain
// text. The key is the SQLCipher passphrase via PRAGMA key.
type SessionDB struct {
	db     *sql.DB
	dbPath string
}

// NewSessionDB opens (or creates) the encrypted session database under
// dataDir.
func NewSessionDB(dataDir string, key []byte) (*SessionDB, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, sessionDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &SessionDB{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SessionDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetToken returns the stored token value, or "" if absent.
func (s *SessionDB) GetToken(name string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM tokens WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetToken stores or replaces a token.
func (s *SessionDB) SetToken(name, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tokens (name, value, updated_at)
		VALUES (?, ?, ?)`,
		name, value, time.Now().Unix(),
	)
	return err
}

// Close releases the database connection.
func (s *SessionDB) Close() error {
	return s.db.Close()
}

// Path returns the database file path (for tests).
func (s *SessionDB) Path() string {
	return s.dbPath
}

// Ensure SessionDB implements domain.SessionStore.
var _ domain.SessionStore = (*SessionDB)(nil)
