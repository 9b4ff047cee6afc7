// Package store caches compiled programs in SQLite, keyed by the SHA-256
// of their source text.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/falcon/pkg/bytecode"
)

// Store is a program cache backed by a SQLite database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	log  commonlog.Logger
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		hash TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		image BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path, log: commonlog.GetLogger("falcon.store")}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SourceHash is the cache key for source.
func SourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached program for source. ok is false on a miss,
// including when the entry was written by another bytecode version.
func (s *Store) Get(source string) (prog *bytecode.Program, ok bool, err error) {
	key := SourceHash(source)

	var version int
	var image []byte
	err = s.db.QueryRow("SELECT version, image FROM programs WHERE hash = ?", key).Scan(&version, &image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying program: %w", err)
	}

	if version != int(bytecode.BytecodeVersion) {
		s.log.Debugf("cache entry %s has version %d, ignoring", key[:12], version)
		return nil, false, nil
	}

	prog, err = bytecode.UnmarshalImage(image)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached program: %w", err)
	}
	s.log.Debugf("cache hit %s", key[:12])
	return prog, true, nil
}

// Put stores prog as the compiled form of source, replacing any earlier
// entry.
func (s *Store) Put(source string, prog *bytecode.Program) error {
	image, err := bytecode.MarshalImage(prog)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO programs (hash, version, image, created_at) VALUES (?, ?, ?, ?)",
		SourceHash(source), int(prog.Version), image, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Len returns the number of cached programs.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}
