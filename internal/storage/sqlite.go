package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database holding the corpus manifest and chunk vectors.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" for an in-memory database; the server uses one so the index
// is rebuilt from the corpus on every start.
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "fieldguide.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// DB exposes the underlying handle for the vector store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Sources ---

// SaveSource upserts the ingestion record for one corpus file.
func (s *Store) SaveSource(src Source) error {
	status := src.Status
	if status == "" {
		status = SourceIndexed
	}
	ingestedAt := src.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO sources (file, pages, chunks, status, reason, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file) DO UPDATE SET pages = excluded.pages, chunks = excluded.chunks,
			status = excluded.status, reason = excluded.reason, ingested_at = excluded.ingested_at`,
		src.File, src.Pages, src.Chunks, status, src.Reason, ingestedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSource(file string) (Source, error) {
	var src Source
	var ingestedAt string
	err := s.db.QueryRow(`
		SELECT file, pages, chunks, status, reason, ingested_at
		FROM sources WHERE file = ?`, file,
	).Scan(&src.File, &src.Pages, &src.Chunks, &src.Status, &src.Reason, &ingestedAt)
	if err == sql.ErrNoRows {
		return Source{}, ErrNotFound
	}
	if err != nil {
		return Source{}, err
	}
	t, err := time.Parse(time.RFC3339, ingestedAt)
	if err != nil {
		return Source{}, fmt.Errorf("parsing ingested_at: %w", err)
	}
	src.IngestedAt = t
	return src, nil
}

// ListSources returns every ingestion record ordered by file name.
func (s *Store) ListSources() ([]Source, error) {
	rows, err := s.db.Query(`
		SELECT file, pages, chunks, status, reason, ingested_at
		FROM sources ORDER BY file ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Source
	for rows.Next() {
		var src Source
		var ingestedAt string
		if err := rows.Scan(&src.File, &src.Pages, &src.Chunks, &src.Status, &src.Reason, &ingestedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ingestedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing ingested_at: %w", err)
		}
		src.IngestedAt = t
		results = append(results, src)
	}
	return results, rows.Err()
}

// Reset removes every source and chunk vector. Used before a rebuild of a
// file-backed database.
func (s *Store) Reset() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunk_vectors`); err != nil {
		return fmt.Errorf("clearing chunk vectors: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sources`); err != nil {
		return fmt.Errorf("clearing sources: %w", err)
	}
	return tx.Commit()
}
