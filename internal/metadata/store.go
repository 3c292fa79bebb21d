package metadata

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseMu guards goose's package level dialect and filesystem.
var gooseMu sync.Mutex

// Document is a row of the documents table.
type Document struct {
	ID             string
	ContainerID    string
	RemoteKey      string
	Title          string
	CurrentVersion string
	CreatedBy      string
	CreatedAt      time.Time
}

// Version is a row of the document_versions table.
type Version struct {
	ID          string
	DocumentID  string
	Number      int
	RemoteKey   string
	SizeBytes   int64
	ContentHash string
	MimeType    string
	CreatedBy   string
	CreatedAt   time.Time
}

// Store is the SQL metadata store. Writes are serialized so that SQLite
// never sees two concurrent writers.
type Store struct {
	db      *sql.DB
	driver  string
	logger  *zap.Logger
	writeMu sync.Mutex
}

// Open connects to the metadata database. driver is "sqlite" or "postgres".
func Open(driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch driver {
	case "sqlite", "":
		driver = "sqlite"
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unknown metadata driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &Store{db: db, driver: driver, logger: logger}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{s.logger.Sugar()})

	dialect := "sqlite3"
	if s.driver == "postgres" {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("migrate metadata store: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertDocument creates a document row with an empty current version.
func (s *Store) InsertDocument(ctx context.Context, d Document) error {
	return s.write(ctx, `
	INSERT INTO documents
	(id, container_id, remote_key, title, current_version, created_by, created_at)
	VALUES (?, ?, ?, ?, '', ?, ?)
	`, d.ID, d.ContainerID, d.RemoteKey, d.Title, d.CreatedBy, d.CreatedAt.UTC())
}

// InsertVersion creates a version row.
func (s *Store) InsertVersion(ctx context.Context, v Version) error {
	return s.write(ctx, `
	INSERT INTO document_versions
	(id, document_id, version_number, remote_key, size_bytes, content_hash, mime_type, created_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.DocumentID, v.Number, v.RemoteKey, v.SizeBytes, v.ContentHash, v.MimeType, v.CreatedBy, v.CreatedAt.UTC())
}

// SetCurrentVersion points a document at versionID. The version must belong
// to the document.
func (s *Store) SetCurrentVersion(ctx context.Context, documentID, versionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE documents SET current_version = ?
		WHERE id = ? AND EXISTS (
			SELECT 1 FROM document_versions WHERE id = ? AND document_id = ?
		)
		`), versionID, documentID, versionID, documentID)
		if err != nil {
			return wrapDenied(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("document %s has no version %s", documentID, versionID)
		}
		return nil
	})
}

// Incomplete lists documents whose current version was never set.
func (s *Store) Incomplete(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
	SELECT id, container_id, remote_key, title, current_version, created_by, created_at
	FROM documents WHERE current_version = ?
	ORDER BY created_at ASC
	`), "")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ContainerID, &d.RemoteKey, &d.Title,
			&d.CurrentVersion, &d.CreatedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Document fetches one document row. It returns sql.ErrNoRows when absent.
func (s *Store) Document(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
	SELECT id, container_id, remote_key, title, current_version, created_by, created_at
	FROM documents WHERE id = ?
	`), id)

	var d Document
	if err := row.Scan(&d.ID, &d.ContainerID, &d.RemoteKey, &d.Title,
		&d.CurrentVersion, &d.CreatedBy, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) write(ctx context.Context, query string, args ...any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query = s.rebind(query)
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return wrapDenied(err)
	})
}

// retryOnBusy retries op while SQLite reports the database as locked.
func (s *Store) retryOnBusy(ctx context.Context, op func() error) error {
	b := retry.WithMaxRetries(8, retry.NewExponential(20*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op()
		if isBusy(err) {
			s.logger.Debug("metadata store busy, retrying", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}

func wrapDenied(err error) error {
	if err == nil {
		return nil
	}

	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "42501" {
		return fmt.Errorf("%w: %w", ErrDenied, err)
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
			return fmt.Errorf("%w: %w", ErrDenied, err)
		}
	}
	return err
}

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.s.Fatalf(format, v...)
}
