// Package sqlite provides a SQLite-backed command queue and dead-letter store, so
// commands captured offline survive a restart of the console.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/carsync/cache"
	syncErrors "github.com/c0deZ3R0/carsync/errors"
	"github.com/c0deZ3R0/carsync/logging"
	"github.com/c0deZ3R0/carsync/model"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const componentName = "storage/sqlite"

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the CommandStore.
//
// DefaultConfig enables WAL mode and keeps a small connection pool.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:carsync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL appends "?_journal_mode=WAL" to DataSourceName when no journal
	// mode is given.
	EnableWAL bool

	// Logger receives open/close diagnostics. Defaults to the component logger.
	Logger *slog.Logger

	MaxOpenConns    int           // Default: 4
	MaxIdleConns    int           // Default: 2
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component("sqlite-store")).Logger
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if isMemory(c.DataSourceName) {
		// every connection to :memory: opens a separate database
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
		c.ConnMaxLifetime = 0
		c.ConnMaxIdleTime = 0
		return
	}
	if c.EnableWAL && c.DataSourceName != "" && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

func isMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// DefaultConfig returns a Config with WAL enabled for dataSourceName.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// CommandStore is a durable cache.Queue and cache.DeadLetters.
type CommandStore struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ cache.Queue       = (*CommandStore)(nil)
	_ cache.DeadLetters = (*CommandStore)(nil)
	_ cache.Peeker      = (*CommandStore)(nil)
)

// New opens the database described by config and creates the schema if needed.
func New(config *Config) (*CommandStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger
	logger.Info("Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &CommandStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.Info("SQLite command store initialized")
	return store, nil
}

func (s *CommandStore) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS commands (
        seq             INTEGER PRIMARY KEY AUTOINCREMENT,
        id              TEXT NOT NULL,
        operation       TEXT NOT NULL,
        arguments       TEXT NOT NULL,
        placeholder_id  TEXT,
        enqueued_at     TEXT NOT NULL,
        attempts        INTEGER NOT NULL DEFAULT 0
    );
    CREATE TABLE IF NOT EXISTS dead_letters (
        seq             INTEGER PRIMARY KEY AUTOINCREMENT,
        id              TEXT NOT NULL,
        operation       TEXT NOT NULL,
        arguments       TEXT NOT NULL,
        placeholder_id  TEXT,
        enqueued_at     TEXT NOT NULL,
        attempts        INTEGER NOT NULL DEFAULT 0,
        reason          TEXT NOT NULL,
        recorded_at     TEXT NOT NULL
    );
    `
	if _, err := s.db.Exec(query); err != nil {
		return err
	}

	// databases created before attempts were tracked
	for _, table := range []string{"commands", "dead_letters"} {
		if err := s.addColumnIfMissing(table, "attempts", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	return nil
}

func (s *CommandStore) addColumnIfMissing(table, column, definition string) error {
	_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *CommandStore) checkOpen(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Enqueue appends cmd to the commands table.
func (s *CommandStore) Enqueue(ctx context.Context, cmd model.Command) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := cmd.Validate(); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}

	args, err := json.Marshal(argumentsOf(cmd))
	if err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpEnqueue, componentName, err)
	}

	query := `INSERT INTO commands (id, operation, arguments, placeholder_id, enqueued_at, attempts) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		cmd.ID, string(cmd.Operation), string(args), nullString(cmd.PlaceholderID), formatTime(s.enqueuedAt(cmd)), cmd.Attempts)
	if err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpEnqueue, componentName, err)
	}
	return nil
}

// Drain reads and deletes every queued command inside one transaction. The
// deletion commits before the caller runs anything, so commands drained by a
// process that then crashes are not restored.
func (s *CommandStore) Drain(ctx context.Context) (cmds []model.Command, err error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDrain, componentName, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT seq, id, operation, arguments, placeholder_id, enqueued_at, attempts FROM commands ORDER BY seq ASC`)
	if err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDrain, componentName, err)
	}
	var lastSeq int64
	cmds, lastSeq, err = scanCommands(rows)
	if err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDrain, componentName, err)
	}

	if len(cmds) > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM commands WHERE seq <= ?`, lastSeq); err != nil {
			return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDrain, componentName, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDrain, componentName, err)
	}
	return cmds, nil
}

// Size counts queued commands.
func (s *CommandStore) Size(ctx context.Context) (int, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&n); err != nil {
		return 0, syncErrors.NewLocalPersistenceError(syncErrors.OpDrain, componentName, err)
	}
	return n, nil
}

// Record stores a dead letter.
func (s *CommandStore) Record(ctx context.Context, cmd model.Command, reason string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}

	args, err := json.Marshal(argumentsOf(cmd))
	if err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpDeadLetter, componentName, err)
	}

	query := `INSERT INTO dead_letters (id, operation, arguments, placeholder_id, enqueued_at, attempts, reason, recorded_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		cmd.ID, string(cmd.Operation), string(args), nullString(cmd.PlaceholderID),
		formatTime(s.enqueuedAt(cmd)), cmd.Attempts, reason, formatTime(s.now()))
	if err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpDeadLetter, componentName, err)
	}
	return nil
}

// List returns all dead letters, oldest first.
func (s *CommandStore) List(ctx context.Context) ([]cache.DeadLetter, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, arguments, placeholder_id, enqueued_at, attempts, reason, recorded_at FROM dead_letters ORDER BY seq ASC`)
	if err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDeadLetter, componentName, err)
	}
	defer rows.Close()

	letters := []cache.DeadLetter{}
	for rows.Next() {
		var (
			cmd                    model.Command
			op, args               string
			placeholder            sql.NullString
			enqueuedAt, recordedAt string
			reason                 string
		)
		if err := rows.Scan(&cmd.ID, &op, &args, &placeholder, &enqueuedAt, &cmd.Attempts, &reason, &recordedAt); err != nil {
			return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDeadLetter, componentName, err)
		}
		if err := fillCommand(&cmd, op, args, placeholder, enqueuedAt); err != nil {
			return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDeadLetter, componentName, err)
		}
		at, err := parseTime(recordedAt)
		if err != nil {
			return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDeadLetter, componentName, err)
		}
		letters = append(letters, cache.DeadLetter{Command: cmd, Reason: reason, RecordedAt: at})
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDeadLetter, componentName, err)
	}
	return letters, nil
}

// Close closes the database connection.
func (s *CommandStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.logger.Debug("Closing SQLite command store")
	return s.db.Close()
}

func (s *CommandStore) enqueuedAt(cmd model.Command) time.Time {
	if cmd.EnqueuedAt.IsZero() {
		return s.now()
	}
	return cmd.EnqueuedAt
}

// scanCommands consumes rows and returns the commands and the highest seq seen.
func scanCommands(rows *sql.Rows) ([]model.Command, int64, error) {
	defer rows.Close()

	cmds := []model.Command{}
	var last int64
	for rows.Next() {
		var (
			seq         int64
			cmd         model.Command
			op, args    string
			placeholder sql.NullString
			enqueuedAt  string
		)
		if err := rows.Scan(&seq, &cmd.ID, &op, &args, &placeholder, &enqueuedAt, &cmd.Attempts); err != nil {
			return nil, 0, fmt.Errorf("failed to scan command row: %w", err)
		}
		if err := fillCommand(&cmd, op, args, placeholder, enqueuedAt); err != nil {
			return nil, 0, err
		}
		cmds = append(cmds, cmd)
		last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return cmds, last, nil
}

func fillCommand(cmd *model.Command, op, args string, placeholder sql.NullString, enqueuedAt string) error {
	cmd.Operation = model.OperationKind(op)
	if err := json.Unmarshal([]byte(args), &cmd.Arguments); err != nil {
		return fmt.Errorf("decode arguments of command %s: %w", cmd.ID, err)
	}
	if placeholder.Valid {
		cmd.PlaceholderID = placeholder.String
	}
	at, err := parseTime(enqueuedAt)
	if err != nil {
		return err
	}
	cmd.EnqueuedAt = at
	return nil
}

func argumentsOf(cmd model.Command) []string {
	if cmd.Arguments == nil {
		return []string{}
	}
	return cmd.Arguments
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
