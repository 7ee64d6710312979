package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrNoRows     = errors.New("no rows found")
	ErrUserExists = errors.New("user already exists")
)

const (
	busyAttempts = 5
	busyDelay    = 20 * time.Millisecond
	timeLayout   = time.RFC3339Nano
)

type DB struct {
	conn *sqlx.DB
}

func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	conn, err := sqlx.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			login TEXT PRIMARY KEY,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			login TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			phone TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS skills (
			login TEXT NOT NULL,
			kind TEXT NOT NULL,
			position INTEGER NOT NULL,
			skill TEXT NOT NULL,
			PRIMARY KEY (login, kind, position)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY,
			recipient TEXT NOT NULL,
			position INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			user_a TEXT NOT NULL,
			user_b TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_a, user_b)
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			user_a TEXT NOT NULL,
			user_b TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_a, user_b)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			user_a TEXT NOT NULL,
			user_b TEXT NOT NULL,
			position INTEGER NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			sent_at TEXT NOT NULL,
			PRIMARY KEY (user_a, user_b, position)
		)`,
		`CREATE TABLE IF NOT EXISTS sequences (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient, position)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in a transaction, retrying briefly while SQLite reports
// the database as busy or locked.
func (db *DB) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return retry.Do(
		func() error {
			tx, err := db.conn.BeginTxx(ctx, nil)
			if err != nil {
				return errors.Wrap(err, "failed to begin transaction")
			}
			if err := fn(tx); err != nil {
				tx.Rollback()
				return err
			}
			return errors.Wrap(tx.Commit(), "failed to commit transaction")
		},
		retry.Attempts(busyAttempts),
		retry.Delay(busyDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(isBusy),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// User methods
func (db *DB) CreateUser(ctx context.Context, login, passwordHash string) error {
	_, err := db.conn.ExecContext(ctx, "INSERT INTO users (login, password) VALUES (?, ?)", login, passwordHash)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	return errors.Wrap(err, "failed to insert user")
}

func (db *DB) PasswordHash(ctx context.Context, login string) (string, error) {
	var hash string
	err := db.conn.GetContext(ctx, &hash, "SELECT password FROM users WHERE login = ?", login)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRows
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to query user")
	}
	return hash, nil
}

func (db *DB) UserExists(ctx context.Context, login string) (bool, error) {
	var count int
	if err := db.conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM users WHERE login = ?", login); err != nil {
		return false, errors.Wrap(err, "failed to query user")
	}
	return count > 0, nil
}

func (db *DB) Users(ctx context.Context) ([]string, error) {
	var logins []string
	if err := db.conn.SelectContext(ctx, &logins, "SELECT login FROM users ORDER BY login"); err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return logins, nil
}
