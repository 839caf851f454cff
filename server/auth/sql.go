package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const (
	queryPassword = "SELECT passwd FROM user WHERE username = ? LIMIT 1"
	queryExists   = "SELECT username FROM user WHERE username = ? LIMIT 1"
	insertUser    = "INSERT INTO user(username, passwd) VALUES(?, ?)"

	// ER_DUP_ENTRY
	mysqlDuplicateEntry = 1062
)

// SQLStore keeps users in the `user(username, passwd)` table, passwd holds a bcrypt hash.
type SQLStore struct {
	db   *sql.DB
	cost int
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, cost int) *SQLStore {
	return &SQLStore{db: db, cost: normalizeCost(cost)}
}

// OpenSQL connects to MySQL with at most poolSize open connections.
func OpenSQL(ctx context.Context, dsn string, poolSize, cost int) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("auth: open: %w", err)
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
		db.SetMaxIdleConns(poolSize)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("auth: ping: %w", err)
	}
	return NewSQLStore(db, cost), nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Verify(ctx context.Context, username, password string, login bool) (bool, error) {
	if username == "" || password == "" {
		return false, ErrEmptyCredentials
	}
	if login {
		return s.login(ctx, username, password)
	}
	return s.register(ctx, username, password)
}

func (s *SQLStore) login(ctx context.Context, username, password string) (bool, error) {
	var hash []byte
	err := s.db.QueryRowContext(ctx, queryPassword, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: query: %w", err)
	}
	return matchPassword(hash, password), nil
}

func (s *SQLStore) register(ctx context.Context, username, password string) (bool, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, queryExists, username).Scan(&existing)
	switch {
	case err == nil:
		return false, ErrUserExists
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("auth: query: %w", err)
	}

	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return false, err
	}

	if _, err := s.db.ExecContext(ctx, insertUser, username, hash); err != nil {
		// lost a race with a concurrent registration
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return false, ErrUserExists
		}
		return false, fmt.Errorf("auth: insert: %w", err)
	}
	return true, nil
}
