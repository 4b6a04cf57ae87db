package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flemzord/toolhost/internal/settings"
)

// Storage is a settings.Storage persisting flags in the flags table.
type Storage struct {
	db *sql.DB
}

// Bool implements settings.Storage.
func (s *Storage) Bool(key string, scope settings.StorageScope) (bool, error) {
	// settings.Storage does not carry a context.
	var v int
	err := s.db.QueryRowContext(context.TODO(),
		"SELECT value FROM flags WHERE scope = ? AND key = ?",
		scope.String(), key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: read flag %s: %w", key, err)
	}
	return v != 0, nil
}

// SetBool implements settings.Storage.
func (s *Storage) SetBool(key string, value bool, scope settings.StorageScope) error {
	v := 0
	if value {
		v = 1
	}
	_, err := s.db.ExecContext(context.TODO(), `
		INSERT INTO flags (scope, key, value) VALUES (?, ?, ?)
		ON CONFLICT (scope, key) DO UPDATE SET
			value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		scope.String(), key, v,
	)
	if err != nil {
		return fmt.Errorf("sqlite: write flag %s: %w", key, err)
	}
	return nil
}

// Remove implements settings.Storage.
func (s *Storage) Remove(key string, scope settings.StorageScope) error {
	if _, err := s.db.ExecContext(context.TODO(),
		"DELETE FROM flags WHERE scope = ? AND key = ?", scope.String(), key,
	); err != nil {
		return fmt.Errorf("sqlite: remove flag %s: %w", key, err)
	}
	return nil
}
