package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting returns the value stored under key; the second result reports
// whether the key exists.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts key to value and notifies change listeners.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, current_timestamp)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}

	s.mu.Lock()
	listeners := make([]func(string, string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(key, value)
	}
	return nil
}

// OnSettingChange registers a callback invoked after every successful Set.
func (s *Store) OnSettingChange(fn func(key, value string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// EnsureDefaults writes each default value that has no stored setting yet.
// A failure on one key does not abort the rest; the first error is returned
// after all keys were attempted.
func (s *Store) EnsureDefaults(defaults map[string]string) error {
	var firstErr error
	for key, value := range defaults {
		_, exists, err := s.GetSetting(key)
		if err == nil && exists {
			continue
		}
		if err == nil {
			err = s.SetSetting(key, value)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
