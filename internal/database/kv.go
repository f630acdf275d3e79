package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ErrNotFound is returned by Get when no blob is stored under the key.
var ErrNotFound = errors.New("key not found")

// BlobStore persists opaque values under string keys.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// KeyInfo describes a stored blob without its contents.
type KeyInfo struct {
	Key       string `db:"key"`
	Size      int    `db:"size"`
	UpdatedAt string `db:"updated_at"`
}

// Get returns the blob stored under key.
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	query, args, err := sq.Select("value").From("kv").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var value []byte
	if err := db.conn.GetContext(ctx, &value, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous blob.
func (db *DB) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	query, args, err := sq.Insert("kv").
		Columns("key", "value", "updated_at").
		Values(key, value, time.Now().UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes the blob under key. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	query, args, err := sq.Delete("kv").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys in alphabetical order.
func (db *DB) Keys(ctx context.Context) ([]KeyInfo, error) {
	query, args, err := sq.Select("key", "length(value) AS size", "updated_at").
		From("kv").
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var keys []KeyInfo
	if err := db.conn.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return keys, nil
}

// Memory is an in-process BlobStore.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys lists stored keys in alphabetical order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadJSON decodes the blob under key into v. ErrNotFound is returned as is.
func LoadJSON(ctx context.Context, s BlobStore, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, s BlobStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}
