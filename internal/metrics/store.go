package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/rueidis"

	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/model"
)

// SnapshotStore persists the metrics aggregate as a single key/value record.
type SnapshotStore interface {
	// Load returns ok=false when no usable snapshot exists.
	Load(ctx context.Context) (m model.Metrics, ok bool, err error)
	Save(ctx context.Context, m model.Metrics) error
}

// FileSnapshotStore keeps the snapshot in a JSON file. A corrupt file is treated as absent.
type FileSnapshotStore struct {
	path   string
	logger *slog.Logger
}

// NewFileSnapshotStore returns a store backed by path.
func NewFileSnapshotStore(path string, lg *slog.Logger) *FileSnapshotStore {
	return &FileSnapshotStore{path: path, logger: logger.Or(lg)}
}

// Load implements SnapshotStore.
func (s *FileSnapshotStore) Load(_ context.Context) (model.Metrics, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Metrics{}, false, nil
	}
	if err != nil {
		return model.Metrics{}, false, fmt.Errorf("failed to read metrics snapshot: %w", err)
	}

	var m model.Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("ignoring corrupt metrics snapshot", slog.String("path", s.path), slog.String("error", err.Error()))
		return model.Metrics{}, false, nil
	}

	return m, true, nil
}

// Save writes the snapshot through a temp file and rename.
func (s *FileSnapshotStore) Save(_ context.Context, m model.Metrics) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create metrics snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metrics snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace metrics snapshot: %w", err)
	}

	return nil
}

// RedisSnapshotStore keeps the snapshot as a JSON string under one Redis key.
type RedisSnapshotStore struct {
	client rueidis.Client
	key    string
	logger *slog.Logger
}

// NewRedisSnapshotStore returns a store writing to key.
func NewRedisSnapshotStore(client rueidis.Client, key string, lg *slog.Logger) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, key: key, logger: logger.Or(lg)}
}

// Load implements SnapshotStore.
func (s *RedisSnapshotStore) Load(ctx context.Context) (model.Metrics, bool, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.key).Build()).ToString()
	if rueidis.IsRedisNil(err) {
		return model.Metrics{}, false, nil
	}
	if err != nil {
		return model.Metrics{}, false, fmt.Errorf("failed to get metrics snapshot: %w", err)
	}

	var m model.Metrics
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		s.logger.Warn("ignoring corrupt metrics snapshot", slog.String("key", s.key), slog.String("error", err.Error()))
		return model.Metrics{}, false, nil
	}

	return m, true, nil
}

// Save implements SnapshotStore.
func (s *RedisSnapshotStore) Save(ctx context.Context, m model.Metrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics snapshot: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to set metrics snapshot: %w", err)
	}

	return nil
}

// RestoreFrom loads a snapshot into r. Absence and corruption leave r untouched.
func RestoreFrom(ctx context.Context, store SnapshotStore, r *Recorder) (bool, error) {
	m, ok, err := store.Load(ctx)
	if err != nil || !ok {
		return false, err
	}

	r.Restore(m)

	return true, nil
}
