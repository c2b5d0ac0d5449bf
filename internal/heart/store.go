package heart

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the last-beat timestamp so a restarted process can still
// observe recent activity.
type Store interface {
	// Write records t as the most recent activity time.
	Write(ctx context.Context, t time.Time) error
	// Read returns the persisted activity time, or the zero time when
	// nothing has been persisted yet.
	Read(ctx context.Context) (time.Time, error)
}

// FileStore persists the timestamp as unix milliseconds in a single file.
type FileStore struct {
	Path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Write(_ context.Context, t time.Time) error {
	data := strconv.FormatInt(t.UnixMilli(), 10)
	if err := os.WriteFile(s.Path, []byte(data), 0o600); err != nil {
		return fmt.Errorf("write heartbeat file: %w", err)
	}
	return nil
}

func (s *FileStore) Read(_ context.Context) (time.Time, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read heartbeat file: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat file: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// RedisStore persists the timestamp under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a Redis-backed store writing to key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Write(ctx context.Context, t time.Time) error {
	if err := s.client.Set(ctx, s.key, t.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("write heartbeat key: %w", err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context) (time.Time, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read heartbeat key: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat key: %w", err)
	}
	return time.UnixMilli(ms), nil
}
