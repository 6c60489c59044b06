package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maneesh/scatterstore/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CacheTTL is the time-to-live for cached file metadata (5 minutes)
	CacheTTL = 5 * time.Minute
)

// NewRedisClient connects to Redis and pings it
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

// CachedStore puts a Redis read-through cache in front of GetFile. Chunk
// lists are always read from the underlying store. Cache failures are
// logged and never fail the call.
type CachedStore struct {
	Store
	client *redis.Client
	log    logrus.FieldLogger
}

// NewCachedStore wraps inner; Close closes both inner and client.
func NewCachedStore(inner Store, client *redis.Client, log logrus.FieldLogger) *CachedStore {
	return &CachedStore{Store: inner, client: client, log: log}
}

func cacheKey(fileID string) string {
	return fmt.Sprintf("file:%s", fileID)
}

func (cs *CachedStore) GetFile(ctx context.Context, fileID string) (*models.FileRecord, error) {
	file, err := cs.getCached(ctx, fileID)
	if err != nil {
		cs.log.WithError(err).WithField("file_id", fileID).Warn("Cache lookup failed")
	}
	if file != nil {
		return file, nil
	}

	file, err = cs.Store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if err := cs.setCached(ctx, file); err != nil {
		cs.log.WithError(err).WithField("file_id", fileID).Warn("Failed to cache file metadata")
	}
	return file, nil
}

func (cs *CachedStore) DeleteFile(ctx context.Context, fileID string) error {
	err := cs.Store.DeleteFile(ctx, fileID)
	cs.invalidate(ctx, fileID)
	return err
}

func (cs *CachedStore) TouchFile(ctx context.Context, fileID string, at time.Time) error {
	err := cs.Store.TouchFile(ctx, fileID, at)
	cs.invalidate(ctx, fileID)
	return err
}

func (cs *CachedStore) Close() error {
	storeErr := cs.Store.Close()
	if err := cs.client.Close(); err != nil && storeErr == nil {
		return err
	}
	return storeErr
}

// getCached returns nil, nil on a cache miss
func (cs *CachedStore) getCached(ctx context.Context, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.get_file_metadata",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	data, err := cs.client.Get(ctx, cacheKey(fileID)).Result()
	if err == redis.Nil {
		span.SetAttributes(
			attribute.Bool("cache_hit", false),
			attribute.String("cache_status", "miss"),
		)
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var file models.FileRecord
	if err := json.Unmarshal([]byte(data), &file); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_hit", true),
		attribute.String("cache_status", "hit"),
	)
	return &file, nil
}

func (cs *CachedStore) setCached(ctx context.Context, file *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "redis.set_file_metadata",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.String("file_name", file.Name),
		),
	)
	defer span.End()

	data, err := json.Marshal(file)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal file: %w", err)
	}

	if err := cs.client.Set(ctx, cacheKey(file.ID), data, CacheTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_set_success", true),
		attribute.Int64("ttl_seconds", int64(CacheTTL.Seconds())),
	)
	return nil
}

func (cs *CachedStore) invalidate(ctx context.Context, fileID string) {
	ctx, span := tracer.Start(ctx, "redis.invalidate_file_metadata",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	if err := cs.client.Del(ctx, cacheKey(fileID)).Err(); err != nil {
		span.RecordError(err)
		cs.log.WithError(err).WithField("file_id", fileID).Warn("Failed to invalidate cached file metadata")
	}
}
