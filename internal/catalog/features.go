package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/enrichment/internal/model"
)

type featureKey struct {
	typ  model.EntityType
	id   string
	kind model.EnrichmentType
}

// MemoryFeatureStore keeps derived features in process memory
type MemoryFeatureStore struct {
	mu      sync.RWMutex
	records map[featureKey]*model.FeatureRecord
}

func NewMemoryFeatureStore() *MemoryFeatureStore {
	return &MemoryFeatureStore{records: make(map[featureKey]*model.FeatureRecord)}
}

func (s *MemoryFeatureStore) Put(_ context.Context, rec *model.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[featureKey{typ: rec.EntityType, id: rec.EntityID, kind: rec.Kind}] = &cp
	return nil
}

func (s *MemoryFeatureStore) Get(_ context.Context, entityType model.EntityType, id string, kind model.EnrichmentType) (*model.FeatureRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[featureKey{typ: entityType, id: id, kind: kind}]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// RedisFeatureStore keeps one hash per entity with a field per feature kind
type RedisFeatureStore struct {
	rdb *redis.Client
}

func NewRedisFeatureStore(rdb *redis.Client) *RedisFeatureStore {
	return &RedisFeatureStore{rdb: rdb}
}

func featuresKey(entityType model.EntityType, id string) string {
	return fmt.Sprintf("catalog:features:%s:%s", entityType, id)
}

func (s *RedisFeatureStore) Put(ctx context.Context, rec *model.FeatureRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal feature record: %w", err)
	}
	if err := s.rdb.HSet(ctx, featuresKey(rec.EntityType, rec.EntityID), string(rec.Kind), data).Err(); err != nil {
		return fmt.Errorf("failed to save feature record: %w", err)
	}
	return nil
}

func (s *RedisFeatureStore) Get(ctx context.Context, entityType model.EntityType, id string, kind model.EnrichmentType) (*model.FeatureRecord, bool, error) {
	data, err := s.rdb.HGet(ctx, featuresKey(entityType, id), string(kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load feature record: %w", err)
	}
	var rec model.FeatureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode feature record: %w", err)
	}
	return &rec, true, nil
}
