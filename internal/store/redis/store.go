package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/swarmdns/internal/domain"
)

// ErrEntryNotFound is returned by GetEntry for unknown ids.
var ErrEntryNotFound = errors.New("catalog entry not found")

// Store mirrors the catalog into Redis. Entries have no TTL: the mirror is
// reset at startup and kept in sync by write-through afterwards. The read
// side only serves drift checks.
type Store struct {
	client redis.UniversalClient
	keys   Keys
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		client: client,
		keys:   NewKeys(prefix),
	}
}

// SaveEntry stores an entry and adds it to the id set.
func (s *Store) SaveEntry(ctx context.Context, entry *domain.CatalogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.Entry(entry.ID), data, 0)
	pipe.SAdd(ctx, s.keys.All(), entry.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save catalog entry: %w", err)
	}
	return nil
}

// GetEntry retrieves one entry by id.
func (s *Store) GetEntry(ctx context.Context, id string) (*domain.CatalogEntry, error) {
	data, err := s.client.Get(ctx, s.keys.Entry(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		return nil, fmt.Errorf("failed to get catalog entry: %w", err)
	}

	var entry domain.CatalogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog entry: %w", err)
	}
	return &entry, nil
}

// GetAllEntries returns every mirrored entry. Entries that vanished between
// the set read and the get are skipped.
func (s *Store) GetAllEntries(ctx context.Context) ([]*domain.CatalogEntry, error) {
	ids, err := s.client.SMembers(ctx, s.keys.All()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog ids: %w", err)
	}

	entries := make([]*domain.CatalogEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.GetEntry(ctx, id)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Count returns the number of readable mirrored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	entries, err := s.GetAllEntries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// DeleteEntry removes an entry and its id from the set.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys.Entry(id))
	pipe.SRem(ctx, s.keys.All(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete catalog entry: %w", err)
	}
	return nil
}

// Reset drops every mirrored entry.
func (s *Store) Reset(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.keys.All()).Result()
	if err != nil {
		return fmt.Errorf("failed to get catalog ids: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.keys.Entry(id))
	}
	keys = append(keys, s.keys.All())

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset catalog mirror: %w", err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
