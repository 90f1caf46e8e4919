package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DraftStore keeps in-progress enrollment drafts in Redis, one hash per
// draft token with one field per form section. Sections are stored as
// raw JSON with last-write-wins semantics and no validation; the
// lifecycle engine validates at submission time. The hash TTL refreshes
// on every write so an active draft never expires mid-form.
type DraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDraftStore constructs the store.
func NewDraftStore(client *redis.Client, ttl time.Duration) *DraftStore {
	return &DraftStore{client: client, ttl: ttl}
}

func draftKey(token string) string {
	return "draft:" + token
}

// SaveSection stores one section payload under the draft token.
func (s *DraftStore) SaveSection(ctx context.Context, token, section string, payload json.RawMessage) error {
	key := draftKey(token)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, section, []byte(payload))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save draft section %s: %w", section, err)
	}
	return nil
}

// GetSection returns one section payload, or ErrCacheMiss when absent.
func (s *DraftStore) GetSection(ctx context.Context, token, section string) (json.RawMessage, error) {
	raw, err := s.client.HGet(ctx, draftKey(token), section).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get draft section %s: %w", section, err)
	}
	return json.RawMessage(raw), nil
}

// GetAll returns every stored section of a draft keyed by section name.
// A token with no stored sections yields an empty map.
func (s *DraftStore) GetAll(ctx context.Context, token string) (map[string]json.RawMessage, error) {
	values, err := s.client.HGetAll(ctx, draftKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	sections := make(map[string]json.RawMessage, len(values))
	for name, raw := range values {
		sections[name] = json.RawMessage(raw)
	}
	return sections, nil
}

// Clear removes every section of the draft.
func (s *DraftStore) Clear(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, draftKey(token)).Err(); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}
