package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signetlabs/signet/pkg/api"
)

// RedisTokenStore is a TokenStore backed by Redis. It uses a simple key
// structure:
//
//	<prefix>tok:<id>           => gob-encoded redisTokenPayload (immutable)
//	<prefix>tok:used:<id>      => "1" once the token has been consumed
//	<prefix>tok:val:<value>    => token id for lookup by opaque value
//	<prefix>tok:rcp:<rid>      => SET of token ids for a recipient
//
// The used flag lives in its own key so consumption can be a single SETNX:
// exactly one of two concurrent ConsumeToken calls wins, without a Lua
// script or transaction.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

var _ TokenStore = (*RedisTokenStore)(nil)

type redisTokenPayload struct {
	ID          string
	RecipientID string
	Value       string
	ExpiresAtNs int64
	CreatedAtNs int64
}

// NewRedisTokenStore creates a RedisTokenStore.
// prefix is optional but recommended (e.g. "signet:").
func NewRedisTokenStore(client *redis.Client, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "signet:"
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

func (s *RedisTokenStore) keyToken(id string) string      { return s.prefix + "tok:" + id }
func (s *RedisTokenStore) keyUsed(id string) string       { return s.prefix + "tok:used:" + id }
func (s *RedisTokenStore) keyValue(value string) string   { return s.prefix + "tok:val:" + value }
func (s *RedisTokenStore) keyRecipient(rid string) string { return s.prefix + "tok:rcp:" + rid }

func encodeTokenPayload(p redisTokenPayload) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTokenPayload(data []byte) (redisTokenPayload, error) {
	var p redisTokenPayload
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p)
	return p, err
}

func (s *RedisTokenStore) SaveToken(ctx context.Context, t *api.SigningToken) error {
	payload, err := encodeTokenPayload(redisTokenPayload{
		ID:          t.ID,
		RecipientID: t.RecipientID,
		Value:       t.Value,
		ExpiresAtNs: t.ExpiresAt.UnixNano(),
		CreatedAtNs: t.CreatedAt.UnixNano(),
	})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyToken(t.ID), payload, 0)
	pipe.Set(ctx, s.keyValue(t.Value), t.ID, 0)
	pipe.SAdd(ctx, s.keyRecipient(t.RecipientID), t.ID)
	if t.Used {
		pipe.Set(ctx, s.keyUsed(t.ID), "1", 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// loadToken assembles an api.SigningToken from its payload and used marker.
func (s *RedisTokenStore) loadToken(ctx context.Context, id string) (*api.SigningToken, error) {
	data, err := s.client.Get(ctx, s.keyToken(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	p, err := decodeTokenPayload(data)
	if err != nil {
		return nil, err
	}

	used, err := s.client.Exists(ctx, s.keyUsed(id)).Result()
	if err != nil {
		return nil, err
	}

	return &api.SigningToken{
		ID:          p.ID,
		RecipientID: p.RecipientID,
		Value:       p.Value,
		ExpiresAt:   time.Unix(0, p.ExpiresAtNs),
		CreatedAt:   time.Unix(0, p.CreatedAtNs),
		Used:        used > 0,
	}, nil
}

func (s *RedisTokenStore) ActiveToken(ctx context.Context, recipientID string, now time.Time) (*api.SigningToken, error) {
	ids, err := s.client.SMembers(ctx, s.keyRecipient(recipientID)).Result()
	if err != nil {
		return nil, err
	}

	var best *api.SigningToken
	for _, id := range ids {
		t, err := s.loadToken(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				continue
			}
			return nil, err
		}
		if !t.Active(now) {
			continue
		}
		if best == nil || t.ExpiresAt.After(best.ExpiresAt) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrTokenNotFound
	}
	return best, nil
}

func (s *RedisTokenStore) TokenByValue(ctx context.Context, value string) (*api.SigningToken, error) {
	id, err := s.client.Get(ctx, s.keyValue(value)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return s.loadToken(ctx, id)
}

func (s *RedisTokenStore) RetireActiveTokens(ctx context.Context, recipientID string) error {
	ids, err := s.client.SMembers(ctx, s.keyRecipient(recipientID)).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, s.keyUsed(id), "1", 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ConsumeToken marks the token used with a single SETNX: the first caller
// creates the marker and wins; every later caller sees ErrTokenSpent.
func (s *RedisTokenStore) ConsumeToken(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.keyToken(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrTokenNotFound
	}

	ok, err := s.client.SetNX(ctx, s.keyUsed(id), "1", 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenSpent
	}
	return nil
}

func (s *RedisTokenStore) DeleteByRecipients(ctx context.Context, recipientIDs []string) error {
	for _, rid := range recipientIDs {
		ids, err := s.client.SMembers(ctx, s.keyRecipient(rid)).Result()
		if err != nil {
			return err
		}

		pipe := s.client.Pipeline()
		for _, id := range ids {
			t, err := s.loadToken(ctx, id)
			if err == nil {
				pipe.Del(ctx, s.keyValue(t.Value))
			}
			pipe.Del(ctx, s.keyToken(id), s.keyUsed(id))
		}
		pipe.Del(ctx, s.keyRecipient(rid))
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
