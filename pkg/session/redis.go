// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "nestor:session:"

// RedisService implements Service on Redis. Each session is one JSON value
// under nestor:session:<id>, optionally expiring after TTL. Suited to
// multi-replica deployments where sessions must survive process restarts
// but not forever.
type RedisService struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisService creates a Redis-backed session store. A zero TTL keeps
// sessions until deleted.
func NewRedisService(rdb *redis.Client, ttl time.Duration) (*RedisService, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisService{
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Get retrieves a session by id.
func (r *RedisService) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.rdb.Get(ctx, redisKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Set stores the session as a full replacement, refreshing the TTL.
func (r *RedisService) Set(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	if err := r.rdb.Set(ctx, redisKey(session.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session %s: %w", session.ID, err)
	}
	return nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (r *RedisService) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// List scans all session keys, optionally filtered by flow id. Scanning is
// O(keys); intended for operator tooling, not hot paths.
func (r *RedisService) List(ctx context.Context, flowID string) ([]*Session, error) {
	var sessions []*Session
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.rdb.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read session key %s: %w", iter.Val(), err)
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("failed to decode session key %s: %w", iter.Val(), err)
		}
		if flowID != "" && sess.FlowID != flowID {
			continue
		}
		sessions = append(sessions, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the Redis client.
func (r *RedisService) Close() error {
	return r.rdb.Close()
}

// Ensure RedisService implements Service
var _ Service = (*RedisService)(nil)
