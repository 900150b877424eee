// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package binding implements the Worker Binding Store: a thin Redis-backed
// record of which transcription worker address a session's affinity key is
// currently pinned to, so a forced rebind is visible to every gateway
// process sharing the Redis deployment, not just the one that observed the
// failure.
package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a binding survives an abandoned session; the
// Transcription Worker Client refreshes it at the start of every Transcribe
// call.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "streamgateway:affinity:"

// Store records and looks up the worker address bound to an affinity key.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// New builds a Store over any redis.Cmdable, which both *redis.Client and
// connectors.RedisConnector satisfy; tests substitute redismock's client.
func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb, ttl: DefaultTTL}
}

func key(affinityKey string) string {
	return keyPrefix + affinityKey
}

// Bind pins affinityKey to workerAddr, refreshing the TTL.
func (s *Store) Bind(ctx context.Context, affinityKey, workerAddr string) error {
	if err := s.rdb.Set(ctx, key(affinityKey), workerAddr, s.ttl).Err(); err != nil {
		return fmt.Errorf("bind %s: %w", affinityKey, err)
	}
	return nil
}

// Lookup returns the currently bound worker address, or "", false if none
// exists (first request for this affinity key, or the binding expired).
func (s *Store) Lookup(ctx context.Context, affinityKey string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key(affinityKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", affinityKey, err)
	}
	return val, true, nil
}

// Rebind clears the existing binding and pins affinityKey to newAddr. Used
// when the previously bound worker is unreachable (spec.md §4.5): the break
// is the caller's responsibility to count via
// metrics.WorkerAffinityBreaksTotal.
func (s *Store) Rebind(ctx context.Context, affinityKey, newAddr string) error {
	return s.Bind(ctx, affinityKey, newAddr)
}

// Release removes the binding entirely, called when a session closes.
func (s *Store) Release(ctx context.Context, affinityKey string) error {
	if err := s.rdb.Del(ctx, key(affinityKey)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", affinityKey, err)
	}
	return nil
}
