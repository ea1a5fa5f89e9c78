package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"diseaseindex/index"
)

// Redis serves index snapshots as JSON values. Each run writes under its
// own namespace, then the current pointer is switched to it.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedis connects and pings addr. ttl of zero keeps run keys forever.
func OpenRedis(ctx context.Context, addr, prefix string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(client, prefix, ttl), nil
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Close() error { return r.client.Close() }

func CurrentKey(prefix string) string { return prefix + ":current" }

func SymptomKey(prefix, run, symptom string) string {
	return prefix + ":" + run + ":symptom:" + symptom
}

func DiseaseKey(prefix, run, disease string) string {
	return prefix + ":" + run + ":disease:" + disease
}

const redisBatch = 1000

// Publish writes every index entry under the run namespace in pipelined
// batches and only then moves the current pointer.
func (r *Redis) Publish(ctx context.Context, s Snapshot) error {
	run := s.RunID.String()

	pipe := r.client.Pipeline()
	queued := 0
	flush := func() error {
		if queued == 0 {
			return nil
		}
		_, err := pipe.Exec(ctx)
		queued = 0
		if err != nil {
			return fmt.Errorf("redis pipeline: %w", err)
		}
		return nil
	}
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		pipe.Set(ctx, key, b, r.ttl)
		queued++
		if queued >= redisBatch {
			return flush()
		}
		return nil
	}

	for _, sym := range sortedKeys(s.Symptoms) {
		if err := set(SymptomKey(r.prefix, run, sym), s.Symptoms[sym]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(s.Diseases) {
		if err := set(DiseaseKey(r.prefix, run, name), s.Diseases[name]); err != nil {
			return err
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := r.client.Set(ctx, CurrentKey(r.prefix), run, 0).Err(); err != nil {
		return fmt.Errorf("redis set current: %w", err)
	}
	return nil
}

func (r *Redis) current(ctx context.Context) (string, error) {
	run, err := r.client.Get(ctx, CurrentKey(r.prefix)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoRun
	}
	if err != nil {
		return "", fmt.Errorf("redis get current: %w", err)
	}
	return run, nil
}

// Symptom returns the current snapshot's entries for symptom. A symptom
// absent from the snapshot yields nil.
func (r *Redis) Symptom(ctx context.Context, symptom string) ([]index.DiseaseInfo, error) {
	run, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	var out []index.DiseaseInfo
	if _, err := r.getJSON(ctx, SymptomKey(r.prefix, run, symptom), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Disease returns the current snapshot's entry for disease.
func (r *Redis) Disease(ctx context.Context, disease string) (index.DiseaseEntry, bool, error) {
	var e index.DiseaseEntry
	run, err := r.current(ctx)
	if err != nil {
		return e, false, err
	}
	ok, err := r.getJSON(ctx, DiseaseKey(r.prefix, run, disease), &e)
	return e, ok, err
}

func (r *Redis) getJSON(ctx context.Context, key string, v any) (bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
