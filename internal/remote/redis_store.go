// Package remote implements the shared document store that every check-in
// station syncs through.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// RedisStore keeps the "guests" collection as a hash of id -> JSON document
// and "config/mainSettings" as a hash of settings fields. Every write is
// announced on a change channel so subscribers can reload.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL. prefix namespaces every key, so one
// Redis can serve several events.
func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, prefix), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "checkin"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) guestsKey() string   { return s.prefix + ":guests" }
func (s *RedisStore) settingsKey() string { return s.prefix + ":config:mainSettings" }
func (s *RedisStore) channel() string     { return s.prefix + ":changes" }

// PutGuest overwrites the guest's full document.
func (s *RedisStore) PutGuest(ctx context.Context, g models.Guest) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal guest: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.guestsKey(), g.ID, data)
		pipe.Publish(ctx, s.channel(), "guest:"+g.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put guest %s: %w", g.ID, err)
	}
	return nil
}

// DeleteGuest removes a guest document. Deleting a missing id is not an error.
func (s *RedisStore) DeleteGuest(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.guestsKey(), id)
		pipe.Publish(ctx, s.channel(), "delete:"+id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete guest %s: %w", id, err)
	}
	return nil
}

// PatchSettings writes only the given settings fields.
func (s *RedisStore) PatchSettings(ctx context.Context, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.settingsKey(), fields)
		pipe.Publish(ctx, s.channel(), "settings")
		return nil
	})
	if err != nil {
		return fmt.Errorf("patch settings: %w", err)
	}
	return nil
}

// Snapshot reads the full remote state. Guests are ordered by id so every
// station sees the same order. SettingsPatch holds only the settings fields
// present remotely and is nil until someone has written one.
func (s *RedisStore) Snapshot(ctx context.Context) (models.Snapshot, error) {
	docs, err := s.client.HGetAll(ctx, s.guestsKey()).Result()
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("load guests: %w", err)
	}

	snap := models.Snapshot{Guests: make([]models.Guest, 0, len(docs))}
	for id, doc := range docs {
		var g models.Guest
		if err := json.Unmarshal([]byte(doc), &g); err != nil {
			return models.Snapshot{}, fmt.Errorf("unmarshal guest %s: %w", id, err)
		}
		snap.Guests = append(snap.Guests, g)
	}
	slices.SortFunc(snap.Guests, func(a, b models.Guest) int {
		return strings.Compare(a.ID, b.ID)
	})

	fields, err := s.client.HGetAll(ctx, s.settingsKey()).Result()
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	if len(fields) > 0 {
		patch, err := parseSettings(fields)
		if err != nil {
			return models.Snapshot{}, err
		}
		snap.SettingsPatch = &patch
	}
	return snap, nil
}

// Subscribe delivers a snapshot immediately and again after every change
// notification, until ctx is done.
func (s *RedisStore) Subscribe(ctx context.Context, onSnapshot func(models.Snapshot)) error {
	ps := s.client.Subscribe(ctx, s.channel())
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	onSnapshot(snap)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			drain(ch)

			snap, err := s.Snapshot(ctx)
			if err != nil {
				return err
			}
			onSnapshot(snap)
		}
	}
}

// drain discards queued notifications; one reload covers them all.
func drain(ch <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseSettings(fields map[string]string) (models.SettingsPatch, error) {
	var p models.SettingsPatch
	if name, ok := fields["eventName"]; ok {
		p.EventName = &name
	}

	for name, dst := range map[string]**int{
		"currentCheckInRound": &p.CurrentCheckInRound,
		"lotteryRoundCounter": &p.LotteryRoundCounter,
		"totalRounds":         &p.TotalRounds,
	} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return models.SettingsPatch{}, fmt.Errorf("settings field %s=%q: %w", name, raw, err)
		}
		*dst = &v
	}
	return p, nil
}
