package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parkgate/internal/models"
)

const (
	keyPrefix     = "parking:sessions:"
	scanBatchSize = 100
)

// cachedSession is the wire form stored in redis. Timestamps travel as
// RFC3339 text and are parsed on the way out, never assumed typed.
type cachedSession struct {
	Plate           string `json:"plate"`
	UserID          int64  `json:"user_id"`
	AllottedMinutes int64  `json:"allotted_minutes"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	LastUpdate      string `json:"last_update"`
}

// Store keeps ACTIVE parking sessions in redis for quick access.
// It is the volatile half of the dual-store layout; the reconciliation
// engine drains it into postgres.
type Store struct {
	client *redis.Client
}

// NewStore returns redis-backed session store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) key(plate string) string {
	return keyPrefix + plate
}

// Save caches the session keyed by plate. Last write wins; the cache side
// carries no version counter.
func (s *Store) Save(ctx context.Context, session *models.Session) (*models.Session, error) {
	record := cachedSession{
		Plate:           session.Plate,
		UserID:          session.UserID,
		AllottedMinutes: session.AllottedMinutes,
		Status:          string(session.Status),
		CreatedAt:       session.CreatedAt.UTC().Format(time.RFC3339Nano),
		LastUpdate:      session.LastUpdate.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.key(session.Plate), data, 0).Err(); err != nil {
		return nil, err
	}
	return session, nil
}

// FindByPlate returns the cached session for a plate, or nil when absent.
func (s *Store) FindByPlate(ctx context.Context, plate string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, s.key(plate)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session, err := parseRecord(raw)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByStatus returns cached sessions matching status. The scan is a
// snapshot at call time with no ordering guarantee.
func (s *Store) FindByStatus(ctx context.Context, status models.Status) ([]models.Session, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	var matched []models.Session
	for _, session := range all {
		if session.Status == status {
			matched = append(matched, session)
		}
	}
	return matched, nil
}

// FindAll returns every cached session regardless of status.
func (s *Store) FindAll(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			// deleted between scan and get
			continue
		}
		if err != nil {
			return nil, err
		}
		session, err := parseRecord(raw)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Delete removes one plate. Deleting an absent plate is not an error.
func (s *Store) Delete(ctx context.Context, plate string) error {
	return s.client.Del(ctx, s.key(plate)).Err()
}

// DeleteAll removes the given plates in a single round trip. Absent plates
// are skipped silently.
func (s *Store) DeleteAll(ctx context.Context, plates []string) error {
	if len(plates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(plates))
	for _, plate := range plates {
		keys = append(keys, s.key(plate))
	}
	return s.client.Del(ctx, keys...).Err()
}

func parseRecord(raw string) (models.Session, error) {
	var record cachedSession
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return models.Session{}, fmt.Errorf("cache: decode session: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, record.CreatedAt)
	if err != nil {
		return models.Session{}, fmt.Errorf("cache: parse created_at: %w", err)
	}
	lastUpdate, err := time.Parse(time.RFC3339Nano, record.LastUpdate)
	if err != nil {
		return models.Session{}, fmt.Errorf("cache: parse last_update: %w", err)
	}
	return models.Session{
		Plate:           record.Plate,
		UserID:          record.UserID,
		AllottedMinutes: record.AllottedMinutes,
		Status:          models.Status(record.Status),
		CreatedAt:       createdAt,
		LastUpdate:      lastUpdate,
	}, nil
}
