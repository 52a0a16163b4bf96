package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/gridshield/backend/internal/automation"
)

const (
	quarantineKey = "gridshield:containment:quarantine"
	blocksKey     = "gridshield:containment:blocks"
)

// RedisMirror replicates the containment sets to Redis so quarantines and
// traffic blocks survive process restarts and are visible to siblings.
type RedisMirror struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisMirror(addr, password string, db int, log *slog.Logger) *RedisMirror {
	return &RedisMirror{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		log: log,
	}
}

func (m *RedisMirror) Close() error { return m.client.Close() }

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) MirrorQuarantine(ctx context.Context, entry automation.QuarantineEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("quarantine marshal: %w", err)
	}
	return m.client.HSet(ctx, quarantineKey, entry.DeviceID, body).Err()
}

func (m *RedisMirror) MirrorRelease(ctx context.Context, deviceID string) error {
	return m.client.HDel(ctx, quarantineKey, deviceID).Err()
}

func (m *RedisMirror) MirrorBlock(ctx context.Context, block automation.TrafficBlock) error {
	body, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	return m.client.HSet(ctx, blocksKey, block.Key(), body).Err()
}

func (m *RedisMirror) MirrorUnblock(ctx context.Context, key string) error {
	return m.client.HDel(ctx, blocksKey, key).Err()
}

// LoadQuarantines returns the mirrored quarantine set, used to reseed the
// in-memory actuators at startup.
func (m *RedisMirror) LoadQuarantines(ctx context.Context) ([]automation.QuarantineEntry, error) {
	fields, err := m.client.HGetAll(ctx, quarantineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("quarantine load: %w", err)
	}
	entries := make([]automation.QuarantineEntry, 0, len(fields))
	for device, body := range fields {
		var entry automation.QuarantineEntry
		if err := json.Unmarshal([]byte(body), &entry); err != nil {
			m.log.Error("mirrored quarantine entry unreadable", "device_id", device, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LoadBlocks returns the mirrored traffic-block set.
func (m *RedisMirror) LoadBlocks(ctx context.Context) ([]automation.TrafficBlock, error) {
	fields, err := m.client.HGetAll(ctx, blocksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("block load: %w", err)
	}
	blocks := make([]automation.TrafficBlock, 0, len(fields))
	for key, body := range fields {
		var block automation.TrafficBlock
		if err := json.Unmarshal([]byte(body), &block); err != nil {
			m.log.Error("mirrored block entry unreadable", "key", key, "error", err)
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
