package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitewatch/monitor/internal/protocol"
)

const (
	// FeedKey is the Redis list of alarm IDs, newest first.
	FeedKey = "sitewatch:alarms"

	// AlarmPrefix is the Redis key prefix for per-alarm hashes.
	AlarmPrefix = "sitewatch:alarm:"

	// AlarmTTL bounds how long an alarm hash outlives its feed entry.
	AlarmTTL = 24 * time.Hour
)

// record is the Redis hash layout of one alarm.
type record struct {
	ID             string `redis:"id"`
	SiteID         string `redis:"site_id"`
	Severity       string `redis:"severity"`
	Message        string `redis:"message"`
	Status         string `redis:"status"`
	Timestamp      string `redis:"timestamp"`       // RFC 3339
	AcknowledgedAt string `redis:"acknowledged_at"` // empty if not acknowledged
}

func toRecord(a protocol.Alarm) map[string]interface{} {
	ack := ""
	if a.AcknowledgedAt != nil {
		ack = a.AcknowledgedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"id":              a.ID,
		"site_id":         a.SiteID,
		"severity":        string(a.Severity),
		"message":         a.Message,
		"status":          string(a.Status),
		"timestamp":       a.Timestamp.UTC().Format(time.RFC3339Nano),
		"acknowledged_at": ack,
	}
}

func (r record) alarm() (protocol.Alarm, error) {
	a := protocol.Alarm{
		ID:       r.ID,
		SiteID:   r.SiteID,
		Severity: protocol.Severity(r.Severity),
		Message:  r.Message,
		Status:   protocol.AlarmStatus(r.Status),
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return a, fmt.Errorf("alarm: bad timestamp for %s: %w", r.ID, err)
	}
	a.Timestamp = ts
	if r.AcknowledgedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, r.AcknowledgedAt)
		if err != nil {
			return a, fmt.Errorf("alarm: bad acknowledged_at for %s: %w", r.ID, err)
		}
		a.AcknowledgedAt = &at
	}
	return a, nil
}

// Store keeps a shared alarm feed in Redis so several dashboard processes
// see the same history.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a Store backed by rdb.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:                  addr,
		ContextTimeoutEnabled: true,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("alarm: redis connection failed: %w", err)
	}
	return NewStore(rdb), nil
}

// Push records a at the head of the feed and trims it to MaxFeedAlarms.
// An alarm already in the feed moves to the head.
func (s *Store) Push(ctx context.Context, a protocol.Alarm) error {
	if a.ID == "" {
		return errors.New("alarm: missing id")
	}
	key := AlarmPrefix + a.ID

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, toRecord(a))
	pipe.Expire(ctx, key, AlarmTTL)
	pipe.LRem(ctx, FeedKey, 0, a.ID)
	pipe.LPush(ctx, FeedKey, a.ID)
	pipe.LTrim(ctx, FeedKey, 0, MaxFeedAlarms-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("alarm: push %s: %w", a.ID, err)
	}
	return nil
}

// Update overwrites a stored alarm in place. It reports false when the alarm
// is not stored.
func (s *Store) Update(ctx context.Context, a protocol.Alarm) (bool, error) {
	key := AlarmPrefix + a.ID
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("alarm: update %s: %w", a.ID, err)
	}
	if n == 0 {
		return false, nil
	}
	if err := s.rdb.HSet(ctx, key, toRecord(a)).Err(); err != nil {
		return false, fmt.Errorf("alarm: update %s: %w", a.ID, err)
	}
	return true, nil
}

// Recent returns up to n stored alarms, newest first. Entries whose hash
// has expired are skipped.
func (s *Store) Recent(ctx context.Context, n int) ([]protocol.Alarm, error) {
	if n <= 0 || n > MaxFeedAlarms {
		n = MaxFeedAlarms
	}
	ids, err := s.rdb.LRange(ctx, FeedKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("alarm: list feed: %w", err)
	}
	if len(ids) == 0 {
		return []protocol.Alarm{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, AlarmPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("alarm: load feed: %w", err)
	}

	result := make([]protocol.Alarm, 0, len(ids))
	for _, cmd := range cmds {
		var r record
		if err := cmd.Scan(&r); err != nil {
			return nil, fmt.Errorf("alarm: scan: %w", err)
		}
		if r.ID == "" {
			continue // expired
		}
		a, err := r.alarm()
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
