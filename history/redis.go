package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each history as a Redis list of JSON messages and indexes
// the histories of a configuration in a sorted set scored by creation time.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already connected client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func indexKey(confUID string) string {
	return "history:" + confUID + ":index"
}

func messagesKey(confUID, historyUID string) string {
	return "history:" + confUID + ":" + historyUID
}

func (s *RedisStore) exists(ctx context.Context, confUID, historyUID string) error {
	_, err := s.client.ZScore(ctx, indexKey(confUID), historyUID).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup history %s: %w", historyUID, err)
	}
	return nil
}

// Create allocates a new history
func (s *RedisStore) Create(ctx context.Context, confUID string) (string, error) {
	uid := uuid.New().String()
	err := s.client.ZAdd(ctx, indexKey(confUID), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: uid,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("create history: %w", err)
	}
	return uid, nil
}

// Get returns all messages of a history
func (s *RedisStore) Get(ctx context.Context, confUID, historyUID string) ([]Message, error) {
	if err := s.exists(ctx, confUID, historyUID); err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, messagesKey(confUID, historyUID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", historyUID, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := sonic.UnmarshalString(item, &msg); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", historyUID, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Append adds messages to an existing history
func (s *RedisStore) Append(ctx context.Context, confUID, historyUID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := s.exists(ctx, confUID, historyUID); err != nil {
		return err
	}

	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		encoded, err := sonic.MarshalString(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, encoded)
	}

	if err := s.client.RPush(ctx, messagesKey(confUID, historyUID), values...).Err(); err != nil {
		return fmt.Errorf("append history %s: %w", historyUID, err)
	}
	return nil
}

// Delete removes a history and its messages
func (s *RedisStore) Delete(ctx context.Context, confUID, historyUID string) error {
	removed, err := s.client.ZRem(ctx, indexKey(confUID), historyUID).Result()
	if err != nil {
		return fmt.Errorf("delete history %s: %w", historyUID, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	if err := s.client.Del(ctx, messagesKey(confUID, historyUID)).Err(); err != nil {
		return fmt.Errorf("delete history %s messages: %w", historyUID, err)
	}
	return nil
}

// List returns summaries newest first
func (s *RedisStore) List(ctx context.Context, confUID string) ([]Summary, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, indexKey(confUID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list histories: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		uid, ok := entry.Member.(string)
		if !ok {
			continue
		}
		summary := Summary{
			UID:       uid,
			Timestamp: time.Unix(0, int64(entry.Score)),
		}

		latest, err := s.client.LIndex(ctx, messagesKey(confUID, uid), -1).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return nil, fmt.Errorf("read latest message of %s: %w", uid, err)
		default:
			var msg Message
			if err := sonic.UnmarshalString(latest, &msg); err == nil {
				summary.LatestMessage = &msg
				summary.Timestamp = msg.Timestamp
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
