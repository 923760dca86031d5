package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/splitkaro/billpipe/internal/models"
)

// DefaultConversationTTL bounds how long a conversation state lives in Redis
// before the key expires on its own.
const DefaultConversationTTL = 48 * time.Hour

const conversationKeyPrefix = "billpipe:conv:"

// RedisStore overlays a relational store with a Redis cache for conversation
// state, which is read and written on every inbound message. All other
// entities go straight to the wrapped store.
type RedisStore struct {
	client *redis.Client
	inner  Store
	ttl    time.Duration
}

// NewRedisStore connects to Redis at the given URL and wraps the inner store.
func NewRedisStore(inner Store, opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisStore invoked", "URL_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("RedisStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("Failed to parse Redis URL", "error", err)
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, inner: inner, ttl: DefaultConversationTTL}, nil
}

func conversationKey(userID, sessionID string) string {
	return conversationKeyPrefix + userID + ":" + sessionID
}

// GetConversationState reads from Redis first and falls back to the inner
// store on a cache miss, repopulating the cache when it hits.
func (s *RedisStore) GetConversationState(userID, sessionID string) (*models.ConversationState, error) {
	ctx := context.Background()
	raw, err := s.client.Get(ctx, conversationKey(userID, sessionID)).Result()
	if err == nil {
		var state models.ConversationState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			slog.Error("RedisStore failed to unmarshal cached state", "error", err, "user_id", userID)
			return nil, fmt.Errorf("failed to unmarshal cached conversation state: %w", err)
		}
		return &state, nil
	}
	if err != redis.Nil {
		slog.Error("RedisStore GetConversationState failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to read conversation state from redis: %w", err)
	}

	state, err := s.inner.GetConversationState(userID, sessionID)
	if err != nil || state == nil {
		return state, err
	}
	if err := s.cacheState(ctx, *state); err != nil {
		slog.Warn("RedisStore failed to repopulate cache", "error", err, "user_id", userID)
	}
	return state, nil
}

// SaveConversationState writes through to the inner store and then to Redis.
func (s *RedisStore) SaveConversationState(state models.ConversationState) error {
	if err := s.inner.SaveConversationState(state); err != nil {
		return err
	}
	if err := s.cacheState(context.Background(), state); err != nil {
		slog.Warn("RedisStore failed to cache state after save", "error", err, "user_id", state.UserID)
	}
	return nil
}

func (s *RedisStore) cacheState(ctx context.Context, state models.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	return s.client.Set(ctx, conversationKey(state.UserID, state.SessionID), data, s.ttl).Err()
}

func (s *RedisStore) DeleteConversationState(userID, sessionID string) error {
	if err := s.client.Del(context.Background(), conversationKey(userID, sessionID)).Err(); err != nil {
		slog.Warn("RedisStore failed to evict cached state", "error", err, "user_id", userID)
	}
	return s.inner.DeleteConversationState(userID, sessionID)
}

// DeleteExpiredConversationStates delegates to the inner store. Redis keys
// expire on their own via TTL, so stale cache entries need no sweep.
func (s *RedisStore) DeleteExpiredConversationStates(cutoff time.Time) (int, error) {
	return s.inner.DeleteExpiredConversationStates(cutoff)
}

func (s *RedisStore) SaveContact(contact models.Contact) error {
	return s.inner.SaveContact(contact)
}

func (s *RedisStore) GetContactsByOwner(ownerID string) ([]models.Contact, error) {
	return s.inner.GetContactsByOwner(ownerID)
}

func (s *RedisStore) FindContactByPhone(ownerID, phoneNumber string) (*models.Contact, error) {
	return s.inner.FindContactByPhone(ownerID, phoneNumber)
}

func (s *RedisStore) SaveBill(bill models.Bill) error {
	return s.inner.SaveBill(bill)
}

func (s *RedisStore) GetBill(billID string) (*models.Bill, error) {
	return s.inner.GetBill(billID)
}

func (s *RedisStore) UpdateBillStatus(billID string, status models.BillStatus) error {
	return s.inner.UpdateBillStatus(billID, status)
}

func (s *RedisStore) SavePaymentRequest(req models.PaymentRequest) error {
	return s.inner.SavePaymentRequest(req)
}

func (s *RedisStore) GetPaymentRequestsByBill(billID string) ([]models.PaymentRequest, error) {
	return s.inner.GetPaymentRequestsByBill(billID)
}

func (s *RedisStore) UpdatePaymentRequestStatus(requestID string, status models.PaymentStatus, paidAt *time.Time) error {
	return s.inner.UpdatePaymentRequestStatus(requestID, status, paidAt)
}

func (s *RedisStore) FindPendingRequestsByPhone(phoneNumber string) ([]models.PaymentRequest, error) {
	return s.inner.FindPendingRequestsByPhone(phoneNumber)
}

func (s *RedisStore) AddReceipt(receipt models.Receipt) error {
	return s.inner.AddReceipt(receipt)
}

// Close closes the Redis client and the wrapped store.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		s.inner.Close()
		return err
	}
	return s.inner.Close()
}
