package hotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// MaxHistoryEntries 热历史上限 N_hist
const MaxHistoryEntries = 20

// SessionStore TTL 受限的会话热存储
// 键: session:<id> (JSON 序列化会话), history:<id> (有界对话历史列表)
type SessionStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	opTimeout  time.Duration
}

// NewSessionStore 创建会话热存储
func NewSessionStore(client *redis.Client, defaultTTL, opTimeout time.Duration) *SessionStore {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &SessionStore{
		client:     client,
		defaultTTL: defaultTTL,
		opTimeout:  opTimeout,
	}
}

func sessionKey(id string) string {
	return "session:" + id
}

func historyKey(id string) string {
	return "history:" + id
}

// GetSession 读取会话, 不存在或已过期返回 NotFound
func (s *SessionStore) GetSession(ctx context.Context, id string) (*entity.Session, error) {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewNotFoundError("session not in hot store")
		}
		return nil, apperrors.NewTransportError("hot store get failed", err)
	}

	var session entity.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to decode hot session", err)
	}
	if session.Context == nil {
		session.Context = make(map[string]interface{})
	}
	return &session, nil
}

// SaveSession SETEX 写入会话快照, TTL 取会话自带值或默认值
func (s *SessionStore) SaveSession(ctx context.Context, session *entity.Session) error {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	raw, err := json.Marshal(session)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("failed to encode session", err)
	}

	ttl := session.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	if err := s.client.SetEx(ctx, sessionKey(session.ID), raw, ttl).Err(); err != nil {
		return apperrors.NewTransportError("hot store set failed", err)
	}
	return nil
}

// DeleteSession 删除会话及其历史
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, sessionKey(id), historyKey(id)).Err(); err != nil {
		return apperrors.NewTransportError("hot store delete failed", err)
	}
	return nil
}

// TouchTTL 重置会话键的过期时间
func (s *SessionStore) TouchTTL(ctx context.Context, id string, ttl time.Duration) error {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.client.Expire(ctx, sessionKey(id), ttl).Err(); err != nil {
		return apperrors.NewTransportError("hot store expire failed", err)
	}
	return nil
}

// AppendHistory 追加一条历史: RPUSH + LTRIM 保留最后 N_hist 条 + EXPIRE
// 三条命令走同一个事务管道, 读者不会看到超长列表
func (s *SessionStore) AppendHistory(ctx context.Context, id string, role entity.Role, text string, ttl time.Duration) error {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	raw, err := json.Marshal(entity.HistoryEntry{Role: role, Text: text})
	if err != nil {
		return apperrors.NewInternalErrorWithCause("failed to encode history entry", err)
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	key := historyKey(id)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -int64(MaxHistoryEntries), -1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewTransportError("hot store history append failed", err)
	}
	return nil
}

// GetHistory 读取最近 maxItems 条历史 (按时间先后排列)
func (s *SessionStore) GetHistory(ctx context.Context, id string, maxItems int) ([]entity.HistoryEntry, error) {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	if maxItems <= 0 || maxItems > MaxHistoryEntries {
		maxItems = MaxHistoryEntries
	}

	raws, err := s.client.LRange(ctx, historyKey(id), -int64(maxItems), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.NewTransportError("hot store history read failed", err)
	}

	entries := make([]entity.HistoryEntry, 0, len(raws))
	for i, raw := range raws {
		var e entity.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, apperrors.NewInternalErrorWithCause(
				fmt.Sprintf("failed to decode history entry %d", i), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ClearHistory 清空会话历史
func (s *SessionStore) ClearHistory(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, historyKey(id)).Err(); err != nil {
		return apperrors.NewTransportError("hot store history clear failed", err)
	}
	return nil
}

// Ping 健康探测
func (s *SessionStore) Ping(ctx context.Context) error {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
