package hotstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitDecision 一次限流判定的结果
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitStore 基于 ZSET 的滑动窗口限流
// 键: ratelimit:<identifier>; 成员与分值都是请求到达时刻
type RateLimitStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRateLimitStore 创建限流存储
func NewRateLimitStore(client *redis.Client, opTimeout time.Duration) *RateLimitStore {
	return &RateLimitStore{
		client:    client,
		opTimeout: opTimeout,
	}
}

// Check 判定 identifier 在窗口内是否超限并记录本次请求
// 四条命令在一个事务管道内: 清理过期成员, 计数, 记录, 续期
// 存储不可达时返回错误, 由调用方按 fail-open 处理
func (s *RateLimitStore) Check(ctx context.Context, identifier string, limit int, window time.Duration) (*RateLimitDecision, error) {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()

	now := time.Now()
	windowStart := now.Add(-window)
	key := "ratelimit:" + identifier

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	// countCmd 是本次记录之前窗口内的请求数
	count := int(countCmd.Val())
	decision := &RateLimitDecision{
		Limit:   limit,
		ResetAt: now.Add(window),
	}
	if count >= limit {
		decision.Allowed = false
		decision.Remaining = 0
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = limit - count - 1
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision, nil
}
