package hotstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// defaultOpTimeout Redis 操作的兜底超时
const defaultOpTimeout = time.Second

// NewClient 解析 redis URL 并创建共享客户端
// 进程内只建一个池化客户端, 会话存储与限流共用
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid redis url: " + err.Error())
	}
	return redis.NewClient(opts), nil
}

// opContext 给单次 Redis 往返加超时
func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
