package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LENAX/durable-engine/pkg/core/types"
)

// RetryPolicy 存储写入失败时的重试策略
// 只有存储不可达（ErrStoreUnavailable）会触发重试，其他错误立即返回
type RetryPolicy struct {
	MaxAttempts int           // 总尝试次数，1表示不重试
	Delay       time.Duration // 首次重试间隔
	MaxDelay    time.Duration // 间隔上限，0表示不设上限
}

// withRetries 按重试策略调用fn，间隔按2倍递增
func (e *Engine) withRetries(ctx context.Context, op string, fn func() error) error {
	attempts := e.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := e.retry.Delay

	err := fn()
	for attempt := 1; err != nil && attempt < attempts; attempt++ {
		if !errors.Is(err, types.ErrStoreUnavailable) {
			return err
		}

		e.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("delay", delay).Msg("⚠️ [重试] 存储不可达，稍后重试")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(delay):
		}

		err = fn()
		delay *= 2
		if e.retry.MaxDelay > 0 && delay > e.retry.MaxDelay {
			delay = e.retry.MaxDelay
		}
	}
	if err != nil && attempts > 1 && errors.Is(err, types.ErrStoreUnavailable) {
		return fmt.Errorf("%s: 重试%d次后仍失败: %w", op, attempts, err)
	}
	return err
}
