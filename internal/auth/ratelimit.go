package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failKeyPrefix = "login_fail:"
	lockKeyPrefix = "login_lock:"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

// AttemptLimiter はIPごとのログイン試行回数制限を提供します。
type AttemptLimiter interface {
	// CheckLock はロック中なら残りロック時間を返します。未ロックなら0。
	CheckLock(ctx context.Context, ip string) (time.Duration, error)
	// RecordFailure は失敗を1回記録し、残り試行回数を返します。
	RecordFailure(ctx context.Context, ip string) (int, error)
	// Reset は成功時に失敗カウントとロックを消去します。
	Reset(ctx context.Context, ip string) error
}

// RedisLimiter は AttemptLimiter の Redis 実装です。
// カウントをプロセス外に持つことで複数インスタンスでも制限を共有できます。
type RedisLimiter struct {
	rdb *redis.Client
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

// CheckLock はロックキーの残りTTLを返します。
func (l *RedisLimiter) CheckLock(ctx context.Context, ip string) (time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, lockKeyPrefix+ip).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check login lock: %w", err)
	}
	if ttl <= 0 {
		// -1: TTLなし、-2: キーなし。いずれも未ロック扱い。
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure は失敗回数を加算し、上限到達時にロックを設定します。
func (l *RedisLimiter) RecordFailure(ctx context.Context, ip string) (int, error) {
	failKey := failKeyPrefix + ip

	count, err := l.rdb.Incr(ctx, failKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, failKey, loginWindow).Err(); err != nil {
			return 0, fmt.Errorf("failed to set failure window: %w", err)
		}
	}

	if count >= int64(maxLoginAttempts) {
		pipe := l.rdb.TxPipeline()
		pipe.Set(ctx, lockKeyPrefix+ip, "1", lockDuration)
		pipe.Del(ctx, failKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to set login lock: %w", err)
		}
		return 0, nil
	}

	remaining := maxLoginAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset は失敗カウントとロックを消去します。
func (l *RedisLimiter) Reset(ctx context.Context, ip string) error {
	if err := l.rdb.Del(ctx, failKeyPrefix+ip, lockKeyPrefix+ip).Err(); err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

// NopLimiter は制限を行わない AttemptLimiter です。
// Redis が設定されていない環境で使用します。
type NopLimiter struct{}

// CheckLock は常に未ロックを返します。
func (NopLimiter) CheckLock(ctx context.Context, ip string) (time.Duration, error) {
	return 0, nil
}

// RecordFailure は何も記録しません。
func (NopLimiter) RecordFailure(ctx context.Context, ip string) (int, error) {
	return maxLoginAttempts, nil
}

// Reset は何もしません。
func (NopLimiter) Reset(ctx context.Context, ip string) error {
	return nil
}
