package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   NX 保证互斥，EX 防止持有方崩溃后死锁，value 标识持有者（防误删）
// 释放：Lua 脚本先比对 value 再删除，保证"检查+删除"原子
//
// 【注意】对账路径的正确性不靠这把锁：pending -> paid 的 CAS 状态
// 翻转才是去重的依据。锁只是把 webhook / 管理员 / 扫描三方的
// 读-改-写窗口收窄，减少无谓的冲突重试
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// Locker 锁接口，服务层依赖它便于测试替换
type Locker interface {
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

// Provider 锁工厂
type Provider interface {
	NewLock(key, value string, expiration time.Duration) Locker
}

// DistributedLock 基于 Redis 的锁实现
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// RedisProvider 生产环境使用的锁工厂
type RedisProvider struct {
	client *redis.Client
}

func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

func (p *RedisProvider) NewLock(key, value string, expiration time.Duration) Locker {
	return &DistributedLock{
		client:     p.client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删自己持有的
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// PayLockKey 按用户维度的扣款锁：同一用户的并发扣款串行化，
// 不同用户互不影响
func PayLockKey(userID string) string {
	return fmt.Sprintf("pay:lock:user:%s", userID)
}

// ConfirmLockKey 按交易维度的确认锁：同一笔 PIX 的三个对账入口串行化
func ConfirmLockKey(transactionID string) string {
	return fmt.Sprintf("pix:confirm:lock:%s", transactionID)
}
