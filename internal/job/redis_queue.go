package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis sorted set 实现优先级队列。
// score 的高位是优先级、低位是入队序号，保证同级任务先进先出。
type RedisQueue struct {
	client *redis.Client
	queue  string
	seqKey string
	wait   time.Duration
}

// 序号占 score 的低位，12 位十进制在 float64 精度范围内仍然无损。
const redisSeqSpan = 1e12

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "reportflow:jobs"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisQueue{
		client: client,
		queue:  queue,
		seqKey: queue + ":seq",
		wait:   wait,
	}, nil
}

func (q *RedisQueue) score(ctx context.Context, priority int) (float64, error) {
	seq, err := q.client.Incr(ctx, q.seqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("生成队列序号失败: %w", err)
	}
	return float64(priority)*redisSeqSpan + float64(seq%int64(redisSeqSpan)), nil
}

// Publish 将任务按优先级投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, jobID string, priority int) error {
	score, err := q.score(ctx, normalizePriority(priority))
	if err != nil {
		return err
	}
	if err := q.client.ZAdd(ctx, q.queue, redis.Z{Score: score, Member: jobID}).Err(); err != nil {
		return fmt.Errorf("Redis 发布任务失败: %w", err)
	}
	return nil
}

// Consume 通过 BZPOPMIN 从 Redis 获取优先级最高的任务。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				entry, err := q.client.BZPopMin(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if err == redis.Nil {
						continue
					}
					errCh <- fmt.Errorf("Redis 取任务失败: %w", err)
					return
				}
				jobID, ok := entry.Z.Member.(string)
				if !ok || jobID == "" {
					continue
				}
				if handlerErr := handler(ctx, jobID); handlerErr != nil {
					// 处理失败时按原 score 重新投递任务。
					_ = q.client.ZAdd(ctx, q.queue, redis.Z{Score: entry.Z.Score, Member: jobID}).Err()
				}
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
