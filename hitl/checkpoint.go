// Package hitl 实现 Human-in-the-Loop 的中断与恢复契约：
// 运行中的任务在需要人工输入时暂停，检查点落盘，通知送达，
// 稍后从检查点恢复执行。
package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/types"
)

// ErrCheckpointNotFound 检查点不存在
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointStore 检查点持久化接口，按 (session_id, exchange_id) 索引
type CheckpointStore interface {
	// Save 保存检查点
	Save(ctx context.Context, checkpoint *types.Checkpoint) error

	// Load 加载检查点；不存在时返回 ErrCheckpointNotFound
	Load(ctx context.Context, sessionID, exchangeID string) (*types.Checkpoint, error)

	// Delete 删除检查点（恢复成功后清理）
	Delete(ctx context.Context, sessionID, exchangeID string) error
}

// ====== 内存实现 ======

// MemoryCheckpointStore 内存检查点存储，开发与测试用
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*types.Checkpoint
}

// NewMemoryCheckpointStore 创建内存检查点存储
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string]*types.Checkpoint)}
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, checkpoint *types.Checkpoint) error {
	if checkpoint.Empty() {
		return types.NewError(types.ErrValidation, "refusing to save empty checkpoint")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[memoryKey(checkpoint.SessionID, checkpoint.ExchangeID)] = checkpoint
	return nil
}

func (s *MemoryCheckpointStore) Load(ctx context.Context, sessionID, exchangeID string) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checkpoint, ok := s.checkpoints[memoryKey(sessionID, exchangeID)]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return checkpoint, nil
}

func (s *MemoryCheckpointStore) Delete(ctx context.Context, sessionID, exchangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, memoryKey(sessionID, exchangeID))
	return nil
}

func memoryKey(sessionID, exchangeID string) string {
	return sessionID + "\x00" + exchangeID
}

// ====== Redis 实现 ======

// RedisCheckpointStore Redis 检查点存储，生产部署用
// 工作流可能在任意进程恢复，检查点必须跨进程可见
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCheckpointStore 创建 Redis 检查点存储
func NewRedisCheckpointStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "taskbridge"
	}
	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}
}

func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *types.Checkpoint) error {
	if checkpoint.Empty() {
		return types.NewError(types.ErrValidation, "refusing to save empty checkpoint")
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := s.key(checkpoint.SessionID, checkpoint.ExchangeID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("session_id", checkpoint.SessionID),
		zap.String("exchange_id", checkpoint.ExchangeID),
	)
	return nil
}

func (s *RedisCheckpointStore) Load(ctx context.Context, sessionID, exchangeID string) (*types.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key(sessionID, exchangeID)).Bytes()
	if err == redis.Nil {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var checkpoint types.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, sessionID, exchangeID string) error {
	return s.client.Del(ctx, s.key(sessionID, exchangeID)).Err()
}

func (s *RedisCheckpointStore) key(sessionID, exchangeID string) string {
	return fmt.Sprintf("%s:checkpoint:%s:%s", s.prefix, sessionID, exchangeID)
}
