package hitl

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Hub 把中断通知扇出给所有已连接的监听者。
// 实时策略下监听者随连接来去，Hub 作为它们的聚合 Notifier 挂在
// LiveHandler 上，连接生命周期由传输层（WebSocket handler）管理。
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	members map[int64]Notifier
	nextID  int64
}

// NewHub 创建通知集线器
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger.With(zap.String("component", "hitl_hub")),
		members: make(map[int64]Notifier),
	}
}

// Attach 挂载一个监听者，返回的函数用于摘除
func (h *Hub) Attach(n Notifier) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.members[id] = n
	h.mu.Unlock()

	h.logger.Debug("listener attached", zap.Int64("listener_id", id))

	return func() {
		h.mu.Lock()
		delete(h.members, id)
		h.mu.Unlock()
		h.logger.Debug("listener detached", zap.Int64("listener_id", id))
	}
}

// Len 返回当前监听者数量
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Emit 实现 Notifier。实时策略承诺通知送达：没有监听者或全部
// 发送失败时报错，让上层大声失败而不是默默丢掉中断
func (h *Hub) Emit(ctx context.Context, notification *Notification) error {
	h.mu.RLock()
	members := make([]Notifier, 0, len(h.members))
	for _, n := range h.members {
		members = append(members, n)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		return fmt.Errorf("no connected interrupt listeners")
	}

	delivered := 0
	for _, n := range members {
		if err := n.Emit(ctx, notification); err != nil {
			h.logger.Warn("interrupt notification delivery failed",
				zap.String("session_id", notification.SessionID),
				zap.String("exchange_id", notification.ExchangeID),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("interrupt notification reached no listeners")
	}
	return nil
}
