// Package eventbus 提供按任务维度的事件发布/订阅。
// 订阅者通过独立 channel 接收某个任务的事件序列；序列在收到终态事件
// （completed/failed）时结束，blocked 不结束序列。无订阅者时事件被丢弃，
// 不做历史回放——晚加入的订阅者看不到之前的事件。
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/internal/metrics"
	"github.com/BaSui01/taskbridge/types"
)

// subscriberBuffer 每个订阅者的事件缓冲。进度事件在缓冲满时丢弃
// （消费者按"没有新信息"处理），终态事件必须送达以结束序列。
const subscriberBuffer = 64

type subscriber struct {
	taskID string
	ch     chan types.TaskEvent
	once   sync.Once
}

// Bus 按 task_id 扇出的内存事件总线
type Bus struct {
	// mu 保护 subs 的结构性修改，并与扇出迭代互斥：
	// 不能在另一个 goroutine 仍向某 channel 发送时把它从列表摘除
	mu   sync.Mutex
	subs map[string][]*subscriber

	logger    *zap.Logger
	collector *metrics.Collector
}

// New 创建事件总线；logger/collector 可为 nil
func New(logger *zap.Logger, collector *metrics.Collector) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:      make(map[string][]*subscriber),
		logger:    logger.With(zap.String("component", "eventbus")),
		collector: collector,
	}
}

// Subscribe 注册一个新订阅者并返回其事件 channel 和取消函数。
// channel 在下列任一情况下关闭并自动注销：收到终态事件、ctx 取消、
// 调用返回的 cancel。所有退出路径都保证释放。
func (b *Bus) Subscribe(ctx context.Context, taskID string) (<-chan types.TaskEvent, func()) {
	sub := &subscriber{
		taskID: taskID,
		ch:     make(chan types.TaskEvent, subscriberBuffer),
	}

	b.mu.Lock()
	b.subs[taskID] = append(b.subs[taskID], sub)
	b.mu.Unlock()

	cancel := func() { b.remove(sub) }

	stop := context.AfterFunc(ctx, cancel)
	wrapped := func() {
		stop()
		cancel()
	}

	return sub.ch, wrapped
}

// Publish 把事件扇出给该任务当前注册的所有订阅者。
// 无订阅者时直接丢弃。终态事件送达后关闭并注销对应订阅者。
func (b *Bus) Publish(event types.TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[event.TaskID]
	if len(subs) == 0 {
		b.collector.EventDropped(string(event.Kind))
		return
	}

	for _, sub := range subs {
		select {
		case sub.ch <- event:
			b.collector.EventPublished(string(event.Kind))
		default:
			// 缓冲满：进度事件可丢；终态事件依赖下面的 close 结束序列
			b.collector.EventDropped(string(event.Kind))
			b.logger.Debug("subscriber buffer full, event dropped",
				zap.String("task_id", event.TaskID),
				zap.String("kind", string(event.Kind)),
			)
		}
	}

	if event.IsTerminal() {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(b.subs, event.TaskID)
	}
}

// remove 注销订阅者并关闭其 channel；幂等
func (b *Bus) remove(target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[target.taskID]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.taskID] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[target.taskID]) == 0 {
				delete(b.subs, target.taskID)
			}
			break
		}
	}
	target.once.Do(func() { close(target.ch) })
}

// SubscriberCount 返回某任务当前的订阅者数量（测试与诊断用）
func (b *Bus) SubscriberCount(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}
