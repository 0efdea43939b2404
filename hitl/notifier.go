package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Notification 推送给监听者的中断通知
type Notification struct {
	SessionID  string         `json:"session_id"`
	ExchangeID string         `json:"exchange_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Notifier 通知传输协作方（实时策略用）
type Notifier interface {
	Emit(ctx context.Context, notification *Notification) error
}

// WebSocketNotifier 把通知以 JSON 写入已建立的 WebSocket 连接。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type WebSocketNotifier struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewWebSocketNotifier 从已建立的 WebSocket 连接创建通知器
func NewWebSocketNotifier(conn *websocket.Conn, logger *zap.Logger) *WebSocketNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketNotifier{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_notifier")),
	}
}

// Emit 实现 Notifier
func (n *WebSocketNotifier) Emit(ctx context.Context, notification *Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return fmt.Errorf("connection closed")
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := n.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}

	n.logger.Debug("interrupt notification sent",
		zap.String("session_id", notification.SessionID),
		zap.String("exchange_id", notification.ExchangeID),
	)
	return nil
}

// Close 关闭底层连接
func (n *WebSocketNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	return n.conn.Close(websocket.StatusNormalClosure, "closing")
}
