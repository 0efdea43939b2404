package handlers

import (
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/hitl"
)

// =============================================================================
// Interrupt WebSocket Handler
// =============================================================================

// InterruptSocketHandler 实时策略的中断通知出口：客户端建立 WebSocket
// 连接后挂到 Hub 上，任务进入等待人工输入时收到 JSON 通知
type InterruptSocketHandler struct {
	hub    *hitl.Hub
	logger *zap.Logger
}

// NewInterruptSocketHandler 创建中断通知处理器
func NewInterruptSocketHandler(hub *hitl.Hub, logger *zap.Logger) *InterruptSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterruptSocketHandler{
		hub:    hub,
		logger: logger.With(zap.String("handler", "interrupts")),
	}
}

// Register 注册路由
func (h *InterruptSocketHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/interrupts/ws", h.HandleSocket)
}

// HandleSocket 升级连接并挂载监听者，连接断开自动摘除
func (h *InterruptSocketHandler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	notifier := hitl.NewWebSocketNotifier(conn, h.logger)
	detach := h.hub.Attach(notifier)
	defer detach()
	defer notifier.Close()

	h.logger.Info("interrupt listener connected", zap.String("remote_addr", r.RemoteAddr))

	// 通道是单向的：服务端只推不收。读循环只为感知连接关闭，
	// 客户端发来的任何数据被丢弃
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			h.logger.Debug("interrupt listener disconnected", zap.Error(err))
			return
		}
	}
}
