package agentexec

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/types"
)

// Registry 目标 Agent 注册表
// 未注册的 target_agent 属于提交错误：快速失败，不进入持久化引擎
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
	logger  *zap.Logger
}

// NewRegistry 创建注册表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		runners: make(map[string]Runner),
		logger:  logger.With(zap.String("component", "agent_registry")),
	}
}

// Register 注册目标 Agent；重复注册覆盖旧实现
func (r *Registry) Register(name string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[name] = runner
	r.logger.Info("agent registered", zap.String("target_agent", name))
}

// Get 查找目标 Agent
func (r *Registry) Get(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[name]
	if !ok {
		return nil, types.NewError(types.ErrUnknownAgent, "unknown target agent: "+name)
	}
	return runner, nil
}

// List 列出已注册的目标 Agent 名称
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	return names
}
