package agentexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/taskbridge/types"
)

// EchoRunner 演示用 Runner：两个阶段后原样返回请求文本。
// payload 里带 "interrupt": true 时模拟一次人工输入暂停，
// 用于端到端验证 HITL 链路。
type EchoRunner struct{}

// NewEchoRunner 创建演示 Runner
func NewEchoRunner() *EchoRunner { return &EchoRunner{} }

// Run 实现 Runner
func (r *EchoRunner) Run(ctx context.Context, in *Input, mon Monitor) (*Outcome, error) {
	if mon == nil {
		mon = NopMonitor{}
	}

	mon.OnPhase("reasoning", "start")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if interrupt, _ := in.Payload["interrupt"].(bool); interrupt {
		state, _ := json.Marshal(map[string]any{"pending_text": requestText(in)})
		return SuspendedOutcome(
			map[string]any{"question": "please confirm the echo"},
			&types.Checkpoint{
				SessionID:  in.SessionID,
				ExchangeID: in.ExchangeID,
				TaskID:     in.TaskID,
				State:      state,
				CreatedAt:  time.Now(),
			},
		), nil
	}

	mon.OnPhase("responding", "start")
	return CompletedOutcome(&Result{
		Content:  "echo: " + requestText(in),
		Metadata: map[string]any{"agent": in.TargetAgent},
	}), nil
}

// Resume 实现 ResumableRunner：把人工输入拼进回显
func (r *EchoRunner) Resume(ctx context.Context, in *Input, checkpoint *types.Checkpoint, userResponse string, mon Monitor) (*Outcome, error) {
	if checkpoint.Empty() {
		return nil, types.NewError(types.ErrValidation, "resume requires a checkpoint")
	}
	if mon == nil {
		mon = NopMonitor{}
	}

	var state struct {
		PendingText string `json:"pending_text"`
	}
	if err := json.Unmarshal(checkpoint.State, &state); err != nil {
		return nil, types.NewError(types.ErrValidation, "malformed checkpoint state").WithCause(err)
	}

	mon.OnPhase("responding", "resume")
	return CompletedOutcome(&Result{
		Content: fmt.Sprintf("echo: %s (confirmed: %s)", state.PendingText, userResponse),
	}), nil
}

func requestText(in *Input) string {
	if in.Payload == nil {
		return ""
	}
	if text, ok := in.Payload["request_text"].(string); ok {
		return text
	}
	return ""
}
