// Copyright (c) TaskBridge Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 TaskBridge HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 TaskBridge 所有 HTTP 端点的请求处理逻辑，
包括任务提交/查询/恢复/取消、中断通知 WebSocket、健康检查以及
统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - TaskHandler            — 任务提交、列表、进度查询、人工恢复与取消
  - InterruptSocketHandler — 实时策略的中断通知 WebSocket 出口
  - HealthHandler          — 服务健康检查（/health, /healthz, /ready）
  - Response               — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo              — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter         — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck            — 可插拔健康检查接口（Database、Redis、工作流引擎）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteCreated / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 幂等提交：同一 task_id 重复提交返回已有记录
  - 终态进度回放：终态任务的进度查询直接回放权威记录
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
