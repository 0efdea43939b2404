// Copyright (c) TaskBridge Authors.
// Licensed under the MIT License.

/*
Package main 提供 TaskBridge 服务端程序入口。

# 概述

cmd/taskbridge 是 TaskBridge 的可执行入口，提供任务提交 HTTP API、
Temporal worker、健康检查和版本查询等子命令。程序支持 YAML 配置文件
加载、结构化日志（zap）与 Prometheus 指标采集。

# 核心类型

  - Server           — API 服务器，按配置装配调度后端与人工介入栈，
    管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动 API 服务）、worker（Temporal worker）、
    version、health
  - 调度后端：in-process（内联执行）或 temporal（持久化工作流）
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、CORS、RateLimiter（基于 IP）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 并发关闭 HTTP/Metrics → 释放外部连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
