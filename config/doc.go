// Package config 提供 TaskBridge 的配置管理功能。
//
// 统一加载服务器、调度后端、工作流引擎、人工介入、存储与日志配置，
// 支持 YAML 文件与 TASKBRIDGE_* 环境变量覆盖，
// 优先级为 默认值 → 文件 → 环境变量。
package config
