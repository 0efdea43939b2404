// =============================================================================
// 📦 TaskBridge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Temporal:  DefaultTemporalConfig(),
		HITL:      DefaultHITLConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultSchedulerConfig 返回默认调度配置
// 进程内后端零依赖可跑，持久化后端按需切换
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Backend: "in-process",
	}
}

// DefaultTemporalConfig 返回默认工作流引擎配置
func DefaultTemporalConfig() TemporalConfig {
	return TemporalConfig{
		HostPort:  "localhost:7233",
		Namespace: "default",
		TaskQueue: "taskbridge-tasks",
	}
}

// DefaultHITLConfig 返回默认人工介入配置
func DefaultHITLConfig() HITLConfig {
	return HITLConfig{
		Mode:            "durable",
		CheckpointStore: "memory",
		CheckpointTTL:   24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "taskbridge",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "memory",
		Host:            "localhost",
		Port:            5432,
		User:            "taskbridge",
		Password:        "",
		Name:            "taskbridge",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
