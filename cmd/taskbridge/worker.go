package main

import (
	"flag"
	"fmt"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/agentexec"
	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/internal/metrics"
	"github.com/BaSui01/taskbridge/scheduler/temporalbridge"
)

// =============================================================================
// ⚙️ worker 命令
// =============================================================================

// runWorker 启动 Temporal worker：注册任务工作流与活动，
// 从配置的任务队列拉取执行。活动内的中断统一走持久化策略——
// worker 进程没有连接态监听者，等待由工作流引擎的 signal 承载
func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if cfg.Temporal.HostPort == "" {
		fmt.Fprintln(os.Stderr, "Invalid config: temporal host_port is required for the worker")
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting TaskBridge worker",
		zap.String("version", Version),
		zap.String("host_port", cfg.Temporal.HostPort),
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporalbridge.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to dial workflow engine", zap.Error(err))
	}
	defer c.Close()

	collector := metrics.NewCollector("taskbridge", nil, logger)

	registry := agentexec.NewRegistry(logger)
	registry.Register("echo", agentexec.NewEchoRunner())

	checkpoints, redisClient, err := newCheckpointStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to init checkpoint store", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	interrupts := hitl.NewDurableHandler(checkpoints, logger)

	activities := temporalbridge.NewTaskActivities(registry, interrupts, c, collector, logger)

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	temporalbridge.Register(w, temporalbridge.TaskWorkflows{}, activities)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("Worker exited", zap.Error(err))
	}

	logger.Info("TaskBridge worker stopped")
}
