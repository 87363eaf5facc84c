package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botarena/internal/worker/backend"
	"botarena/internal/worker/compiler"
	"botarena/internal/worker/health"
	"botarena/internal/worker/ident"
	"botarena/internal/worker/poller"
	"botarena/internal/worker/runner"
	"botarena/internal/worker/sandbox"
	"botarena/pkg/utils/logger"
)

const defaultConfigPath = "configs/worker.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	userOffset := flag.Int("user-offset", 0, "Base offset for sandbox slot identities")
	taskTypes := flag.String("task-type", "", "Comma-separated task kinds to poll for (compile, game, ondemand)")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := os.MkdirAll(appCfg.Sandbox.WorkRoot, 0755); err != nil {
		logger.Error(context.Background(), "create work root failed", zap.Error(err))
		return
	}

	capabilities := mergeCapabilities(appCfg.Capabilities, *taskTypes)
	client := backend.NewClient(appCfg.CoordinatorURL, capabilities)
	detector := compiler.NewCommandDetector(appCfg.Engine.DetectCommand, appCfg.Engine.DetectTimeout)
	compileDriver := compiler.NewDriver(detector, ident.Identity{
		User:  appCfg.Sandbox.CompileUser,
		Group: appCfg.Sandbox.CompileGroup,
	})
	executor := sandbox.NewExecutor(appCfg.Engine.Path, appCfg.Sandbox.WorkRoot,
		appCfg.Sandbox.CgroupRoot, appCfg.Sandbox.toLimits(), compileDriver)
	executor.InitPath = appCfg.Sandbox.InitPath
	executor.SeccompProfile = appCfg.Sandbox.SeccompProfile
	slots := sandbox.NewSlotAllocator(*userOffset, appCfg.Sandbox.MaxSlots)

	taskRunner := runner.NewRunner(client, compileDriver, executor, slots, appCfg.Sandbox.WorkRoot)
	watchdog := health.NewWatchdog(appCfg.Health.WatchdogThreshold)

	healthServer := buildHealthServer(appCfg.Health.Addr, watchdog)
	go func() {
		logger.Info(context.Background(), "worker health server started", zap.String("addr", appCfg.Health.Addr))
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "health server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "worker loop starting",
		zap.String("coordinator", appCfg.CoordinatorURL),
		zap.Strings("capabilities", capabilities),
		zap.Int("user_offset", *userOffset))
	poller.NewPoller(client, taskRunner, watchdog).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "health server shutdown failed", zap.Error(err))
	}
}

func buildHealthServer(addr string, watchdog *health.Watchdog) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", watchdog.Handler())
	return &http.Server{Addr: addr, Handler: router}
}
