package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botarena/internal/common/cache"
	"botarena/internal/common/db"
	commonmw "botarena/internal/common/http/middleware"
	"botarena/internal/common/mq"
	"botarena/internal/common/storage"
	"botarena/internal/coordinator/controller"
	"botarena/internal/coordinator/repository"
	"botarena/internal/coordinator/service"
	"botarena/pkg/utils/logger"
)

const defaultConfigPath = "configs/coordinator.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
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

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	taskStore := repository.NewMySQLTaskStore(mysqlDB)
	matchQueue := repository.NewMySQLMatchQueue(mysqlDB)
	ratingRepo := repository.NewMySQLRatingRepository(mysqlDB)
	statusCache := repository.NewStatusCache(redisCache, appCfg.Status.TTL)
	blobRepo := repository.NewBlobRepository(objStorage,
		appCfg.Storage.BotBucket, appCfg.Storage.ReplayBucket, appCfg.Storage.LogBucket)
	eventPublisher := repository.NewMQEventPublisher(mqClient, appCfg.Kafka.Topic)

	claimSvc := service.NewClaimService(taskStore, appCfg.Claim)
	dispatchSvc := service.NewDispatchService(matchQueue, claimSvc, appCfg.Dispatch)
	ondemandSvc := service.NewOndemandService(taskStore, statusCache)
	resultSvc := service.NewResultService(taskStore, matchQueue, blobRepo,
		ratingRepo, service.NewPairwiseUpdater(), eventPublisher, statusCache)
	intakeSvc := service.NewIntakeService(blobRepo, matchQueue)

	httpServer := buildHTTPServer(appCfg.Server, dispatchSvc, ondemandSvc, resultSvc, intakeSvc, blobRepo)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "coordinator http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(
	cfg ServerConfig,
	dispatchSvc *service.DispatchService,
	ondemandSvc *service.OndemandService,
	resultSvc *service.ResultService,
	intakeSvc *service.IntakeService,
	blobRepo *repository.BlobRepository,
) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	taskController := controller.NewTaskController(dispatchSvc)
	botController := controller.NewBotController(blobRepo)
	resultController := controller.NewResultController(resultSvc)
	ondemandController := controller.NewOndemandController(ondemandSvc)
	queueController := controller.NewQueueController(intakeSvc)

	// Worker fleet endpoints.
	router.GET("/task", taskController.GetTask)
	router.GET("/botFile", botController.GetBotFile)
	router.POST("/botFile", botController.PostBotFile)
	router.GET("/botHash", botController.GetBotHash)
	router.POST("/compile", resultController.PostCompile)
	router.POST("/game", resultController.PostGame)
	router.POST("/ondemand_result", resultController.PostOndemandResult)
	router.POST("/ondemand_compile", resultController.PostOndemandCompile)

	// Web API endpoints.
	router.PUT("/ondemand", ondemandController.Launch)
	router.GET("/ondemand", ondemandController.Status)
	router.POST("/ondemand", ondemandController.Continue)
	router.POST("/bot", queueController.PostBot)
	router.POST("/match", queueController.PostMatch)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
