package main

import (
	"DeepDistill/backend/go/internal/admission"
	"DeepDistill/backend/go/internal/analysis"
	"DeepDistill/backend/go/internal/api"
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/database/kafka"
	"DeepDistill/backend/go/internal/database/minio"
	"DeepDistill/backend/go/internal/database/mongo"
	"DeepDistill/backend/go/internal/database/redis"
	"DeepDistill/backend/go/internal/enhance"
	"DeepDistill/backend/go/internal/events"
	"DeepDistill/backend/go/internal/export"
	"DeepDistill/backend/go/internal/extraction"
	"DeepDistill/backend/go/internal/llm"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/internal/orchestrator"
	"DeepDistill/backend/go/internal/registry"
	"DeepDistill/backend/go/internal/router"
	httpclient "DeepDistill/backend/go/pkg/http"
	"DeepDistill/backend/go/pkg/logger"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "backend/go/internal/config/config.yaml", "配置文件路径")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("Invalid logger level: %v", err)
	}
	logger.Init(logLevel)
	serviceLogger := logger.New("DeepDistill", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 导出与文档提取共用同一份 unioffice 授权
	licensed, err := export.SetupOfficeLicense(cfg.Export.UnidocLicenseKey)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("unioffice 授权无效，Word 导出与 docx 提取不可用")
	}

	chain, skipped, err := llm.NewChain(ctx, cfg.LLM.Providers)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to build LLM provider chain")
	}
	defer llm.Close(chain)
	for _, name := range skipped {
		serviceLogger.WithField("provider", name).Warn("LLM 提供商缺少凭证，已跳过")
	}

	breaker := cfg.Middleware.CircuitBreaker
	timeouts := cfg.Pipeline.Timeouts
	extractOpts := []extraction.Option{
		extraction.WithDocumentExtractor(extraction.NewDocumentExtractor(licensed)),
		extraction.WithFetcher(httpclient.NewClient("fetch", breaker, cfg.Collaborators.WebFetch.Timeout,
			httpclient.WithUserAgent(cfg.Collaborators.WebFetch.UserAgent))),
		extraction.WithLogger(serviceLogger),
	}
	if cfg.Collaborators.ASR.URL != "" {
		extractOpts = append(extractOpts, extraction.WithTranscriber(
			extraction.NewHTTPTranscriber(cfg.Collaborators.ASR, breaker, timeouts.Transcribe)))
	}
	if cfg.Collaborators.OCR.URL != "" {
		extractOpts = append(extractOpts, extraction.WithOCR(
			extraction.NewHTTPOCR(cfg.Collaborators.OCR, breaker, timeouts.Extract)))
	}

	var visual enhance.VisualAnalyzer
	if cfg.Collaborators.Vision.URL != "" {
		visual = enhance.NewHTTPVisionAnalyzer(cfg.Collaborators.Vision, breaker, timeouts.Enhance)
	}

	backend, err := exportBackend(ctx, cfg)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to initialize export backend")
	}
	exporter := export.NewService(backend, cfg.Export,
		export.WithWord(licensed),
		export.WithLogger(serviceLogger))

	sinks, err := eventSinks(ctx, cfg, serviceLogger)
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to initialize event sinks")
	}
	hub := events.NewHub(cfg.Pipeline.PreviewLength, cfg.Events.BufferSize,
		events.WithSinks(sinks...),
		events.WithLogger(serviceLogger))

	reg := registry.New(cfg.Pipeline.MaxTasks,
		registry.WithChangeHook(hub.PublishTask),
		registry.WithEvictHook(func(t *models.Task) { registry.RemoveFiles(t) }))
	sweeper := registry.NewSweeper(reg, cfg.Pipeline.CleanupInterval, cfg.Pipeline.Retention,
		[]string{cfg.Pipeline.UploadDir, cfg.Pipeline.WorkDir}, serviceLogger)
	sweeper.Start()

	orch := orchestrator.New(orchestrator.Deps{
		Registry:  reg,
		Gate:      admission.NewGate(cfg.Pipeline.MaxConcurrentPipelines),
		Router:    router.New(),
		Extractor: extraction.NewDispatcher(cfg.Pipeline, cfg.Collaborators, extractOpts...),
		Enhancer:  enhance.NewStage(visual, cfg.Pipeline.Enhancement, timeouts.Enhance, serviceLogger),
		Analyzer: analysis.New(chain, cfg.LLM,
			analysis.WithCallTimeout(timeouts.Analysis),
			analysis.WithMaxInput(cfg.Pipeline.MaxAnalysisInput),
			analysis.WithLogger(serviceLogger)),
		Exporter: exporter,
	}, cfg.Pipeline, orchestrator.WithLogger(serviceLogger))

	apiHandler, err := api.NewAPI(orch, cfg, serviceLogger, api.WithHub(hub))
	if err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("Failed to create API")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), api.LoggingMiddleware(serviceLogger))
	api.RegisterRoutes(engine, apiHandler, api.RateLimitMiddleware(cfg.Middleware.RateLimiter))

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: engine,
	}

	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Fatal("HTTP server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Server forced to shutdown")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("未完成的任务已被取消")
	}
	sweeper.Stop()
	if err := hub.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing event sinks")
	}
	if err := mongo.Close(context.Background()); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error disconnecting from MongoDB")
	}
	if err := redis.Close(); err != nil {
		serviceLogger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error closing Redis client")
	}

	serviceLogger.Info("Server gracefully stopped")
}

// exportBackend 按配置选择导出目标。provider 为 none 时返回 nil，导出服务会报告未配置。
func exportBackend(ctx context.Context, cfg *config.AppConfig) (export.Backend, error) {
	switch cfg.Export.Provider {
	case "drive":
		return export.NewDrive(ctx, cfg.Export.Drive)
	case "minio":
		client, err := minio.GetClient(ctx, &cfg.Databases.MinIO)
		if err != nil {
			return nil, err
		}
		return export.NewObjectStore(client, cfg.Databases.MinIO.Bucket, cfg.Export.MinIO)
	case "mongo":
		client, err := mongo.GetClient(ctx, &cfg.Databases.MongoDB)
		if err != nil {
			return nil, err
		}
		return export.NewDocStore(mongo.Collection(client, &cfg.Databases.MongoDB, cfg.Export.Mongo.Collection))
	case "", "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown export provider %q", cfg.Export.Provider)
}

// eventSinks 创建启用的外部事件出口。
func eventSinks(ctx context.Context, cfg *config.AppConfig, log *logger.Logger) ([]events.Sink, error) {
	var sinks []events.Sink
	if cfg.Events.Kafka.Enabled {
		created, err := kafka.EnsureTopics(&cfg.Databases.Kafka, cfg.Events.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		if len(created) > 0 {
			log.WithField("topics", created).Info("已创建 Kafka 主题")
		}
		sinks = append(sinks, events.NewKafkaSink(cfg.Databases.Kafka.Brokers, cfg.Events.Kafka.Topic))
	}
	if cfg.Events.Redis.Enabled {
		client, err := redis.GetClient(ctx, &cfg.Databases.Redis)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, events.NewRedisSink(client, cfg.Events.Redis.Topic))
	}
	return sinks, nil
}
