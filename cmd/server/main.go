// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kenny-gateway/internal/config"
	"kenny-gateway/internal/handler"
	"kenny-gateway/internal/middleware"
	"kenny-gateway/internal/pipeline"
	"kenny-gateway/internal/repository"
	"kenny-gateway/internal/service"
	"kenny-gateway/pkg/database"
	"kenny-gateway/pkg/es"
	"kenny-gateway/pkg/kafka"
	"kenny-gateway/pkg/log"
	"kenny-gateway/pkg/storage"
	"kenny-gateway/pkg/token"
	"kenny-gateway/pkg/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("KENNY_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis；ES、Kafka、MinIO 为可选依赖
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := repository.AutoMigrate(database.DB); err != nil {
		log.Fatal("数据表迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis)

	if cfg.Elasticsearch.Addresses != "" {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败，轮次检索不可用: %v", err)
			es.ESClient = nil
		}
	}
	if cfg.Kafka.Brokers != "" {
		kafka.InitProducer(cfg.Kafka)
	}
	if cfg.MinIO.Endpoint != "" {
		if err := storage.InitMinIO(cfg.MinIO); err != nil {
			log.Errorf("MinIO 初始化失败，对话导出不可用: %v", err)
		}
	}

	// 4. 初始化 Repository
	conversationRepo := repository.NewConversationRepository(database.DB)
	sessionCacheRepo := repository.NewSessionCacheRepository(database.RDB, cfg.Session.KeyPrefix, cfg.Session.IdleTimeout())

	// 5. 初始化 Service (依赖注入)
	store := service.NewSessionStore(sessionCacheRepo, conversationRepo, service.SessionStoreConfig{
		IdleTimeout:     cfg.Session.IdleTimeout(),
		MaxLocalEntries: cfg.Session.MaxLocalEntries,
	})
	reaper := service.NewSessionReaper(store, cfg.Session.ReapInterval())
	relay := service.NewWorkflowRelay(workflow.NewClient(cfg.Workflow.WebhookURL), cfg.Workflow.Timeout(), cfg.Workflow.DebugMode)
	responder := service.NewResponder(service.ResponderConfig{
		Debug:             cfg.Workflow.DebugMode,
		WordDelay:         time.Duration(cfg.Stream.WordDelayMs) * time.Millisecond,
		FallbackWordDelay: time.Duration(cfg.Stream.FallbackWordDelayMs) * time.Millisecond,
	})

	// 6. 初始化后台持久化队列
	var sinks []pipeline.TurnSink
	if es.ESClient != nil {
		sinks = append(sinks, &pipeline.ESSink{Client: es.ESClient, Index: cfg.Elasticsearch.IndexName})
	}
	if kafka.Enabled() {
		sinks = append(sinks, pipeline.KafkaSink{})
	}
	persister := pipeline.NewPersister(store, pipeline.PersisterConfig{
		Workers:   cfg.Persistence.Workers,
		QueueSize: cfg.Persistence.QueueSize,
	}, sinks...)
	persister.Start()

	gatewayService := service.NewGatewayService(store, relay, responder, persister)

	var transcripts service.TranscriptStore
	if storage.MinioClient != nil {
		transcripts = storage.NewBucket(storage.MinioClient, cfg.MinIO.BucketName)
	}
	conversationService := service.NewConversationService(store, conversationRepo, transcripts, time.Duration(cfg.MinIO.PresignHours)*time.Hour)
	searchService := service.NewTurnSearchService(es.ESClient, cfg.Elasticsearch.IndexName)
	adminService := service.NewAdminService(store, reaper, searchService, persister)

	var jwtManager *token.JWTManager
	if cfg.JWT.Secret != "" {
		jwtManager = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	reaper.Start(bgCtx)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), middleware.Metrics(), gin.Recovery())

	// 8. 注册路由
	chatHandler := handler.NewChatHandler(gatewayService)
	conversationHandler := handler.NewConversationHandler(conversationService)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"mysql": func(ctx context.Context) error {
			sqlDB, err := database.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return database.RDB.Ping(ctx).Err()
		},
	})

	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, false))
	{
		v1.POST("/chat/completions", chatHandler.Completions)
		v1.GET("/models", chatHandler.Models)
	}
	r.GET("/chat/ws", middleware.AuthMiddleware(jwtManager, false), chatHandler.HandleWebSocket)

	apiV1 := r.Group("/api/v1")
	{
		// 配置了 JWT 时会话接口必须认证，所有者取自 token
		sessions := apiV1.Group("/sessions")
		sessions.Use(middleware.AuthMiddleware(jwtManager, jwtManager != nil))
		{
			sessions.GET("", conversationHandler.ListSessions)
			sessions.GET("/:sessionId", conversationHandler.GetSession)
			sessions.GET("/:sessionId/transcript", conversationHandler.ExportTranscript)
		}

		if jwtManager != nil {
			adminHandler := handler.NewAdminHandler(adminService)
			admin := apiV1.Group("/admin")
			// 管理员路由组，需要同时通过认证和管理员授权两个中间件
			admin.Use(middleware.AuthMiddleware(jwtManager, true), middleware.AdminAuthMiddleware())
			{
				admin.GET("/sessions/stats", adminHandler.SessionStats)
				admin.POST("/sessions/reap", adminHandler.ReapSessions)
				admin.DELETE("/sessions/:sessionId/cache", adminHandler.EvictSessionCache)
				admin.GET("/turns/search", adminHandler.SearchTurns)
				admin.GET("/persistence", adminHandler.PersistenceStats)
			}
		} else {
			log.Warnf("未配置 jwt.secret，管理接口未注册")
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 先停止接收请求，再清空持久化队列
	reaper.Stop()
	persister.Stop(10 * time.Second)
	if err := kafka.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	_ = database.RDB.Close()
	database.Close()
	log.Info("服务已优雅关闭")
}
