// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ragdesk-go/internal/chunker"
	"ragdesk-go/internal/config"
	"ragdesk-go/internal/gateway"
	"ragdesk-go/internal/handler"
	"ragdesk-go/internal/middleware"
	"ragdesk-go/internal/model"
	"ragdesk-go/internal/pipeline"
	"ragdesk-go/internal/repository"
	"ragdesk-go/internal/service"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/database"
	"ragdesk-go/pkg/embedding"
	"ragdesk-go/pkg/es"
	"ragdesk-go/pkg/kafka"
	"ragdesk-go/pkg/llm"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/storage"
	"ragdesk-go/pkg/tika"
	"ragdesk-go/pkg/token"
	"ragdesk-go/pkg/transcript"
	"ragdesk-go/pkg/webpage"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 初始化 MySQL、Redis、MinIO、Elasticsearch、Kafka
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	if cfg.Database.MySQL.AutoMigrate {
		if err := database.AutoMigrate(db,
			&model.Document{}, &model.DocumentChunk{}, &model.Conversation{},
			&model.DataSubjectRequest{}, &model.AuditEntry{}, &model.ConsentRecord{},
			&model.UserProfile{}, &model.SearchHistory{},
		); err != nil {
			log.Fatal("数据库迁移失败", err)
		}
	}
	rdb, err := database.NewRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	objects, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}
	vectorStore := es.NewStore(esClient, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions)
	if err := vectorStore.EnsureIndex(ctx); err != nil {
		log.Fatal("Elasticsearch 索引初始化失败", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	documentRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	conversationRepo := repository.NewConversationRepository(db, rdb)
	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	consentRepo := repository.NewConsentRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	searchHistoryRepo := repository.NewSearchHistoryRepository(db)
	locker := repository.NewDedupLocker(rdb, 0)

	// 5. 初始化外部客户端和 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret)
	tikaClient := tika.NewClient(cfg.Tika)
	transcriptClient := transcript.NewClient(cfg.Transcript)
	fetcher := webpage.NewFetcher(cfg.WebFetch)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	gw := gateway.New(embeddingClient, vectorStore, gateway.Options{
		BatchSize:  cfg.Embedding.BatchSize,
		BatchDelay: time.Duration(cfg.Embedding.BatchDelayMS) * time.Millisecond,
		Dimensions: cfg.Embedding.Dimensions,
	})
	plan, err := chunker.NewPlan(cfg.Chunking.Mode, cfg.Chunking.ChunkSize, cfg.Chunking.Overlap, cfg.Chunking.MaxChunks, cfg.Chunking.ParagraphMaxSize)
	if err != nil {
		log.Fatal("切块配置无效", err)
	}

	profileService := service.NewProfileService(profileRepo)
	documentService := service.NewDocumentService(documentRepo, chunkRepo, locker, objects, producer, vectorStore)
	searchService := service.NewSearchService(gw, documentRepo, searchHistoryRepo, cfg.Search)
	chatService := service.NewChatService(searchService, llmClient, conversationRepo, cfg.LLM.Prompt, cfg.Search.ChatContextLimit)
	conversationService := service.NewConversationService(conversationRepo)
	consentService := service.NewConsentService(consentRepo, auditRepo)
	exporter := service.NewSubjectExporter(profileRepo, consentRepo, documentRepo, conversationRepo, searchHistoryRepo, requestRepo)
	collections := service.CascadeCollections(searchHistoryRepo, conversationRepo, vectorStore, chunkRepo, documentRepo, objects, consentRepo, profileRepo)
	privacyService := service.NewPrivacyService(requestRepo, auditRepo, objects, exporter, collections, cfg.Privacy)

	// 6. 初始化文档处理管道并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(pipeline.Deps{
		Documents:   documentRepo,
		Chunks:      chunkRepo,
		Objects:     objects,
		Extractor:   tikaClient,
		Transcripts: transcriptClient,
		Pages:       fetcher,
		Embedder:    gw,
		Vectors:     vectorStore,
	}, plan, cfg.Embedding.Model)
	consumer := kafka.NewConsumer(cfg.Kafka, processor, kafka.NewRedisAttempts(rdb))
	go consumer.Run(ctx)

	// 6.1 导入初始化目录中的文件，已导入的跳过
	go importSeedFiles(ctx, cfg.Server.SeedDir, cfg.Server.SeedUserID, documentService)

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	documentHandler := handler.NewDocumentHandler(documentService, cfg.Chunking)
	searchHandler := handler.NewSearchHandler(searchService)
	privacyHandler := handler.NewPrivacyHandler(privacyService, consentService)
	chatHandler := handler.NewChatHandler(chatService, profileService, jwtManager)
	conversationHandler := handler.NewConversationHandler(conversationService)
	authed := middleware.AuthMiddleware(jwtManager, profileService)

	apiV1 := r.Group("/api/v1")
	{
		documents := apiV1.Group("/documents", authed)
		{
			documents.POST("/normalize", documentHandler.Normalize)
			documents.POST("/upload", documentHandler.Upload)
			documents.POST("/url", documentHandler.SubmitURL)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.GET("/:id/chunks", documentHandler.Chunks)
			documents.GET("/:id/download", documentHandler.Download)
			documents.DELETE("/:id", documentHandler.Delete)
		}
		apiV1.POST("/chunking/preview", authed, documentHandler.PreviewChunks)
		apiV1.GET("/search", authed, searchHandler.Search)
		apiV1.GET("/conversations", authed, conversationHandler.List)
		apiV1.GET("/conversations/current", authed, conversationHandler.Current)

		privacyGroup := apiV1.Group("/privacy", authed)
		{
			privacyGroup.POST("/requests", privacyHandler.Submit)
			privacyGroup.GET("/requests", privacyHandler.ListOwn)
			privacyGroup.POST("/requests/:id/cancel", privacyHandler.CancelOwn)
			privacyGroup.POST("/consents", privacyHandler.RecordConsent)
			privacyGroup.GET("/consents", privacyHandler.CurrentConsents)
			privacyGroup.GET("/consents/history", privacyHandler.ConsentHistory)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin", authed, middleware.AdminAuthMiddleware())
		{
			admin.GET("/privacy/requests", privacyHandler.AdminList)
			admin.GET("/privacy/requests/:id", privacyHandler.AdminGet)
			admin.POST("/privacy/requests/:id/process", privacyHandler.AdminProcess)
			admin.GET("/privacy/requests/:id/audit", privacyHandler.AdminAudit)
			admin.GET("/privacy/subjects/:subjectId/export-preview", privacyHandler.AdminExportPreview)
		}
	}
	// WebSocket 聊天，token 在路径中
	r.GET("/chat/:token", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停止消费者和初始化导入
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// importSeedFiles 把目录下的文件按正常上传流程导入，内容重复的文件跳过。
func importSeedFiles(ctx context.Context, dir string, ownerID uint, docs service.DocumentService) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("importSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := os.Open(path)
		if err != nil {
			log.Warnf("importSeedFiles: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		doc, err := docs.IngestFile(ctx, ownerID, info.Name(), f)
		switch {
		case errors.Is(err, apperr.ErrDuplicate):
			log.Infof("importSeedFiles: 已存在，跳过: %s", info.Name())
		case err != nil:
			log.Warnf("importSeedFiles: 导入失败: %s, err=%v", path, err)
		default:
			log.Infof("importSeedFiles: 已提交处理: %s (document=%d)", info.Name(), doc.ID)
		}
		return nil
	})
	if walkErr != nil {
		log.Warnf("importSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}
