package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freight-chat/config"
	"freight-chat/internal/handler"
	"freight-chat/internal/model"
	"freight-chat/internal/repository"
	"freight-chat/internal/service"
	dbPkg "freight-chat/pkg/db"
	"freight-chat/pkg/jwt"
	"freight-chat/pkg/logger"
	"freight-chat/pkg/metrics"
	redisPkg "freight-chat/pkg/redis"
	"freight-chat/pkg/response"
	"freight-chat/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== 货运聊天服务启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("database_name", cfg.Database.Database),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Duration("jwt_expire_time", cfg.JWT.ExpireTime),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	conn, err := dbPkg.InitDB(cfg.Database)
	if err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	models := model.All()
	migrate := make([]interface{}, len(models))
	for i, m := range models {
		migrate[i] = m
	}
	if err := dbPkg.AutoMigrate(conn, migrate...); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 3.2 Redis（可选）：在线状态镜像
	var presence websocket.PresenceStore
	if cfg.Redis.Enabled {
		if err := redisPkg.InitRedis(context.Background(), cfg.Redis); err != nil {
			log.Fatal("Redis连接失败", zap.Error(err))
		}
		defer redisPkg.Close()
		presence = redisPkg.NewPresence(redisPkg.GetClient(), 0)
		log.Info("Redis连接成功")
	}

	// 3.3 初始化业务组件
	jwtSvc := jwt.NewJWTService(cfg.JWT)
	repo := repository.NewCollectionRepository(conn, models...)
	manager := websocket.NewManager(presence, log)
	chatSvc := service.New(repo, service.Options{
		Realtime: websocket.NewRoomBroadcaster(manager, "system"),
		Logger:   log,
	})
	wsHandler := websocket.NewHandler(manager, jwtSvc, cfg.WebSocket, chatSvc, log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Reconcile.Schedule != "" {
		reconciler, err := service.NewReconciler(chatSvc, cfg.Reconcile.Schedule, cfg.Reconcile.BatchSize)
		if err != nil {
			log.Fatal("会话校验配置错误", zap.Error(err))
		}
		reconciler.Start(ctx)
	}

	// 4. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 5. 创建Gin路由
	router := gin.New()
	router.Use(logger.RequestLogger())
	router.Use(logger.ErrorLoggerMiddleware())

	// 6. 基础路由
	setupBasicRoutes(router, cfg)

	// 6.1 认证、集合与文件接口
	handler.Mount(router, handler.Deps{
		DB:        conn,
		Store:     repo,
		JWT:       jwtSvc,
		UploadDir: cfg.Server.UploadDir,
	})

	// WebSocket路由
	router.GET("/ws", wsHandler.ServeWS)

	// 7. 创建HTTP服务器
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 8. 启动HTTP服务器
	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}

// setupBasicRoutes 健康检查与指标
func setupBasicRoutes(router *gin.Engine, cfg *config.Config) {
	// 完整url为：http://localhost:8080/health
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		checks := gin.H{"database": "ok"}
		if err := dbPkg.HealthCheck(); err != nil {
			status = "degraded"
			checks["database"] = err.Error()
		}
		if cfg.Redis.Enabled {
			checks["redis"] = "ok"
			if err := redisPkg.HealthCheck(c.Request.Context()); err != nil {
				status = "degraded"
				checks["redis"] = err.Error()
			}
		}
		response.Success(c, gin.H{
			"status": status,
			"checks": checks,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}
