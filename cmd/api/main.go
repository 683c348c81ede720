// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/yourusername/fullstack-auth/internal/auth"
	"github.com/yourusername/fullstack-auth/internal/config"
	"github.com/yourusername/fullstack-auth/internal/user"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 構造化ロガーの初期化
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// ドキュメントストアへの接続
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("Failed to ping MongoDB", "error", err)
		os.Exit(1)
	}

	// email の一意インデックスを保証する（同時登録の競合はここで防がれる）
	users := user.NewMongoRepository(client.Database(cfg.MongoDatabase))
	if err := users.EnsureIndexes(ctx); err != nil {
		logger.Error("Failed to ensure indexes", "error", err)
		os.Exit(1)
	}

	// 認証コンポーネントの組み立て（明示的な配線のみ）
	hasher := auth.NewHasher()
	tokens := auth.NewTokenService([]byte(cfg.JWTSecret), cfg.TokenTTL)
	audit := auth.NewSlogSink(logger)
	service := auth.NewService(users, hasher, tokens, audit)

	var limiter auth.AttemptLimiter = auth.NopLimiter{}
	if cfg.LoginLimiterRedisURL != "" {
		opt, err := redis.ParseURL(cfg.LoginLimiterRedisURL)
		if err != nil {
			logger.Error("Failed to parse LOGIN_LIMITER_REDIS_URL", "error", err)
			os.Exit(1)
		}
		limiter = auth.NewRedisLimiter(redis.NewClient(opt))
	}

	handler := auth.NewHandler(service, limiter)

	// Ginルーターの初期化
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, handler, tokens)

	// サーバーの起動（リクエストタイムアウトはトランスポート層で担保する）
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("Starting API server", "addr", srv.Addr, "mode", cfg.GinMode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}

// handleRoot はAPIの案内を返すハンドラーです。
func handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     "Welcome to the Fullstack Auth App API!",
		"version":     "1.0.0",
		"description": "This API provides authentication and user management features for the Fullstack Auth App.",
	})
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "fullstack-auth-api",
		"version": "1.0.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, handler *auth.Handler, tokens *auth.TokenService) {
	router.GET("/", handleRoot)
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", handler.Register)
			authRoutes.POST("/login", handler.Login)

			protected := authRoutes.Group("")
			protected.Use(auth.RequireAuth(tokens))
			{
				protected.GET("/me", handler.Me)
			}
		}
	}
}
