// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/page-forge/internal/config"
	"github.com/yourusername/page-forge/internal/convert"
	"github.com/yourusername/page-forge/internal/stream"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	router.Use(cors.New(corsConfig))

	// スケジューラ一式（ストレージ、ラスタライザ、ワーカー、Hub）の組み立て
	deps, err := setupScheduler(cfg, log.Default())
	if err != nil {
		log.Fatalf("Failed to set up scheduler: %v", err)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go deps.hub.Run(hubCtx)
	deps.manager.StartWorkers()

	// ルーティングの設定
	setupRoutes(router, cfg, deps, origins)

	// サーバーの起動とシグナルによる停止
	addr := ":" + cfg.Port
	server := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	stopHub()
	if err := deps.manager.Shutdown(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "page-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, deps *schedulerDeps, origins []string) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	// ローカルストレージのページ画像を配信（開発環境用）
	if deps.local != nil && strings.HasPrefix(cfg.FileBaseURL, "/") {
		router.Static(cfg.FileBaseURL, deps.local.Root())
	}

	wsHandler := stream.NewHandler(deps.hub, origins, log.Default())

	api := router.Group("/api")
	{
		conv := api.Group("/convert")
		{
			conv.GET("/queue/stats", convert.StatsHandler(deps.manager))
			conv.GET("/jobs/:jobId", convert.JobStatusHandler(deps.manager))

			conv.POST("/batch", convert.BatchSubmitHandler(deps.manager))
			conv.GET("/batch/:batchId", convert.BatchStatusHandler(deps.manager))
			conv.DELETE("/batch/:batchId", convert.BatchCancelHandler(deps.manager))

			conv.POST("/:documentId", convert.SubmitHandler(deps.manager))
			conv.GET("/:documentId/status", convert.DocumentStatusHandler(deps.manager))
			conv.GET("/:documentId/progress", wsHandler.Progress())
		}
	}
}
