package main

import (
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/page-forge/internal/config"
	"github.com/yourusername/page-forge/internal/convert"
	"github.com/yourusername/page-forge/internal/jobs"
	"github.com/yourusername/page-forge/internal/raster"
	"github.com/yourusername/page-forge/internal/storage"
)

// schedulerDeps はスケジューラを構成するコンポーネント一式です。
type schedulerDeps struct {
	manager *convert.Manager
	hub     *convert.Hub
	local   *storage.Local
}

// setupScheduler はストレージ・ラスタライザ・ジョブストア・Hub・Managerを組み立てます。
// REDIS_URL が空の場合はインメモリ実装にフォールバックします（開発環境用）。
func setupScheduler(cfg *config.Config, logger *log.Logger) (*schedulerDeps, error) {
	local, err := storage.NewLocal(cfg.StorageDir, cfg.FileBaseURL)
	if err != nil {
		return nil, err
	}

	rasterSvc, err := raster.NewService(local, raster.Options{
		Quality:       cfg.ImageQuality,
		MaxSourceSize: cfg.MaxSourceSize,
		MaxPages:      cfg.MaxPages,
	}, logger)
	if err != nil {
		return nil, err
	}

	retention := time.Duration(cfg.JobRetentionMinutes) * time.Minute

	var (
		jobStore convert.JobStore
		cache    convert.Cache
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisClient := redis.NewClient(opt)
		jobStore = jobs.NewStore(redisClient, retention)
		cache = jobs.NewCache(redisClient)
	} else {
		logger.Println("REDIS_URL is empty, falling back to in-memory job store and cache")
		jobStore = convert.NewMemoryJobStore(retention)
		cache = convert.NewMemoryCache()
	}

	hub := convert.NewHub(
		time.Duration(cfg.PingIntervalSeconds)*time.Second,
		time.Duration(cfg.StaleTimeoutSeconds)*time.Second,
		logger,
	)

	manager, err := convert.NewManager(convert.Options{
		Workers:            cfg.WorkerCount,
		ConvertTimeout:     time.Duration(cfg.ConvertTimeoutSeconds) * time.Second,
		MaxBatchSize:       cfg.MaxBatchSize,
		MaxBatchConcurrent: cfg.MaxBatchConcurrent,
		Inspector:          rasterSvc,
	}, rasterSvc, cache, jobStore, hub, logger)
	if err != nil {
		return nil, err
	}

	return &schedulerDeps{manager: manager, hub: hub, local: local}, nil
}
