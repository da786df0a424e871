package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sahilchouksey/upsc-prep-api/api"
	"github.com/sahilchouksey/upsc-prep-api/config"
	"github.com/sahilchouksey/upsc-prep-api/database"
	"github.com/sahilchouksey/upsc-prep-api/router"
	"github.com/sahilchouksey/upsc-prep-api/services"
	"github.com/sahilchouksey/upsc-prep-api/services/cron"
	"github.com/sahilchouksey/upsc-prep-api/services/digitalocean"
	"github.com/sahilchouksey/upsc-prep-api/utils/cache"
	"github.com/sahilchouksey/upsc-prep-api/utils/logger"
	"github.com/sahilchouksey/upsc-prep-api/utils/metrics"
	"github.com/sahilchouksey/upsc-prep-api/utils/pdfvalidation"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func SetupAndRunServer() error {
	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	log := logger.Init(getEnv.LOG_LEVEL, getEnv.LOG_FILE)
	defer logger.Sync()
	metrics.Init()

	parserCfg, err := getEnv.ParserOptions()
	if err != nil {
		return fmt.Errorf("invalid parser configuration: %w", err)
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		log.Error("check whether Postgres is running (make docker-up or make db-up)")
		return err
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Error("failed to run migrations", zap.Error(err))
		return err
	}

	// Redis is optional: without it there is no live progress, result
	// cache, token revocation or upload quota.
	var redisCache *cache.RedisCache
	if getEnv.REDIS_URL != "" {
		redisCache, err = cache.NewRedisCache(getEnv.REDIS_URL)
		if err != nil {
			log.Warn("failed to connect to Redis, continuing without it", zap.Error(err))
			redisCache = nil
		} else {
			defer redisCache.Close()
		}
	}

	// Spaces is optional: without it imports cannot be reparsed.
	var spaces *digitalocean.SpacesClient
	spacesCfg := digitalocean.SpacesConfig{
		AccessKey: getEnv.DO_SPACES_KEY,
		SecretKey: getEnv.DO_SPACES_SECRET,
		Bucket:    getEnv.DO_SPACES_BUCKET,
		Region:    getEnv.DO_SPACES_REGION,
		Endpoint:  getEnv.DO_SPACES_ENDPOINT,
	}
	if spacesCfg.IsConfigured() {
		spaces, err = digitalocean.NewSpacesClient(spacesCfg)
		if err != nil {
			log.Warn("failed to create Spaces client, PDFs will not be archived", zap.Error(err))
			spaces = nil
		}
	}

	// Interfaces must stay nil, not hold a nil pointer
	var archive services.PDFArchive
	if spaces != nil {
		archive = spaces
	}
	var results services.ResultCache
	var jobs services.JobStore
	if redisCache != nil {
		results = redisCache
		jobs = redisCache
	}

	importService, err := services.NewImportService(store, archive, results, services.NewImportJobTracker(jobs), services.ImportServiceConfig{
		Parser:          parserCfg,
		QuestionLimits:  pdfvalidation.QuestionPaperLimits.WithMax(getEnv.IMPORT_MAX_FILE_MB, getEnv.IMPORT_MAX_PAGES),
		AnswerKeyLimits: pdfvalidation.AnswerKeyLimits,
		ResultTTL:       time.Duration(getEnv.RESULT_CACHE_TTL_HOURS) * time.Hour,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	// Initialize Cron Manager (enabled unless CRON_ENABLED=false)
	var cronManager *cron.CronManager
	if getEnv.CRON_ENABLED {
		cronManager = cron.NewCronManager(store, importService, cron.Config{
			StaleAfter: time.Duration(getEnv.IMPORT_STALE_AFTER_MIN) * time.Minute,
			Retention:  time.Duration(getEnv.IMPORT_RETENTION_DAYS) * 24 * time.Hour,
		}, log)
		if err := cronManager.Start(); err != nil {
			// Don't fail the app, just log the warning
			log.Warn("failed to start cron jobs", zap.Error(err))
			cronManager = nil
		}
	}

	// Init API; the body carries a paper and a key
	bodyLimitMB := getEnv.IMPORT_MAX_FILE_MB + pdfvalidation.AnswerKeyLimits.MaxFileSizeMB + 1
	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT), bodyLimitMB)
	if err := router.SetupRoutes(server.GetEngine(), router.Dependencies{
		Env:     getEnv,
		Store:   store,
		Imports: importService,
		Redis:   redisCache,
		Spaces:  spaces,
	}); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if cronManager != nil {
		cronManager.Stop()
	}
	if err := importService.Shutdown(ctx); err != nil {
		log.Warn("background imports cancelled", zap.Error(err))
	}
	return nil
}
