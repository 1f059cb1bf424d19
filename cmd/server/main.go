package main

import (
	"context"
	"log"
	"time"

	"tempo/backend/internal/catalog"
	"tempo/backend/internal/config"
	"tempo/backend/internal/db"
	"tempo/backend/internal/handler"
	"tempo/backend/internal/mirror"
	"tempo/backend/internal/repository"
	"tempo/backend/internal/router"
	"tempo/backend/internal/service"
)

func main() {
	cfg := config.Load()

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.MigrationsDir); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}

	userRepo := repository.NewUserRepository(database)
	kv := repository.NewKVRepository(database)

	settingsService := service.NewSettingsService(kv)
	ledgerService := service.NewLedgerService(kv, cat)
	pausedService := service.NewPausedService(kv)
	guidanceEngine := service.NewGuidanceEngine(cat)

	var cloud service.Mirror
	if cfg.MirrorBaseURL != "" {
		cloud = mirror.NewClient(cfg.MirrorBaseURL, cfg.MirrorToken)
	}
	reconciler := service.NewSyncReconciler(ledgerService, settingsService, guidanceEngine, cloud)

	flowService := service.NewFlowService(kv, cat, pausedService, settingsService, reconciler, ledgerService)
	workdayService := service.NewWorkdayService(cat, ledgerService, pausedService, settingsService, flowService, guidanceEngine, reconciler)
	authService := service.NewAuthService(userRepo, settingsService, cfg.JWTSecret, cfg.TokenTTL)

	authHandler := handler.NewAuthHandler(authService)
	workdayHandler := handler.NewWorkdayHandler(workdayService, flowService, pausedService, ledgerService, reconciler)
	syncHandler := handler.NewSyncHandler(reconciler, cfg.SyncToken)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for now := range ticker.C {
			flowService.Tick(context.Background(), now)
		}
	}()

	engine := router.New(authService, authHandler, workdayHandler, syncHandler, cfg.CORSOrigins)
	log.Printf("backend listening on :%s", cfg.Port)
	if err := engine.Run(":" + cfg.Port); err != nil {
		log.Fatalf("run server: %v", err)
	}
}
