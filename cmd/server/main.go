package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"record-sync-service/internal/api"
	"record-sync-service/internal/config"
	"record-sync-service/internal/database"
	"record-sync-service/internal/localstore"
	"record-sync-service/internal/logger"
	"record-sync-service/internal/network"
	"record-sync-service/internal/notify"
	"record-sync-service/internal/remote"
	"record-sync-service/internal/schema"
	"record-sync-service/internal/store"
	syncpkg "record-sync-service/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting record sync service")

	// Local durable store + audit store share one database
	db, err := database.Open(cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Failed to open local database", zap.Error(err))
	}
	defer db.Close()

	local, err := localstore.NewSQLStore(db)
	if err != nil {
		logger.Log.Fatal("Failed to init local store", zap.Error(err))
	}

	audit, err := store.NewSQLStore(db)
	if err != nil {
		logger.Log.Fatal("Failed to init audit store", zap.Error(err))
	}

	// Remote store adapter
	var remoteStore remote.Store
	switch cfg.Remote.Type {
	case "memory":
		remoteStore = remote.NewMemoryStore()
		logger.Log.Warn("Using in-memory remote store; nothing leaves this process")
	default:
		remoteStore, err = remote.DialWS(cfg.Remote)
		if err != nil {
			logger.Log.Fatal("Failed to connect to remote store", zap.Error(err))
		}
	}
	defer remoteStore.Close()

	// Network monitor
	monitor := network.NewMonitor(cfg.Network, nil)
	monitor.Start()
	defer monitor.Stop()

	// Sync engine
	engine := syncpkg.NewEngine(cfg.Sync, syncpkg.Deps{
		Registry: schema.Default(),
		Local:    local,
		Remote:   remoteStore,
		Audit:    audit,
		Network:  monitor,
		Notifier: notify.NewLogNotifier(),
	})
	defer engine.Stop()

	unsubscribe := monitor.Subscribe(engine.HandleNetworkEvent)
	defer unsubscribe()

	// Auto-sync scheduler
	scheduler := syncpkg.NewScheduler(cfg.Scheduler, engine)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP control API
	handler := api.NewHandler(engine, audit, monitor, cfg.Server)
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	_ = server.Close()
}
