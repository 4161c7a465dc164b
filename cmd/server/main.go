package main

import (
	"whatsapp-hub/internal/api"
	"whatsapp-hub/internal/broadcast"
	"whatsapp-hub/internal/config"
	"whatsapp-hub/internal/database"
	"whatsapp-hub/internal/ingest"
	"whatsapp-hub/internal/whatsapp"
	"whatsapp-hub/internal/ws"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	db, err := database.Init(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("database init failed")
	}

	hub := ws.NewHub()
	go hub.Run()

	gateway := whatsapp.NewGateway(db, cfg.GraphAPIBase)
	ingestor := ingest.NewService(db, hub, gateway, cfg.MediaDir)

	store := broadcast.NewStore(db)
	executor := broadcast.NewExecutor(db, store, gateway, hub)
	scheduler := broadcast.NewScheduler(store, executor, cfg.SchedulerInterval)
	scheduler.Start()
	defer scheduler.Stop()

	r := api.NewRouter(api.Deps{
		Config:   cfg,
		DB:       db,
		Hub:      hub,
		Gateway:  gateway,
		Ingestor: ingestor,
		Store:    store,
		Executor: executor,
	})

	log.WithField("port", cfg.Port).Info("server listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
