package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"nftreserve/auth"
	"nftreserve/chainrpc"
	"nftreserve/config"
	"nftreserve/mint"
	"nftreserve/models"
	"nftreserve/observability"
	"nftreserve/observability/logging"
	"nftreserve/recon"
	"nftreserve/reservation"
	"nftreserve/server"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup(logging.Options{
		Service:    "reserved",
		Env:        cfg.Environment,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	metrics := observability.NewMetrics("reserve")

	verifier, err := auth.NewVerifier(cfg.AuthPublicKeys, cfg.DebugIgnoreSig)
	if err != nil {
		log.Fatalf("verifier error: %v", err)
	}
	if cfg.DebugIgnoreSig {
		logger.Warn("signature verification is DISABLED, do not run this in production")
	}

	var signer *auth.Signer
	if cfg.SigningKey != "" {
		if signer, err = auth.NewSignerFromHex(cfg.SigningKey); err != nil {
			log.Fatalf("signer error: %v", err)
		}
	} else {
		logger.Warn("RESERVATION_SIGNING_KEY not set, mint metadata will be unsigned")
	}

	engine := reservation.New(reservation.Config{DB: db, Logger: logger, Metrics: metrics})
	tracker := mint.New(mint.Config{DB: db, Logger: logger, Metrics: metrics})

	srv := server.New(server.Config{
		Engine:                 engine,
		Tracker:                tracker,
		Verifier:               verifier,
		Signer:                 signer,
		Metrics:                metrics,
		Logger:                 logger,
		MaxReservations:        cfg.MaxReservations,
		MaxReservationDuration: cfg.MaxReservationDuration,
		AllowedOrigins:         cfg.AllowedOrigins,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LCDURL != "" {
		chainClient := chainrpc.NewClient(chainrpc.Config{
			URL:      cfg.LCDURL,
			ChainID:  cfg.ChainID,
			Contract: cfg.NFTContract,
		})
		poller, err := recon.NewPoller(recon.PollerConfig{
			Tracker:  tracker,
			Source:   chainClient,
			Interval: cfg.ReconInterval,
			Logger:   logger,
		})
		if err != nil {
			log.Fatalf("poller init error: %v", err)
		}
		go poller.Start(ctx)
	} else {
		logger.Warn("LCD_URL not set, transaction reconciliation disabled")
	}

	reporter, err := recon.NewReporter(recon.ReporterConfig{
		DB:        db,
		OutputDir: cfg.ReportDir,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("reporter init error: %v", err)
	}
	scheduler := recon.NewScheduler(recon.SchedulerConfig{
		Reporter:  reporter,
		RunHour:   cfg.ReportHour,
		RunMinute: cfg.ReportMinute,
		Logger:    logger,
	})
	go scheduler.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("reservation service listening", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
