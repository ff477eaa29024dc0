package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vitacare/concierge/internal/booking"
	"github.com/vitacare/concierge/internal/clinic"
	"github.com/vitacare/concierge/internal/config"
	"github.com/vitacare/concierge/internal/httpapi"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/slots"
	"github.com/vitacare/concierge/internal/store/pg"
	"github.com/vitacare/concierge/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (webhook and booking page)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()

	shutdownTracing, err := tracing.Setup(context.Background(), "concierge-api", cfg.Tracing.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := pg.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	stores := pg.NewStores(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	jobs := queue.NewClient(rdb)

	clinicClient := clinic.New(cfg.Clinic, logger)
	aggregator := slots.NewAggregator(clinicClient.RealtimeSlots(), clinicClient.BatchSlots(), logger)
	bookingSvc := booking.NewService(stores, jobs, rdb, aggregator, booking.Config{
		ClinicName:       cfg.Booking.ClinicName,
		ClinicAddress:    cfg.Booking.ClinicAddress,
		StaffNotifyPhone: cfg.Booking.StaffNotifyPhone,
		ClinicEnabled:    cfg.Clinic.Enabled,
	}, logger)

	api := httpapi.NewServer(jobs, bookingSvc, cfg.Transport.Token, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Address, "version", Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	logger.Info("http server stopped")
	return nil
}
