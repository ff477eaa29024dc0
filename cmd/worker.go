package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vitacare/concierge/internal/agent"
	"github.com/vitacare/concierge/internal/booking"
	"github.com/vitacare/concierge/internal/clinic"
	"github.com/vitacare/concierge/internal/config"
	"github.com/vitacare/concierge/internal/cron"
	"github.com/vitacare/concierge/internal/debounce"
	"github.com/vitacare/concierge/internal/delivery"
	"github.com/vitacare/concierge/internal/events"
	"github.com/vitacare/concierge/internal/gate"
	"github.com/vitacare/concierge/internal/intake"
	"github.com/vitacare/concierge/internal/knowledge"
	"github.com/vitacare/concierge/internal/providers"
	"github.com/vitacare/concierge/internal/queue"
	"github.com/vitacare/concierge/internal/slots"
	"github.com/vitacare/concierge/internal/store/pg"
	"github.com/vitacare/concierge/internal/syncworker"
	"github.com/vitacare/concierge/internal/tools"
	"github.com/vitacare/concierge/internal/tracing"
	"github.com/vitacare/concierge/internal/transport"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the queue workers and scheduled sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()

	shutdownTracing, err := tracing.Setup(context.Background(), "concierge-worker", cfg.Tracing.OTLPEndpoint)
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
	publisher := events.NewPublisher(rdb, logger)
	admission := gate.New(rdb, cfg.Pipeline.RateLimitMax, cfg.Pipeline.RateLimitWindow)
	debouncer := debounce.New(rdb, jobs, cfg.Pipeline.DebounceWindow)

	clinicClient := clinic.New(cfg.Clinic, logger)
	aggregator := slots.NewAggregator(clinicClient.RealtimeSlots(), clinicClient.BatchSlots(), logger)
	kb := knowledge.NewBase(nil, stores.Knowledge)

	provider := providers.NewOpenAIProvider("openai", cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model)

	registry := tools.NewRegistry(logger)
	registry.Register(tools.NewCheckAvailabilityTool(aggregator, stores.Doctors))
	registry.Register(tools.NewBookAppointmentTool(stores.Appointments, stores.Patients, stores.Doctors, stores.Services, cfg.Clinic.Enabled))
	registry.Register(tools.NewCancelAppointmentTool(stores.Appointments))
	registry.Register(tools.NewPatientAppointmentsTool(stores.Appointments, stores.Doctors))
	registry.Register(tools.NewBookingLinkTool(stores.BookingLinks, stores.Services, cfg.Booking.BaseURL, cfg.Booking.LinkTTL))
	registry.Register(tools.NewKnowledgeTool(kb))
	registry.Register(tools.NewServicePriceTool(stores.Services))
	registry.Register(tools.NewInteractiveMessageTool())
	registry.Register(tools.NewEscalateTool())

	// Parts of the clinic integration stay off without credentials.
	var (
		telephony   intake.TelephonyAPI
		identifier  intake.Identifier
		examLookup  tools.ExamResultLookup
		confirmList cron.ConfirmationLister
	)
	if cfg.Clinic.Enabled {
		telephony = clinicClient
		identifier = clinicClient
		examLookup = clinicClient
		confirmList = clinicClient
	}
	registry.Register(tools.NewExamResultsTool(examLookup))

	var transcriber intake.Transcriber
	if cfg.Provider.APIKey != "" {
		transcriber = providers.NewWhisperTranscriber(cfg.Provider.APIKey, cfg.Provider.BaseURL)
	}

	bookingSvc := booking.NewService(stores, jobs, rdb, aggregator, booking.Config{
		ClinicName:       cfg.Booking.ClinicName,
		ClinicAddress:    cfg.Booking.ClinicAddress,
		StaffNotifyPhone: cfg.Booking.StaffNotifyPhone,
		ClinicEnabled:    cfg.Clinic.Enabled,
	}, logger)

	pipeline := agent.NewPipeline(provider, registry, stores, debouncer, jobs, kb, publisher, logger,
		agent.PromptConfig{
			ClinicName:    cfg.Booking.ClinicName,
			ClinicAddress: cfg.Booking.ClinicAddress,
			AgentName:     cfg.Pipeline.AgentName,
		},
		cfg.Pipeline.MaxIterations, cfg.Pipeline.FollowUpDelay)

	gateway := transport.NewGateway(cfg.Transport.BaseURL, cfg.Transport.Token,
		cfg.Transport.InstanceName, cfg.Transport.SendsPerSecond)
	deliverer := delivery.NewDeliverer(gateway, stores.Conversations, publisher, logger)

	inbound := intake.NewIntake(admission, stores, debouncer, jobs, rdb,
		telephony, identifier, transcriber, bookingSvc, publisher, logger)
	syncer := syncworker.NewWorker(stores, clinicClient, logger)
	handlers := cron.NewHandlers(stores, jobs, rdb, confirmList, cfg.Pipeline.FollowUpDelay, logger)

	workers := queue.NewWorkers(jobs, logger)
	workers.Register(queue.QueueIntake, 10, inbound.Handle)
	workers.Register(queue.QueuePipeline, 5, pipeline.Handle)
	workers.Register(queue.QueueSend, 10, deliverer.Handle)
	workers.Register(queue.QueueFollowUp, 3, handlers.HandleFollowUp)
	workers.Register(queue.QueueAnalytics, 1, handlers.HandleAnalytics)
	workers.Register(queue.QueueCleanup, 1, handlers.HandleCleanup)
	workers.Register(queue.QueueReminder, 2, handlers.HandleReminder)
	workers.Register(queue.QueueSync, 2, syncer.Handle)
	workers.Register(queue.QueueConfirmation, 2, handlers.HandleConfirmation)
	workers.Register(queue.QueueNPS, 2, handlers.HandleNPS)

	scheduler := cron.NewScheduler(logger)
	scheduler.Add("booking-cleanup", cron.ExprCleanup, handlers.SweepCleanup)
	scheduler.Add("appointment-reminders", cron.ExprReminders, handlers.SweepReminders)
	scheduler.Add("appointment-confirmations", cron.ExprConfirmations, handlers.SweepConfirmations)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)

	logger.Info("workers starting", "clinic_sync", cfg.Clinic.Enabled, "version", Version)
	workers.Run(ctx)
	logger.Info("workers stopped")
	return nil
}
