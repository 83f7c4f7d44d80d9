// Package scheduling exposes the clinic's appointment, queue and check-in
// operations over HTTP
package scheduling

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/appointments"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/availability"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/checkin"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/queue"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/config"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Dependencies are the backends a Service runs on. Bootstrap builds them
// from configuration; tests supply in-memory ones.
type Dependencies struct {
	Store     interfaces.UnitOfWork
	Directory interfaces.Directory
	// Slots defaults to a generator over Store
	Slots    interfaces.SlotSource
	Notifier appointments.Notifier
	Metrics  *monitoring.MetricsCollector
	Health   *monitoring.HealthManager
	Tracing  *monitoring.TracingManager
	// Now overrides the clock
	Now func() time.Time
	// closers run on Shutdown in reverse order
	closers []func(context.Context) error
}

// Service is the scheduling HTTP service
type Service struct {
	config    *config.Config
	logger    *logger.Logger
	metrics   *monitoring.MetricsCollector
	health    *monitoring.HealthManager
	validate  *validator.Validate
	ledger    *appointments.Ledger
	schedules *availability.Service
	queues    *queue.Service
	checkin   *checkin.Coordinator
	router    *mux.Router
	server    *http.Server
	closers   []func(context.Context) error
}

// New assembles the service from its dependencies
func New(cfg *config.Config, deps *Dependencies, log *logger.Logger) *Service {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector(serviceName)
	}
	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthManager(serviceName, Version)
	}
	slotSource := deps.Slots
	if slotSource == nil {
		slotSource = newSlotGenerator(deps.Store, cfg)
	}

	sc := cfg.Scheduling
	loc := sc.Location()

	invalidator, _ := slotSource.(interfaces.SlotInvalidator)

	s := &Service{
		config:   cfg,
		logger:   log,
		metrics:  metrics,
		health:   health,
		validate: validator.New(),
		ledger: appointments.NewLedger(deps.Store, deps.Directory, slotSource, deps.Notifier, appointments.Config{
			MaxDailyAppointments: sc.MaxDailyAppointments,
			Location:             loc,
			Now:                  deps.Now,
		}, log, metrics),
		schedules: availability.NewService(deps.Store, deps.Directory, sc.DefaultSlotDurationMinutes, log, metrics),
		queues: queue.NewService(deps.Store, deps.Directory, queue.Config{
			WaitMinutesPerPosition: sc.QueueWaitMinutesPerPosition,
			Location:               loc,
			Now:                    deps.Now,
			Slots:                  invalidator,
		}, log, metrics),
		closers: deps.closers,
	}
	s.checkin = checkin.NewCoordinator(deps.Store, deps.Directory, s.queues, log, metrics)

	s.router = mux.NewRouter()
	s.router.Use(monitoring.NewMonitoringMiddleware(metrics, deps.Tracing, log).HTTPMiddleware)
	s.setupRoutes(s.router)

	return s
}

// Handler returns the service's HTTP handler
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start starts the scheduling service HTTP server and blocks until it stops
func (s *Service) Start() error {
	srv := s.config.Server
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", srv.Host, srv.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(srv.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(srv.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(srv.IdleTimeout) * time.Second,
	}

	s.logger.Infof("Starting Scheduling Service on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the backends
func (s *Service) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.server != nil {
		s.logger.Info("Stopping Scheduling Service")
		firstErr = s.server.Shutdown(ctx)
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to release backend")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
