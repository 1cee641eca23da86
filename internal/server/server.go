/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/api"
	"github.com/friendsincode/inkwell/internal/articles"
	"github.com/friendsincode/inkwell/internal/audit"
	"github.com/friendsincode/inkwell/internal/config"
	"github.com/friendsincode/inkwell/internal/db"
	"github.com/friendsincode/inkwell/internal/eventbus"
	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/publishing"
	"github.com/friendsincode/inkwell/internal/runlock"
	"github.com/friendsincode/inkwell/internal/scheduler"
	"github.com/friendsincode/inkwell/internal/telemetry"
	"github.com/friendsincode/inkwell/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	redis      *redis.Client
	bus        *events.Bus
	articles   *articles.Store
	publishing *publishing.Service
	processor  *scheduler.Processor
	trigger    *scheduler.Trigger
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service
	forwarder  *eventbus.Forwarder
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// Open connects the store and builds every service without starting
// background workers or the HTTP listener.
func Open(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(),
	}
	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}
	return srv, nil
}

// New constructs the server, wires dependencies and starts background workers.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	srv, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("inkwell-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))
	srv.router = router

	srv.configureRoutes()
	srv.StartBackground(cfg.TriggerEnabled)

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register db callbacks: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return err
	}

	if s.cfg.RunLockBackend == config.RunLockRedis || s.cfg.EventBus == config.EventBusRedis {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		client, err := eventbus.NewRedisClient(context.Background(), redisCfg)
		if err != nil {
			return err
		}
		s.redis = client
		s.DeferClose(client.Close)
	}

	var locker runlock.Locker
	switch s.cfg.RunLockBackend {
	case config.RunLockRedis:
		locker = runlock.NewRedis(s.redis, s.cfg.InstanceID)
	case config.RunLockDatabase:
		locker = runlock.NewDatabase(database, s.cfg.InstanceID, s.logger)
	default:
		s.logger.Warn().Msg("using in-process run lock; do not run more than one instance")
		locker = runlock.NewLocal()
	}

	s.articles = articles.NewStore(database, s.logger)
	s.publishing = publishing.NewService(database, s.articles, s.bus, s.cfg.Location, s.logger)
	s.processor = scheduler.NewProcessor(database, s.articles, locker, s.bus, s.cfg.Location, s.logger)
	s.processor.SetLockTTL(s.cfg.RunLockTTL)

	if s.cfg.TriggerEnabled {
		trigger, err := scheduler.NewTrigger(s.processor, s.cfg.TriggerSpec, s.cfg.Location, s.logger)
		if err != nil {
			return err
		}
		s.trigger = trigger
	}

	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	s.webhookSvc = webhooks.NewService(database, s.bus, s.logger)

	switch s.cfg.EventBus {
	case config.EventBusRedis:
		s.forwarder = eventbus.NewRedisForwarder(s.redis, s.bus, s.cfg.InstanceID, s.logger)
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		conn, err := eventbus.ConnectNATS(natsCfg, s.logger)
		if err != nil {
			return err
		}
		s.forwarder = eventbus.NewNATSForwarder(conn, s.bus, s.cfg.InstanceID, s.logger)
	}

	s.api = api.New(s.publishing, s.processor, s.articles, s.auditSvc, s.webhookSvc, []byte(s.cfg.JWTSigningKey), s.logger)

	s.logger.Info().
		Str("db_backend", string(s.cfg.DBBackend)).
		Str("run_lock", string(s.cfg.RunLockBackend)).
		Str("event_bus", string(s.cfg.EventBus)).
		Str("timezone", s.cfg.Location.String()).
		Msg("dependencies ready")

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Processor returns the batch processor.
func (s *Server) Processor() *scheduler.Processor {
	return s.processor
}

// Publishing returns the scheduling service.
func (s *Server) Publishing() *publishing.Service {
	return s.publishing
}

// Articles returns the article store.
func (s *Server) Articles() *articles.Store {
	return s.articles
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// StartBackground starts the audit, webhook and forwarding workers, plus the
// cron trigger when withTrigger is set. It returns once the workers are
// subscribed, so events published afterwards are not missed.
func (s *Server) StartBackground(withTrigger bool) {
	if s.bgCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.goWorker(func() { s.auditSvc.Start(ctx) })
	s.goWorker(func() { s.webhookSvc.Start(ctx) })
	<-s.auditSvc.Ready()
	<-s.webhookSvc.Ready()
	if s.forwarder != nil {
		s.goWorker(func() { s.forwarder.Run(ctx) })
		<-s.forwarder.Ready()
	}

	if withTrigger && s.trigger != nil {
		s.goWorker(func() {
			if err := s.trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("trigger exited")
			}
		})
	}

	// Database metrics updater
	s.goWorker(func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	})
}

func (s *Server) goWorker(fn func()) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		fn()
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = "unreachable"
	}
	if s.trigger != nil {
		body["next_pass"] = s.trigger.Next(time.Now()).UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
