package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/config"
	"github.com/pesio-ai/be-expense-approvals/internal/handler"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/pkg/auth"
	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
	"github.com/pesio-ai/be-expense-approvals/pkg/middleware"
)

// stores is one persistence backend.
type stores struct {
	workflows   service.WorkflowStore
	members     service.MemberStore
	delegations service.DelegationStore
	submissions service.SubmissionStore
	approvals   service.ApprovalStore
	close       func()
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	return database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn().Msg("Using the in-memory store; data is lost on restart")
		m := memory.New()
		if cfg.Store.SeedFile != "" {
			seed, err := memory.LoadSeed(cfg.Store.SeedFile)
			if err != nil {
				return nil, err
			}
			if err := m.Apply(seed); err != nil {
				return nil, fmt.Errorf("apply seed file %s: %w", cfg.Store.SeedFile, err)
			}
			log.Info().
				Str("seed_file", cfg.Store.SeedFile).
				Str("organization_id", seed.OrganizationID).
				Int("members", len(seed.Members)).
				Int("expenses", len(seed.Expenses)).
				Int("reports", len(seed.Reports)).
				Msg("Memory store seeded")
		} else {
			log.Warn().Msg("No seed file given; members and submissions must be loaded before submitting")
		}
		return &stores{
			workflows:   m.Workflows(),
			members:     m.Members(),
			delegations: m.Delegations(),
			submissions: m.Submissions(),
			approvals:   m.Approvals(),
			close:       func() {},
		}, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")
	return &stores{
		workflows:   repository.NewWorkflowRepository(db),
		members:     repository.NewMemberRepository(db),
		delegations: repository.NewDelegationRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		approvals:   repository.NewApprovalRepository(db),
		close:       db.Close,
	}, nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg)
	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Expense Approvals Service")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.close()

	// Notifications are optional; without NATS events are dropped.
	var publisher service.EventPublisher
	if cfg.NATS.Enabled {
		nc, err := client.Connect(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, notifications disabled")
		} else {
			defer nc.Drain()
			publisher = client.NewNotificationPublisher(nc, log.Component("notifications"))
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Initialize services
	selector := service.NewWorkflowSelector(st.workflows, log.Component("selector"))
	builder := service.NewChainBuilder(st.members, st.delegations, log.Component("chain"))
	approvals := service.NewApprovalService(
		st.approvals, st.submissions, st.members, st.delegations, st.workflows,
		selector, builder, publisher, log.Component("approvals"),
	)
	workflows := service.NewWorkflowService(st.workflows, st.members, log.Component("workflows"))
	delegations := service.NewDelegationService(st.delegations, st.members, log.Component("delegations"))
	payments := service.NewPaymentQueue(st.approvals, st.submissions, st.members, approvals, log.Component("payments"))

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	// Setup HTTP routes
	mux := http.NewServeMux()
	handler.NewHTTPHandler(approvals, workflows, delegations, payments, log).RegisterRoutes(mux)

	// Apply middleware
	var h http.Handler = mux
	h = verifier.Middleware("/health")(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.CORSOrigins)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(verifier.UnaryServerInterceptor()))
	handler.NewGRPCHandler(approvals, log).Register(grpcServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.IsDevelopment() {
		reflection.Register(grpcServer)
	}

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("listen on grpc port %d: %w", cfg.GRPC.Port, err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server failed, shutting down")
	case <-ctx.Done():
	}

	healthServer.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return runErr
}
