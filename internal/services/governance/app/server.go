// Package server wires the governance service: storage, vault, ledger,
// guard, moderator, recorder, and gateway, hosted behind a gRPC process
// with health checking. The governance API itself is consumed as a
// library through Gateway.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/brightward/brightward/internal/platform/config"
	"github.com/brightward/brightward/internal/platform/logging"
	"github.com/brightward/brightward/internal/platform/timeouts"
	"github.com/brightward/brightward/internal/services/governance/audit"
	"github.com/brightward/brightward/internal/services/governance/budget"
	"github.com/brightward/brightward/internal/services/governance/gateway"
	"github.com/brightward/brightward/internal/services/governance/moderation"
	"github.com/brightward/brightward/internal/services/governance/secret"
	"github.com/brightward/brightward/internal/services/governance/session"
	govsqlite "github.com/brightward/brightward/internal/services/governance/storage/sqlite"
)

// serverEnv holds env-parsed configuration for the governance server.
type serverEnv struct {
	DBPath    string `env:"BRIGHTWARD_GOVERNANCE_DB_PATH"`
	MasterKey string `env:"BRIGHTWARD_GOVERNANCE_MASTER_KEY"`

	DailyBudget string `env:"BRIGHTWARD_GOVERNANCE_DAILY_BUDGET" envDefault:"0.08"`

	SessionIdleTimeout     time.Duration `env:"BRIGHTWARD_GOVERNANCE_SESSION_IDLE_TIMEOUT" envDefault:"15m"`
	SessionAbsoluteTimeout time.Duration `env:"BRIGHTWARD_GOVERNANCE_SESSION_ABSOLUTE_TIMEOUT" envDefault:"1h"`
	MaxFailedAttempts      int64         `env:"BRIGHTWARD_GOVERNANCE_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	AttemptWindow          time.Duration `env:"BRIGHTWARD_GOVERNANCE_ATTEMPT_WINDOW" envDefault:"15m"`
	LockoutCooldown        time.Duration `env:"BRIGHTWARD_GOVERNANCE_LOCKOUT_COOLDOWN" envDefault:"30m"`

	ProhibitedTerms       []string `env:"BRIGHTWARD_GOVERNANCE_PROHIBITED_TERMS"`
	EducationalVocabulary []string `env:"BRIGHTWARD_GOVERNANCE_EDUCATIONAL_VOCABULARY"`
	MinPedagogyLength     int      `env:"BRIGHTWARD_GOVERNANCE_MIN_PEDAGOGY_LENGTH" envDefault:"20"`

	JanitorInterval time.Duration `env:"BRIGHTWARD_GOVERNANCE_JANITOR_INTERVAL" envDefault:"30s"`
}

func loadServerEnv() (serverEnv, error) {
	var cfg serverEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return serverEnv{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "governance.db")
	}
	return cfg, nil
}

// sessionPolicyFromEnv builds the guard policy from configuration.
func sessionPolicyFromEnv(cfg serverEnv) session.Policy {
	return session.Policy{
		IdleTimeout:       cfg.SessionIdleTimeout,
		AbsoluteTimeout:   cfg.SessionAbsoluteTimeout,
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		AttemptWindow:     cfg.AttemptWindow,
		LockoutCooldown:   cfg.LockoutCooldown,
	}
}

// moderationPolicyFromEnv extends the default policy with
// operator-supplied terms.
func moderationPolicyFromEnv(cfg serverEnv) moderation.Policy {
	policy := moderation.DefaultPolicy()
	for _, term := range cfg.ProhibitedTerms {
		if term = strings.TrimSpace(term); term != "" {
			policy.ProhibitedTerms[moderation.CategoryCustom] = append(policy.ProhibitedTerms[moderation.CategoryCustom], term)
		}
	}
	for _, term := range cfg.EducationalVocabulary {
		if term = strings.TrimSpace(term); term != "" {
			policy.EducationalVocabulary = append(policy.EducationalVocabulary, term)
		}
	}
	policy.MinPedagogyLength = cfg.MinPedagogyLength
	return policy
}

func decodeBase64Key(value string) ([]byte, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

// Server hosts the governance service.
type Server struct {
	listener        net.Listener
	grpcServer      *grpc.Server
	health          *health.Server
	store           *govsqlite.Store
	gateway         *gateway.Gateway
	guard           *session.Guard
	recorder        *audit.Recorder
	janitorInterval time.Duration
	closeOnce       sync.Once
}

// New creates a configured governance server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured governance server listening on the
// provided address.
func NewWithAddr(addr string) (*Server, error) {
	srvEnv, err := loadServerEnv()
	if err != nil {
		return nil, fmt.Errorf("load server env: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	server, err := build(srvEnv, listener)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	return server, nil
}

func build(srvEnv serverEnv, listener net.Listener) (*Server, error) {
	store, err := govsqlite.Open(srvEnv.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open governance store: %w", err)
	}

	masterKey := strings.TrimSpace(srvEnv.MasterKey)
	if masterKey == "" {
		_ = store.Close()
		// Refuse startup when key material is missing so the audit
		// trail is never written unencrypted.
		return nil, errors.New("BRIGHTWARD_GOVERNANCE_MASTER_KEY is required")
	}
	keyBytes, err := decodeBase64Key(masterKey)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("decode master key: %w", err)
	}

	vault, err := secret.NewVault(store, keyBytes)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build vault: %w", err)
	}
	if err := ensureAuditKey(vault); err != nil {
		_ = store.Close()
		return nil, err
	}

	recorder, err := audit.NewRecorder(store, vault)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build audit recorder: %w", err)
	}

	limit, err := budget.ParseAmount(srvEnv.DailyBudget)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("parse daily budget: %w", err)
	}
	ledger, err := budget.NewLedger(store, limit)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build cost ledger: %w", err)
	}

	tokens, err := session.LoadTokenConfigFromEnv(nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load session token config: %w", err)
	}
	guard, err := session.NewGuard(store, store, tokens, sessionPolicyFromEnv(srvEnv))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build session guard: %w", err)
	}

	moderator, err := moderation.NewModerator(moderationPolicyFromEnv(srvEnv))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build moderator: %w", err)
	}

	logger := logging.New("governance")
	gw, err := gateway.NewGateway(guard, ledger, moderator, recorder, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(statusUnaryInterceptor),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:        listener,
		grpcServer:      grpcServer,
		health:          healthServer,
		store:           store,
		gateway:         gw,
		guard:           guard,
		recorder:        recorder,
		janitorInterval: srvEnv.JanitorInterval,
	}, nil
}

// ensureAuditKey creates the audit sealing key on first startup.
func ensureAuditKey(vault *secret.Vault) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if vault.HasKey(ctx, audit.KeyName) {
		return nil
	}
	if _, err := vault.CreateKey(ctx, audit.KeyName, secret.AlgorithmAESGCM); err != nil {
		return fmt.Errorf("create audit key: %w", err)
	}
	return nil
}

// Addr returns the listener address for the governance server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Gateway returns the governance facade for in-process callers.
func (s *Server) Gateway() *gateway.Gateway {
	if s == nil {
		return nil
	}
	return s.gateway
}

// Guard returns the session guard for the authentication boundary.
func (s *Server) Guard() *session.Guard {
	if s == nil {
		return nil
	}
	return s.guard
}

// Recorder returns the audit recorder for reporting tools.
func (s *Server) Recorder() *audit.Recorder {
	if s == nil {
		return nil
	}
	return s.recorder
}

// Run creates and serves a governance server until the context ends.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the governance server and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go s.gateway.RunJanitor(janitorCtx, s.janitorInterval)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeouts.Shutdown):
			s.grpcServer.Stop()
		}
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}

	s.closeOnce.Do(func() {
		if s.health != nil {
			s.health.Shutdown()
		}
		if s.grpcServer != nil {
			s.grpcServer.Stop()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		if s.store != nil {
			_ = s.store.Close()
		}
	})
}
