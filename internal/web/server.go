// Package web exposes the vault's read API, the permissionless triggers and the audit stream over HTTP.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/events"
	"github.com/vadiminshakov/svault/internal/ledger"
)

const (
	defaultPollInterval = 3 * time.Second
	heartbeatInterval   = 20 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Vault is the part of the vault the HTTP API serves.
type Vault interface {
	Status() domain.VaultStatus
	Collaterals() []domain.Collateral
	Collateral(id uint64) (domain.Collateral, error)
	Redemptions(owner domain.AccountID) ([]domain.PendingRedemption, error)
	Rate(ctx context.Context, code string) (uint64, error)
	Outbox() ([]domain.Command, error)
	TriggerSettlement(ctx context.Context, caller, owner domain.AccountID) error
	HarvestIncome(ctx context.Context, caller domain.AccountID) error
}

// AuditReader replays stored audit records.
type AuditReader interface {
	EventsAfter(index uint64) ([]domain.AuditRecord, error)
}

// BalanceReader lists account balances.
type BalanceReader interface {
	Balances(ctx context.Context, account domain.AccountID) []ledger.Balance
}

// Transferer moves tokens on the simulated ledger.
type Transferer interface {
	Transfer(ctx context.Context, contract, from, to domain.AccountID, quantity domain.Amount, memo string) error
}

// Options configures a Server. Broadcaster, Balances and Simulator are optional; the
// simulated transfer endpoint is only mounted when Simulator is set.
type Options struct {
	Addr         string
	Logger       *zap.Logger
	Vault        Vault
	Audit        AuditReader
	Broadcaster  *events.AuditBroadcaster
	Balances     BalanceReader
	Simulator    Transferer
	PollInterval time.Duration
}

// Server serves the HTTP API.
type Server struct {
	addr         string
	logger       *zap.Logger
	vault        Vault
	audit        AuditReader
	broadcaster  *events.AuditBroadcaster
	balances     BalanceReader
	simulator    Transferer
	pollInterval time.Duration
}

// NewServer creates a new web server instance.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Server{
		addr:         opts.Addr,
		logger:       opts.Logger,
		vault:        opts.Vault,
		audit:        opts.Audit,
		broadcaster:  opts.Broadcaster,
		balances:     opts.Balances,
		simulator:    opts.Simulator,
		pollInterval: opts.PollInterval,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/collaterals", s.handleCollaterals).Methods(http.MethodGet)
	r.HandleFunc("/collaterals/{id:[0-9]+}", s.handleCollateral).Methods(http.MethodGet)
	r.HandleFunc("/rates/{code}", s.handleRate).Methods(http.MethodGet)
	r.HandleFunc("/redemptions/{owner}", s.handleRedemptions).Methods(http.MethodGet)
	r.HandleFunc("/balances/{account}", s.handleBalances).Methods(http.MethodGet)
	r.HandleFunc("/outbox", s.handleOutbox).Methods(http.MethodGet)
	r.HandleFunc("/audit/stream", s.handleAuditStream).Methods(http.MethodGet)

	r.HandleFunc("/settlements/{owner}", s.handleSettle).Methods(http.MethodPost)
	r.HandleFunc("/harvest", s.handleHarvest).Methods(http.MethodPost)
	if s.simulator != nil {
		r.HandleFunc("/ledger/transfers", s.handleTransfer).Methods(http.MethodPost)
	}

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http api listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with ACME certificates. A plain HTTP server on :80
// answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme server", zap.Error(err))
		}
	}()

	s.logger.Info("https api listening", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
