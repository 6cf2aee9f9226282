// Package service composes the reputation client: keystore, identity
// manager, relay transport and the protocol components, wired from one
// Config. Command binaries stay thin and call into this.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"robosats/reputationd/internal/badge"
	"robosats/reputationd/internal/config"
	"robosats/reputationd/internal/identity"
	"robosats/reputationd/internal/keystore"
	"robosats/reputationd/internal/link"
	"robosats/reputationd/internal/platform/privacylog"
	"robosats/reputationd/internal/relay"
	"robosats/reputationd/internal/stats"
	"robosats/reputationd/internal/wire"
)

// Service owns the composed components for one configuration.
type Service struct {
	cfg config.Config
	log *slog.Logger

	Identity  *identity.Manager
	transport *relay.Transport
	watcher   *badge.Watcher
	linker    *link.Linker
	stats     *stats.Client
}

// Status is the snapshot the status command renders.
type Status struct {
	Enabled      bool
	HasMasterKey bool
	Npub         string
	Network      string
	Badge        badge.Status
	BadgeSynced  bool
}

// New builds the service. A missing notary entry is not fatal; identity
// management still works, only the networked operations report unavailable.
func New(cfg config.Config) (*Service, error) {
	log := NewLogger(cfg.Log.Level)
	store := keystore.NewFileStore(cfg.Keystore.Path, cfg.Keystore.Passphrase)
	svc := &Service{
		cfg:      cfg,
		log:      log,
		Identity: identity.NewManager(store),
	}
	notary, err := cfg.ActiveNotary()
	if err != nil {
		log.Warn("no notary configured, networked operations disabled", "network", cfg.Network)
		return svc, nil
	}
	svc.transport = relay.NewTransport(notary.RelayURL, log)
	svc.linker = link.NewLinker(svc.Identity, svc.transport, log, notary.Pubkey, notary.RelayURL)
	svc.stats = stats.NewClient(svc.Identity, log, notary.RelayURL, notary.Pubkey, cfg.Network, cfg.StatsTimeout)
	return svc, nil
}

// NewLogger builds the JSON logger with the privacy sanitizer in front.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(privacylog.WrapHandler(handler))
}

func (s *Service) Log() *slog.Logger { return s.log }

// Status reports the local identity state plus the latest badge view when the
// watcher is running.
func (s *Service) Status() Status {
	st := Status{
		Enabled:      s.Identity.IsEnabled(),
		HasMasterKey: s.Identity.HasMasterKey(),
		Network:      s.cfg.Network,
	}
	if id, ok := s.Identity.MasterIdentity(); ok {
		st.Npub = id.Npub
	}
	if s.watcher != nil {
		st.Badge, st.BadgeSynced = s.watcher.Status()
	}
	return st
}

// LinkIdentities runs the link handshake for an ephemeral trade secret.
func (s *Service) LinkIdentities(ctx context.Context, ephemeralSecretHex string) error {
	if s.linker == nil {
		return stats.ErrUnavailable
	}
	s.linker.LinkIdentities(ctx, ephemeralSecretHex)
	return nil
}

// QueryStats runs one private stats round trip.
func (s *Service) QueryStats(ctx context.Context) (wire.StatsResponse, error) {
	if s.stats == nil {
		return wire.StatsResponse{}, stats.ErrUnavailable
	}
	return s.stats.Query(ctx)
}

// Run starts the long-lived pieces: a badge subscription for subjectPubkey
// and, when configured, the metrics endpoint. An empty subject falls back to
// the local master identity so a user can watch their own badge. It blocks
// until ctx is done, then tears the relay session down.
func (s *Service) Run(ctx context.Context, subjectPubkey string) error {
	if s.transport == nil {
		return errors.New("service: cannot run without a configured notary")
	}
	if subjectPubkey == "" {
		master, ok := s.Identity.MasterIdentity()
		if !ok {
			return errors.New("service: no subject given and no master key to fall back to")
		}
		subjectPubkey = master.PublicHex
	}
	if !wire.IsHexPubkey(subjectPubkey) {
		return errors.New("service: subject must be a 64-hex pubkey")
	}
	notary, err := s.cfg.ActiveNotary()
	if err != nil {
		return err
	}
	s.watcher = badge.NewWatcher(s.transport, s.log, notary.Pubkey, subjectPubkey, s.cfg.Network, "")
	if err := s.watcher.Start(ctx); err != nil {
		return err
	}
	defer s.watcher.Stop()
	defer s.transport.Close()

	if s.cfg.MetricsListen != "" {
		go s.serveMetrics(ctx)
	}

	s.log.Info("badge watcher running", "network", s.cfg.Network)
	<-ctx.Done()
	return nil
}

func (s *Service) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: s.cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("metrics endpoint failed", "err", err)
	}
}
