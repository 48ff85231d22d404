// Package tls serves the API over HTTPS with certificates obtained
// automatically through CertMagic and Azure DNS-01 challenges.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
)

// Config holds the certificate settings for the HTTPS listener.
type Config struct {
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Let's Encrypt staging CA
	DNS      DNSConfig
}

// DNSConfig identifies the Azure DNS zone used for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // user-assigned managed identity; empty uses the system identity
}

// Server runs an HTTPS listener whose certificates are managed by CertMagic.
type Server struct {
	domains   []string
	handler   http.Handler
	logger    *slog.Logger
	tlsConfig *tls.Config

	mu  sync.Mutex
	srv *http.Server
}

// NewServer configures CertMagic and prepares an HTTPS server for handler.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("TLS enabled but no ACME email specified")
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
		DNSManager: certmagic.DNSManager{
			DNSProvider: &azure.Provider{
				SubscriptionId:    cfg.DNS.SubscriptionID,
				ResourceGroupName: cfg.DNS.ResourceGroupName,
				ClientId:          cfg.DNS.ClientID,
			},
		},
	}

	tlsConfig, err := certmagic.TLS(cfg.Domains)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}

	return &Server{
		domains:   cfg.Domains,
		handler:   handler,
		logger:    logger,
		tlsConfig: tlsConfig,
	}, nil
}

// ListenAndServe starts the HTTPS listener and blocks until it stops.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting HTTPS server with DNS-01 challenge",
		"address", addr,
		"domains", s.domains,
	)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	return srv.ListenAndServeTLS("", "")
}

// Shutdown drains the HTTPS listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
