package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/config"
)

// certExpiryWarning is how close to NotAfter a served certificate starts
// logging warnings.
const certExpiryWarning = 30 * 24 * time.Hour

// certReloader serves the configured key pair and picks up renewed files
// without a restart. A failed reload keeps the previous certificate.
type certReloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

func newCertReloader(cfg config.TLSConfig, logger *slog.Logger) *certReloader {
	return &certReloader{
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		interval: cfg.ReloadInterval,
		now:      time.Now,
		logger:   logger,
	}
}

// load reads the key pair from disk and swaps it in if it is currently valid.
func (r *certReloader) load() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("TLS cert file: %w", err)
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return fmt.Errorf("TLS key file: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	leaf, err := checkCertificate(&cert, r.now())
	if err != nil {
		return err
	}
	cert.Leaf = leaf

	r.mu.Lock()
	r.cert = &cert
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()

	r.logCertificate(leaf)
	return nil
}

// changed reports whether either file is newer than the loaded pair.
func (r *certReloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.certTime) || keyInfo.ModTime().After(r.keyTime)
}

// run polls for changed files until ctx is done.
func (r *certReloader) run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if err := r.load(); err != nil {
				r.logger.Error("failed to reload certificate, keeping previous",
					"error", err,
					"cert_file", r.certFile,
				)
				continue
			}
			r.logger.Info("certificate reloaded", "cert_file", r.certFile)
		}
	}
}

func (r *certReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, errors.New("no certificate loaded")
	}
	return r.cert, nil
}

func (r *certReloader) logCertificate(leaf *x509.Certificate) {
	remaining := leaf.NotAfter.Sub(r.now())
	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"issuer", leaf.Issuer.CommonName,
		"expires_in_days", int(remaining.Hours() / 24),
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
	}
	if remaining < certExpiryWarning {
		r.logger.Warn("certificate expiring soon", attrs...)
		return
	}
	r.logger.Info("certificate loaded", attrs...)
}

// checkCertificate parses the leaf and rejects it outside its validity window.
func checkCertificate(cert *tls.Certificate, now time.Time) (*x509.Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) {
		return nil, fmt.Errorf("certificate is not yet valid (valid from %s)", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("certificate expired on %s", leaf.NotAfter.Format(time.RFC3339))
	}
	return leaf, nil
}

// buildTLSConfig loads the initial certificate and returns a server config
// that reads it through reloader.
func buildTLSConfig(cfg config.TLSConfig, reloader *certReloader) (*tls.Config, error) {
	if err := reloader.load(); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:     tls.VersionTLS13,
		GetCertificate: reloader.getCertificate,
	}
	if cfg.MinVersion == "1.2" {
		tlsConfig.MinVersion = tls.VersionTLS12
	}

	if cfg.ClientCAFile != "" {
		pem, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in client CA file %s", cfg.ClientCAFile)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		if cfg.ClientAuth == "verify_if_given" {
			tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return tlsConfig, nil
}
