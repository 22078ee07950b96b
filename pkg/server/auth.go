package server

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"mercator-hq/turnstile/pkg/config"
)

const errorTypeAuthentication = "authentication_error"

type callerKey struct{}

// CallerFromContext returns the authenticated caller of a /v1 request.
func CallerFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(callerKey{}).(string)
	return name, ok
}

// callerAuth authenticates API callers by bearer token or by a client
// certificate verified against the configured client CAs.
type callerAuth struct {
	tokens map[[sha256.Size]byte]string
	logger *slog.Logger
}

// newCallerAuth resolves each enabled caller's token. Tokens are only kept
// as digests.
func newCallerAuth(cfg config.AuthConfig, lookupEnv func(string) (string, bool), logger *slog.Logger) (*callerAuth, error) {
	a := &callerAuth{
		tokens: make(map[[sha256.Size]byte]string, len(cfg.Callers)),
		logger: logger,
	}
	for _, c := range cfg.Callers {
		if c.Disabled {
			continue
		}
		token, err := callerToken(c, lookupEnv)
		if err != nil {
			return nil, fmt.Errorf("caller %q: %w", c.Name, err)
		}
		if len(token) < config.MinCallerTokenLength {
			return nil, fmt.Errorf("caller %q: token must be at least %d characters", c.Name, config.MinCallerTokenLength)
		}
		digest := sha256.Sum256([]byte(token))
		if other, dup := a.tokens[digest]; dup {
			return nil, fmt.Errorf("callers %q and %q share a token", other, c.Name)
		}
		a.tokens[digest] = c.Name
	}
	return a, nil
}

func callerToken(c config.CallerConfig, lookupEnv func(string) (string, bool)) (string, error) {
	switch {
	case c.TokenEnv != "":
		v, ok := lookupEnv(c.TokenEnv)
		if !ok || v == "" {
			return "", fmt.Errorf("environment variable %s is not set", c.TokenEnv)
		}
		return v, nil
	case c.TokenFile != "":
		return readSecretFile(c.TokenFile)
	default:
		return c.Token, nil
	}
}

// readSecretFile reads a single secret from a regular file that only its
// owner can read.
func readSecretFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat token file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("token file %s is not a regular file", path)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, perm)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Handle rejects requests without a known caller with 401.
func (a *callerAuth) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := a.authenticate(r)
		if !ok {
			a.logger.Warn("unauthenticated request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="turnstile"`)
			writeError(w, http.StatusUnauthorized, errorTypeAuthentication, "missing or invalid caller credentials")
			return
		}

		a.logger.Debug("caller authenticated", "caller", caller, "path", r.URL.Path)
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *callerAuth) authenticate(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r); ok {
		name, found := a.tokens[sha256.Sum256([]byte(token))]
		return name, found
	}
	// Chains are only populated when the client CA pool verified the peer.
	if r.TLS != nil && len(r.TLS.VerifiedChains) > 0 && len(r.TLS.VerifiedChains[0]) > 0 {
		if cn := r.TLS.VerifiedChains[0][0].Subject.CommonName; cn != "" {
			return cn, true
		}
	}
	return "", false
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
