package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"
)

type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	der  []byte
}

// issue creates a certificate for cn signed by parent, or self-signed when
// parent is nil.
func issue(t *testing.T, cn string, notBefore, notAfter time.Time, isCA bool, parent *testCert) *testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	signer, signerKey := tmpl, key
	if parent != nil {
		signer, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return &testCert{cert: cert, key: key, der: der}
}

// write stores the pair as PEM files under dir and returns their paths.
func (c *testCert) write(t *testing.T, dir, name string) (certFile, keyFile string) {
	t.Helper()
	keyDER, err := x509.MarshalECPrivateKey(c.key)
	if err != nil {
		t.Fatal(err)
	}
	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func (c *testCert) tlsCertificate() tls.Certificate {
	return tls.Certificate{Certificate: [][]byte{c.der}, PrivateKey: c.key}
}

func TestCheckCertificate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		notBefore time.Time
		notAfter  time.Time
		wantErr   string
	}{
		{name: "valid", notBefore: now.Add(-time.Hour), notAfter: now.Add(time.Hour)},
		{name: "expired", notBefore: now.Add(-2 * time.Hour), notAfter: now.Add(-time.Hour), wantErr: "expired"},
		{name: "not yet valid", notBefore: now.Add(time.Hour), notAfter: now.Add(2 * time.Hour), wantErr: "not yet valid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := issue(t, "turnstile", tt.notBefore, tt.notAfter, false, nil)
			cert := c.tlsCertificate()
			leaf, err := checkCertificate(&cert, now)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("checkCertificate() error = %v", err)
				}
				if leaf.Subject.CommonName != "turnstile" {
					t.Errorf("leaf CN = %q", leaf.Subject.CommonName)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := checkCertificate(&tls.Certificate{}, now); err == nil {
		t.Error("empty chain accepted")
	}
}

func TestCertReloader_PicksUpRenewedFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	first := issue(t, "first", now.Add(-time.Hour), now.Add(24*time.Hour), false, nil)
	certFile, keyFile := first.write(t, dir, "server")

	r := newCertReloader(config.TLSConfig{CertFile: certFile, KeyFile: keyFile}, slogDiscard())
	if err := r.load(); err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if r.changed() {
		t.Error("changed() = true right after load")
	}

	second := issue(t, "second", now.Add(-time.Hour), now.Add(48*time.Hour), false, nil)
	second.write(t, dir, "server")
	later := now.Add(time.Minute)
	for _, f := range []string{certFile, keyFile} {
		if err := os.Chtimes(f, later, later); err != nil {
			t.Fatal(err)
		}
	}
	if !r.changed() {
		t.Fatal("changed() = false after files were replaced")
	}
	if err := r.load(); err != nil {
		t.Fatalf("load() error = %v", err)
	}
	got, err := r.getCertificate(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Leaf.Subject.CommonName != "second" {
		t.Errorf("served CN = %q, want second", got.Leaf.Subject.CommonName)
	}
}

func TestCertReloader_KeepsPreviousOnBadReload(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	good := issue(t, "good", now.Add(-time.Hour), now.Add(time.Hour), false, nil)
	certFile, keyFile := good.write(t, dir, "server")

	r := newCertReloader(config.TLSConfig{CertFile: certFile, KeyFile: keyFile}, slogDiscard())
	if err := r.load(); err != nil {
		t.Fatal(err)
	}

	expired := issue(t, "expired", now.Add(-2*time.Hour), now.Add(-time.Hour), false, nil)
	expired.write(t, dir, "server")
	if err := r.load(); err == nil {
		t.Fatal("load() accepted an expired certificate")
	}

	got, err := r.getCertificate(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Leaf.Subject.CommonName != "good" {
		t.Errorf("served CN = %q, want good", got.Leaf.Subject.CommonName)
	}
}

func TestCertReloader_NothingLoaded(t *testing.T) {
	r := newCertReloader(config.TLSConfig{CertFile: "missing.crt", KeyFile: "missing.key"}, slogDiscard())
	if err := r.load(); err == nil {
		t.Error("load() of missing files succeeded")
	}
	if _, err := r.getCertificate(nil); err == nil {
		t.Error("getCertificate() with nothing loaded succeeded")
	}
}

func TestBuildTLSConfig(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	ca := issue(t, "turnstile-ca", now.Add(-time.Hour), now.Add(time.Hour), true, nil)
	caFile, _ := ca.write(t, dir, "ca")
	server := issue(t, "localhost", now.Add(-time.Hour), now.Add(time.Hour), false, ca)
	certFile, keyFile := server.write(t, dir, "server")

	tests := []struct {
		name           string
		cfg            config.TLSConfig
		wantMinVersion uint16
		wantClientAuth tls.ClientAuthType
		wantErr        bool
	}{
		{
			name:           "1.3",
			cfg:            config.TLSConfig{MinVersion: "1.3"},
			wantMinVersion: tls.VersionTLS13,
			wantClientAuth: tls.NoClientCert,
		},
		{
			name:           "1.2",
			cfg:            config.TLSConfig{MinVersion: "1.2"},
			wantMinVersion: tls.VersionTLS12,
			wantClientAuth: tls.NoClientCert,
		},
		{
			name:           "mtls required",
			cfg:            config.TLSConfig{MinVersion: "1.3", ClientCAFile: caFile, ClientAuth: "require"},
			wantMinVersion: tls.VersionTLS13,
			wantClientAuth: tls.RequireAndVerifyClientCert,
		},
		{
			name:           "mtls optional",
			cfg:            config.TLSConfig{MinVersion: "1.3", ClientCAFile: caFile, ClientAuth: "verify_if_given"},
			wantMinVersion: tls.VersionTLS13,
			wantClientAuth: tls.VerifyClientCertIfGiven,
		},
		{
			name:    "client CA file missing",
			cfg:     config.TLSConfig{MinVersion: "1.3", ClientCAFile: keyFile + ".missing"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.CertFile, tt.cfg.KeyFile = certFile, keyFile
			got, err := buildTLSConfig(tt.cfg, newCertReloader(tt.cfg, slogDiscard()))
			if tt.wantErr {
				if err == nil {
					t.Fatal("buildTLSConfig() succeeded")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildTLSConfig() error = %v", err)
			}
			if got.MinVersion != tt.wantMinVersion {
				t.Errorf("MinVersion = %x, want %x", got.MinVersion, tt.wantMinVersion)
			}
			if got.ClientAuth != tt.wantClientAuth {
				t.Errorf("ClientAuth = %v, want %v", got.ClientAuth, tt.wantClientAuth)
			}
			if got.GetCertificate == nil {
				t.Error("GetCertificate not set")
			}
		})
	}
}

// TestServe_MutualTLS serves over TLS with client certificates required and
// checks that the certificate's CN authenticates the caller.
func TestServe_MutualTLS(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	ca := issue(t, "turnstile-ca", now.Add(-time.Hour), now.Add(time.Hour), true, nil)
	caFile, _ := ca.write(t, dir, "ca")
	certFile, keyFile := issue(t, "localhost", now.Add(-time.Hour), now.Add(time.Hour), false, ca).write(t, dir, "server")
	client := issue(t, "billing", now.Add(-time.Hour), now.Add(time.Hour), false, ca)

	srv, err := New(Options{
		Config: config.ServerConfig{
			ShutdownTimeout: time.Second,
			TLS: config.TLSConfig{
				Enabled:        true,
				CertFile:       certFile,
				KeyFile:        keyFile,
				MinVersion:     "1.3",
				ReloadInterval: time.Minute,
				ClientCAFile:   caFile,
				ClientAuth:     "require",
			},
			Auth: config.AuthConfig{Enabled: true},
		},
		Gateway: &fakeGateway{decision: limits.Admit()},
	})
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	roots := x509.NewCertPool()
	roots.AddCert(ca.cert)
	newClient := func(certs ...tls.Certificate) *http.Client {
		return &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{
				RootCAs:      roots,
				Certificates: certs,
				MinVersion:   tls.VersionTLS13,
			}},
		}
	}
	url := "https://" + ln.Addr().String() + "/v1/admit"

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = newClient(client.tlsCertificate()).Post(url, "application/json", bytes.NewBufferString(validAdmit))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with client cert: status = %d, want 200", resp.StatusCode)
	}

	if resp, err := newClient().Post(url, "application/json", bytes.NewBufferString(validAdmit)); err == nil {
		resp.Body.Close()
		t.Error("handshake without client certificate succeeded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_TLSMissingFiles(t *testing.T) {
	srv, err := New(Options{
		Config: config.ServerConfig{TLS: config.TLSConfig{
			Enabled:  true,
			CertFile: filepath.Join(t.TempDir(), "missing.crt"),
			KeyFile:  filepath.Join(t.TempDir(), "missing.key"),
		}},
		Gateway: &fakeGateway{decision: limits.Admit()},
	})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if err := srv.Serve(context.Background(), ln); err == nil || !strings.Contains(err.Error(), "TLS") {
		t.Errorf("Serve() error = %v, want TLS configuration error", err)
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after failed TLS setup")
	}
}
