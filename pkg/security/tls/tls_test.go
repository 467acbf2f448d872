package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/voicequota/pkg/config"
)

// writeTestCert writes a self-signed pair valid in [notBefore, notAfter].
func writeTestCert(t *testing.T, dir, cn string, notBefore, notAfter time.Time) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{"localhost"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func commonName(t *testing.T, cert *tls.Certificate) string {
	t.Helper()
	leaf, err := leafCertificate(cert)
	if err != nil {
		t.Fatal(err)
	}
	return leaf.Subject.CommonName
}

func TestValidateCertificate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		notBefore time.Time
		notAfter  time.Time
		wantErr   bool
	}{
		{"valid", now.Add(-time.Hour), now.Add(time.Hour), false},
		{"expired", now.Add(-2 * time.Hour), now.Add(-time.Hour), true},
		{"not yet valid", now.Add(time.Hour), now.Add(2 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certFile, keyFile := writeTestCert(t, t.TempDir(), "voicequota", tt.notBefore, tt.notAfter)
			cert, err := tls.LoadX509KeyPair(certFile, keyFile)
			if err != nil {
				t.Fatal(err)
			}
			if err := ValidateCertificate(&cert, now); (err != nil) != tt.wantErr {
				t.Errorf("ValidateCertificate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateCertificate(nil, now); err == nil {
		t.Error("expected error for nil certificate")
	}
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()
	cert := &x509.Certificate{NotAfter: now.Add(10 * 24 * time.Hour)}

	if _, soon := ExpiresWithin(cert, now, ExpiryWarningWindow); !soon {
		t.Error("expected 10 days to be inside the warning window")
	}
	if _, soon := ExpiresWithin(cert, now, 5*24*time.Hour); soon {
		t.Error("expected 10 days to be outside a 5 day window")
	}
}

func TestParseVersion(t *testing.T) {
	tests := map[string]uint16{"": tls.VersionTLS13, "1.3": tls.VersionTLS13, "1.2": tls.VersionTLS12}
	for in, want := range tests {
		got, err := ParseVersion(in)
		if err != nil || got != want {
			t.Errorf("ParseVersion(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseVersion("1.1"); err == nil {
		t.Error("expected TLS 1.1 to be rejected")
	}
}

func TestServerConfig(t *testing.T) {
	if cfg, err := ServerConfig(config.TLSConfig{}, nil); cfg != nil || err != nil {
		t.Errorf("disabled TLS should return nil, nil; got %v, %v", cfg, err)
	}
	if _, err := ServerConfig(config.TLSConfig{Enabled: true}, nil); err == nil {
		t.Error("expected error without a reloader")
	}

	now := time.Now()
	certFile, keyFile := writeTestCert(t, t.TempDir(), "voicequota", now.Add(-time.Hour), now.Add(time.Hour))
	r := NewCertificateReloader(certFile, keyFile, 0)
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}

	cfg, err := ServerConfig(config.TLSConfig{Enabled: true, MinVersion: "1.2"}, r)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("expected TLS 1.2 minimum, got %x", cfg.MinVersion)
	}
	got, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil || commonName(t, got) != "voicequota" {
		t.Errorf("GetCertificate() = %v, %v", got, err)
	}
}

func TestCertificateReloader_BeforeLoad(t *testing.T) {
	r := NewCertificateReloader("missing.crt", "missing.key", 0)

	if r.GetCertificate() != nil {
		t.Error("expected no certificate before load")
	}
	if _, err := r.GetCertificateFunc()(&tls.ClientHelloInfo{}); err != ErrNoCertificate {
		t.Errorf("expected ErrNoCertificate, got %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected Start to fail for missing files")
	}
}

func TestCertificateReloader_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	certFile, keyFile := writeTestCert(t, dir, "first", now.Add(-time.Hour), now.Add(time.Hour))

	r := NewCertificateReloader(certFile, keyFile, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if commonName(t, r.GetCertificate()) != "first" {
		t.Fatal("expected first certificate")
	}

	writeTestCert(t, dir, "second", now.Add(-time.Hour), now.Add(time.Hour))
	later := time.Now().Add(time.Second)
	for _, f := range []string{certFile, keyFile} {
		if err := os.Chtimes(f, later, later); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(2 * time.Second)
	for commonName(t, r.GetCertificate()) != "second" {
		select {
		case <-deadline:
			t.Fatal("certificate was not reloaded")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCertificateReloader_KeepsCertOnBadReload(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	certFile, keyFile := writeTestCert(t, dir, "good", now.Add(-time.Hour), now.Add(time.Hour))

	r := NewCertificateReloader(certFile, keyFile, 0)
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(certFile, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Fatal("expected reload of garbage to fail")
	}
	if commonName(t, r.GetCertificate()) != "good" {
		t.Error("expected previous certificate to keep serving")
	}
}
