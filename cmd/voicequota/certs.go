package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/voicequota/pkg/cli"
	securityTLS "mercator-hq/voicequota/pkg/security/tls"
)

var certsFlags struct {
	hosts    string
	org      string
	validity int
	output   string

	certFile string
	keyFile  string
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage TLS certificates",
	Long: `Utilities for the server's TLS certificate.

Subcommands:
  generate - Generate a self-signed certificate for development
  check    - Check a certificate and key pair before deploying it

Examples:
  voicequota certs generate --host "localhost,127.0.0.1"
  voicequota certs check --cert certs/cert.pem --key certs/key.pem`,
}

var certsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a self-signed certificate",
	Long: `Generate a self-signed ECDSA P-256 certificate and key for local
development. The key is written with 0600 permissions.

⚠️  Self-signed certificates are for TESTING ONLY.`,
	RunE: runCertsGenerate,
}

var certsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a certificate and key pair",
	Long: `Load a certificate and key the way the server does and report
whether they match, whether the certificate is currently valid, and
whether it expires within 30 days.`,
	RunE: runCertsCheck,
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsGenerateCmd, certsCheckCmd)

	certsGenerateCmd.Flags().StringVar(&certsFlags.hosts, "host", "localhost", "comma-separated hostnames and IPs")
	certsGenerateCmd.Flags().StringVar(&certsFlags.org, "org", "voicequota", "organization name")
	certsGenerateCmd.Flags().IntVar(&certsFlags.validity, "validity", 365, "validity in days")
	certsGenerateCmd.Flags().StringVarP(&certsFlags.output, "output", "o", "certs", "output directory")

	certsCheckCmd.Flags().StringVar(&certsFlags.certFile, "cert", "", "certificate file (required)")
	certsCheckCmd.Flags().StringVar(&certsFlags.keyFile, "key", "", "private key file (required)")
	_ = certsCheckCmd.MarkFlagRequired("cert")
	_ = certsCheckCmd.MarkFlagRequired("key")
}

// writeSelfSigned writes cert.pem and key.pem to dir and returns their paths.
func writeSelfSigned(dir string, hosts []string, org string, notBefore time.Time, validity time.Duration) (certPath, keyPath string, err error) {
	if len(hosts) == 0 {
		return "", "", fmt.Errorf("at least one host is required")
	}

	var dnsNames []string
	var ips []net.IP
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip)
		} else {
			dnsNames = append(dnsNames, h)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{org}, CommonName: hosts[0]},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	return certPath, keyPath, nil
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func runCertsGenerate(cmd *cobra.Command, args []string) error {
	if certsFlags.validity <= 0 {
		return cli.NewConfigError("validity", "must be a positive number of days")
	}
	certPath, keyPath, err := writeSelfSigned(certsFlags.output, splitHosts(certsFlags.hosts), certsFlags.org,
		time.Now(), time.Duration(certsFlags.validity)*24*time.Hour)
	if err != nil {
		return cli.NewCommandError("certs generate", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Certificate generated: %s\n", certPath)
	fmt.Fprintf(out, "✓ Private key generated: %s\n", keyPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "⚠️  WARNING: Self-signed certificates are for TESTING ONLY")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Add to your config.yaml:")
	fmt.Fprintln(out, "security:")
	fmt.Fprintln(out, "  tls:")
	fmt.Fprintln(out, "    enabled: true")
	fmt.Fprintf(out, "    cert_file: %q\n", certPath)
	fmt.Fprintf(out, "    key_file: %q\n", keyPath)
	return nil
}

func runCertsCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	pair, err := cryptotls.LoadX509KeyPair(certsFlags.certFile, certsFlags.keyFile)
	if err != nil {
		fmt.Fprintln(out, "✗ Certificate and key do NOT load as a pair")
		return cli.NewCommandError("certs check", err)
	}
	fmt.Fprintln(out, "✓ Certificate and key match")

	now := time.Now()
	if err := securityTLS.ValidateCertificate(&pair, now); err != nil {
		fmt.Fprintf(out, "✗ %v\n", err)
		return cli.NewCommandError("certs check", err)
	}

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return cli.NewCommandError("certs check", err)
	}
	fmt.Fprintf(out, "✓ Valid until %s\n", leaf.NotAfter.Format("2006-01-02"))
	if left, soon := securityTLS.ExpiresWithin(leaf, now, securityTLS.ExpiryWarningWindow); soon {
		fmt.Fprintf(out, "⚠  Expires in %d days\n", int(left.Hours()/24))
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Subject: %s\n", leaf.Subject.CommonName)
	fmt.Fprintf(out, "  Issuer:  %s\n", leaf.Issuer.CommonName)
	if len(leaf.DNSNames) > 0 {
		fmt.Fprintf(out, "  DNS:     %s\n", strings.Join(leaf.DNSNames, ", "))
	}
	for _, ip := range leaf.IPAddresses {
		fmt.Fprintf(out, "  IP:      %s\n", ip)
	}
	return nil
}
