package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSFiles names the certificate material a TLS-enabled endpoint loads
// from disk: a leaf cert/key pair and, optionally, a CA bundle used to
// verify the peer.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// BuildServerTLSConfig loads files.CertFile/KeyFile as the listener's own
// identity and, when files.CAFile is set, verifies client certificates
// against it (mutual TLS). Adapted from the teacher's certificate loading
// in pkg/security/certs.go, generalized from a fixed cert-directory layout
// to explicit file paths.
func BuildServerTLSConfig(files TLSFiles, requireClientCert bool) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	if files.CAFile != "" {
		pool, err := loadCAPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		if requireClientCert {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return cfg, nil
}

// BuildClientTLSConfig loads files.CertFile/KeyFile as the client's own
// identity (optional, for mutual TLS) and, when files.CAFile is set,
// verifies the server certificate against it instead of the system pool.
// serverName sets the SNI/verification name sent to the server.
func BuildClientTLSConfig(files TLSFiles, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS13,
		ServerName: serverName,
	}

	if files.CertFile != "" && files.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if files.CAFile != "" {
		pool, err := loadCAPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle %q: %w", path, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no valid certificates found in CA bundle %q", path)
	}
	return pool, nil
}
