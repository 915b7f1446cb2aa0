package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// generateSelfSignedCert writes a self-signed leaf cert/key pair to dir
// and returns the CAFile (itself, since it's self-signed) alongside the
// cert/key paths.
func generateSelfSignedCert(t *testing.T, dir, name string) TLSFiles {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{name},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certFile := filepath.Join(dir, name+".crt")
	keyFile := filepath.Join(dir, name+".key")

	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	return TLSFiles{CertFile: certFile, KeyFile: keyFile, CAFile: certFile}
}

func TestBuildServerTLSConfigLoadsCertificate(t *testing.T) {
	dir := t.TempDir()
	files := generateSelfSignedCert(t, dir, "server")

	cfg, err := BuildServerTLSConfig(files, false)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	require.NotNil(t, cfg.ClientCAs)
	require.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
}

func TestBuildServerTLSConfigRequiresClientCertWhenRequested(t *testing.T) {
	dir := t.TempDir()
	files := generateSelfSignedCert(t, dir, "server")

	cfg, err := BuildServerTLSConfig(files, true)
	require.NoError(t, err)
	require.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
}

func TestBuildClientTLSConfigWithoutCertIsIdentityless(t *testing.T) {
	dir := t.TempDir()
	files := generateSelfSignedCert(t, dir, "ca")

	cfg, err := BuildClientTLSConfig(TLSFiles{CAFile: files.CAFile}, "server")
	require.NoError(t, err)
	require.Empty(t, cfg.Certificates)
	require.NotNil(t, cfg.RootCAs)
	require.Equal(t, "server", cfg.ServerName)
}

func TestBuildClientAndServerTLSConfigsCompleteAHandshake(t *testing.T) {
	dir := t.TempDir()
	files := generateSelfSignedCert(t, dir, "server")

	serverCfg, err := BuildServerTLSConfig(files, false)
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()
		serverErr <- conn.(*tls.Conn).Handshake()
	}()

	clientCfg, err := BuildClientTLSConfig(TLSFiles{CAFile: files.CAFile}, "server")
	require.NoError(t, err)

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, <-serverErr)
}

func TestLoadCAPoolRejectsGarbageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-cert.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	_, err := loadCAPool(path)
	require.Error(t, err)
}
