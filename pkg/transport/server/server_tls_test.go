package server

import (
	"context"
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

	"github.com/freedm/core/pkg/transport"
	"github.com/stretchr/testify/require"
)

func selfSignedTLSFiles(t *testing.T) transport.TLSFiles {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	return transport.TLSFiles{CertFile: certFile, KeyFile: keyFile, CAFile: certFile}
}

func TestNewTCPWithTLSAcceptsAnEncryptedHandshake(t *testing.T) {
	proto := &echoProtocol{}
	files := selfSignedTLSFiles(t)

	tlsCfg, err := transport.BuildServerTLSConfig(files, false)
	require.NoError(t, err)

	s, err := NewTCP(Config{
		Transport: transport.EndpointConfig{Framing: transport.FramingLine, Protocol: proto},
		PoolMax:   2,
		TLS:       tlsCfg,
	}, "127.0.0.1", 0, AddressIPv4)
	require.NoError(t, err)

	go s.Serve(context.Background())
	defer s.Shutdown()

	addr := s.listeners[0].Addr().String()

	clientCfg, err := transport.BuildClientTLSConfig(transport.TLSFiles{CAFile: files.CAFile}, "127.0.0.1")
	require.NoError(t, err)

	conn, err := tls.Dial("tcp", addr, clientCfg)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return proto.count() == 1 }, time.Second, 5*time.Millisecond)
}
