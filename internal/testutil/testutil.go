// Package testutil provides fixtures shared by package tests across the
// module: a temp-dir INI store fixture and loopback dialer helpers,
// grounded on the teacher's test/framework polling-assertion style.
package testutil

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteINIFixture writes content to domain+".ini" under a fresh temp
// directory and returns the directory path, suitable for inistore.New.
func WriteINIFixture(t *testing.T, domain, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, domain+".ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing INI fixture %s: %v", path, err)
	}
	return dir
}

// UXDSocketPath returns a "test.sock" path inside a fresh t.TempDir()
// directory. UXD paths are limited to ~108 bytes on Linux; the path is not
// shortened beyond what t.TempDir() yields.
func UXDSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.sock")
}

// DialLoopbackTCP starts a TCP listener on loopback and returns its address
// alongside a channel receiving each accepted connection, for tests that
// need a real socket without going through pkg/transport/server.
func DialLoopbackTCP(t *testing.T) (addr string, accepted chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening on loopback: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			ch <- conn
		}
	}()

	return ln.Addr().String(), ch
}

// Eventually polls condition every interval until it returns true or
// timeout elapses, failing the test with description otherwise. Mirrors
// the teacher's Waiter.WaitFor but without a framework-level Client
// dependency.
func Eventually(t *testing.T, ctx context.Context, timeout, interval time.Duration, condition func() bool, description string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if condition() {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for: %s (timeout: %v)", description, timeout)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}
