package server

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func ipv6LoopbackAvailable() bool {
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		return false
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		if conn, err := ln.Accept(); err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	conn, err := net.Dial("tcp6", ln.Addr().String())
	if err != nil {
		return false
	}
	conn.Close()
	<-accepted
	return true
}

func freePort(t *testing.T) string {
	t.Helper()
	rand.Seed(time.Now().UnixNano())
	for attempt := 0; attempt < 20; attempt++ {
		port := 40000 + rand.Intn(20000)
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return fmt.Sprintf("%d", port)
	}
	t.Fatalf("no free port found")
	return ""
}

func awaitStatus(t *testing.T, url string, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == want {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to return %d", url, want)
}

func awaitDial(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timed out dialing %s", addr)
}

// The dual-stack listener must serve the same app to both address families
// so uptime checks hitting 127.0.0.1 keep working on IPv6-first hosts.
func TestListenWithIPv6FallbackDualStack(t *testing.T) {
	if !ipv6LoopbackAvailable() {
		t.Skip("skipping: IPv6 loopback not available")
	}

	port := freePort(t)

	app := fiber.New()
	app.Get("/api/v1/health/live", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- ListenWithIPv6Fallback(app, port, time.Now())
	}()

	require.NoError(t, awaitDial(fmt.Sprintf("[::1]:%s", port), 5*time.Second))
	awaitStatus(t, fmt.Sprintf("http://[::1]:%s/api/v1/health/live", port), http.StatusNoContent, 5*time.Second)
	awaitStatus(t, fmt.Sprintf("http://127.0.0.1:%s/api/v1/health/live", port), http.StatusNoContent, 5*time.Second)

	require.NoError(t, app.Shutdown())
	require.NoError(t, <-errCh)
}
