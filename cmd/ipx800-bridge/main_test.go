package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-for-development-only-0123"

// writeConfig writes a config file and points IPXBRIDGE_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("IPXBRIDGE_CONFIG", path)
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func validConfig(dataDir, address string, port int) string {
	return fmt.Sprintf(`
database:
  data_dir: %q
  wal_mode: true
  busy_timeout: 5

endpoints:
  - id: garage
    address: %q
    poll_interval: 50ms
    timeout: 1s

api:
  host: "127.0.0.1"
  port: %d

logging:
  level: error
  format: text
  output: stdout

security:
  jwt:
    secret: %q
    issuer: ipx800-bridge
`, dataDir, address, port, testSecret)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("IPXBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_NoEndpoints verifies validation rejects a config without controllers.
func TestRun_NoEndpoints(t *testing.T) {
	writeConfig(t, `
database:
  data_dir: "`+t.TempDir()+`"
`)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "at least one endpoint") {
		t.Fatalf("run() error = %v, want endpoint validation error", err)
	}
}

// TestRun_StartupAndShutdown runs the whole bridge against a fake controller.
func TestRun_StartupAndShutdown(t *testing.T) {
	polled := make(chan struct{}, 1)
	ctrl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status.xml" {
			select {
			case polled <- struct{}{}:
			default:
			}
			fmt.Fprint(w, `<response><led0>0</led0><btn0>up</btn0></response>`)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ctrl.Close()

	dataDir := t.TempDir()
	port := freePort(t)
	writeConfig(t, validConfig(dataDir, ctrl.URL, port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case <-polled:
	case err := <-done:
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller was never polled")
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port))
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	matches, _ := filepath.Glob(filepath.Join(dataDir, "*.db"))
	if len(matches) != 1 {
		t.Errorf("registry files = %v, want one", matches)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("IPXBRIDGE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("IPXBRIDGE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestIssueToken(t *testing.T) {
	writeConfig(t, validConfig(t.TempDir(), "192.168.1.50", 8080))

	var out bytes.Buffer
	if err := issueToken([]string{"-subject", "dashboard", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != "dashboard" || claims.Issuer != "ipx800-bridge" {
		t.Errorf("claims = %+v", claims)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > time.Hour || ttl < 59*time.Minute {
		t.Errorf("token ttl = %v, want ~1h", ttl)
	}

	if err := issueToken(nil, &out); err == nil {
		t.Error("issueToken() without -subject should fail")
	}
}
