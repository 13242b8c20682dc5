package app

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-exporter/internal/config"
	"farm-exporter/internal/source"
	"farm-exporter/internal/watchdog"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Watchdog: config.WatchdogConfig{
			Mode:            "passive",
			CheckInterval:   time.Minute,
			ErrorThreshold:  time.Hour,
			ShutdownTimeout: time.Second,
		},
	}
}

func truePoolServer(t *testing.T) *httptest.Server {
	t.Helper()
	routes := map[string]any{
		"/info":            map[string]any{"total_size": 1e15, "total_farmers": 1, "minutes_to_win": 30, "total_rewards_heights": 4},
		"/farmer":          map[string]any{"results": []map[string]string{{"launcher_id": "0xfeed"}}},
		"/farmer/":         map[string]any{"results": []map[string]any{{"points": 7}}},
		"/partial/":        map[string]any{"results": []any{}},
		"/payout_address/": map[string]any{"count": 0, "results": []any{}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCollectPrintsMetrics(t *testing.T) {
	cfg := baseConfig()
	cfg.Sources.TruePool = config.PoolConfig{
		Enabled: true, Interval: time.Minute, BaseURL: truePoolServer(t).URL, LauncherID: "0xfeed", RequestTimeout: time.Second,
	}

	var out bytes.Buffer
	err := NewApp(cfg, zerolog.Nop()).Collect(context.Background(), CollectOptions{Out: &out})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "truepool_farmer_points")
	assert.Contains(t, out.String(), "truepool_farmer_blocks_won")
}

func TestCollectReportsFailedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Sources.OpenChia = config.PoolConfig{
		Enabled: true, Interval: time.Minute, BaseURL: srv.URL, LauncherID: "0xfeed", RequestTimeout: time.Second,
	}

	var out bytes.Buffer
	err := NewApp(cfg, zerolog.Nop()).Collect(context.Background(), CollectOptions{Out: &out})
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrConnectivity)
	assert.Contains(t, out.String(), "openchia")
}

func TestCollectUnknownSource(t *testing.T) {
	cfg := baseConfig()
	cfg.Sources.TruePool = config.PoolConfig{Enabled: true, Interval: time.Minute, LauncherID: "0xfeed"}

	err := NewApp(cfg, zerolog.Nop()).Collect(context.Background(), CollectOptions{Sources: []string{"openchia"}})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunStopsOnThreshold(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	cfg := baseConfig()
	cfg.Watchdog = config.WatchdogConfig{
		Mode:            "threshold",
		CheckInterval:   5 * time.Millisecond,
		ErrorThreshold:  25 * time.Millisecond,
		ShutdownTimeout: time.Second,
	}
	cfg.Sources.TruePool = config.PoolConfig{
		Enabled: true, Interval: 10 * time.Millisecond, BaseURL: deadURL, LauncherID: "0xfeed", RequestTimeout: 100 * time.Millisecond,
	}

	done := make(chan error, 1)
	go func() { done <- NewApp(cfg, zerolog.Nop()).Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, watchdog.ErrThresholdExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on threshold breach")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := baseConfig()
	cfg.Sources.TruePool = config.PoolConfig{
		Enabled: true, Interval: time.Hour, BaseURL: truePoolServer(t).URL, LauncherID: "0xfeed", RequestTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, NewApp(cfg, zerolog.Nop()).Run(ctx))
}

func TestRunRejectsOldChiaNode(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "version": "1.8.2"})
	}))
	defer srv.Close()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	sslDir := t.TempDir()
	writeClientCerts(t, sslDir)

	cfg := baseConfig()
	cfg.Sources.ChiaNode = config.ChiaNodeConfig{
		Enabled: true, Interval: time.Minute, Host: host, SSLDir: sslDir,
		FullNodePort: port, WalletPort: port, HarvesterPort: port,
		RequestTimeout: time.Second, FeeTolerance: "0.001", MinVersion: "2.1.0",
	}

	err = NewApp(cfg, zerolog.Nop()).Run(context.Background())
	assert.ErrorIs(t, err, source.ErrVersionUnsupported)
}

func TestRunMissingCertificates(t *testing.T) {
	cfg := baseConfig()
	cfg.Sources.ChiaNode = config.ChiaNodeConfig{
		Enabled: true, Interval: time.Minute, Host: "localhost", SSLDir: t.TempDir(),
		FullNodePort: 8555, WalletPort: 9256, HarvesterPort: 8560, FeeTolerance: "0.001",
	}
	err := NewApp(cfg, zerolog.Nop()).Run(context.Background())
	assert.ErrorIs(t, err, source.ErrNotConfigured)
}

// writeClientCerts lays out a self-signed client key pair the way a chia
// installation does for every service.
func writeClientCerts(t *testing.T, dir string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "chia test client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	for _, svc := range []string{"full_node", "wallet", "harvester"} {
		base := filepath.Join(dir, svc)
		require.NoError(t, os.MkdirAll(base, 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(base, "private_"+svc+".crt"), certPEM, 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(base, "private_"+svc+".key"), keyPEM, 0o600))
	}
}
