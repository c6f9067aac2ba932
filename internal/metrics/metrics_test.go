package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

func scrape(t *testing.T, ts *httptest.Server, path string) (int, string) {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.MetricsConfig{Enabled: true}
	cfg.ApplyDefaults()

	ts := httptest.NewServer(NewServer(cfg, logger.NewNopLogger()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)

	ChainTipSet(150, 100)
	BlocksScannedInc(10)
	ComponentHealthSet("scanner", false)

	status, body := scrape(t, ts, "/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "reconciler_chain_tip_block 150")
	require.Contains(t, body, "reconciler_backfill_lag_blocks 51")
	require.Contains(t, body, "reconciler_blocks_scanned_total")
	require.Contains(t, body, `reconciler_component_health{component="scanner"} 0`)

	ChainTipSet(150, 151)
	_, body = scrape(t, ts, "/metrics")
	require.Contains(t, body, "reconciler_backfill_lag_blocks 0")
}

func TestServer_Health(t *testing.T) {
	status, body := scrape(t, newTestServer(t), "/health")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "OK", body)
}

func TestServer_DisabledIsNoop(t *testing.T) {
	s := NewServer(&config.MetricsConfig{}, logger.NewNopLogger())
	require.NoError(t, s.Start(t.Context()))
	require.NoError(t, s.Stop(t.Context()))
}
