package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.ObserveRegistryRequest("latest", "ok", 20*time.Millisecond)
	c.ObserveRegistryRequest("latest", "rate_limited", time.Millisecond)
	c.ObserveDownload("ok", 1024)
	c.ObserveSwitch("noop")
	c.ObserveSwitch("noop")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.registryRequests.WithLabelValues("latest", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.registryRequests.WithLabelValues("latest", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.downloads.WithLabelValues("ok")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(c.downloadBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.switches.WithLabelValues("noop")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveRegistryRequest("list", "ok", time.Second)
		c.ObserveDownload("failed", 0)
		c.ObserveSwitch("switched")
		c.SetCachedArtifacts(3)
		c.SetVersion("v1.0.0")
	})
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.SetVersion("v1.9.0")
	c.SetCachedArtifacts(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `selfswitch_build_info{version="v1.9.0"} 1`)
	assert.Contains(t, body, "selfswitch_cached_artifacts 2")
}
