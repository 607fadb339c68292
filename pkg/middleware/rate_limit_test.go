package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/gogotex/backend/odm/pkg/metrics"
)

func serve(r *gin.Engine, remote string) int {
	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(10, 2).Middleware())
	r.GET("/limited", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	require.Equal(t, http.StatusOK, serve(r, "10.0.0.1:1234"))
	require.Equal(t, http.StatusOK, serve(r, "10.0.0.1:1234"))
}

func TestRateLimiterBlocksWhenExceeded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(2, 1).Middleware())
	r.GET("/limited", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	before := testutil.ToFloat64(metrics.RequestsRejected.WithLabelValues("rate_limit"))

	require.Equal(t, http.StatusOK, serve(r, "10.0.0.2:1234"))
	require.Equal(t, http.StatusTooManyRequests, serve(r, "10.0.0.2:1234"))
	require.Equal(t, before+1, testutil.ToFloat64(metrics.RequestsRejected.WithLabelValues("rate_limit")))

	// other clients have their own bucket
	require.Equal(t, http.StatusOK, serve(r, "10.0.0.3:1234"))

	time.Sleep(600 * time.Millisecond)
	require.Equal(t, http.StatusOK, serve(r, "10.0.0.2:1234"))
}
