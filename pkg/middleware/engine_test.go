package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func clientIPOf(t *testing.T, r *gin.Engine, remoteAddr, forwardedFor string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func newIPEngine(t *testing.T, trusted []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r, err := NewEngine(zap.NewNop(), trusted)
	require.NoError(t, err)
	r.GET("/ip", func(c *gin.Context) { c.String(http.StatusOK, c.ClientIP()) })
	return r
}

func TestNewEngine_IgnoresForwardedForByDefault(t *testing.T) {
	r := newIPEngine(t, nil)
	assert.Equal(t, "203.0.113.7", clientIPOf(t, r, "203.0.113.7:5555", "1.1.1.1"))

	r = newIPEngine(t, []string{})
	assert.Equal(t, "203.0.113.7", clientIPOf(t, r, "203.0.113.7:5555", "2.2.2.2"))
}

func TestNewEngine_TrustedProxy(t *testing.T) {
	r := newIPEngine(t, []string{"10.0.0.0/8"})

	assert.Equal(t, "1.1.1.1", clientIPOf(t, r, "10.1.2.3:5555", "1.1.1.1"))
	// Un peer fuera de la lista no puede elegir su IP
	assert.Equal(t, "203.0.113.7", clientIPOf(t, r, "203.0.113.7:5555", "1.1.1.1"))
}

func TestNewEngine_InvalidProxy(t *testing.T) {
	_, err := NewEngine(zap.NewNop(), []string{"not-an-ip"})
	assert.Error(t, err)
}
