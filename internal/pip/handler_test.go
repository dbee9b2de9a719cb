package pip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/commerce/internal/realtime"
)

func TestHandler_Exit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	vm, host, _, dialer := setup(t)
	r := gin.New()
	NewHandler(host).Register(r.Group(""))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pip/exit", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, vm.Open(context.Background(), "s1", realtime.Identity{}))
	require.NoError(t, vm.MinimizeToPiP())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pip", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":true`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pip/exit", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, dialer.Last("s1").Count("leaveStream"))
}
