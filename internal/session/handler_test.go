package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/commerce/internal/realtime"
	"github.com/aura-live/commerce/pkg/response"
)

func newRouter(h *harness) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(h.vm, realtime.Identity{SessionID: "viewer_test", UserID: "u-1"}).Register(r.Group("/api/v1"))
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) (int, response.Body) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out response.Body
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestHandler_OpenAndCartFlow(t *testing.T) {
	h := newHarness(t, nil)
	r := newRouter(h)

	code, _ := do(t, r, http.MethodPost, "/api/v1/session", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := do(t, r, http.MethodPost, "/api/v1/session", OpenRequest{StreamID: "s1"})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)
	require.NotNil(t, h.client.Handle("s1"))
	assert.Equal(t, "viewer_test", h.client.Handle("s1").Identity().SessionID)

	code, _ = do(t, r, http.MethodPost, "/api/v1/cart/checkout", CheckoutRequest{})
	assert.Equal(t, http.StatusBadRequest, code, "empty cart")

	code, _ = do(t, r, http.MethodPost, "/api/v1/cart/items", gin.H{"productId": "p1", "quantity": -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/cart/items", gin.H{
		"productId": "p1",
		"quantity":  2,
		"product":   gin.H{"name": "Mug", "price": "12.50"},
	})
	require.Equal(t, http.StatusCreated, code)

	code, body = do(t, r, http.MethodGet, "/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, code)
	data := body.Data.(map[string]any)
	assert.Len(t, data["items"], 1)
	assert.Equal(t, float64(2), data["summary"].(map[string]any)["totalItems"])

	code, body = do(t, r, http.MethodPost, "/api/v1/cart/checkout", CheckoutRequest{PaymentMethodID: "pm_1"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "ord_1", body.Data.(map[string]any)["orderId"])
	require.Len(t, h.checkout.orders, 1)
	assert.Equal(t, "pm_1", h.checkout.orders[0].PaymentMethodID)
	assert.Empty(t, h.vm.State().CartItems)
}

func TestHandler_NoSessionIsConflict(t *testing.T) {
	h := newHarness(t, nil)
	r := newRouter(h)

	code, body := do(t, r, http.MethodPost, "/api/v1/session/chat", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, body.Success)
	assert.Equal(t, ErrNoSession.Error(), body.Error)

	code, _ = do(t, r, http.MethodPost, "/api/v1/pip/minimize", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestHandler_MinimizeTwice(t *testing.T) {
	h := newHarness(t, nil)
	r := newRouter(h)
	h.open(t, "s1")

	code, body := do(t, r, http.MethodPost, "/api/v1/pip/minimize", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body.Data.(map[string]any)["inPip"])

	code, _ = do(t, r, http.MethodPost, "/api/v1/pip/minimize", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, r, http.MethodPost, "/api/v1/pip/restore", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s1", body.Data.(map[string]any)["streamId"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNoSession, http.StatusConflict},
		{realtime.ErrAlreadyAttached, http.StatusConflict},
		{ErrNoCheckout, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
