package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/commerce/internal/cart"
	"github.com/aura-live/commerce/internal/models"
)

func snapshot() cart.Snapshot {
	special := decimal.NewFromInt(80)
	return cart.Snapshot{
		StreamID: "s1",
		Items: []cart.Entry{
			{ProductID: "p1", Quantity: 2, Product: models.Product{ID: "p1", Price: decimal.NewFromInt(100)}, SpecialPrice: &special},
			{ProductID: "p2", VariantID: "red", Quantity: 1, Product: models.Product{ID: "p2", Price: decimal.NewFromInt(25)}},
		},
	}
}

func TestPlaceOrder(t *testing.T) {
	var got createOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/orders", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"ord_1"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/v1", "tok", time.Second, nil)
	id, err := c.PlaceOrder(context.Background(), Order{Cart: snapshot(), AffiliateID: "aff"})
	require.NoError(t, err)
	assert.Equal(t, "ord_1", id)

	assert.Equal(t, "s1", got.LiveSessionID)
	assert.Equal(t, "aff", got.AffiliateID)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, "red", got.Items[1].VariantID)
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error", http.StatusBadRequest, `{"success":false,"message":"out of stock"}`, "out of stock"},
		{"not successful", http.StatusOK, `{"success":false,"error":"payment declined"}`, "payment declined"},
		{"missing id", http.StatusOK, `{"success":true,"data":{}}`, "missing order id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", time.Second, nil)
			_, err := c.PlaceOrder(context.Background(), Order{Cart: snapshot()})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Second, nil)
	_, err := c.PlaceOrder(context.Background(), Order{Cart: cart.Snapshot{StreamID: "s1"}})
	assert.ErrorIs(t, err, ErrEmptyCart)
}
