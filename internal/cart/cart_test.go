package cart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/commerce/internal/clock"
	"github.com/aura-live/commerce/internal/models"
	"github.com/aura-live/commerce/pkg/kvstore"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, streamID string) (*Store, *kvstore.Memory, *clock.Manual) {
	t.Helper()
	kv := kvstore.NewMemory()
	clk := clock.NewManual(start)
	return New(streamID, kv, WithClock(clk)), kv, clk
}

func product(id string, price int64) models.Product {
	return models.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(price)}
}

func TestStore_ExampleFlow(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newTestStore(t, "s1")
	s.Load(ctx)

	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 1, Product: product("p1", 100)}))
	sum := s.Summary()
	assert.Equal(t, 1, sum.TotalItems)
	assert.True(t, sum.Subtotal.Equal(decimal.NewFromInt(100)), "subtotal %s", sum.Subtotal)

	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 2}))
	sum = s.Summary()
	assert.Equal(t, 3, sum.TotalItems)
	assert.True(t, sum.Subtotal.Equal(decimal.NewFromInt(300)), "subtotal %s", sum.Subtotal)

	s.UpdateQuantity(ctx, "p1", "", 0)
	assert.Empty(t, s.Items())
	_, ok, err := kv.Get(ctx, Key("s1"))
	require.NoError(t, err)
	assert.False(t, ok, "persisted record should be removed")
}

func TestStore_AddItemMergesByKey(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, "s1")

	quantities := []int{1, 4, 2, 7}
	want := 0
	for _, q := range quantities {
		want += q
		require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", VariantID: "red", Quantity: q, Product: product("p1", 10)}))
	}
	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", VariantID: "blue", Quantity: 1, Product: product("p1", 10)}))

	items := s.Items()
	require.Len(t, items, 2)
	red, ok := s.GetItem("p1", "red")
	require.True(t, ok)
	assert.Equal(t, want, red.Quantity)
	assert.Equal(t, 2, s.Summary().ItemCount)
}

func TestStore_AddItemValidation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, "s1")

	err := s.AddItem(ctx, Entry{ProductID: "p1", Quantity: -1})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 0, Product: product("p1", 5)}))
	it, ok := s.GetItem("p1", "")
	require.True(t, ok)
	assert.Equal(t, 1, it.Quantity)
}

func TestStore_LoadWithinTTL(t *testing.T) {
	ctx := context.Background()
	s, kv, clk := newTestStore(t, "s1")
	special := decimal.NewFromInt(80)
	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 2, Product: product("p1", 100), SpecialPrice: &special}))
	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p2", VariantID: "xl", Quantity: 1, Product: product("p2", 50)}))

	clk.Advance(29 * time.Minute)
	restored := New("s1", kv, WithClock(clk))
	items := restored.Load(ctx)

	require.Len(t, items, 2)
	assert.Equal(t, "p1", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	require.NotNil(t, items[0].SpecialPrice)
	assert.True(t, items[0].SpecialPrice.Equal(special))
	assert.True(t, items[0].AddedAt.Equal(start))
	assert.Equal(t, "xl", items[1].VariantID)

	sum := restored.Summary()
	assert.True(t, sum.Subtotal.Equal(decimal.NewFromInt(210)))
	assert.True(t, sum.OriginalTotal.Equal(decimal.NewFromInt(250)))
	assert.True(t, sum.Discount.Equal(decimal.NewFromInt(40)))
}

func TestStore_LoadExpired(t *testing.T) {
	ctx := context.Background()
	s, kv, clk := newTestStore(t, "s1")
	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 1, Product: product("p1", 100)}))

	clk.Advance(DefaultExpiry)
	restored := New("s1", kv, WithClock(clk))
	assert.Empty(t, restored.Load(ctx))

	_, ok, err := kv.Get(ctx, Key("s1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_WriteSlidesExpiry(t *testing.T) {
	ctx := context.Background()
	s, kv, clk := newTestStore(t, "s1")
	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 1, Product: product("p1", 1)}))

	clk.Advance(20 * time.Minute)
	s.UpdateQuantity(ctx, "p1", "", 5)
	clk.Advance(20 * time.Minute)

	items := New("s1", kv, WithClock(clk)).Load(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestStore_ClearRemovesRecord(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newTestStore(t, "s1")
	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 1, Product: product("p1", 1)}))

	s.Clear(ctx)
	assert.Empty(t, s.Items())
	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_IsInCart(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, "s1")
	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", VariantID: "m", Quantity: 1, Product: product("p1", 1)}))

	assert.True(t, s.IsInCart("p1", ""))
	assert.True(t, s.IsInCart("p1", "m"))
	assert.False(t, s.IsInCart("p1", "l"))
	assert.False(t, s.IsInCart("p2", ""))
}

func TestStore_ExpiryInfo(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newTestStore(t, "s1")

	assert.True(t, s.ExpiryInfo(ctx).Expired)

	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 1, Product: product("p1", 1)}))
	clk.Advance(10*time.Minute + 30*time.Second)
	info := s.ExpiryInfo(ctx)
	assert.False(t, info.Expired)
	assert.Equal(t, 19*time.Minute+30*time.Second, info.Remaining)
	assert.Equal(t, 20, info.RemainingMinutes)

	clk.Advance(20 * time.Minute)
	assert.True(t, s.ExpiryInfo(ctx).Expired)
}

type failingKV struct{ kvstore.Memory }

var errDisk = errors.New("disk full")

func (f *failingKV) Get(context.Context, string) (string, bool, error) { return "", false, errDisk }
func (f *failingKV) Set(context.Context, string, string) error         { return errDisk }
func (f *failingKV) Remove(context.Context, string) error              { return errDisk }

func TestStore_StorageErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	s := New("s1", &failingKV{}, WithClock(clock.NewFixed(start)))

	assert.Empty(t, s.Load(ctx))
	require.NoError(t, s.AddItem(ctx, Entry{ProductID: "p1", Quantity: 2, Product: product("p1", 3)}))
	assert.Equal(t, 2, s.Summary().TotalItems)
	s.Clear(ctx)
	assert.Empty(t, s.Items())
}

func TestStore_CorruptRecordTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	require.NoError(t, kv.Set(ctx, Key("s1"), "{not json"))

	s := New("s1", kv, WithClock(clock.NewFixed(start)))
	assert.Empty(t, s.Load(ctx))
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	put := func(key string, savedAt time.Time) {
		body, err := json.Marshal(Stored{Items: []Entry{{ProductID: "p1", Quantity: 1}}, SavedAt: savedAt.UnixMilli()})
		require.NoError(t, err)
		require.NoError(t, kv.Set(ctx, key, string(body)))
	}
	put(Key("fresh"), start.Add(-5*time.Minute))
	put(Key("stale"), start.Add(-31*time.Minute))
	put(Key("edge"), start.Add(-30*time.Minute))
	require.NoError(t, kv.Set(ctx, Key("corrupt"), "??"))
	require.NoError(t, kv.Set(ctx, "other:stale", "keep"))

	removed, err := SweepExpired(ctx, kv, start, DefaultExpiry, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{Key("corrupt"), Key("fresh"), "other:stale"}, keys)
}
