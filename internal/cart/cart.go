// Package cart keeps one live shopping cart per stream, persisted in a kvstore.Store
// with an absolute expiry that slides forward on every write.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/clock"
	"github.com/aura-live/commerce/internal/metrics"
	"github.com/aura-live/commerce/internal/models"
	"github.com/aura-live/commerce/pkg/kvstore"
)

const (
	// KeyPrefix namespaces persisted carts in durable storage.
	KeyPrefix = "live_cart:"
	// DefaultExpiry is how long a cart survives without a write.
	DefaultExpiry = 30 * time.Minute
)

// ErrInvalidQuantity is returned when an entry is added with a negative quantity.
var ErrInvalidQuantity = errors.New("invalid quantity")

// Entry is one cart line. (ProductID, VariantID) is unique within a cart.
type Entry struct {
	ProductID    string           `json:"productId"`
	VariantID    string           `json:"variantId,omitempty"`
	Product      models.Product   `json:"product"`
	Quantity     int              `json:"quantity"`
	SpecialPrice *decimal.Decimal `json:"specialPrice,omitempty"`
	AddedAt      time.Time        `json:"addedAt"`
}

// UnitPrice is the live price when present, the catalog price otherwise.
func (e Entry) UnitPrice() decimal.Decimal {
	if e.SpecialPrice != nil {
		return *e.SpecialPrice
	}
	return e.Product.Price
}

func (e Entry) matches(productID, variantID string) bool {
	return e.ProductID == productID && e.VariantID == variantID
}

// Stored is the persisted envelope. SavedAt is unix milliseconds.
type Stored struct {
	Items   []Entry `json:"items"`
	SavedAt int64   `json:"savedAt"`
}

func (s Stored) age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.SavedAt))
}

// Summary is computed from the current entries on every call.
type Summary struct {
	TotalItems    int             `json:"totalItems"`
	ItemCount     int             `json:"itemCount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	OriginalTotal decimal.Decimal `json:"originalTotal"`
	Discount      decimal.Decimal `json:"discount"`
}

// ExpiryInfo reports how long the persisted cart has left.
type ExpiryInfo struct {
	Expired          bool          `json:"isExpired"`
	Remaining        time.Duration `json:"remainingNs"`
	RemainingMinutes int           `json:"remainingMinutes"`
}

// Snapshot is an immutable copy of the cart handed to checkout.
type Snapshot struct {
	StreamID string  `json:"streamId"`
	Items    []Entry `json:"items"`
}

// Key returns the storage key for a stream's cart.
func Key(streamID string) string {
	return KeyPrefix + streamID
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithExpiry overrides DefaultExpiry.
func WithExpiry(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store owns the cart of a single stream. Storage failures are logged and never returned:
// a lost cart is recoverable by re-adding items.
type Store struct {
	mu       sync.Mutex
	streamID string
	key      string
	kv       kvstore.Store
	clock    clock.Clock
	expiry   time.Duration
	logger   *zap.Logger
	items    []Entry
}

// New creates the cart store for streamID. Call Load to restore persisted entries.
func New(streamID string, kv kvstore.Store, opts ...Option) *Store {
	s := &Store{
		streamID: streamID,
		key:      Key(streamID),
		kv:       kv,
		clock:    clock.NewSystem(),
		expiry:   DefaultExpiry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("stream_id", streamID))
	return s
}

// StreamID returns the stream this cart belongs to.
func (s *Store) StreamID() string {
	return s.streamID
}

// Load replaces the in-memory cart with the persisted one. An expired record is deleted
// and an empty cart returned.
func (s *Store) Load(ctx context.Context) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	stored, ok := s.read(ctx)
	if !ok {
		return nil
	}
	if stored.age(s.clock.Now()) >= s.expiry {
		s.logger.Info("cart expired, removing", zap.Time("saved_at", time.UnixMilli(stored.SavedAt)))
		metrics.CartsExpired.Inc()
		s.remove(ctx)
		return nil
	}
	s.items = stored.Items
	s.logger.Debug("cart restored", zap.Int("items", len(s.items)))
	return cloneEntries(s.items)
}

// AddItem merges e into the cart by (ProductID, VariantID). Quantity 0 counts as 1.
func (s *Store) AddItem(ctx context.Context, e Entry) error {
	if e.Quantity < 0 {
		return fmt.Errorf("add %s: %w", e.ProductID, ErrInvalidQuantity)
	}
	if e.Quantity == 0 {
		e.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneEntries(s.items)
	merged := false
	for i := range next {
		if next[i].matches(e.ProductID, e.VariantID) {
			next[i].Quantity += e.Quantity
			merged = true
			break
		}
	}
	if !merged {
		e.AddedAt = s.clock.Now()
		next = append(next, e)
	}
	s.commit(ctx, next)
	return nil
}

// UpdateQuantity sets the quantity of a line. qty <= 0 removes it.
func (s *Store) UpdateQuantity(ctx context.Context, productID, variantID string, qty int) {
	if qty <= 0 {
		s.RemoveItem(ctx, productID, variantID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneEntries(s.items)
	for i := range next {
		if next[i].matches(productID, variantID) {
			next[i].Quantity = qty
		}
	}
	s.commit(ctx, next)
}

// RemoveItem drops a line. Removing the last line deletes the persisted record.
func (s *Store) RemoveItem(ctx context.Context, productID, variantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Entry, 0, len(s.items))
	for _, it := range s.items {
		if !it.matches(productID, variantID) {
			next = append(next, it)
		}
	}
	s.commit(ctx, next)
}

// Clear empties the cart and deletes the persisted record.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.remove(ctx)
}

// Items returns a copy of the current entries.
func (s *Store) Items() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.items)
}

// Snapshot returns an immutable copy for checkout.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{StreamID: s.streamID, Items: s.Items()}
}

// IsInCart reports whether productID is in the cart. An empty variantID matches any variant.
func (s *Store) IsInCart(productID, variantID string) bool {
	_, ok := s.GetItem(productID, variantID)
	return ok
}

// GetItem finds a line. An empty variantID matches any variant of the product.
func (s *Store) GetItem(productID, variantID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ProductID == productID && (variantID == "" || it.VariantID == variantID) {
			return cloneEntry(it), true
		}
	}
	return Entry{}, false
}

// Summary totals the current entries.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summarize(s.items)
}

// Summarize totals entries using the special price when one is set.
func Summarize(items []Entry) Summary {
	sum := Summary{
		ItemCount:     len(items),
		Subtotal:      decimal.Zero,
		OriginalTotal: decimal.Zero,
	}
	for _, it := range items {
		q := decimal.NewFromInt(int64(it.Quantity))
		sum.TotalItems += it.Quantity
		sum.Subtotal = sum.Subtotal.Add(it.UnitPrice().Mul(q))
		sum.OriginalTotal = sum.OriginalTotal.Add(it.Product.Price.Mul(q))
	}
	sum.Discount = sum.OriginalTotal.Sub(sum.Subtotal)
	return sum
}

// ExpiryInfo reads the persisted savedAt and reports the time left.
func (s *Store) ExpiryInfo(ctx context.Context) ExpiryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.read(ctx)
	if !ok {
		return ExpiryInfo{Expired: true}
	}
	remaining := s.expiry - stored.age(s.clock.Now())
	if remaining <= 0 {
		return ExpiryInfo{Expired: true}
	}
	return ExpiryInfo{
		Remaining:        remaining,
		RemainingMinutes: int((remaining + time.Minute - 1) / time.Minute),
	}
}

// commit swaps in next and persists it. Must be called with s.mu held.
func (s *Store) commit(ctx context.Context, next []Entry) {
	s.items = next
	if len(next) == 0 {
		s.remove(ctx)
		return
	}
	body, err := json.Marshal(Stored{Items: next, SavedAt: s.clock.Now().UnixMilli()})
	if err != nil {
		s.logger.Error("marshal cart", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, s.key, string(body)); err != nil {
		metrics.CartStorageOps.WithLabelValues("set", "error").Inc()
		s.logger.Warn("save cart failed", zap.Error(err))
		return
	}
	metrics.CartStorageOps.WithLabelValues("set", "ok").Inc()
	s.logger.Debug("cart saved", zap.Int("items", len(next)))
}

func (s *Store) read(ctx context.Context) (Stored, bool) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		metrics.CartStorageOps.WithLabelValues("get", "error").Inc()
		s.logger.Warn("load cart failed", zap.Error(err))
		return Stored{}, false
	}
	metrics.CartStorageOps.WithLabelValues("get", "ok").Inc()
	if !ok {
		return Stored{}, false
	}
	var stored Stored
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn("corrupt cart record, ignoring", zap.Error(err))
		return Stored{}, false
	}
	return stored, true
}

func (s *Store) remove(ctx context.Context) {
	if err := s.kv.Remove(ctx, s.key); err != nil {
		metrics.CartStorageOps.WithLabelValues("remove", "error").Inc()
		s.logger.Warn("remove cart failed", zap.Error(err))
		return
	}
	metrics.CartStorageOps.WithLabelValues("remove", "ok").Inc()
}

func cloneEntries(in []Entry) []Entry {
	if in == nil {
		return nil
	}
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e Entry) Entry {
	out := e
	if e.SpecialPrice != nil {
		sp := *e.SpecialPrice
		out.SpecialPrice = &sp
	}
	if e.Product.Images != nil {
		out.Product.Images = append([]string(nil), e.Product.Images...)
	}
	return out
}
