// Package session is the single source of truth a stream screen renders from. It reduces live
// channel events and local user actions into State and drives the cart, notifications and
// the PiP handoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/cart"
	"github.com/aura-live/commerce/internal/checkout"
	"github.com/aura-live/commerce/internal/clock"
	"github.com/aura-live/commerce/internal/models"
	"github.com/aura-live/commerce/internal/notify"
	"github.com/aura-live/commerce/internal/realtime"
	"github.com/aura-live/commerce/pkg/kvstore"
)

var (
	ErrNoSession    = errors.New("no open session")
	ErrAlreadyInPiP = errors.New("session already in picture-in-picture")
	ErrNoPiPHost    = errors.New("no picture-in-picture host configured")
	ErrNoCheckout   = errors.New("no checkout configured")

	// Returned by PiP hosts.
	ErrPiPActive   = errors.New("picture-in-picture already showing a stream")
	ErrPiPInactive = errors.New("picture-in-picture not active")
)

// FullScreenOwner is the default owner id of a view model's channel handle.
const FullScreenOwner realtime.OwnerID = "full-screen"

// Checkout places an order from a cart snapshot and returns its id.
type Checkout interface {
	PlaceOrder(ctx context.Context, o checkout.Order) (string, error)
}

// Handoff moves the live channel to the PiP surface. The handle is detached; the host must
// attach it exactly once before rendering.
type Handoff struct {
	Session models.Identity
	Handle  *realtime.Handle
}

// PiPHost presents the floating mini-player.
type PiPHost interface {
	Enter(h Handoff) error
	// Restore detaches the handle from the mini-player and returns the stream it belongs to.
	Restore() (streamID string, h *realtime.Handle, err error)
}

// FlashSale is the active timed discount.
type FlashSale struct {
	ProductID       string    `json:"productId"`
	DiscountPercent float64   `json:"discountPercent"`
	EndTime         time.Time `json:"endTime"`
}

// State is what a stream screen renders.
type State struct {
	Session       models.StreamSession `json:"session"`
	Connected     bool                 `json:"connected"`
	Ended         bool                 `json:"ended"`
	InPiP         bool                 `json:"inPip"`
	ViewerCount   int                  `json:"viewerCount"`
	Chat          []models.ChatMessage `json:"chat"`
	Pin           PinState             `json:"pin"`
	Phase         string               `json:"phase"`
	Countdown     time.Duration        `json:"countdownNs"`
	FlashSale     *FlashSale           `json:"flashSale,omitempty"`
	PurchaseStats map[string]int       `json:"purchaseStats"`
	Cart          cart.Summary         `json:"cart"`
	CartItems     []cart.Entry         `json:"cartItems"`
	LastError     string               `json:"lastError,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Session = s.Session.Clone()
	out.Chat = append([]models.ChatMessage(nil), s.Chat...)
	out.CartItems = append([]cart.Entry(nil), s.CartItems...)
	out.PurchaseStats = make(map[string]int, len(s.PurchaseStats))
	for k, v := range s.PurchaseStats {
		out.PurchaseStats[k] = v
	}
	if s.FlashSale != nil {
		fs := *s.FlashSale
		out.FlashSale = &fs
	}
	return out
}

// Options tunes the view model.
type Options struct {
	Owner         realtime.OwnerID
	Username      string
	ChatHistory   int
	CountdownTick time.Duration
	CartExpiry    time.Duration
}

// Deps are the collaborators of a view model. Notifier, Checkout and PiP are optional.
type Deps struct {
	Channel  *realtime.Client
	Storage  kvstore.Store
	Notifier notify.Sink
	Checkout Checkout
	PiP      PiPHost
	Clock    clock.Clock
	Logger   *zap.Logger
}

// ViewModel reduces one open stream session at a time.
type ViewModel struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	gen       uint64 // bumped on every Open/Close; stale callbacks compare against it
	handle    *realtime.Handle
	cart      *cart.Store
	cartReady chan struct{}
	state     State
	observers map[int]func(State)
	nextObs   int

	tickCancel context.CancelFunc
	tickDone   chan struct{}

	parked *parkedSession // session left while the mini-player held its handle
}

// parkedSession keeps reducing a handed-off stream after its screen closed, so restoring it
// needs no fresh snapshot from the server.
type parkedSession struct {
	handle *realtime.Handle
	state  State
}

// New creates a view model. Open a session before using it.
func New(deps Deps, opts Options) *ViewModel {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if opts.Owner == "" {
		opts.Owner = FullScreenOwner
	}
	if opts.ChatHistory <= 0 {
		opts.ChatHistory = 50
	}
	if opts.CountdownTick <= 0 {
		opts.CountdownTick = time.Second
	}
	if opts.CartExpiry <= 0 {
		opts.CartExpiry = cart.DefaultExpiry
	}
	return &ViewModel{
		deps:      deps,
		opts:      opts,
		logger:    deps.Logger.Named("session"),
		observers: make(map[int]func(State)),
		state:     State{PurchaseStats: map[string]int{}, Phase: Unpinned.String()},
	}
}

// Open leaves the current session, if any, joins sessionID and starts loading its cart.
// A connect failure is recorded as a banner and returned; local state is kept.
func (vm *ViewModel) Open(ctx context.Context, sessionID string, identity realtime.Identity) error {
	// Remount of the same stream: keep state and connection, refresh the handlers.
	vm.mu.Lock()
	cur, curGen := vm.handle, vm.gen
	inPiP := vm.heldByPiPLocked(sessionID)
	vm.mu.Unlock()
	if cur != nil && cur.SessionID() == sessionID && !cur.Closed() && cur.Owner() == vm.opts.Owner {
		vm.subscribe(cur, curGen)
		return nil
	}
	// The mini-player holds this stream: take it back instead of joining again.
	if inPiP {
		_, err := vm.RestoreFromPiP(ctx)
		return err
	}

	vm.teardown(ctx)

	vm.mu.Lock()
	vm.gen++
	gen := vm.gen
	vm.state = State{
		Session:       models.StreamSession{ID: sessionID},
		PurchaseStats: map[string]int{},
		Phase:         Unpinned.String(),
	}
	// Adopting a handle that left the mini-player: its state survived the handoff and the
	// server will not resend the join snapshot.
	var adopted *realtime.Handle
	if p := vm.parked; p != nil && p.handle.SessionID() == sessionID && !p.handle.Closed() {
		adopted = p.handle
		vm.state = p.state.clone()
		vm.state.InPiP = false
		vm.state.Connected = false
	}
	ready := make(chan struct{})
	vm.cartReady = ready
	vm.mu.Unlock()
	if adopted != nil {
		// Subscribe before Connect attaches it so replayed events reduce into this generation.
		vm.subscribe(adopted, gen)
	}

	store := cart.New(sessionID, vm.deps.Storage,
		cart.WithClock(vm.deps.Clock),
		cart.WithExpiry(vm.opts.CartExpiry),
		cart.WithLogger(vm.logger),
	)
	go vm.loadCart(context.WithoutCancel(ctx), gen, store, ready)

	h, err := vm.deps.Channel.Connect(ctx, sessionID, identity, vm.opts.Owner)
	if err != nil {
		vm.logger.Warn("connect failed", zap.String("stream_id", sessionID), zap.Error(err))
		vm.update(gen, func(s *State) { s.LastError = err.Error() })
		return err
	}

	vm.mu.Lock()
	if vm.gen != gen {
		vm.mu.Unlock()
		_ = vm.deps.Channel.Disconnect(ctx, h, vm.opts.Owner)
		return ErrNoSession
	}
	if h != adopted {
		vm.state = State{
			Session:       models.StreamSession{ID: sessionID},
			PurchaseStats: map[string]int{},
			Phase:         Unpinned.String(),
			Cart:          vm.state.Cart,
			CartItems:     vm.state.CartItems,
		}
	}
	if vm.parked != nil && vm.parked.handle.SessionID() == sessionID {
		vm.parked = nil
	}
	vm.handle = h
	vm.state.Connected = true
	vm.mu.Unlock()

	vm.subscribe(h, gen)
	vm.startTicker(gen)
	vm.publish()
	vm.logger.Info("session opened", zap.String("stream_id", sessionID))
	return nil
}

// Close leaves the session. If the handle was handed to the PiP host the connection stays up.
func (vm *ViewModel) Close(ctx context.Context) {
	vm.teardown(ctx)
	vm.publish()
}

func (vm *ViewModel) teardown(ctx context.Context) {
	vm.mu.Lock()
	vm.gen++
	h := vm.handle
	if h != nil && vm.state.InPiP && !h.Closed() {
		vm.parked = &parkedSession{handle: h, state: vm.state.clone()}
	} else if vm.parked != nil && vm.parked.handle.Closed() {
		vm.parked = nil
	}
	vm.handle = nil
	vm.cart = nil
	vm.state.Connected = false
	cancel, done := vm.tickCancel, vm.tickDone
	vm.tickCancel, vm.tickDone = nil, nil
	vm.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if h != nil {
		if err := vm.deps.Channel.Disconnect(ctx, h, vm.opts.Owner); err != nil {
			vm.logger.Warn("leave failed", zap.String("stream_id", h.SessionID()), zap.Error(err))
		}
	}
}

// loadCart restores the persisted cart and commits it only if no newer session was opened.
func (vm *ViewModel) loadCart(ctx context.Context, gen uint64, store *cart.Store, ready chan struct{}) {
	defer close(ready)
	store.Load(ctx)

	vm.mu.Lock()
	if vm.gen != gen {
		vm.mu.Unlock()
		vm.logger.Debug("discarding stale cart load", zap.String("stream_id", store.StreamID()))
		return
	}
	vm.cart = store
	vm.state.Cart = store.Summary()
	vm.state.CartItems = store.Items()
	vm.mu.Unlock()
	vm.publish()
}

// State returns a copy of the current state.
func (vm *ViewModel) State() State {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.stateLocked()
}

func (vm *ViewModel) stateLocked() State {
	s := vm.state.clone()
	s.Phase = s.Pin.Phase().String()
	s.Countdown = s.Pin.Remaining(vm.deps.Clock.Now())
	return s
}

// Subscribe registers fn for state changes and returns an unsubscribe func.
func (vm *ViewModel) Subscribe(fn func(State)) func() {
	vm.mu.Lock()
	id := vm.nextObs
	vm.nextObs++
	vm.observers[id] = fn
	vm.mu.Unlock()
	return func() {
		vm.mu.Lock()
		delete(vm.observers, id)
		vm.mu.Unlock()
	}
}

func (vm *ViewModel) publish() {
	vm.mu.Lock()
	s := vm.stateLocked()
	obs := make([]func(State), 0, len(vm.observers))
	for _, fn := range vm.observers {
		obs = append(obs, fn)
	}
	vm.mu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// update applies fn to the state of generation gen and notifies observers. It reports
// whether the generation was still current.
func (vm *ViewModel) update(gen uint64, fn func(*State)) bool {
	vm.mu.Lock()
	if vm.gen != gen {
		vm.mu.Unlock()
		return false
	}
	fn(&vm.state)
	vm.mu.Unlock()
	vm.publish()
	return true
}

// reduce applies an event from h. Events of a stale generation still land in the parked
// state while h is the handle the mini-player holds.
func (vm *ViewModel) reduce(h *realtime.Handle, gen uint64, fn func(*State)) bool {
	if vm.update(gen, fn) {
		return true
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if p := vm.parked; p != nil && p.handle == h {
		fn(&p.state)
		return true
	}
	return false
}

// heldByPiPLocked reports whether the mini-player currently owns the handle of sessionID.
func (vm *ViewModel) heldByPiPLocked(sessionID string) bool {
	if vm.deps.PiP == nil {
		return false
	}
	var h *realtime.Handle
	switch {
	case vm.handle != nil && vm.state.InPiP:
		h = vm.handle
	case vm.parked != nil:
		h = vm.parked.handle
	}
	if h == nil || h.SessionID() != sessionID || h.Closed() {
		return false
	}
	owner := h.Owner()
	return owner != "" && owner != vm.opts.Owner
}

func (vm *ViewModel) startTicker(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	vm.mu.Lock()
	if vm.gen != gen {
		vm.mu.Unlock()
		cancel()
		return
	}
	vm.tickCancel, vm.tickDone = cancel, done
	vm.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(vm.opts.CountdownTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				vm.mu.Lock()
				timed := vm.gen == gen && vm.state.Pin.Phase() == PinnedTimed
				vm.mu.Unlock()
				if timed {
					vm.publish()
				}
			}
		}
	}()
}

// currentCart waits for the cart of the open session to finish loading.
func (vm *ViewModel) currentCart(ctx context.Context) (*cart.Store, uint64, error) {
	vm.mu.Lock()
	ready, gen := vm.cartReady, vm.gen
	vm.mu.Unlock()
	if ready == nil {
		return nil, 0, ErrNoSession
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.cart == nil || vm.gen != gen {
		return nil, 0, ErrNoSession
	}
	return vm.cart, gen, nil
}

func (vm *ViewModel) refreshCart(gen uint64, store *cart.Store) {
	vm.update(gen, func(s *State) {
		s.Cart = store.Summary()
		s.CartItems = store.Items()
	})
}

// AddToCart adds an entry to the session's cart.
func (vm *ViewModel) AddToCart(ctx context.Context, e cart.Entry) error {
	store, gen, err := vm.currentCart(ctx)
	if err != nil {
		return err
	}
	if err := store.AddItem(ctx, e); err != nil {
		return err
	}
	vm.refreshCart(gen, store)
	return nil
}

// UpdateCartQuantity sets a line's quantity; zero or less removes it.
func (vm *ViewModel) UpdateCartQuantity(ctx context.Context, productID, variantID string, qty int) error {
	store, gen, err := vm.currentCart(ctx)
	if err != nil {
		return err
	}
	store.UpdateQuantity(ctx, productID, variantID, qty)
	vm.refreshCart(gen, store)
	return nil
}

// RemoveFromCart removes a line.
func (vm *ViewModel) RemoveFromCart(ctx context.Context, productID, variantID string) error {
	store, gen, err := vm.currentCart(ctx)
	if err != nil {
		return err
	}
	store.RemoveItem(ctx, productID, variantID)
	vm.refreshCart(gen, store)
	return nil
}

// CartExpiry reports how long the persisted cart has left.
func (vm *ViewModel) CartExpiry(ctx context.Context) (cart.ExpiryInfo, error) {
	store, _, err := vm.currentCart(ctx)
	if err != nil {
		return cart.ExpiryInfo{}, err
	}
	return store.ExpiryInfo(ctx), nil
}

// Checkout hands an immutable cart snapshot to the checkout collaborator and clears the
// cart once the order is confirmed.
func (vm *ViewModel) Checkout(ctx context.Context, paymentMethodID string) (string, error) {
	if vm.deps.Checkout == nil {
		return "", ErrNoCheckout
	}
	store, gen, err := vm.currentCart(ctx)
	if err != nil {
		return "", err
	}
	snap := store.Snapshot()
	if len(snap.Items) == 0 {
		return "", checkout.ErrEmptyCart
	}

	vm.mu.Lock()
	affiliateID := vm.state.Session.AffiliateID
	vm.mu.Unlock()

	orderID, err := vm.deps.Checkout.PlaceOrder(ctx, checkout.Order{
		Cart:            snap,
		AffiliateID:     affiliateID,
		PaymentMethodID: paymentMethodID,
	})
	if err != nil {
		vm.update(gen, func(s *State) { s.LastError = err.Error() })
		return "", fmt.Errorf("checkout: %w", err)
	}
	store.Clear(ctx)
	vm.refreshCart(gen, store)
	return orderID, nil
}

// QuickBuy adds e and checks out immediately.
func (vm *ViewModel) QuickBuy(ctx context.Context, e cart.Entry, paymentMethodID string) (string, error) {
	if err := vm.AddToCart(ctx, e); err != nil {
		return "", err
	}
	return vm.Checkout(ctx, paymentMethodID)
}

// SendChat posts a chat message as the configured username. Empty text is ignored.
func (vm *ViewModel) SendChat(ctx context.Context, text string) error {
	vm.mu.Lock()
	h, gen := vm.handle, vm.gen
	vm.mu.Unlock()
	if h == nil {
		return ErrNoSession
	}
	if err := h.SendChat(ctx, vm.opts.Owner, vm.opts.Username, text); err != nil {
		vm.update(gen, func(s *State) { s.LastError = err.Error() })
		return err
	}
	return nil
}

// DismissError clears the banner.
func (vm *ViewModel) DismissError() {
	vm.mu.Lock()
	gen := vm.gen
	vm.mu.Unlock()
	vm.update(gen, func(s *State) { s.LastError = "" })
}

// MinimizeToPiP detaches the live channel and hands it, with the session identity, to the
// PiP host. The connection is not closed and no leave is sent.
func (vm *ViewModel) MinimizeToPiP() error {
	if vm.deps.PiP == nil {
		return ErrNoPiPHost
	}
	vm.mu.Lock()
	h, gen := vm.handle, vm.gen
	inPiP := vm.state.InPiP
	identity := vm.state.Session.Identity()
	identity.ViewerCount = vm.state.ViewerCount
	vm.mu.Unlock()
	if h == nil {
		return ErrNoSession
	}
	if inPiP {
		return ErrAlreadyInPiP
	}

	moved, err := vm.deps.Channel.Detach(h, vm.opts.Owner)
	if err != nil {
		return fmt.Errorf("minimize: %w", err)
	}
	if err := vm.deps.PiP.Enter(Handoff{Session: identity, Handle: moved}); err != nil {
		if attachErr := vm.deps.Channel.Attach(moved, vm.opts.Owner); attachErr != nil {
			vm.logger.Warn("reclaim handle after failed handoff", zap.Error(attachErr))
		}
		return fmt.Errorf("minimize: %w", err)
	}
	vm.update(gen, func(s *State) { s.InPiP = true })
	vm.logger.Info("minimized to picture-in-picture", zap.String("stream_id", identity.ID))
	return nil
}

// RestoreFromPiP takes the channel back from the PiP host. When the mini-player was showing
// a different stream, that stream is opened on the existing connection.
func (vm *ViewModel) RestoreFromPiP(ctx context.Context) (string, error) {
	if vm.deps.PiP == nil {
		return "", ErrNoPiPHost
	}
	streamID, h, err := vm.deps.PiP.Restore()
	if err != nil {
		return "", fmt.Errorf("restore: %w", err)
	}

	vm.mu.Lock()
	same := vm.handle == h
	gen := vm.gen
	vm.mu.Unlock()

	if !same {
		if err := vm.Open(ctx, streamID, h.Identity()); err != nil {
			return "", err
		}
		return streamID, nil
	}
	if err := vm.deps.Channel.Attach(h, vm.opts.Owner); err != nil {
		return "", fmt.Errorf("restore: %w", err)
	}
	vm.update(gen, func(s *State) { s.InPiP = false })
	return streamID, nil
}
