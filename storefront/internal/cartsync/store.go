// Package cartsync keeps the storefront's copy of the signed-in user's cart.
//
// The store never computes totals itself. After every successful call the
// cart and its summary are replaced with what the cart service returned, so
// the local copy is at most one round trip behind the service. Concurrent
// calls are not serialized; whichever response arrives last is kept.
package cartsync

import (
	"context"
	"sync"

	"github.com/emart/emart-cart/storefront/internal/cartapi"
	"github.com/emart/emart-cart/storefront/internal/session"
	"go.uber.org/zap"
)

const Currency = "INR"

type CartAPI interface {
	GetCart(ctx context.Context, token string) (*cartapi.Cart, error)
	GetSummary(ctx context.Context, token string) (cartapi.Summary, error)
	AddItem(ctx context.Context, token string, item cartapi.NewItem) (*cartapi.Cart, error)
	UpdateItem(ctx context.Context, token, itemID string, quantity int) (*cartapi.Cart, error)
	RemoveItem(ctx context.Context, token, itemID string) (*cartapi.Cart, error)
	ClearCart(ctx context.Context, token string) error
}

// Credentials supplies the bearer token of the current user, or "" when
// nobody is signed in.
type Credentials interface {
	Token() string
}

// SessionSource is a Credentials that also reports sign-in and sign-out.
type SessionSource interface {
	Credentials
	Subscribe(fn session.Listener) (unsubscribe func())
}

type Status int

const (
	Unauthenticated Status = iota
	SummaryLoading
	SummaryReady
)

func (s Status) String() string {
	switch s {
	case SummaryLoading:
		return "summary-loading"
	case SummaryReady:
		return "summary-ready"
	default:
		return "unauthenticated"
	}
}

type Summary struct {
	TotalItems int
	TotalPrice float64
	Currency   string
}

func emptySummary() Summary {
	return Summary{Currency: Currency}
}

// Snapshot is a copy of the store state. Changing it does not change the
// store.
type Snapshot struct {
	Cart    *cartapi.Cart
	Summary Summary
	Loading bool
	Open    bool
	Status  Status
}

type Store struct {
	api   CartAPI
	creds Credentials
	log   *zap.Logger

	mu       sync.Mutex
	cart     *cartapi.Cart
	summary  Summary
	fetching int
	open     bool
	status   Status
	// epoch changes on every sign-in and sign-out. Responses to calls made
	// in an earlier epoch are dropped.
	epoch   uint64
	subs    map[int]func(Snapshot)
	nextSub int
}

func New(api CartAPI, creds Credentials, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		api:     api,
		creds:   creds,
		log:     log,
		summary: emptySummary(),
		subs:    map[int]func(Snapshot){},
	}
}

// Bind follows sess: signing in starts a fresh summary load, signing out
// resets the store. If sess is already signed in the load starts now.
func (s *Store) Bind(ctx context.Context, sess SessionSource) (unbind func()) {
	unbind = sess.Subscribe(func(authenticated bool) {
		if authenticated {
			s.Start(ctx)
			return
		}
		s.Reset()
	})
	if sess.Token() != "" {
		s.Start(ctx)
	}
	return unbind
}

// Start begins a new signed-in epoch and loads the summary.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	s.clearLocked()
	s.status = SummaryLoading
	s.mu.Unlock()
	s.notify()

	s.FetchSummary(ctx)
}

// Reset empties the store after sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	s.epoch++
	s.clearLocked()
	s.status = Unauthenticated
	s.mu.Unlock()
	s.notify()
}

func (s *Store) clearLocked() {
	s.cart = nil
	s.summary = emptySummary()
	s.fetching = 0
	s.open = false
}

// FetchSummary refreshes only the summary. Failures are logged and
// otherwise ignored; the previous summary stays.
func (s *Store) FetchSummary(ctx context.Context) {
	token, epoch := s.begin()
	if token == "" {
		return
	}

	sum, err := s.api.GetSummary(ctx, token)
	if err != nil {
		s.log.Debug("cart summary refresh failed", zap.Error(err))
		return
	}

	s.update(epoch, func() {
		s.summary = Summary{TotalItems: sum.TotalItems, TotalPrice: sum.TotalPrice, Currency: Currency}
	})
}

// FetchCart refreshes the cart and its summary. Loading is reported while
// the call is in flight. The error is logged and returned; the previous cart
// stays on failure.
func (s *Store) FetchCart(ctx context.Context) error {
	token, epoch := s.begin()
	if token == "" {
		return nil
	}

	s.mu.Lock()
	s.fetching++
	s.mu.Unlock()
	s.notify()

	cart, err := s.api.GetCart(ctx, token)

	s.mu.Lock()
	if s.epoch == epoch && s.fetching > 0 {
		s.fetching--
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("failed to fetch cart", zap.Error(err))
		s.notify()
		return err
	}
	s.replace(epoch, cart)
	return nil
}

func (s *Store) AddItem(ctx context.Context, item cartapi.NewItem) error {
	return s.mutate(ctx, func(token string) (*cartapi.Cart, error) {
		return s.api.AddItem(ctx, token, item)
	})
}

// UpdateItem sets the quantity of one item. Callers route a quantity of 0
// to RemoveItem.
func (s *Store) UpdateItem(ctx context.Context, itemID string, quantity int) error {
	return s.mutate(ctx, func(token string) (*cartapi.Cart, error) {
		return s.api.UpdateItem(ctx, token, itemID, quantity)
	})
}

func (s *Store) RemoveItem(ctx context.Context, itemID string) error {
	return s.mutate(ctx, func(token string) (*cartapi.Cart, error) {
		return s.api.RemoveItem(ctx, token, itemID)
	})
}

// ClearCart empties the cart on the service and then locally, without
// fetching it again.
func (s *Store) ClearCart(ctx context.Context) error {
	token, epoch := s.begin()
	if token == "" {
		return cartapi.ErrUnauthorized
	}
	if err := s.api.ClearCart(ctx, token); err != nil {
		return err
	}
	s.update(epoch, func() {
		s.cart = nil
		s.summary = emptySummary()
	})
	return nil
}

// OpenCart marks the cart view open and refreshes the cart.
func (s *Store) OpenCart(ctx context.Context) error {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	s.notify()

	return s.FetchCart(ctx)
}

func (s *Store) CloseCart() {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) mutate(ctx context.Context, call func(token string) (*cartapi.Cart, error)) error {
	token, epoch := s.begin()
	if token == "" {
		return cartapi.ErrUnauthorized
	}
	cart, err := call(token)
	if err != nil {
		return err
	}
	s.replace(epoch, cart)
	return nil
}

func (s *Store) begin() (string, uint64) {
	token := s.creds.Token()
	s.mu.Lock()
	defer s.mu.Unlock()
	return token, s.epoch
}

// replace installs a cart returned by the service along with the summary
// derived from it.
func (s *Store) replace(epoch uint64, cart *cartapi.Cart) {
	s.update(epoch, func() {
		s.cart = cart
		if cart == nil {
			s.summary = emptySummary()
			return
		}
		s.summary = Summary{TotalItems: cart.TotalItems, TotalPrice: cart.TotalPrice, Currency: Currency}
	})
}

func (s *Store) update(epoch uint64, fn func()) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Debug("dropping cart response from an earlier session")
		return
	}
	fn()
	if s.status == SummaryLoading {
		s.status = SummaryReady
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Summary: s.summary,
		Loading: s.fetching > 0,
		Open:    s.open,
		Status:  s.status,
	}
	if s.cart != nil {
		c := *s.cart
		c.Items = append([]cartapi.Item(nil), s.cart.Items...)
		snap.Cart = &c
	}
	return snap
}
