package cartsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emart/emart-cart/storefront/internal/cartapi"
	"github.com/emart/emart-cart/storefront/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

// fakeCartAPI behaves like the cart service for one user: it merges by
// product and recomputes totals on every write.
type fakeCartAPI struct {
	mu     sync.Mutex
	items  []cartapi.Item
	nextID int
	calls  map[string]int
	tokens []string

	summaryErr error
	cartErr    error
	mutateErr  error
	clearErr   error

	// getCartGate, when set, is received from before GetCart answers.
	getCartGate chan struct{}
	// updateFn replaces the default UpdateItem behaviour.
	updateFn func(itemID string, quantity int) (*cartapi.Cart, error)
}

func newFakeCartAPI() *fakeCartAPI {
	return &fakeCartAPI{calls: map[string]int{}}
}

func (f *fakeCartAPI) record(op, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	f.tokens = append(f.tokens, token)
}

func (f *fakeCartAPI) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeCartAPI) cartLocked() *cartapi.Cart {
	c := &cartapi.Cart{UserID: "u1", Items: append([]cartapi.Item(nil), f.items...)}
	for _, it := range f.items {
		c.TotalItems += it.Quantity
		c.TotalPrice += it.Price * float64(it.Quantity)
	}
	return c
}

func (f *fakeCartAPI) GetCart(_ context.Context, token string) (*cartapi.Cart, error) {
	f.record("GetCart", token)
	if f.getCartGate != nil {
		<-f.getCartGate
	}
	if f.cartErr != nil {
		return nil, f.cartErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cartLocked(), nil
}

func (f *fakeCartAPI) GetSummary(_ context.Context, token string) (cartapi.Summary, error) {
	f.record("GetSummary", token)
	if f.summaryErr != nil {
		return cartapi.Summary{}, f.summaryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cartLocked()
	return cartapi.Summary{TotalItems: c.TotalItems, TotalPrice: c.TotalPrice, Currency: "INR"}, nil
}

func (f *fakeCartAPI) AddItem(_ context.Context, token string, item cartapi.NewItem) (*cartapi.Cart, error) {
	f.record("AddItem", token)
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ProductID == item.ProductID {
			f.items[i].Quantity += item.Quantity
			return f.cartLocked(), nil
		}
	}
	f.nextID++
	f.items = append(f.items, cartapi.Item{
		ItemID:      "item-" + string(rune('0'+f.nextID)),
		ProductID:   item.ProductID,
		ProductName: item.ProductName,
		Category:    item.Category,
		Price:       item.Price,
		Quantity:    item.Quantity,
	})
	return f.cartLocked(), nil
}

func (f *fakeCartAPI) UpdateItem(_ context.Context, token, itemID string, quantity int) (*cartapi.Cart, error) {
	f.record("UpdateItem", token)
	if f.updateFn != nil {
		return f.updateFn(itemID, quantity)
	}
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ItemID == itemID {
			f.items[i].Quantity = quantity
			return f.cartLocked(), nil
		}
	}
	return nil, &cartapi.APIError{Status: 404, Code: "item_not_found", Message: "Item not found in cart"}
}

func (f *fakeCartAPI) RemoveItem(_ context.Context, token, itemID string) (*cartapi.Cart, error) {
	f.record("RemoveItem", token)
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ItemID == itemID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return f.cartLocked(), nil
		}
	}
	return nil, &cartapi.APIError{Status: 404, Code: "item_not_found", Message: "Item not found in cart"}
}

func (f *fakeCartAPI) ClearCart(_ context.Context, token string) error {
	f.record("ClearCart", token)
	if f.clearErr != nil {
		return f.clearErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
	return nil
}

func book(productID string, price float64, qty int) cartapi.NewItem {
	return cartapi.NewItem{ProductID: productID, ProductName: "Book " + productID, Category: "books", Price: price, Quantity: qty}
}

func TestItemLifecycle_SummaryFollowsServer(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	s := New(api, staticToken("jwt"), nil)
	s.Start(ctx)
	assert.Equal(t, SummaryReady, s.Status())
	assert.Equal(t, Summary{Currency: "INR"}, s.Snapshot().Summary)

	require.NoError(t, s.AddItem(ctx, book("p1", 699, 1)))
	snap := s.Snapshot()
	assert.Equal(t, Summary{TotalItems: 1, TotalPrice: 699, Currency: "INR"}, snap.Summary)
	require.NotNil(t, snap.Cart)
	require.Len(t, snap.Cart.Items, 1)
	itemID := snap.Cart.Items[0].ItemID

	require.NoError(t, s.UpdateItem(ctx, itemID, 3))
	assert.Equal(t, Summary{TotalItems: 3, TotalPrice: 2097, Currency: "INR"}, s.Snapshot().Summary)

	require.NoError(t, s.RemoveItem(ctx, itemID))
	snap = s.Snapshot()
	assert.Equal(t, Summary{TotalItems: 0, TotalPrice: 0, Currency: "INR"}, snap.Summary)
	require.NotNil(t, snap.Cart)
	assert.Empty(t, snap.Cart.Items)

	assert.Equal(t, []string{"jwt", "jwt", "jwt", "jwt"}, api.tokens)
}

func TestMutation_UsesReturnedTotals(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	api.updateFn = func(itemID string, quantity int) (*cartapi.Cart, error) {
		// The service applies pricing the client does not know about.
		return &cartapi.Cart{
			Items:      []cartapi.Item{{ItemID: itemID, Price: 699, Quantity: quantity}},
			TotalItems: quantity,
			TotalPrice: 1999,
		}, nil
	}
	s := New(api, staticToken("jwt"), nil)

	require.NoError(t, s.UpdateItem(ctx, "i1", 3))

	assert.Equal(t, 1999.0, s.Snapshot().Summary.TotalPrice)
}

func TestMutation_ErrorPropagatesAndKeepsCache(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	s := New(api, staticToken("jwt"), nil)
	require.NoError(t, s.AddItem(ctx, book("p1", 699, 1)))
	before := s.Snapshot()

	api.mutateErr = errors.New("service unavailable")
	err := s.AddItem(ctx, book("p2", 100, 1))

	assert.EqualError(t, err, "service unavailable")
	assert.Equal(t, before, s.Snapshot())
}

func TestUpdateItem_NotFoundSurfaces(t *testing.T) {
	s := New(newFakeCartAPI(), staticToken("jwt"), nil)

	err := s.UpdateItem(context.Background(), "missing", 2)

	var apiErr *cartapi.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "item_not_found", apiErr.Code)
}

func TestClearCart_ResetsWithoutFetching(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	s := New(api, staticToken("jwt"), nil)
	require.NoError(t, s.AddItem(ctx, book("p1", 699, 3)))

	require.NoError(t, s.ClearCart(ctx))

	snap := s.Snapshot()
	assert.Nil(t, snap.Cart)
	assert.Equal(t, Summary{Currency: "INR"}, snap.Summary)
	assert.Zero(t, api.callCount("GetCart"))
	assert.Zero(t, api.callCount("GetSummary"))
}

func TestClearCart_FailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	s := New(api, staticToken("jwt"), nil)
	require.NoError(t, s.AddItem(ctx, book("p1", 699, 1)))

	api.clearErr = errors.New("timeout")
	require.Error(t, s.ClearCart(ctx))

	assert.Equal(t, 1, s.Snapshot().Summary.TotalItems)
}

func TestFetchSummary_SilentOnFailure(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	s := New(api, staticToken("jwt"), nil)
	require.NoError(t, s.AddItem(ctx, book("p1", 699, 2)))

	api.summaryErr = errors.New("connection reset")
	s.FetchSummary(ctx)

	assert.Equal(t, Summary{TotalItems: 2, TotalPrice: 1398, Currency: "INR"}, s.Snapshot().Summary)
}

func TestStart_StaysLoadingWhenSummaryFails(t *testing.T) {
	api := newFakeCartAPI()
	api.summaryErr = errors.New("down")
	s := New(api, staticToken("jwt"), nil)

	s.Start(context.Background())

	assert.Equal(t, SummaryLoading, s.Status())
	assert.Equal(t, Summary{Currency: "INR"}, s.Snapshot().Summary)
}

func TestFetchCart_LoadingFlag(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	api.getCartGate = make(chan struct{})
	s := New(api, staticToken("jwt"), nil)

	done := make(chan error, 1)
	go func() { done <- s.FetchCart(ctx) }()

	require.Eventually(t, func() bool { return s.Snapshot().Loading }, time.Second, 5*time.Millisecond)
	close(api.getCartGate)
	require.NoError(t, <-done)

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.Cart)
}

func TestFetchCart_ErrorClearsLoadingAndKeepsCart(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	s := New(api, staticToken("jwt"), nil)
	require.NoError(t, s.AddItem(ctx, book("p1", 699, 1)))

	api.cartErr = errors.New("502")
	err := s.FetchCart(ctx)

	require.Error(t, err)
	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.Cart)
	assert.Equal(t, 1, snap.Summary.TotalItems)
}

func TestOpenCart_FetchesAndOpens(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	s := New(api, staticToken("jwt"), nil)

	require.NoError(t, s.OpenCart(ctx))
	assert.True(t, s.Snapshot().Open)
	assert.Equal(t, 1, api.callCount("GetCart"))

	s.CloseCart()
	assert.False(t, s.Snapshot().Open)
}

func TestConcurrentMutations_LastResponseWins(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	releases := map[int]chan struct{}{2: make(chan struct{}), 3: make(chan struct{})}
	api.updateFn = func(itemID string, quantity int) (*cartapi.Cart, error) {
		<-releases[quantity]
		return &cartapi.Cart{TotalItems: quantity, TotalPrice: 699 * float64(quantity)}, nil
	}
	s := New(api, staticToken("jwt"), nil)

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() { first <- s.UpdateItem(ctx, "i1", 2) }()
	go func() { second <- s.UpdateItem(ctx, "i1", 3) }()

	// The later request answers first; the earlier one arrives last and wins.
	close(releases[3])
	require.NoError(t, <-second)
	assert.Equal(t, 3, s.Snapshot().Summary.TotalItems)

	close(releases[2])
	require.NoError(t, <-first)
	assert.Equal(t, Summary{TotalItems: 2, TotalPrice: 1398, Currency: "INR"}, s.Snapshot().Summary)
}

func TestNoCredential(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	s := New(api, staticToken(""), nil)

	s.FetchSummary(ctx)
	require.NoError(t, s.FetchCart(ctx))
	assert.ErrorIs(t, s.AddItem(ctx, book("p1", 1, 1)), cartapi.ErrUnauthorized)
	assert.ErrorIs(t, s.ClearCart(ctx), cartapi.ErrUnauthorized)

	assert.Empty(t, api.tokens)
}

func TestBind_LoginAndLogout(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	api.items = []cartapi.Item{{ItemID: "i1", ProductID: "p1", Price: 699, Quantity: 1}}
	sess := session.New()
	s := New(api, sess, nil)
	unbind := s.Bind(ctx, sess)
	defer unbind()

	assert.Equal(t, Unauthenticated, s.Status())
	assert.Zero(t, api.callCount("GetSummary"))

	sess.Login("jwt", session.User{ID: "u1"})
	assert.Equal(t, SummaryReady, s.Status())
	assert.Equal(t, 1, s.Snapshot().Summary.TotalItems)

	require.NoError(t, s.OpenCart(ctx))
	sess.Logout()

	snap := s.Snapshot()
	assert.Equal(t, Unauthenticated, snap.Status)
	assert.Nil(t, snap.Cart)
	assert.False(t, snap.Open)
	assert.Equal(t, Summary{Currency: "INR"}, snap.Summary)
}

func TestBind_AlreadySignedIn(t *testing.T) {
	api := newFakeCartAPI()
	sess := session.New()
	sess.Login("jwt", session.User{ID: "u1"})
	s := New(api, sess, nil)

	s.Bind(context.Background(), sess)

	assert.Equal(t, 1, api.callCount("GetSummary"))
	assert.Equal(t, SummaryReady, s.Status())
}

func TestResponseAfterLogoutIsDropped(t *testing.T) {
	ctx := context.Background()
	api := newFakeCartAPI()
	release := make(chan struct{})
	api.updateFn = func(string, int) (*cartapi.Cart, error) {
		<-release
		return &cartapi.Cart{TotalItems: 5, TotalPrice: 500}, nil
	}
	sess := session.New()
	s := New(api, sess, nil)
	s.Bind(ctx, sess)
	sess.Login("jwt", session.User{ID: "u1"})

	done := make(chan error, 1)
	go func() { done <- s.UpdateItem(ctx, "i1", 5) }()
	require.Eventually(t, func() bool { return api.callCount("UpdateItem") == 1 }, time.Second, 5*time.Millisecond)

	sess.Logout()
	close(release)
	require.NoError(t, <-done)

	snap := s.Snapshot()
	assert.Nil(t, snap.Cart)
	assert.Zero(t, snap.Summary.TotalItems)
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	s := New(newFakeCartAPI(), staticToken("jwt"), nil)
	require.NoError(t, s.AddItem(ctx, book("p1", 699, 1)))

	snap := s.Snapshot()
	snap.Cart.Items[0].Quantity = 99
	snap.Cart.TotalItems = 99

	again := s.Snapshot()
	assert.Equal(t, 1, again.Cart.Items[0].Quantity)
	assert.Equal(t, 1, again.Cart.TotalItems)
}

func TestSubscribe_ReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	s := New(newFakeCartAPI(), staticToken("jwt"), nil)
	var mu sync.Mutex
	var totals []int
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		totals = append(totals, snap.Summary.TotalItems)
		mu.Unlock()
	})

	require.NoError(t, s.AddItem(ctx, book("p1", 699, 1)))
	require.NoError(t, s.AddItem(ctx, book("p1", 699, 2)))
	unsubscribe()
	require.NoError(t, s.ClearCart(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 3}, totals)
}
