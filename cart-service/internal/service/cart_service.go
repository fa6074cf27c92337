package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emart/emart-cart/cart-service/internal/cache"
	"github.com/emart/emart-cart/cart-service/internal/domain"
	"github.com/emart/emart-cart/cart-service/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxWriteAttempts bounds how often a write is retried after losing a
// version race.
const maxWriteAttempts = 5

type CartService struct {
	repo  repository.CartRepository
	cache cache.CartCache
	sfg   singleflight.Group // Prevents cache stampede
	log   *zap.Logger
	newID func() string
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, log *zap.Logger) *CartService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartService{
		repo:  repo,
		cache: cache,
		log:   log,
		newID: uuid.NewString,
	}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		cart, errGet := s.repo.GetCart(ctx, userID)
		if errors.Is(errGet, repository.ErrCartNotFound) {
			// no cart yet, answer with an empty one without creating it
			return domain.NewCart(userID), nil
		}
		if errGet != nil {
			return nil, errGet
		}

		// the cache keeps the highest version it has seen, so a write that
		// landed after this read is not overwritten
		if errSet := s.cache.Set(ctx, userID, cart); errSet != nil {
			s.log.Warn("cache set failed", zap.String("user_id", userID), zap.Error(errSet))
		}
		return cart, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

func (s *CartService) GetSummary(ctx context.Context, userID string) (domain.Summary, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return domain.Summary{}, err
	}
	return cart.Summary(), nil
}

// AddItem merges by product: an existing line for the same product gets its
// quantity increased, otherwise a new line with a fresh item id is appended.
func (s *CartService) AddItem(ctx context.Context, userID string, item domain.CartItem) (*domain.Cart, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, true, "add item", func(cart *domain.Cart) error {
		if i, ok := cart.FindProduct(item.ProductID); ok {
			merged := cart.Items[i].Quantity + item.Quantity
			if merged > domain.MaxQuantity {
				return fmt.Errorf("%w: %d exceeds %d", ErrQuantityOutOfRange, merged, domain.MaxQuantity)
			}
			cart.Items[i].Quantity = merged
			cart.Items[i].Price = item.Price
			return nil
		}

		line := item
		line.ItemID = s.newID()
		line.AddedAt = time.Now().UTC()
		cart.Items = append(cart.Items, line)
		return nil
	})
}

// UpdateItemQuantity sets the quantity of one line; zero removes it.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error) {
	if quantity < 0 || quantity > domain.MaxQuantity {
		return nil, fmt.Errorf("%w: %d", ErrQuantityOutOfRange, quantity)
	}

	return s.mutate(ctx, userID, false, "update item quantity", func(cart *domain.Cart) error {
		i, ok := cart.FindItem(itemID)
		if !ok {
			return repository.ErrItemNotFound
		}
		if quantity == 0 {
			cart.RemoveAt(i)
		} else {
			cart.Items[i].Quantity = quantity
		}
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, false, "remove item", func(cart *domain.Cart) error {
		i, ok := cart.FindItem(itemID)
		if !ok {
			return repository.ErrItemNotFound
		}
		cart.RemoveAt(i)
		return nil
	})
}

// ClearCart empties the cart. Clearing a user without a cart succeeds.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	cart, errClear := s.repo.ClearCart(ctx, userID)
	if errors.Is(errClear, repository.ErrCartNotFound) {
		return nil
	}
	if errClear != nil {
		s.log.Error("repo clear cart failed", zap.String("user_id", userID), zap.Error(errClear))
		return errClear
	}

	s.writeThrough(cart)
	return nil
}

// mutate reads the stored cart, applies fn and saves it under the version
// that was read. A version conflict means another write landed in between;
// the whole read-apply-save is then repeated on the fresh cart.
func (s *CartService) mutate(ctx context.Context, userID string, create bool, op string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	for attempt := 1; ; attempt++ {
		cart, err := s.loadForWrite(ctx, userID, create)
		if err != nil {
			return nil, err
		}
		if err := fn(cart); err != nil {
			return nil, err
		}

		cart.Recalculate()
		err = s.repo.SaveCart(ctx, cart)
		if err == nil {
			s.writeThrough(cart)
			return cart, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			s.log.Error("repo save failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
			return nil, err
		}
		if attempt >= maxWriteAttempts {
			s.log.Warn("giving up after version conflicts",
				zap.String("op", op), zap.String("user_id", userID), zap.Int("attempts", attempt))
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.log.Debug("version conflict, retrying", zap.String("op", op), zap.String("user_id", userID), zap.Int("attempt", attempt))
	}
}

func (s *CartService) loadForWrite(ctx context.Context, userID string, create bool) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		if create {
			return domain.NewCart(userID), nil
		}
		return nil, repository.ErrItemNotFound
	}
	if err != nil {
		s.log.Error("repo get cart failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return cart, nil
}

// writeThrough caches a cart that was just stored. If that fails the key is
// dropped so the next read goes to MongoDB.
func (s *CartService) writeThrough(cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	errSet := s.cache.Set(ctx, cart.UserID, cart)
	if errSet == nil {
		return
	}
	s.log.Warn("cache set failed", zap.String("user_id", cart.UserID), zap.Error(errSet))
	if err := s.cache.Delete(ctx, cart.UserID); err != nil {
		s.log.Warn("cache invalidate failed", zap.String("user_id", cart.UserID), zap.Error(err))
	}
}

func validateItem(item domain.CartItem) error {
	if item.Quantity < 1 || item.Quantity > domain.MaxQuantity {
		return fmt.Errorf("%w: %d", ErrQuantityOutOfRange, item.Quantity)
	}
	if !domain.ValidCategory(item.Category) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, item.Category)
	}
	if item.Price < 0 {
		return ErrInvalidPrice
	}
	return nil
}
