package repository

import (
	"context"

	"github.com/emart/emart-cart/cart-service/internal/domain"
)

// CartRepository defines the interface for cart data operations
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// SaveCart writes cart only if the stored version still equals
	// cart.Version, and advances cart.Version on success. A cart with
	// version 0 is created. ErrVersionConflict means another write landed
	// first and the caller must read again.
	SaveCart(ctx context.Context, cart *domain.Cart) error
	// ClearCart empties the cart in one update and returns it.
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
	Ping(ctx context.Context) error
}
