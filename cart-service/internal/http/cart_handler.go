package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/emart/emart-cart/cart-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetSummary(ctx context.Context, userID string) (domain.Summary, error)
	AddItem(ctx context.Context, userID string, item domain.CartItem) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type CartHandler struct {
	carts    CartService
	timeout  time.Duration
	validate *validator.Validate
	log      *zap.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *zap.Logger) *CartHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CartHandler{
		carts:    carts,
		timeout:  timeout,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

type AddItemRequestDTO struct {
	ProductID   string  `json:"product_id"   validate:"required"`
	ProductName string  `json:"product_name" validate:"required"`
	Category    string  `json:"category"     validate:"required,oneof=books courses software"`
	Price       float64 `json:"price"        validate:"gte=0"`
	Quantity    int     `json:"quantity"     validate:"required,min=1,max=100"`
	ImageURL    string  `json:"image_url"    validate:"omitempty,url"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=100"`
}

func (h *CartHandler) Routes(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Get("/summary", h.GetSummary)
		r.Post("/items", h.AddItem)
		r.Put("/items/{itemId}", h.UpdateItemQuantity)
		r.Delete("/items/{itemId}", h.RemoveItem)
	})
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		h.fail(w, "get cart", userID, err)
		return
	}

	respondOK(w, http.StatusOK, cart, "Cart retrieved successfully")
}

func (h *CartHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	summary, err := h.carts.GetSummary(ctx, userID)
	if err != nil {
		h.fail(w, "get summary", userID, err)
		return
	}

	respondOK(w, http.StatusOK, summary, "Cart summary retrieved")
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	cart, err := h.carts.AddItem(ctx, userID, domain.CartItem{
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		Category:    req.Category,
		Price:       req.Price,
		Quantity:    req.Quantity,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		h.fail(w, "add item", userID, err)
		return
	}

	respondOK(w, http.StatusCreated, cart, "Item added to cart")
}

func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	itemID := chi.URLParam(r, "itemId")
	if itemID == "" {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, userID, itemID, *req.Quantity)
	if err != nil {
		h.fail(w, "update item", userID, err)
		return
	}

	respondOK(w, http.StatusOK, cart, "Cart updated")
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	itemID := chi.URLParam(r, "itemId")
	if itemID == "" {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item id is required")
		return
	}

	cart, err := h.carts.RemoveItem(ctx, userID, itemID)
	if err != nil {
		h.fail(w, "remove item", userID, err)
		return
	}

	respondOK(w, http.StatusOK, cart, "Item removed from cart")
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, userID); err != nil {
		h.fail(w, "clear cart", userID, err)
		return
	}

	respondOK(w, http.StatusOK, nil, "Cart cleared successfully")
}

func (h *CartHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok || id.UserID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return "", false
	}
	return id.UserID, true
}

func (h *CartHandler) fail(w http.ResponseWriter, op, userID string, err error) {
	h.log.Warn("cart operation failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
	handleServiceError(w, err)
}
