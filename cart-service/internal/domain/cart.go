package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SchemaVersion = 1
	// Currency is fixed; carts do not carry their own.
	Currency    = "INR"
	MaxQuantity = 100
)

const (
	CategoryBooks    = "books"
	CategoryCourses  = "courses"
	CategorySoftware = "software"
)

var Categories = []string{CategoryBooks, CategoryCourses, CategorySoftware}

type Cart struct {
	ID            string     `json:"id,omitempty"   bson:"_id,omitempty"`
	UserID        string     `json:"user_id"        bson:"user_id"`
	Items         []CartItem `json:"items"          bson:"items"`
	TotalItems    int        `json:"total_items"    bson:"total_items"`
	TotalPrice    float64    `json:"total_price"    bson:"total_price"`
	CreatedAt     time.Time  `json:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"     bson:"updated_at"`
	SyncedAt      *time.Time `json:"synced_at"      bson:"synced_at,omitempty"`
	SchemaVersion int        `json:"schema_version" bson:"schema_version"`

	// Version counts stored writes. A write lands only if the stored
	// version still matches the one that was read.
	Version int `json:"version"        bson:"version"`
}

type CartItem struct {
	ItemID      string    `json:"item_id"      bson:"item_id"`
	ProductID   string    `json:"product_id"   bson:"product_id"`
	ProductName string    `json:"product_name" bson:"product_name"`
	Category    string    `json:"category"     bson:"category"`
	Price       float64   `json:"price"        bson:"price"`
	Quantity    int       `json:"quantity"     bson:"quantity"`
	ImageURL    string    `json:"image_url,omitempty" bson:"image_url,omitempty"`
	AddedAt     time.Time `json:"added_at"     bson:"added_at"`
}

// Summary is the lightweight view used for header badges.
type Summary struct {
	UserID     string  `json:"user_id"`
	TotalItems int     `json:"total_items"`
	TotalPrice float64 `json:"total_price"`
	Currency   string  `json:"currency"`
}

func NewCart(userID string) *Cart {
	now := time.Now()
	return &Cart{
		UserID:        userID,
		Items:         []CartItem{},
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: SchemaVersion,
	}
}

// Recalculate rebuilds the derived totals from the items.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	count := 0
	for _, it := range c.Items {
		line := decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(line)
		count += it.Quantity
	}
	c.TotalItems = count
	c.TotalPrice = total.Round(2).InexactFloat64()
}

func (c *Cart) Summary() Summary {
	return Summary{
		UserID:     c.UserID,
		TotalItems: c.TotalItems,
		TotalPrice: c.TotalPrice,
		Currency:   Currency,
	}
}

func (c *Cart) FindItem(itemID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) FindProduct(productID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) RemoveAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

func (c *Cart) Clear() {
	c.Items = []CartItem{}
	c.TotalItems = 0
	c.TotalPrice = 0
}

func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}
