package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	CheckoutTopic = "checkout-outbox"
	ConsumerGroup = "cart-service-consumer"

	// read errors are retried with exponential backoff between these
	minReadBackoff = 100 * time.Millisecond
	maxReadBackoff = 10 * time.Second
)

// CartClearer empties a user's cart once checkout has completed.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

// messageReader is the part of kafka.Reader the poller uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Poller struct {
	carts  CartClearer
	reader messageReader
	log    *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPoller(carts CartClearer, log *zap.Logger, brokers ...string) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    CheckoutTopic,
		GroupID:  ConsumerGroup,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{
		carts:      carts,
		reader:     reader,
		log:        log,
		minBackoff: minReadBackoff,
		maxBackoff: maxReadBackoff,
	}
}

// Run consumes checkout events until ctx is done. A failing read is retried
// after a growing pause; the pause resets after the next good read.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("checkout poller started", zap.String("topic", CheckoutTopic))
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			wait := p.backoff(failures)
			p.log.Warn("error reading message",
				zap.Int("failures", failures),
				zap.Duration("retry_in", wait),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		failures = 0
		if err := p.handle(ctx, m.Value); err != nil {
			p.log.Warn("checkout event not applied",
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

func (p *Poller) backoff(failures int) time.Duration {
	lo, hi := p.minBackoff, p.maxBackoff
	if lo <= 0 {
		lo = minReadBackoff
	}
	if hi < lo {
		hi = lo
	}
	d := lo
	for i := 1; i < failures && d < hi; i++ {
		d *= 2
	}
	return min(d, hi)
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", zap.Error(err))
	}
}

func (p *Poller) handle(ctx context.Context, value []byte) error {
	var ev checkoutEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}
	if ev.UserID == "" {
		return errors.New("missing or invalid user_id")
	}

	if err := p.carts.ClearCart(ctx, ev.UserID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	p.log.Info("cart cleared after checkout",
		zap.String("user_id", ev.UserID),
		zap.String("checkout_id", ev.CheckoutID))
	return nil
}
