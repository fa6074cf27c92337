// Command storefront drives the cart from a terminal.
//
//	storefront summary
//	storefront show
//	storefront add <productId> <name> <category> <price> [quantity]
//	storefront update <itemId> <quantity>
//	storefront remove <itemId>
//	storefront clear
//	storefront open
//
// It signs in with EMART_TOKEN, or with EMART_EMAIL and EMART_PASSWORD
// against the login service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/emart/emart-cart/pkg/logger"
	"github.com/emart/emart-cart/storefront/internal/authapi"
	"github.com/emart/emart-cart/storefront/internal/cartapi"
	"github.com/emart/emart-cart/storefront/internal/cartsync"
	"github.com/emart/emart-cart/storefront/internal/session"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	CartAPIURL string
	AuthAPIURL string
	Token      string
	Email      string
	Password   string
	Env        string
}

func loadConfig() *Config {
	_ = godotenv.Load()
	return &Config{
		CartAPIURL: getEnv("CART_API_URL", cartapi.DefaultBaseURL),
		AuthAPIURL: getEnv("AUTH_API_URL", authapi.DefaultBaseURL),
		Token:      os.Getenv("EMART_TOKEN"),
		Email:      os.Getenv("EMART_EMAIL"),
		Password:   os.Getenv("EMART_PASSWORD"),
		Env:        getEnv("APP_ENV", "dev"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cfg := loadConfig()
	log := logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess := session.New()
	auth := authapi.New(authapi.Config{BaseURL: cfg.AuthAPIURL}, log.Named("auth-api"))
	carts := cartapi.New(cartapi.Config{
		BaseURL: cfg.CartAPIURL,
		OnUnauthorized: func() {
			fmt.Fprintln(os.Stderr, "session expired, sign in again")
			sess.Logout()
		},
	}, log.Named("cart-api"))

	store := cartsync.New(carts, sess, log.Named("cartsync"))
	defer store.Bind(ctx, sess)()

	signedInHere, err := signIn(ctx, cfg, auth, sess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign in failed: %v\n", err)
		os.Exit(1)
	}
	if signedInHere {
		defer func() {
			if err := auth.Logout(context.Background(), sess.Token()); err != nil {
				log.Debug("logout failed", zap.Error(err))
			}
		}()
	}

	if err := run(ctx, store, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			usage()
		}
		os.Exit(1)
	}
}

func signIn(ctx context.Context, cfg *Config, auth *authapi.Client, sess *session.Session) (bool, error) {
	if cfg.Token != "" {
		sess.Login(cfg.Token, session.User{})
		return false, nil
	}
	if cfg.Email == "" || cfg.Password == "" {
		return false, errors.New("set EMART_TOKEN or EMART_EMAIL and EMART_PASSWORD")
	}
	resp, err := auth.Login(ctx, authapi.LoginRequest{Email: cfg.Email, Password: cfg.Password})
	if err != nil {
		return false, err
	}
	sess.Login(resp.Token, session.User{ID: resp.UserID, Name: resp.Name, Email: resp.Email, Roles: resp.Roles})
	return true, nil
}

var errUsage = errors.New("bad arguments")

func run(ctx context.Context, store *cartsync.Store, cmd string, args []string) error {
	switch cmd {
	case "summary":
		// Binding already loaded the summary.
		printSummary(store.Snapshot())
		return nil

	case "show":
		if err := store.FetchCart(ctx); err != nil {
			return err
		}
		printCart(store.Snapshot())
		return nil

	case "open":
		if err := store.OpenCart(ctx); err != nil {
			return err
		}
		printCart(store.Snapshot())
		store.CloseCart()
		return nil

	case "add":
		if len(args) < 4 || len(args) > 5 {
			return errUsage
		}
		price, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("%w: price %q", errUsage, args[3])
		}
		qty := 1
		if len(args) == 5 {
			if qty, err = strconv.Atoi(args[4]); err != nil {
				return fmt.Errorf("%w: quantity %q", errUsage, args[4])
			}
		}
		err = store.AddItem(ctx, cartapi.NewItem{
			ProductID:   args[0],
			ProductName: args[1],
			Category:    args[2],
			Price:       price,
			Quantity:    qty,
		})
		if err != nil {
			return err
		}
		printSummary(store.Snapshot())
		return nil

	case "update":
		if len(args) != 2 {
			return errUsage
		}
		qty, err := strconv.Atoi(args[1])
		if err != nil || qty < 0 {
			return fmt.Errorf("%w: quantity %q", errUsage, args[1])
		}
		if qty == 0 {
			err = store.RemoveItem(ctx, args[0])
		} else {
			err = store.UpdateItem(ctx, args[0], qty)
		}
		if err != nil {
			return err
		}
		printSummary(store.Snapshot())
		return nil

	case "remove":
		if len(args) != 1 {
			return errUsage
		}
		if err := store.RemoveItem(ctx, args[0]); err != nil {
			return err
		}
		printSummary(store.Snapshot())
		return nil

	case "clear":
		if err := store.ClearCart(ctx); err != nil {
			return err
		}
		printSummary(store.Snapshot())
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func printSummary(snap cartsync.Snapshot) {
	fmt.Printf("%d item(s), %s %.2f\n", snap.Summary.TotalItems, snap.Summary.Currency, snap.Summary.TotalPrice)
}

func printCart(snap cartsync.Snapshot) {
	if snap.Cart == nil || len(snap.Cart.Items) == 0 {
		fmt.Println("cart is empty")
		return
	}
	for _, it := range snap.Cart.Items {
		fmt.Printf("%s  %-30s %-9s %3d x %.2f\n", it.ItemID, it.ProductName, it.Category, it.Quantity, it.Price)
	}
	printSummary(snap)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: storefront summary|show|open|clear")
	fmt.Fprintln(os.Stderr, "       storefront add <productId> <name> <category> <price> [quantity]")
	fmt.Fprintln(os.Stderr, "       storefront update <itemId> <quantity>")
	fmt.Fprintln(os.Stderr, "       storefront remove <itemId>")
}
