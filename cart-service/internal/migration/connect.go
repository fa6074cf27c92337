package migration

import (
	"context"
	"fmt"

	"github.com/emart/emart-cart/cart-service/internal/repository"
	"go.uber.org/zap"
)

// Open connects to the store named by uri and returns a runner for it. The
// database is taken from the URI path. The returned close func disconnects.
func Open(ctx context.Context, uri, source string, log *zap.Logger) (*Runner, func(), error) {
	dbName, err := repository.DatabaseFromURI(uri)
	if err != nil {
		return nil, nil, err
	}
	db, err := repository.ConnectMongoDB(ctx, uri, dbName)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", dbName, err)
	}
	closeFn := func() { _ = db.Client().Disconnect(context.Background()) }
	return NewRunner(db, log, WithSource(source)), closeFn, nil
}
