package clickhouse

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/loupehq/loupe/internal/config"
	"github.com/loupehq/loupe/internal/repository"
)

// Repository implements the event store on ClickHouse. Postgres remains the
// system of record for everything else; this backend exists for deployments
// whose event volume outgrows a relational table.
type Repository struct {
	conn ch.Conn
}

var _ repository.EventRepository = (*Repository)(nil)

// New opens a native-protocol ClickHouse connection and verifies it.
func New(ctx context.Context, cfg config.Config) (*Repository, error) {
	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.ClickHouseAddr},
		Auth: ch.Auth{
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
		Compression: &ch.Compression{Method: ch.CompressionLZ4},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Repository{conn: conn}, nil
}

// Close releases the connection.
func (r *Repository) Close() error {
	return r.conn.Close()
}
