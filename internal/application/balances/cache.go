package balances

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Snapshot is one {account, balance, equity} reading from the vendor
// trading platform. The poller that produces these is scheduled outside
// this service; the ledger only ever reads them.
type Snapshot struct {
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Equity        decimal.Decimal `json:"equity"`
	CapturedAt    time.Time       `json:"captured_at"`
}

var ErrSnapshotMissing = errors.New("No balance snapshot for account")

// Cache holds vendor balance snapshots in Redis with a staleness TTL. It is
// a read-only side channel: nothing here touches allocation state.
type Cache struct {
	Rdb *redis.Client
	TTL time.Duration
}

func key(accountNumber string) string {
	return "balance:" + accountNumber
}

// Put stores the latest snapshot for an account. Called by the vendor sync
// poller on every refresh.
func (c *Cache) Put(ctx context.Context, snap Snapshot) error {
	if snap.AccountNumber == "" {
		return errors.New("account number is required")
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.Rdb.Set(ctx, key(snap.AccountNumber), payload, c.TTL).Err()
}

// Get returns the cached snapshot, or ErrSnapshotMissing once the TTL has
// expired or the account was never polled.
func (c *Cache) Get(ctx context.Context, accountNumber string) (*Snapshot, error) {
	raw, err := c.Rdb.Get(ctx, key(accountNumber)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotMissing
	}
	if err != nil {
		return nil, fmt.Errorf("balance cache read: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("balance cache decode: %w", err)
	}
	return &snap, nil
}
