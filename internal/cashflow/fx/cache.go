package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// Every replica reads the version before a lookup, so one Incr invalidates all of them.
const cacheVersionKey = "cashflow:fx:version"

type cachedRate struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// CachedProvider caches rate lookups in Redis. Entries are namespaced by a version
// counter so a rate load can invalidate every cached fallback at once.
type CachedProvider struct {
	inner    cashflow.ExchangeRateProvider
	client   *redis.Client
	ttl      time.Duration
	lookback int
}

// NewCachedProvider wraps inner. A nil client disables caching. lookback bounds the
// walk-back for inner providers without on-or-before queries; non-positive uses
// DefaultLookbackDays.
func NewCachedProvider(inner cashflow.ExchangeRateProvider, client *redis.Client, ttl time.Duration, lookback int) *CachedProvider {
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	return &CachedProvider{inner: inner, client: client, ttl: ttl, lookback: lookback}
}

// RateFor returns the exact rate of date.
func (c *CachedProvider) RateFor(ctx context.Context, date time.Time) (cashflow.ExchangeRate, error) {
	return c.fetch(ctx, "exact", date, func(ctx context.Context) (cashflow.ExchangeRate, error) {
		return c.inner.RateFor(ctx, date)
	})
}

// RateOnOrBefore delegates to the inner provider when it supports the query, and
// otherwise walks back up to the lookback over cached exact lookups.
func (c *CachedProvider) RateOnOrBefore(ctx context.Context, date time.Time) (cashflow.ExchangeRate, error) {
	earlier, ok := c.inner.(cashflow.EarlierRateProvider)
	if !ok {
		day := cashflow.Day(date)
		for i := 0; i <= c.lookback; i++ {
			rate, err := c.RateFor(ctx, day.AddDate(0, 0, -i))
			if !errors.Is(err, cashflow.ErrRateNotFound) {
				return rate, err
			}
		}
		return cashflow.ExchangeRate{}, cashflow.ErrRateNotFound
	}
	return c.fetch(ctx, "before", date, func(ctx context.Context) (cashflow.ExchangeRate, error) {
		return earlier.RateOnOrBefore(ctx, date)
	})
}

// Bump invalidates every cached rate on every replica.
func (c *CachedProvider) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, cacheVersionKey).Err(); err != nil {
		return fmt.Errorf("fx: bump rate cache: %w", err)
	}
	return nil
}

func (c *CachedProvider) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return ver, err
}

func (c *CachedProvider) fetch(ctx context.Context, kind string, date time.Time, loader func(context.Context) (cashflow.ExchangeRate, error)) (cashflow.ExchangeRate, error) {
	if c.client == nil {
		return loader(ctx)
	}
	ver, err := c.version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("cashflow:fx:%s:%s:%d", kind, cashflow.Day(date).Format(cashflow.DateLayout), ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached cachedRate
		if err := json.Unmarshal(payload, &cached); err == nil {
			if rate, err := cached.decode(); err == nil {
				return rate, nil
			}
		}
	}
	rate, err := loader(ctx)
	if err != nil {
		return rate, err
	}
	raw, err := json.Marshal(cachedRate{Date: rate.Date.Format(cashflow.DateLayout), Value: rate.Value.String()})
	if err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return rate, nil
}

func (c cachedRate) decode() (cashflow.ExchangeRate, error) {
	day, err := cashflow.ParseDay(c.Date)
	if err != nil {
		return cashflow.ExchangeRate{}, err
	}
	value, err := decimal.NewFromString(c.Value)
	if err != nil {
		return cashflow.ExchangeRate{}, err
	}
	return cashflow.ExchangeRate{Date: day, Value: value}, nil
}
