package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/inpatient/internal/platform/kv"
)

// ErrNoPrice is returned when the price list has no rate for an item.
var ErrNoPrice = errors.New("no price for item")

// Query identifies the rate to resolve.
type Query struct {
	ItemCode  string
	PriceList string
	Currency  string
}

func (q Query) cacheKey() string {
	return fmt.Sprintf("price:%s:%s:%s", q.PriceList, q.Currency, q.ItemCode)
}

// Resolver looks up selling rates for billable items.
type Resolver interface {
	ItemRate(ctx context.Context, q Query) (decimal.Decimal, error)
}

type priceResponse struct {
	ItemCode  string          `json:"item_code"`
	PriceList string          `json:"price_list"`
	Currency  string          `json:"currency"`
	Rate      decimal.Decimal `json:"rate"`
}

// Client talks to the external price list service.
type Client struct {
	httpClient *resty.Client
	logger     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger.With().Str("component", "pricing").Logger(),
	}
}

func (c *Client) ItemRate(ctx context.Context, q Query) (decimal.Decimal, error) {
	var out priceResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"list": q.PriceList, "item": q.ItemCode}).
		SetQueryParam("currency", q.Currency).
		SetResult(&out).
		Get("/price-lists/{list}/items/{item}")
	if err != nil {
		c.logger.Error().Err(err).Str("item_code", q.ItemCode).Msg("price lookup failed")
		return decimal.Zero, fmt.Errorf("price lookup %s: %w", q.ItemCode, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return decimal.Zero, fmt.Errorf("%w: %s in %s", ErrNoPrice, q.ItemCode, q.PriceList)
	default:
		return decimal.Zero, fmt.Errorf("price lookup %s: unexpected status %d", q.ItemCode, resp.StatusCode())
	}

	if !out.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s in %s", ErrNoPrice, q.ItemCode, q.PriceList)
	}
	return out.Rate, nil
}

// Cached memoizes rates from another Resolver in a key/value store.
type Cached struct {
	next   Resolver
	store  kv.Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCached(next Resolver, store kv.Store, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{next: next, store: store, ttl: ttl, logger: logger}
}

func (c *Cached) ItemRate(ctx context.Context, q Query) (decimal.Decimal, error) {
	key := q.cacheKey()
	if raw, err := c.store.Get(ctx, key); err == nil {
		if rate, perr := decimal.NewFromString(raw); perr == nil {
			return rate, nil
		}
	} else if !errors.Is(err, kv.ErrMiss) {
		c.logger.Warn().Err(err).Str("key", key).Msg("price cache read failed")
	}

	rate, err := c.next.ItemRate(ctx, q)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.store.Set(ctx, key, rate.String(), c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("price cache write failed")
	}
	return rate, nil
}
