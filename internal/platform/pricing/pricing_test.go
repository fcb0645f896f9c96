package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/inpatient/internal/platform/kv"
)

func newPriceServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/price-lists/Standard/items/BED-GEN":
			assert.Equal(t, "INR", r.URL.Query().Get("currency"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"item_code":  "BED-GEN",
				"price_list": "Standard",
				"currency":   "INR",
				"rate":       "1500.50",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ItemRate(t *testing.T) {
	var hits int32
	srv := newPriceServer(t, &hits)
	c := NewClient(srv.URL, time.Second, zerolog.Nop())

	rate, err := c.ItemRate(context.Background(), Query{ItemCode: "BED-GEN", PriceList: "Standard", Currency: "INR"})
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1500.50")), "got %s", rate)
}

func TestClient_ItemRate_NotFound(t *testing.T) {
	var hits int32
	srv := newPriceServer(t, &hits)
	c := NewClient(srv.URL, time.Second, zerolog.Nop())

	_, err := c.ItemRate(context.Background(), Query{ItemCode: "UNKNOWN", PriceList: "Standard"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPrice))
}

func TestCached_HitsUpstreamOnce(t *testing.T) {
	var hits int32
	srv := newPriceServer(t, &hits)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cached := NewCached(NewClient(srv.URL, time.Second, zerolog.Nop()), kv.NewRedisStore(client), time.Minute, zerolog.Nop())
	q := Query{ItemCode: "BED-GEN", PriceList: "Standard", Currency: "INR"}

	for i := 0; i < 3; i++ {
		rate, err := cached.ItemRate(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, "1500.5", rate.String())
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.True(t, mr.Exists("price:Standard:INR:BED-GEN"))
}

func TestCached_DoesNotCacheMisses(t *testing.T) {
	var hits int32
	srv := newPriceServer(t, &hits)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cached := NewCached(NewClient(srv.URL, time.Second, zerolog.Nop()), kv.NewRedisStore(client), time.Minute, zerolog.Nop())
	q := Query{ItemCode: "UNKNOWN", PriceList: "Standard"}

	_, err := cached.ItemRate(context.Background(), q)
	require.ErrorIs(t, err, ErrNoPrice)
	_, err = cached.ItemRate(context.Background(), q)
	require.ErrorIs(t, err, ErrNoPrice)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
