package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
)

var (
	_ usecase.PollerObserver       = (*Collectors)(nil)
	_ usecase.SubscriptionObserver = (*Collectors)(nil)
)

func TestCollectors_Poller(t *testing.T) {
	c := New()
	c.QuoteFetched(nil)
	c.QuoteFetched(nil)
	c.QuoteFetched(domain.NewRateLimitError("BONK/SOL", "429"))
	c.QuoteFetched(domain.NewNoRouteError("BONK/SOL", "no route"))
	c.QuoteFetched(domain.NewNetworkError("BONK/SOL", "timeout", assert.AnError))
	c.EventEmitted(domain.CommandSellHalf, domain.SourceRule)
	c.EventEmitted(domain.CommandSellAll, domain.SourceManual)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.quotes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quotes.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quotes.WithLabelValues("no_route")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quotes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("sell_half", "rule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("sell_all", "manual")))
}

func TestCollectors_Subscription(t *testing.T) {
	c := New()
	c.Reconnecting("walletA", 1, 2*time.Second)
	c.Reconnecting("walletA", 2, 4*time.Second)
	c.EventDelivered("walletA", false)
	c.EventDelivered("walletA", true)
	c.EventDelivered("walletA", true)
	c.BackfillSkipped("walletA")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnects.WithLabelValues("walletA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.subEvents.WithLabelValues("walletA", "live")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.subEvents.WithLabelValues("walletA", "backfill")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backfillSkipped))
}

func TestCollectors_Handler(t *testing.T) {
	c := New()
	c.EventEmitted(domain.CommandSellAll, domain.SourceRule)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `exit_poller_events_total{command="sell_all",source="rule"} 1`)
	assert.Contains(t, string(body), "subscription_backfill_skipped_total 0")
}

func TestCollectors_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
