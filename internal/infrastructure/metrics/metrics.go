// Package metrics exposes Prometheus collectors for the exit poller and the
// wallet subscription:
//
//	exit_poller_quotes_total{result}            ok|rate_limited|no_route|error
//	exit_poller_events_total{command,source}    sell_half|sell_all, rule|manual
//	subscription_reconnects_total{account}
//	subscription_events_total{account,origin}   live|backfill
//	subscription_backfill_skipped_total
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/dex_exit_trader/internal/domain"
)

// Collectors owns its registry so tests and multiple binaries never collide
// on the global default one.
type Collectors struct {
	registry *prometheus.Registry

	quotes          *prometheus.CounterVec
	events          *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	subEvents       *prometheus.CounterVec
	backfillSkipped prometheus.Counter
}

func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		quotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exit_poller_quotes_total",
				Help: "Quote requests made by the exit poller by result",
			},
			[]string{"result"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exit_poller_events_total",
				Help: "Sell commands emitted by the exit poller",
			},
			[]string{"command", "source"},
		),
		reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_reconnects_total",
				Help: "Subscription reconnect attempts per account",
			},
			[]string{"account"},
		),
		subEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_events_total",
				Help: "Signature events delivered per account and origin",
			},
			[]string{"account", "origin"},
		),
		backfillSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subscription_backfill_skipped_total",
				Help: "Backfills skipped because the anchor signature was outside the history window",
			},
		),
	}
	c.registry.MustRegister(c.quotes, c.events, c.reconnects, c.subEvents, c.backfillSkipped)
	return c
}

func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) QuoteFetched(err error) {
	c.quotes.WithLabelValues(quoteResult(err)).Inc()
}

func (c *Collectors) EventEmitted(cmd domain.Command, source domain.EventSource) {
	c.events.WithLabelValues(string(cmd), string(source)).Inc()
}

func (c *Collectors) Reconnecting(account string, _ int, _ time.Duration) {
	c.reconnects.WithLabelValues(account).Inc()
}

func (c *Collectors) EventDelivered(account string, backfilled bool) {
	origin := "live"
	if backfilled {
		origin = "backfill"
	}
	c.subEvents.WithLabelValues(account, origin).Inc()
}

func (c *Collectors) BackfillSkipped(string) {
	c.backfillSkipped.Inc()
}

func quoteResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNoRoute):
		return "no_route"
	default:
		return "error"
	}
}
