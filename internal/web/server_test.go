package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
)

type fakeStatus struct{ st usecase.StrategyStatus }

func (f fakeStatus) Status() usecase.StrategyStatus { return f.st }

type fakeTrades struct {
	trades []*domain.TradeRecord
	limit  int
}

func (f *fakeTrades) SaveTrade(_ context.Context, t *domain.TradeRecord) error {
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakeTrades) ListTrades(_ context.Context, limit int) ([]*domain.TradeRecord, error) {
	f.limit = limit
	return f.trades, nil
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []domain.Command
}

func (r *recordingSink) Post(cmd domain.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
}

var _ usecase.InputAdapter = (*Server)(nil)

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestOverride(t *testing.T) {
	s := NewServer(0, nil, nil, nil, nil)

	// No sink until Run is called.
	req := httptest.NewRequest("POST", "/override", strings.NewReader(`{"command":"sell_all"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, req).Code)

	sink := &recordingSink{}
	s.sink = sink

	req = httptest.NewRequest("POST", "/override", strings.NewReader(`{"command":"SELL_HALF"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, s, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"command":"sell_half"}`, rec.Body.String())

	form := url.Values{"command": {"sell_all"}}
	req = httptest.NewRequest("POST", "/override", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusAccepted, do(t, s, req).Code)

	req = httptest.NewRequest("POST", "/override", strings.NewReader(`{"command":"buy"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)

	req = httptest.NewRequest("POST", "/override", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)

	assert.Equal(t, []domain.Command{domain.CommandSellHalf, domain.CommandSellAll}, sink.cmds)
}

func TestOverride_IntoMailbox(t *testing.T) {
	s := NewServer(0, nil, nil, nil, nil)
	mb := usecase.NewOverrideMailbox(nil)
	s.sink = mb

	req := httptest.NewRequest("POST", "/override", strings.NewReader(`{"command":"sell_half"}`))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusAccepted, do(t, s, req).Code)

	select {
	case <-mb.Notify():
	default:
		t.Fatal("mailbox was not notified")
	}
	cmd, ok := mb.Take()
	assert.True(t, ok)
	assert.Equal(t, domain.CommandSellHalf, cmd)
}

func TestStatus(t *testing.T) {
	rec := do(t, NewServer(0, nil, nil, nil, nil), httptest.NewRequest("GET", "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	st := usecase.StrategyStatus{SessionID: "s-1", Token: "BONK", Phase: usecase.PhaseExiting, EntrySignature: "sig-1"}
	rec = do(t, NewServer(0, fakeStatus{st}, nil, nil, nil), httptest.NewRequest("GET", "/status", nil))
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Strategy)
	assert.Equal(t, st, *resp.Strategy)
}

func TestTrades(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, do(t, NewServer(0, nil, nil, nil, nil), httptest.NewRequest("GET", "/trades", nil)).Code)

	repo := &fakeTrades{}
	s := NewServer(0, nil, repo, nil, nil)
	rec := do(t, s, httptest.NewRequest("GET", "/trades", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, defaultTradesLimit, repo.limit)

	repo.trades = []*domain.TradeRecord{{ID: "t-1", Kind: "swap", Reason: "entry", InAmount: 5}}
	rec = do(t, s, httptest.NewRequest("GET", "/trades?limit=5", nil))
	assert.Equal(t, 5, repo.limit)
	assert.Contains(t, rec.Body.String(), `"reason":"entry"`)

	assert.Equal(t, http.StatusBadRequest, do(t, s, httptest.NewRequest("GET", "/trades?limit=x", nil)).Code)
}

func TestMetricsRoute(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, do(t, NewServer(0, nil, nil, nil, nil), httptest.NewRequest("GET", "/metrics", nil)).Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("exit_poller_quotes_total 1\n"))
	})
	rec := do(t, NewServer(0, nil, nil, metrics, nil), httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "exit_poller_quotes_total 1\n", rec.Body.String())
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := NewServer(0, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sink := &recordingSink{}
	go func() { done <- s.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return s.currentSink() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
