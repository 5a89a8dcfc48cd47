package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
	"go.uber.org/zap"
)

// StatusSource reports the running strategy.
type StatusSource interface {
	Status() usecase.StrategyStatus
}

// Server is the HTTP control surface. As an InputAdapter it forwards
// POST /override to the sink it is run with.
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	status  StatusSource
	trades  domain.TradeRepository
	metrics http.Handler
	logger  *zap.Logger

	mu   sync.RWMutex
	sink usecase.OverrideSink
}

// NewServer accepts nil status, trades or metrics; the matching routes then
// report 404 or an empty body.
func NewServer(
	port int,
	status StatusSource,
	trades domain.TradeRepository,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:  http.NewServeMux(),
		status:  status,
		trades:  trades,
		metrics: metrics,
		logger:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Control
	s.router.HandleFunc("POST /override", s.handleOverride)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Trades
	s.router.HandleFunc("GET /trades", s.handleTrades)

	// Metrics
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run serves until ctx is done, posting overrides into sink.
func (s *Server) Run(ctx context.Context, sink usecase.OverrideSink) error {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func (s *Server) currentSink() usecase.OverrideSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}
