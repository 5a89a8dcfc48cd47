package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
	"go.uber.org/zap"
)

const defaultTradesLimit = 50

type overrideRequest struct {
	Command string `json:"command"`
}

// handleOverride accepts {"command":"sell_half"} or a form field "command".
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var raw string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		raw = req.Command
	} else {
		raw = r.FormValue("command")
	}

	cmd, err := domain.ParseCommand(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sink := s.currentSink()
	if sink == nil {
		http.Error(w, "No position is accepting overrides", http.StatusServiceUnavailable)
		return
	}
	sink.Post(cmd)
	s.logger.Info("Override received over HTTP", zap.String("command", string(cmd)), zap.String("remote", r.RemoteAddr))

	writeJSON(w, http.StatusAccepted, overrideRequest{Command: string(cmd)}, s.logger)
}

type statusResponse struct {
	Status   string                  `json:"status"`
	Strategy *usecase.StrategyStatus `json:"strategy,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: "ok"}
	if s.status != nil {
		st := s.status.Status()
		resp.Strategy = &st
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		http.NotFound(w, r)
		return
	}
	limit := defaultTradesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.trades.ListTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []*domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades, s.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
