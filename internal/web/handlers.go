package web

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type statusResponse struct {
	Connection    any            `json:"connection"`
	BreakerState  string         `json:"breaker_state"`
	EmergencyStop bool           `json:"emergency_stop"`
	RiskBudget    any            `json:"risk_budget"`
	QueueDepths   map[string]int `json:"queue_depths"`
	RateUsage     map[string]int `json:"rate_usage"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Connection:    s.breaker.Health(),
		BreakerState:  string(s.breaker.State()),
		EmergencyStop: s.risk.EmergencyStopped(),
		RiskBudget:    s.risk.Budget(),
		QueueDepths:   s.orders.QueueDepth(),
		RateUsage:     s.limiter.Usage(),
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	trades, err := s.tradeRepo.ListTrades(r.Context(), 100)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if req.Enabled {
		s.logger.Warn("emergency stop requested via API")
		s.engine.EmergencyStop()
	} else {
		s.logger.Info("emergency stop cleared via API")
		s.engine.Resume()
	}
	s.writeJSON(w, map[string]bool{"emergency_stop": req.Enabled})
}

func (s *Server) handleBlockStrategy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "missing strategy name", http.StatusBadRequest)
		return
	}
	s.risk.BlockStrategy(name)
	s.writeJSON(w, map[string]string{"blocked": name})
}

func (s *Server) handleUnblockStrategy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "missing strategy name", http.StatusBadRequest)
		return
	}
	s.risk.UnblockStrategy(name)
	s.writeJSON(w, map[string]string{"unblocked": name})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
