package handler

import "net/http"

// StrategyHandler lists the registered strategies and the active one.
type StrategyHandler struct {
	available []string
	active    string
	params    map[string]any
}

func NewStrategyHandler(available []string, active string, params map[string]any) *StrategyHandler {
	if params == nil {
		params = map[string]any{}
	}
	return &StrategyHandler{available: available, active: active, params: params}
}

// List returns the strategy catalogue.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available": h.available,
		"active":    h.active,
		"params":    h.params,
	})
}
