// Package handler implements the operator console's REST endpoints.
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseTxFilter reads symbol, code, since, until, limit and offset from the
// query string. Times are RFC 3339. Limit defaults to 50 and is capped at 500.
func parseTxFilter(r *http.Request, defaultSymbol string) (domain.TxFilter, error) {
	q := r.URL.Query()
	f := domain.TxFilter{Symbol: defaultSymbol, Limit: defaultLimit}

	if v := strings.TrimSpace(q.Get("symbol")); v != "" {
		f.Symbol = strings.ToUpper(v)
	}
	switch c := strings.ToUpper(q.Get("code")); c {
	case "":
	case string(domain.TxOpen), string(domain.TxClose):
		f.Code = domain.TxCode(c)
	default:
		return f, errBadParam("code must be O or C")
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errBadParam(p.name + " must be RFC 3339")
		}
		*p.dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errBadParam("limit must be a positive integer")
		}
		f.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errBadParam("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

type errBadParam string

func (e errBadParam) Error() string { return string(e) }
