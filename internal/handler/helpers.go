package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

// maxBodyBytes ограничивает размер JSON-тела запроса.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps the engine's error taxonomy onto HTTP statuses. Unknown errors are
// logged and hidden behind a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidRange), errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrUnsupportedScope):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, model.ErrMigrationsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryIDs accepts both ?ids=a&ids=b and ?ids=a,b (and the ids[] spelling).
func queryIDs(r *http.Request, key string) []string {
	q := r.URL.Query()
	raw := append(append([]string{}, q[key]...), q[key+"[]"]...)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

const dateOnly = "2006-01-02"

// parseDate accepts RFC 3339 or a bare date. A bare date is midnight UTC; with endOfDay it
// is the last instant of that day instead, so date-only windows include the whole end day.
func parseDate(key, v string, endOfDay bool) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, fmt.Errorf("%w: %s is required", model.ErrInvalidRange, key)
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(dateOnly, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", model.ErrInvalidRange, key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true, nil
}
