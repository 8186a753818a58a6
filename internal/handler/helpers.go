package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TimezoneHeader optionally carries the caller's IANA zone name; day keys
// are computed in that zone.
const TimezoneHeader = "X-Timezone"

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLocation resolves the zone named by TimezoneHeader, falling back
// to def when the header is absent.
func requestLocation(r *http.Request, def *time.Location) (*time.Location, error) {
	name := strings.TrimSpace(r.Header.Get(TimezoneHeader))
	if name == "" {
		return def, nil
	}
	return time.LoadLocation(name)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
