package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"refnet.org/internal/engine"
	"refnet.org/internal/member"
	"refnet.org/internal/plan"
	"refnet.org/internal/tree"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: RequestIDFromContext(r.Context())})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	if _, err := io.Copy(io.Discard, r.Body); err != nil {
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func parsePositiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}

// domainStatus maps engine and store errors onto HTTP status codes.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, member.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, member.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, member.ErrAlreadyCreditedToday),
		errors.Is(err, member.ErrDuplicateSettlement),
		errors.Is(err, engine.ErrMembershipAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEarningWindowExpired),
		errors.Is(err, engine.ErrMembershipNotActive),
		errors.Is(err, member.ErrInvalidState),
		errors.Is(err, tree.ErrWouldCreateCycle):
		return http.StatusUnprocessableEntity
	case errors.Is(err, plan.ErrUnknownPlan), errors.Is(err, plan.ErrUnknownTier):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Healthz reports liveness.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports readiness; with a database wired it pings it.
func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Info returns service identity and version.
func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "refnet-api",
		"version": a.version,
	})
}
