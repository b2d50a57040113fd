package httpapi

import (
	"net/http"
	"strings"
	"time"

	"refnet.org/internal/audit"
	"refnet.org/internal/auth"
	"refnet.org/internal/member"
)

const historyLimit = 100

type createMemberRequest struct {
	Name      string `json:"name"`
	SponsorID string `json:"sponsor_id"`
}

func (a *API) handleMembersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	m, err := a.store.CreateMember(r.Context(), member.Member{
		Name:      strings.TrimSpace(req.Name),
		SponsorID: strings.TrimSpace(req.SponsorID),
		IsActive:  true,
	})
	if err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	_ = audit.LogEvent(r.Context(), "member.created", map[string]any{
		"member_id":  m.ID,
		"sponsor_id": m.SponsorID,
	})
	writeJSON(w, http.StatusCreated, m)
}

// handleMemberResource routes /v1/members/{id} and its sub-resources.
func (a *API) handleMemberResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/members/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getMember(w, r, id)
		return
	}
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	switch parts[1] {
	case "sponsor":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.reassignSponsor(w, r, id)
	case "daily-earning":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.dailyEarning(w, r, id)
	case "can-earn":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.canEarn(w, r, id)
	case "network":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.memberNetwork(w, r, id)
	case "commissions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		events, err := a.store.ListCommissionEvents(r.Context(), id, historyLimit)
		if err != nil {
			writeError(w, r, domainStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commissions": events})
	case "earnings":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		events, err := a.store.ListTaskEarnings(r.Context(), id, historyLimit)
		if err != nil {
			writeError(w, r, domainStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"earnings": events})
	case "transactions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		txns, err := a.store.ListTransactions(r.Context(), id, historyLimit)
		if err != nil {
			writeError(w, r, domainStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
	default:
		http.NotFound(w, r)
	}
}

func (a *API) getMember(w http.ResponseWriter, r *http.Request, id string) {
	m, err := a.store.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type sponsorRequest struct {
	SponsorID string `json:"sponsor_id"`
}

func (a *API) reassignSponsor(w http.ResponseWriter, r *http.Request, id string) {
	if err := requireRole(r.Context(), auth.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req sponsorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sponsorID := strings.TrimSpace(req.SponsorID)
	if sponsorID == "" {
		writeError(w, r, http.StatusBadRequest, "sponsor_id is required")
		return
	}
	if sponsorID == id {
		writeError(w, r, http.StatusUnprocessableEntity, "member cannot sponsor itself")
		return
	}

	if err := a.walker.ValidateSponsorChange(r.Context(), id, sponsorID); err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	if err := a.store.UpdateSponsor(r.Context(), id, sponsorID); err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	_ = audit.LogEvent(r.Context(), "member.sponsor.reassign", map[string]any{
		"member_id":  id,
		"sponsor_id": sponsorID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"member_id": id, "sponsor_id": sponsorID})
}

func (a *API) dailyEarning(w http.ResponseWriter, r *http.Request, id string) {
	res, err := a.daily.CreditDailyEarning(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) canEarn(w http.ResponseWriter, r *http.Request, id string) {
	ok, err := a.windows.CanEarnToday(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member_id": id, "can_earn": ok})
}
