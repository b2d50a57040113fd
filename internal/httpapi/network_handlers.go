package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"refnet.org/internal/audit"
	"refnet.org/internal/auth"
	"refnet.org/internal/engine"
)

const (
	defaultNetworkDepth = 3
	maxNetworkDepth     = 10
	defaultTopEarners   = 10
)

type purchaseRequest struct {
	MemberID string `json:"member_id"`
	Plan     string `json:"plan"`
}

type purchaseResponse struct {
	Activation engine.Activation `json:"activation"`
	Settlement engine.Settlement `json:"settlement"`
}

// handlePurchases confirms a plan purchase: activates the membership, then
// settles commissions up the sponsor chain. Settlement is idempotent per
// level, so a replayed request cannot double-credit and a retry after a
// partial failure completes the remaining levels.
func (a *API) handlePurchases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	memberID := strings.TrimSpace(req.MemberID)
	planName := strings.TrimSpace(req.Plan)
	if memberID == "" || planName == "" {
		writeError(w, r, http.StatusBadRequest, "member_id and plan are required")
		return
	}

	activation, err := a.lifecycle.Activate(r.Context(), memberID, planName, time.Now().UTC())
	if errors.Is(err, engine.ErrMembershipAlreadyActive) {
		a.resettlePurchase(w, r, memberID, planName)
		return
	}
	if err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}

	settlement, err := a.settler.Settle(r.Context(), memberID, activation.Plan)
	if err != nil {
		// The activation is committed; replaying the same purchase request
		// re-enters the settlement and completes the fan-out.
		writeError(w, r, domainStatus(err), "activation recorded, settlement failed: "+err.Error())
		return
	}

	_ = audit.LogEvent(r.Context(), "purchase.settled", map[string]any{
		"member_id":       memberID,
		"plan":            activation.Plan,
		"levels_paid":     settlement.LevelsPaid,
		"total_disbursed": settlement.TotalDisbursed,
		"window_extended": settlement.WindowExtended,
	})
	writeJSON(w, http.StatusCreated, purchaseResponse{Activation: activation, Settlement: settlement})
}

// resettlePurchase handles a replayed purchase for an already-active
// membership. The activation write is done; re-running the settlement
// finishes any fan-out an earlier, interrupted call left behind. Nothing
// is charged again.
func (a *API) resettlePurchase(w http.ResponseWriter, r *http.Request, memberID, planName string) {
	m, err := a.store.GetMember(r.Context(), memberID)
	if err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	if !strings.EqualFold(m.MembershipPlan, planName) {
		writeError(w, r, http.StatusConflict, "membership already active on plan "+m.MembershipPlan)
		return
	}

	settlement, err := a.settler.Settle(r.Context(), memberID, m.MembershipPlan)
	if err != nil {
		writeError(w, r, domainStatus(err), "settlement retry failed: "+err.Error())
		return
	}

	_ = audit.LogEvent(r.Context(), "purchase.resettled", map[string]any{
		"member_id":       memberID,
		"plan":            m.MembershipPlan,
		"levels_paid":     settlement.LevelsPaid,
		"total_disbursed": settlement.TotalDisbursed,
		"replayed":        settlement.Replayed,
	})
	writeJSON(w, http.StatusOK, purchaseResponse{
		Activation: engine.Activation{Member: m, Plan: m.MembershipPlan},
		Settlement: settlement,
	})
}

func (a *API) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	snap, err := a.catalog.Current(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "plan catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": snap.Version,
		"plans":   snap.Plans(),
	})
}

func (a *API) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := requireRole(r.Context(), auth.RoleReporting); err != nil {
		writeError(w, r, http.StatusForbidden, "reporting role required")
		return
	}
	topN, err := parsePositiveInt(r.URL.Query().Get("top"), defaultTopEarners)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "top "+err.Error())
		return
	}
	stats, err := a.network.NetworkStats(r.Context(), topN)
	if err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) memberNetwork(w http.ResponseWriter, r *http.Request, id string) {
	depth, err := parsePositiveInt(r.URL.Query().Get("depth"), defaultNetworkDepth)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "depth "+err.Error())
		return
	}
	if depth > maxNetworkDepth {
		depth = maxNetworkDepth
	}
	node, err := a.network.MemberNetwork(r.Context(), id, depth)
	if err != nil {
		writeError(w, r, domainStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node)
}
