// Package handlers implements the HTTP handlers for the LumenGrid control
// plane: agent CRUD, due evaluation, execution, templates, intent parsing,
// and the thin Stellar passthrough endpoints the dashboard uses.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lumengrid/lumengrid/internal/config"
	"github.com/lumengrid/lumengrid/internal/engine"
	"github.com/lumengrid/lumengrid/internal/intent"
	"github.com/lumengrid/lumengrid/internal/notify"
	"github.com/lumengrid/lumengrid/internal/pricefeed"
	"github.com/lumengrid/lumengrid/internal/stellar"
	"github.com/lumengrid/lumengrid/internal/store"
	"github.com/lumengrid/lumengrid/pkg/models"
)

// IntentParser is the slice of the intent package the handlers need.
type IntentParser interface {
	Parse(ctx context.Context, text string) (*intent.Intent, error)
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Store     store.Store
	StoreKind store.Kind
	Engine    *engine.Engine
	Builder   stellar.TxBuilder
	Submitter stellar.TxSubmitter
	Balances  stellar.BalanceFetcher
	Prices    pricefeed.Feed
	Intent    IntentParser
	Notify    *notify.Service
	Config    *config.Config
}

// ── Agent CRUD ───────────────────────────────────────────────

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	var (
		agents []models.Agent
		err    error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		agents, err = h.Store.ListAgentsByOwner(r.Context(), owner)
	} else {
		agents, err = h.Store.ListAgents(r.Context())
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req models.Agent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Owner == "" {
		respondError(w, http.StatusBadRequest, "owner is required")
		return
	}
	if !stellar.IsValidAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "owner is not a valid Stellar address")
		return
	}

	// A template seeds strategy and config defaults; explicit request values
	// win over the template's.
	if req.TemplateID != "" {
		tpl, ok := models.TemplateByID(req.TemplateID)
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown template: "+req.TemplateID)
			return
		}
		if req.Strategy == "" {
			req.Strategy = tpl.Strategy
		}
		merged := make(map[string]any, len(tpl.Defaults)+len(req.StrategyConfig))
		for k, v := range tpl.Defaults {
			merged[k] = v
		}
		for k, v := range req.StrategyConfig {
			merged[k] = v
		}
		req.StrategyConfig = merged
	}

	req.ID = uuid.New().String()
	req.Version = 0
	req.ExecutionCount = 0
	req.LastExecutionAt = nil
	req.NextExecutionAt = nil
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt
	if req.StrategyConfig == nil {
		req.StrategyConfig = map[string]any{}
	}
	if req.StrategyState == nil {
		req.StrategyState = map[string]any{}
	}

	if err := h.Store.CreateAgent(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("agent_id", req.ID).Str("owner", req.Owner).Str("strategy", string(req.Strategy)).Msg("agent created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// agentUpdateRequest is the mutable subset of an agent. Pointer fields
// distinguish "absent" from explicit zero values.
type agentUpdateRequest struct {
	Name               *string               `json:"name"`
	TxHash             *string               `json:"tx_hash"`
	StrategyConfig     map[string]any        `json:"strategy_config"`
	StrategyState      map[string]any        `json:"strategy_state"`
	AutoExecuteEnabled *bool                 `json:"auto_execute_enabled"`
	Reminders          *models.ReminderPrefs `json:"reminders"`
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}

	var req agentUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch := store.AgentPatch{
		Name:               req.Name,
		TxHash:             req.TxHash,
		StrategyConfig:     req.StrategyConfig,
		StrategyState:      req.StrategyState,
		AutoExecuteEnabled: req.AutoExecuteEnabled,
		Reminders:          req.Reminders,
	}

	updated, err := h.Store.UpdateAgent(r.Context(), agent.ID, agent.Version, patch)
	if err != nil {
		if store.IsConflict(err) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	if err := h.Store.DeleteAgent(r.Context(), id); err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handlers) SetAutoExecute(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.Store.UpdateAgent(r.Context(), agent.ID, agent.Version, store.AgentPatch{
		AutoExecuteEnabled: &req.Enabled,
	})
	if err != nil {
		if store.IsConflict(err) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handlers) SetReminders(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}

	var prefs models.ReminderPrefs
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if prefs.DigestMode != "" && prefs.DigestMode != "instant" && prefs.DigestMode != "daily" {
		respondError(w, http.StatusBadRequest, "digest_mode must be \"instant\" or \"daily\"")
		return
	}

	updated, err := h.Store.UpdateAgent(r.Context(), agent.ID, agent.Version, store.AgentPatch{
		Reminders: &prefs,
	})
	if err != nil {
		if store.IsConflict(err) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// ── Evaluation & execution ───────────────────────────────────

func (h *Handlers) EvaluateAgentDue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	result, err := h.Engine.EvaluateDue(r.Context(), id, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type executeRequest struct {
	SourceAddress string `json:"source_address"`
	Submit        *bool  `json:"submit"`
}

func (h *Handlers) ExecuteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SourceAddress == "" {
		respondError(w, http.StatusBadRequest, "source_address is required")
		return
	}
	submit := req.Submit == nil || *req.Submit

	result, err := h.Engine.ExecuteOnce(r.Context(), id, req.SourceAddress, submit, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	if result.Executed {
		if agent, gerr := h.Store.GetAgent(r.Context(), id); gerr == nil {
			h.Notify.Notify(r.Context(), notify.Event{
				Agent:   agent,
				Kind:    "executed",
				Message: notify.ExecutedMessage(agent, result.TxHash),
			})
		}
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) EvaluateOwnerDue(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		respondError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	results, err := h.Engine.EvaluateAllForOwner(r.Context(), owner, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (h *Handlers) ExecuteOwnerAgents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner         string `json:"owner"`
		SourceAddress string `json:"source_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Owner == "" || req.SourceAddress == "" {
		respondError(w, http.StatusBadRequest, "owner and source_address are required")
		return
	}
	results, err := h.Engine.ExecuteAllForOwner(r.Context(), req.Owner, req.SourceAddress, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// DueCheck is the cron entry point: evaluate every agent, deliver reminders
// for the ones that came due, and report a fleet summary. It never executes;
// owners decide whether due agents run automatically via auto-execute plus
// the owner-scoped execute endpoint.
func (h *Handlers) DueCheck(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now().UTC()
	summary := struct {
		Checked int                `json:"checked"`
		Due     int                `json:"due"`
		Results []engine.DueResult `json:"results"`
	}{Results: make([]engine.DueResult, 0, len(agents))}

	for _, a := range agents {
		result, err := h.Engine.EvaluateDue(r.Context(), a.ID, now)
		if err != nil {
			summary.Results = append(summary.Results, engine.DueResult{AgentID: a.ID, Error: err.Error()})
			continue
		}
		summary.Checked++
		if result.Due {
			summary.Due++
			h.Notify.Notify(r.Context(), notify.Event{
				Agent:   &a,
				Kind:    "due",
				Message: notify.DueMessage(&a, result.Reason),
			})
		}
		summary.Results = append(summary.Results, *result)
	}

	log.Info().Int("checked", summary.Checked).Int("due", summary.Due).Msg("cron due check")
	respondJSON(w, http.StatusOK, summary)
}

// ── Templates ────────────────────────────────────────────────

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.BuiltinTemplates)
}

func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "templateID")
	tpl, ok := models.TemplateByID(id)
	if !ok {
		respondError(w, http.StatusNotFound, "template not found: "+id)
		return
	}
	respondJSON(w, http.StatusOK, tpl)
}

// ── Intent ───────────────────────────────────────────────────

func (h *Handlers) ParseIntent(w http.ResponseWriter, r *http.Request) {
	if h.Intent == nil {
		respondError(w, http.StatusServiceUnavailable, "intent parsing is not configured")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	parsed, err := h.Intent.Parse(r.Context(), req.Text)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, parsed)
}

// ── Stellar passthrough ──────────────────────────────────────

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if !stellar.IsValidAddress(account) {
		respondError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	balance, err := h.Balances.FetchBalance(r.Context(), account)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"account": account, "balance_xlm": balance})
}

func (h *Handlers) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.Prices.Price(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]float64{"xlm_usd": price})
}

func (h *Handlers) BuildPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Amount      string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !stellar.IsValidAddress(req.Source) || !stellar.IsValidAddress(req.Destination) {
		respondError(w, http.StatusBadRequest, "source and destination must be valid Stellar addresses")
		return
	}
	xdr, err := h.Builder.BuildPayment(r.Context(), req.Source, req.Destination, req.Amount)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"xdr": xdr})
}

func (h *Handlers) BuildToggle(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	if agent.ContractID == "" {
		respondError(w, http.StatusBadRequest, "agent has no contract")
		return
	}
	var req struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	xdr, err := h.Builder.BuildToggleActive(r.Context(), agent.ContractID, req.Source)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"xdr": xdr})
}

func (h *Handlers) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		XDR string `json:"xdr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.XDR == "" {
		respondError(w, http.StatusBadRequest, "xdr is required")
		return
	}
	result, err := h.Submitter.Submit(r.Context(), req.XDR)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Health ───────────────────────────────────────────────────

// StoreHealth reports which backend is configured and whether it answers.
func (h *Handlers) StoreHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"backend": string(h.StoreKind), "healthy": true}
	if err := h.Store.Ping(r.Context()); err != nil {
		status["healthy"] = false
		status["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ── Helpers ──────────────────────────────────────────────────

func (h *Handlers) loadAgent(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	id := chi.URLParam(r, "agentID")
	agent, err := h.Store.GetAgent(r.Context(), id)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return agent, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
