package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/microai-dao/trustcore/pkg/anchor"
	"github.com/microai-dao/trustcore/pkg/attest"
	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/epi"
	"github.com/microai-dao/trustcore/pkg/guardian"
	"github.com/microai-dao/trustcore/pkg/observability"
	"github.com/microai-dao/trustcore/pkg/policy"
	"github.com/microai-dao/trustcore/pkg/risk"
	"github.com/microai-dao/trustcore/pkg/store"
	"github.com/microai-dao/trustcore/pkg/trustlog"
	"github.com/microai-dao/trustcore/pkg/verify"
)

const maxBodyBytes = 1 << 20 // 1MB

// Deps are the collaborators behind the HTTP surface. Policy and Obs are
// optional; everything else is required.
type Deps struct {
	EPI       *epi.Calculator
	Log       *trustlog.Logger
	Guardians *guardian.System
	Anchors   *anchor.Service
	Verifier  *verify.Verifier
	Attest    *attest.Generator
	Policy    *policy.Engine
	Obs       *observability.Provider
	Store     store.Store
}

// Server is the HTTP API for the trust engine.
type Server struct {
	deps        Deps
	eventSchema *jsonschema.Schema
}

// NewServer builds the API server and compiles its request schemas.
func NewServer(deps Deps) (*Server, error) {
	schema, err := compileSchema("log-event", logEventSchema)
	if err != nil {
		return nil, err
	}
	return &Server{deps: deps, eventSchema: schema}, nil
}

// Routes returns the request mux. Middleware (request id, rate limiting,
// idempotency) is layered on by the caller.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/epi/score", s.handleScore)
	mux.HandleFunc("POST /api/v1/risk/classify", s.handleClassify)
	mux.HandleFunc("POST /api/v1/events", s.handleLogEvent)
	mux.HandleFunc("GET /api/v1/events", s.handleEventsByDate)
	mux.HandleFunc("GET /api/v1/events/{id}", s.handleGetEvent)
	mux.HandleFunc("GET /api/v1/events/{id}/proof", s.handleProof)
	mux.HandleFunc("GET /api/v1/agents/{id}/events", s.handleEventsByAgent)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/anchors", s.handleAnchor)
	mux.HandleFunc("GET /api/v1/anchors", s.handleGetAnchor)
	mux.HandleFunc("GET /api/v1/guardians", s.handleGuardians)
	mux.HandleFunc("GET /api/v1/guardians/status", s.handleGuardianStatus)
	mux.HandleFunc("POST /api/v1/guardians/pause", s.handlePause)
	mux.HandleFunc("POST /api/v1/guardians/resume", s.handleResume)
	mux.HandleFunc("POST /api/v1/guardians/veto", s.handleVeto)
	mux.HandleFunc("POST /api/v1/attestations", s.handleAttest)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var in epi.Inputs
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := s.deps.EPI.Score(in)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type classifyRequest struct {
	ActionType string       `json:"action_type"`
	Factors    risk.Factors `json:"factors"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := risk.Classify(req.ActionType, req.Factors)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// logEventRequest is the wire form of a log-event call. Raw input/output
// content is accepted only to be hashed; it never reaches storage.
type logEventRequest struct {
	OrgID       string   `json:"org_id"`
	AgentID     string   `json:"agent_id"`
	ActionType  string   `json:"action_type"`
	Model       string   `json:"model"`
	Input       string   `json:"input"`
	Output      string   `json:"output"`
	ToolsCalled []string `json:"tools_called"`
	Redactions  []string `json:"redactions"`

	EPI *struct {
		Profitability float64   `json:"profitability"`
		Ethics        float64   `json:"ethics"`
		Violations    []float64 `json:"violations"`
	} `json:"epi"`
	Risk *struct {
		Impact        float64 `json:"impact"`
		Autonomy      float64 `json:"autonomy"`
		Sensitivity   float64 `json:"sensitivity"`
		Reversibility float64 `json:"reversibility"`
		Regulatory    float64 `json:"regulatory"`
	} `json:"risk"`
}

func (s *Server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var raw any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.eventSchema.Validate(raw); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	var req logEventRequest
	if err := json.Unmarshal(buf, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx := r.Context()
	var done func(error)
	if s.deps.Obs != nil {
		ctx, done = s.deps.Obs.TrackOperation(ctx, "log_event",
			attribute.String("org_id", req.OrgID),
			attribute.String("action_type", req.ActionType),
		)
	}
	ev, err := s.logEvent(ctx, req)
	if done != nil {
		done(err)
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) logEvent(ctx context.Context, req logEventRequest) (contracts.TrustEvent, error) {
	act := contracts.ActionDescriptor{
		OrgID:       req.OrgID,
		AgentID:     req.AgentID,
		ActionType:  req.ActionType,
		Model:       req.Model,
		Input:       []byte(req.Input),
		Output:      []byte(req.Output),
		ToolsCalled: req.ToolsCalled,
		Redactions:  req.Redactions,
	}

	var epiRes *epi.Result
	if req.EPI != nil {
		res, err := s.deps.EPI.Score(epi.Inputs{
			Profit:     req.EPI.Profitability,
			Ethics:     req.EPI.Ethics,
			Violations: req.EPI.Violations,
		})
		if err != nil {
			return contracts.TrustEvent{}, err
		}
		epiRes = &res
	}

	var riskRes *risk.Assessment
	if req.Risk != nil {
		res, err := risk.Classify(req.ActionType, risk.Factors{
			Impact:        req.Risk.Impact,
			Autonomy:      req.Risk.Autonomy,
			Sensitivity:   req.Risk.Sensitivity,
			Reversibility: req.Risk.Reversibility,
			Regulatory:    req.Risk.Regulatory,
		})
		if err != nil {
			return contracts.TrustEvent{}, err
		}
		riskRes = &res
	}

	if s.deps.Policy != nil {
		score, tier := 0.0, 0
		if epiRes != nil {
			score = epiRes.Score
		}
		if riskRes != nil {
			tier = int(riskRes.Tier)
		}
		decision, err := s.deps.Policy.Evaluate(act, score, tier)
		if err != nil {
			return contracts.TrustEvent{}, err
		}
		if !decision.Allowed {
			return contracts.TrustEvent{}, fmt.Errorf("%w: %s", contracts.ErrUnauthorized, decision.Reason)
		}
	}

	ev, err := s.deps.Log.LogEvent(ctx, act, epiRes, riskRes)
	if err != nil {
		return contracts.TrustEvent{}, err
	}
	if s.deps.Obs != nil {
		s.deps.Obs.RecordEventLogged(ctx, ev.OrgID)
	}
	return ev, nil
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Log.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleEventsByDate(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	date := r.URL.Query().Get("date")
	if orgID == "" || date == "" {
		WriteBadRequest(w, "Missing required query parameters: org_id, date")
		return
	}
	events, err := s.deps.Log.EventsByDate(r.Context(), orgID, date)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleEventsByAgent(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		WriteBadRequest(w, "Missing required query parameter: org_id")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.deps.Log.EventsByAgent(r.Context(), orgID, r.PathValue("id"), limit)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var done func(error)
	if s.deps.Obs != nil {
		ctx, done = s.deps.Obs.TrackOperation(ctx, "verify_inclusion")
	}
	res, err := s.deps.Verifier.VerifyInclusion(ctx, r.PathValue("id"), r.URL.Query().Get("root"))
	if done != nil {
		done(err)
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		WriteBadRequest(w, "Missing required query parameter: org_id")
		return
	}
	sum, err := s.deps.Log.Summary(r.Context(), orgID, r.URL.Query().Get("date"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type anchorRequest struct {
	OrgID string `json:"org_id"`
	Date  string `json:"date"`
}

func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrgID == "" || req.Date == "" {
		WriteBadRequest(w, "Missing required fields: org_id, date")
		return
	}

	ctx := r.Context()
	var done func(error)
	if s.deps.Obs != nil {
		ctx, done = s.deps.Obs.TrackOperation(ctx, "anchor_window",
			attribute.String("org_id", req.OrgID),
		)
	}
	a, err := s.deps.Anchors.AnchorWindow(ctx, req.OrgID, req.Date)
	if done != nil {
		done(err)
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if s.deps.Obs != nil {
		s.deps.Obs.RecordWindowSealed(ctx, a.OrgID, a.EventCount)
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAnchor(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		WriteBadRequest(w, "Missing required query parameter: org_id")
		return
	}

	var (
		a   contracts.MerkleAnchor
		err error
	)
	if date := r.URL.Query().Get("date"); date != "" {
		a, err = s.deps.Store.GetAnchor(r.Context(), orgID, date)
	} else {
		a, err = s.deps.Store.LatestAnchor(r.Context(), orgID)
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGuardians(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Guardians.Roster())
}

func (s *Server) handleGuardianStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Guardians.Status(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type guardianRequest struct {
	GuardianID string `json:"guardian_id"`
	TargetID   string `json:"target_id"`
	Reason     string `json:"reason"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req guardianRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action, err := s.deps.Guardians.Pause(r.Context(), req.GuardianID, req.Reason)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req guardianRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action, err := s.deps.Guardians.Resume(r.Context(), req.GuardianID, req.Reason)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleVeto(w http.ResponseWriter, r *http.Request) {
	var req guardianRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action, err := s.deps.Guardians.Veto(r.Context(), req.GuardianID, req.TargetID, req.Reason)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

type attestRequest struct {
	ModelID       string `json:"model_id"`
	Version       string `json:"version"`
	PolicyVersion string `json:"policy_version"`
	OrgID         string `json:"org_id"`
	Date          string `json:"date"`
}

type attestResponse struct {
	Attestation contracts.Attestation `json:"attestation"`
	JWT         string                `json:"jwt"`
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req attestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrgID == "" || req.Date == "" {
		WriteBadRequest(w, "Missing required fields: org_id, date")
		return
	}

	a, err := s.deps.Store.GetAnchor(r.Context(), req.OrgID, req.Date)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	att, err := s.deps.Attest.Attest(attest.Request{
		ModelID:       req.ModelID,
		Version:       req.Version,
		PolicyVersion: req.PolicyVersion,
		Anchor:        a,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	token, err := s.deps.Attest.JWT(att)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attestResponse{Attestation: att, JWT: token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
