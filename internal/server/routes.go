package server

import (
	"CoverPool/internal/core"
	"CoverPool/internal/ingestion"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/query"
	"CoverPool/internal/state"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxCommandBody = 1 << 20

// handlerFunc serves one route and returns the value to encode as JSON.
type handlerFunc func(r *http.Request, params map[string]string) (any, error)

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// NewHTTPHandler builds the API: query and command routes on a
// grpc-gateway mux, health probes beside it.
func NewHTTPHandler(deps Deps) (http.Handler, error) {
	mux := runtime.NewServeMux()
	a := &api{deps: deps}

	routes := []struct {
		method, pattern, name string
		h                     handlerFunc
	}{
		{"GET", "/v1/week", "week", a.week},
		{"GET", "/v1/pool", "pool", a.pool},
		{"GET", "/v1/committee", "committee", a.committee},
		{"GET", "/v1/providers/{id}", "provider", a.provider},
		{"GET", "/v1/policies", "policies", a.policies},
		{"GET", "/v1/policies/{id}", "policy", a.policy},
		{"GET", "/v1/policies/{id}/capacity", "capacity", a.capacity},
		{"GET", "/v1/policies/{id}/quote", "quote", a.quote},
		{"GET", "/v1/policies/{id}/weeks/{week}", "week_book", a.weekBook},
		{"GET", "/v1/policies/{id}/weeks/{week}/coverage/{buyer}", "coverage", a.coverage},
		{"GET", "/v1/governance/requests", "governance_requests", a.governanceRequests},
		{"GET", "/v1/governance/requests/{id}", "governance_request", a.governanceRequest},
		{"GET", "/v1/bonus", "bonus", a.bonus},
		{"GET", "/v1/journal", "journal", a.journal},
		{"POST", "/v1/commands/{type}", "command", a.command},
	}
	if deps.Admin != nil {
		routes = append(routes, []struct {
			method, pattern, name string
			h                     handlerFunc
		}{
			{"POST", "/v1/admin/snapshot", "admin_snapshot", a.snapshot},
			{"POST", "/v1/admin/rebuild-projections", "admin_rebuild", a.rebuild},
			{"GET", "/v1/admin/event-log", "admin_event_log", a.eventLog},
			{"GET", "/v1/admin/integrity", "admin_integrity", a.integrity},
		}...)
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.wrap(rt.name, rt.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	root := http.NewServeMux()
	if deps.HealthChecker != nil {
		root.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		root.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	root.Handle("/", mux)
	return root, nil
}

type api struct {
	deps Deps
}

// wrap encodes the result, maps errors onto status codes and records
// request metrics.
func (a *api) wrap(name string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		result, err := h(r, params)

		code := http.StatusOK
		var body any = result
		if err != nil {
			code = statusFor(err)
			body = errorBody{Error: err.Error(), Code: code}
			if code >= http.StatusInternalServerError {
				a.deps.Logger.Error().Err(err).Str("route", name).Msg("request failed")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)

		if m := a.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(name).Inc()
			m.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			if err != nil {
				m.QueryErrors.WithLabelValues(name, strconv.Itoa(code)).Inc()
			}
		}
	}
}

// statusFor maps domain and transport errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrNotFound),
		errors.Is(err, ingestion.ErrUnknownCommand),
		errors.Is(err, state.ErrUnknownPolicy),
		errors.Is(err, state.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, query.ErrBadRequest),
		errors.Is(err, ingestion.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, state.ErrTransfer):
		return http.StatusFailedDependency
	case errors.Is(err, query.ErrNoEventStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case isRejection(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// isRejection reports whether err is an operation the pool refused.
func isRejection(err error) bool {
	for _, target := range []error{
		state.ErrInvalidAmount, state.ErrInvalidRange, state.ErrInvalidParameter,
		state.ErrInsufficientShares, state.ErrInsufficientCapacity,
		state.ErrWithdrawalInProgress, state.ErrNoWithdrawal, state.ErrNotReadyYet,
		state.ErrNotReadyToRefund, state.ErrAlreadyRefunded, state.ErrNoCoverage,
		state.ErrAlreadyExecuted, state.ErrNotEnoughVotes, state.ErrNotConfigured,
		state.ErrAlreadyConfigured, state.ErrPoolDepleted,
		core.ErrWeekMismatch, core.ErrWeekRegression,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// --- Query routes ---

func (a *api) week(*http.Request, map[string]string) (any, error) {
	return a.deps.Query.Week(), nil
}

func (a *api) pool(*http.Request, map[string]string) (any, error) {
	return a.deps.Query.Pool(), nil
}

func (a *api) committee(*http.Request, map[string]string) (any, error) {
	return a.deps.Query.Committee(), nil
}

func (a *api) provider(_ *http.Request, p map[string]string) (any, error) {
	id, err := uuidParam(p, "id")
	if err != nil {
		return nil, err
	}
	return a.deps.Query.Provider(id)
}

func (a *api) policies(*http.Request, map[string]string) (any, error) {
	return a.deps.Query.Policies(), nil
}

func (a *api) policy(_ *http.Request, p map[string]string) (any, error) {
	id, err := intParam(p, "id")
	if err != nil {
		return nil, err
	}
	return a.deps.Query.Policy(id)
}

func (a *api) capacity(r *http.Request, p map[string]string) (any, error) {
	id, err := intParam(p, "id")
	if err != nil {
		return nil, err
	}
	var week *int64
	if s := r.URL.Query().Get("week"); s != "" {
		w, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: week %q", query.ErrBadRequest, s)
		}
		week = &w
	}
	return a.deps.Query.Capacity(id, week)
}

func (a *api) quote(r *http.Request, p map[string]string) (any, error) {
	id, err := intParam(p, "id")
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	amount, err := fpmath.ParseAmount(q.Get("amount"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", query.ErrBadRequest, err)
	}
	start, err1 := strconv.ParseInt(q.Get("start"), 10, 64)
	end, err2 := strconv.ParseInt(q.Get("end"), 10, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: start and end weeks are required", query.ErrBadRequest)
	}
	premium, err := a.deps.Query.Quote(id, amount, start, end)
	if err != nil {
		return nil, err
	}
	return map[string]any{"policy_id": id, "amount": amount, "start_week": start, "end_week": end, "premium": premium}, nil
}

func (a *api) weekBook(_ *http.Request, p map[string]string) (any, error) {
	id, err := intParam(p, "id")
	if err != nil {
		return nil, err
	}
	week, err := intParam(p, "week")
	if err != nil {
		return nil, err
	}
	return a.deps.Query.WeekBook(id, week)
}

func (a *api) coverage(_ *http.Request, p map[string]string) (any, error) {
	id, err := intParam(p, "id")
	if err != nil {
		return nil, err
	}
	week, err := intParam(p, "week")
	if err != nil {
		return nil, err
	}
	buyer, err := uuidParam(p, "buyer")
	if err != nil {
		return nil, err
	}
	return a.deps.Query.Coverage(id, week, buyer)
}

func (a *api) governanceRequests(*http.Request, map[string]string) (any, error) {
	return a.deps.Query.GovernanceRequests(), nil
}

func (a *api) governanceRequest(_ *http.Request, p map[string]string) (any, error) {
	id, err := intParam(p, "id")
	if err != nil {
		return nil, err
	}
	return a.deps.Query.GovernanceRequest(id)
}

func (a *api) bonus(r *http.Request, _ map[string]string) (any, error) {
	amount, err := fpmath.ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", query.ErrBadRequest, err)
	}
	return a.deps.Query.Bonus(amount)
}

func (a *api) journal(r *http.Request, _ map[string]string) (any, error) {
	q := r.URL.Query()
	account := q.Get("account")
	if account == "" {
		return nil, fmt.Errorf("%w: account is required", query.ErrBadRequest)
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: limit %q", query.ErrBadRequest, s)
		}
		limit = n
	}
	var before *int64
	if s := q.Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: before %q", query.ErrBadRequest, s)
		}
		before = &n
	}
	return a.deps.Query.GetJournalHistory(r.Context(), account, limit, before)
}

// --- Command route ---

func (a *api) command(r *http.Request, p map[string]string) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ingestion.ErrMalformed, err)
	}
	if len(body) > maxCommandBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ingestion.ErrMalformed, maxCommandBody)
	}
	return a.deps.Commands.Submit(r.Context(), p["type"], body)
}

// --- Admin routes ---

func (a *api) snapshot(r *http.Request, _ map[string]string) (any, error) {
	seq, err := a.deps.Admin.TakeSnapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"sequence": seq}, nil
}

func (a *api) rebuild(r *http.Request, _ map[string]string) (any, error) {
	if err := a.deps.Admin.RebuildProjections(r.Context()); err != nil {
		return nil, err
	}
	return map[string]bool{"rebuilt": true}, nil
}

func (a *api) eventLog(r *http.Request, _ map[string]string) (any, error) {
	seq, err := a.deps.Admin.LatestSequence(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"last_sequence": seq}, nil
}

func (a *api) integrity(r *http.Request, _ map[string]string) (any, error) {
	return a.deps.Query.VerifyIntegrity(r.Context())
}

// --- helpers ---

func intParam(p map[string]string, name string) (int64, error) {
	n, err := strconv.ParseInt(p[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", query.ErrBadRequest, name, p[name])
	}
	return n, nil
}

func uuidParam(p map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(p[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q is not a uuid", query.ErrBadRequest, name, p[name])
	}
	return id, nil
}
