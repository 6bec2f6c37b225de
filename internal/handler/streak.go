// Package handler contains the HTTP handlers for the JSON API.
//
// Handlers only translate HTTP to service calls and back: they read the
// authenticated user from the context, decode the body, call the service,
// and write the result with writeJSON / writeError.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"

	"github.com/sakif/nutrilog/internal/apperror"
	"github.com/sakif/nutrilog/internal/auth"
	"github.com/sakif/nutrilog/internal/model"
	"github.com/sakif/nutrilog/internal/service"
)

// ActivityService is what StreakHandler needs from service.ActivityService.
type ActivityService interface {
	Record(ctx context.Context, userID, kind, date string) (*service.RecordResult, error)
	LogLogin(ctx context.Context, userID string) (*service.RecordResult, error)
	Streaks(ctx context.Context, userID string) (*model.StreakState, error)
	Recompute(ctx context.Context, userID string) (*model.StreakState, error)
	History(ctx context.Context, userID, kind string, days int) ([]civil.Date, error)
	SetTimezone(ctx context.Context, userID, tz string) (*model.User, error)
	Profile(ctx context.Context, userID string) (*model.User, error)
}

type StreakHandler struct {
	svc    ActivityService
	logger *slog.Logger
}

func NewStreakHandler(svc ActivityService, logger *slog.Logger) *StreakHandler {
	return &StreakHandler{svc: svc, logger: logger}
}

// recordActivityRequest is the body of POST /api/activity. Date is optional
// and defaults to the user's local today.
type recordActivityRequest struct {
	Kind string `json:"kind"`
	Date string `json:"date"`
}

type timezoneRequest struct {
	Timezone string `json:"timezone"`
}

// HistoryResponse is the body of GET /api/activity.
type HistoryResponse struct {
	Kind string       `json:"kind"`
	Days []civil.Date `json:"days"`
}

// HandleGetStreaks handles GET /api/streaks.
func (h *StreakHandler) HandleGetStreaks(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Streaks(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleRecompute handles POST /api/streaks/recompute.
func (h *StreakHandler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Recompute(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleRecordActivity handles POST /api/activity. It answers 201 when a new
// day was recorded and 200 when the day already existed.
func (h *StreakHandler) HandleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req recordActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Record(r.Context(), userFrom(r), req.Kind, req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, createdStatus(res), res)
}

// HandleLogin handles POST /api/login: "the user opened the app today".
func (h *StreakHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.LogLogin(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, createdStatus(res), res)
}

// HandleHistory handles GET /api/activity?kind=food&days=30.
func (h *StreakHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("kind")
	if kind == "" {
		kind = string(model.KindFood)
	}

	days := 0
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, apperror.ValidationFailed("days", "days must be a positive integer"))
			return
		}
		days = n
	}

	out, err := h.svc.History(r.Context(), userFrom(r), kind, days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if out == nil {
		out = []civil.Date{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Kind: kind, Days: out})
}

// HandleMe handles GET /api/me.
func (h *StreakHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Profile(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleSetTimezone handles PUT /api/me/timezone.
func (h *StreakHandler) HandleSetTimezone(w http.ResponseWriter, r *http.Request) {
	var req timezoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.svc.SetTimezone(r.Context(), userFrom(r), req.Timezone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// fail logs unexpected errors before writing them. Client errors are not
// logged; they are already visible in the request log's status column.
func (h *StreakHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, err)
}

// userFrom returns the authenticated user id, or "" for an anonymous
// request. The service rejects "" with apperror.ErrUnauthenticated.
func userFrom(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func createdStatus(res *service.RecordResult) int {
	if res.Created {
		return http.StatusCreated
	}
	return http.StatusOK
}
