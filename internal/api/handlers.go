// Package api exposes HTTP handlers for the workout stats service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/workoutstats/internal/auth"
	"example.com/workoutstats/internal/domain"
	"example.com/workoutstats/internal/persistence"
	"example.com/workoutstats/internal/session"
	"example.com/workoutstats/internal/stats"
)

const (
	maxBodyBytes  = 1 << 20
	maxStatsDays  = 365
	sourceAPI     = "api"
	headerIdemKey = "Idempotency-Key"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service, logger: slog.Default().With("component", "api")}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/workouts/complete", h.completeWorkout)
	mux.HandleFunc("GET /v1/workouts/history", h.history)
	mux.HandleFunc("GET /v1/stats", h.myStats)
	mux.HandleFunc("GET /v1/users/{id}/stats", h.userStats)
	mux.HandleFunc("POST /v1/sessions/active", h.startSession)
	mux.HandleFunc("GET /v1/sessions/active", h.getSession)
	mux.HandleFunc("DELETE /v1/sessions/active", h.abandonSession)
	mux.HandleFunc("POST /v1/sessions/active/sets", h.completeSet)
	mux.HandleFunc("POST /v1/sessions/active/finish", h.finishSession)
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requireScope returns the caller's claims when any of the scopes is granted.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func (h *Handler) completeWorkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	var req CompleteWorkoutRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return
	}

	result, err := h.service.CompleteWorkout(r.Context(), domain.CompleteWorkoutInput{
		TenantID:        claims.TenantID,
		UserID:          claims.Subject,
		WorkoutID:       req.WorkoutID,
		WorkoutName:     req.WorkoutName,
		DurationMinutes: req.DurationMin,
		Calories:        req.Calories,
		Exercises:       req.Exercises,
		Source:          sourceAPI,
		IdempotencyKey:  r.Header.Get(headerIdemKey),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeCompletion(w, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsRead, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	limit := domain.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	query := domain.HistoryQuery{Cursor: cursor, Limit: limit}
	for param, dst := range map[string]*stats.Date{"from": &query.From, "to": &query.To} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		date, err := stats.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", param+" must be a YYYY-MM-DD date")
			return
		}
		*dst = date
	}

	completions, next, err := h.service.ListCompletions(r.Context(), claims.TenantID, claims.Subject, query)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]CompletionView, 0, len(completions))
	for _, c := range completions {
		items = append(items, toCompletionView(c))
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) myStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsRead, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}
	h.writeStats(w, r, claims.TenantID, claims.Subject)
}

func (h *Handler) userStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeStatsAdmin)
	if !ok {
		return
	}
	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing user id")
		return
	}
	h.writeStats(w, r, claims.TenantID, userID)
}

func (h *Handler) writeStats(w http.ResponseWriter, r *http.Request, tenantID, userID string) {
	days := domain.DefaultStatsDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "validation_failed", "days must be a positive integer")
			return
		}
		days = min(parsed, maxStatsDays)
	}

	view, err := h.service.GetStats(r.Context(), tenantID, userID, days)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		UserID:            view.UserID,
		Days:              view.Days,
		GeneratedAt:       view.GeneratedAt,
		Summary:           view.Summary,
		FavoriteExercises: view.FavoriteExercises,
	})
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	var req StartSessionRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return
	}

	plan := make([]session.PlannedExercise, 0, len(req.Exercises))
	for _, ex := range req.Exercises {
		plan = append(plan, session.PlannedExercise{Name: ex.Name, Sets: ex.Sets})
	}

	workout, err := h.service.StartSession(r.Context(), domain.StartSessionInput{
		TenantID:    claims.TenantID,
		UserID:      claims.Subject,
		WorkoutID:   req.WorkoutID,
		WorkoutName: req.WorkoutName,
		Exercises:   plan,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(*workout))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsRead, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}
	workout, err := h.service.GetSession(r.Context(), claims.TenantID, claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(*workout))
}

func (h *Handler) completeSet(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	var req CompleteSetRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return
	}

	workout, err := h.service.CompleteSet(r.Context(), claims.TenantID, claims.Subject, req.ExerciseIndex, req.SetNumber, req.Reps)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(*workout))
}

func (h *Handler) finishSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}

	var req FinishSessionRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return
	}

	result, err := h.service.FinishSession(r.Context(), domain.FinishSessionInput{
		TenantID:       claims.TenantID,
		UserID:         claims.Subject,
		Calories:       req.Calories,
		IdempotencyKey: r.Header.Get(headerIdemKey),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeCompletion(w, result)
}

func (h *Handler) abandonSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeWorkoutsWrite)
	if !ok {
		return
	}
	if err := h.service.AbandonSession(r.Context(), claims.TenantID, claims.Subject); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeCompletion(w http.ResponseWriter, result *domain.CompletionResult) {
	resp := CompleteWorkoutResponse{
		Completion: toCompletionView(result.Completion),
		Stats:      result.Summary,
		Replay:     result.Replay,
	}
	status := http.StatusCreated
	if result.Replay {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps service errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, session.ErrUnknownExercise),
		errors.Is(err, session.ErrInvalidSet):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNoActiveSession):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrSessionExists), errors.Is(err, domain.ErrSessionBusy):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "conflict", "stats ledger busy, retry the request")
	case errors.Is(err, domain.ErrSessionsDisabled):
		writeError(w, http.StatusNotImplemented, "not_implemented", err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// decodeBody reads a JSON body. With allowEmpty an absent body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
	return false
}

// CompletionView exposes one recorded workout.
type CompletionView struct {
	CompletionID string     `json:"completion_id"`
	WorkoutID    string     `json:"workout_id"`
	WorkoutName  string     `json:"workout_name"`
	DurationMin  int        `json:"duration_min"`
	Calories     int        `json:"calories"`
	Exercises    []string   `json:"exercises"`
	CompletedAt  time.Time  `json:"completed_at"`
	CompletedOn  stats.Date `json:"completed_on"`
	Source       string     `json:"source,omitempty"`
}

// CompleteWorkoutResponse describes the response body for a recorded workout.
type CompleteWorkoutResponse struct {
	Completion CompletionView `json:"completion"`
	Stats      stats.Summary  `json:"stats"`
	Replay     bool           `json:"idempotent_replay"`
}

// HistoryResponse packages a page of completions.
type HistoryResponse struct {
	Items      []CompletionView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// StatsResponse is the dashboard payload.
type StatsResponse struct {
	UserID      string    `json:"user_id"`
	Days        int       `json:"days"`
	GeneratedAt time.Time `json:"generated_at"`
	stats.Summary
	FavoriteExercises []stats.ExerciseCount `json:"favorite_exercises"`
}

// SessionResponse shows an in-progress workout with its progress figures.
type SessionResponse struct {
	Workout   session.ActiveWorkout `json:"workout"`
	Progress  session.Progress      `json:"progress"`
	Exercises []session.Progress    `json:"exercise_progress"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toCompletionView(c domain.Completion) CompletionView {
	return CompletionView{
		CompletionID: c.ID,
		WorkoutID:    c.WorkoutID,
		WorkoutName:  c.WorkoutName,
		DurationMin:  c.DurationMinutes,
		Calories:     c.Calories,
		Exercises:    c.Exercises,
		CompletedAt:  c.CompletedAt,
		CompletedOn:  c.CompletedOn,
		Source:       c.Source,
	}
}

func toSessionResponse(w session.ActiveWorkout) SessionResponse {
	resp := SessionResponse{
		Workout:   w,
		Progress:  session.WorkoutProgress(w),
		Exercises: make([]session.Progress, 0, len(w.Exercises)),
	}
	for i := range w.Exercises {
		resp.Exercises = append(resp.Exercises, session.ExerciseProgress(w, i))
	}
	return resp
}
