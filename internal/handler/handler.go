package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/hrbonus/internal/auth"
	"github.com/iurnickita/hrbonus/internal/gzip"
	"github.com/iurnickita/hrbonus/internal/handler/config"
	"github.com/iurnickita/hrbonus/internal/logger"
	"github.com/iurnickita/hrbonus/internal/metrics"
	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/presenter"
	"github.com/iurnickita/hrbonus/internal/service"
	"github.com/iurnickita/hrbonus/internal/service/paymentclient"
	"github.com/iurnickita/hrbonus/internal/validation"
)

// Максимальный размер события провайдера
const maxWebhookBody = 1 << 20

func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, metrics *metrics.Metrics, zaplog *zap.Logger) error {
	h := newHandler(cfg, auth, service, metrics, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	zaplog.Info("listening", zap.String("address", cfg.ServerAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handler struct {
	auth      auth.Auth
	service   service.Service
	presenter presenter.Presenter
	metrics   *metrics.Metrics
	zaplog    *zap.Logger
}

func newHandler(cfg config.Config, auth auth.Auth, service service.Service, metrics *metrics.Metrics, zaplog *zap.Logger) *handler {
	return &handler{
		auth:      auth,
		service:   service,
		presenter: presenter.NewPresenter(service, cfg.DashboardURL, zaplog),
		metrics:   metrics,
		zaplog:    zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/register", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Register, h.zaplog)))
	mux.HandleFunc("POST /api/user/login", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Login, h.zaplog)))
	mux.HandleFunc("GET /api/badges/tiers", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetTiers), h.zaplog)))
	mux.HandleFunc("GET /api/employees/{id}/badges", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetBadges), h.zaplog)))
	mux.HandleFunc("POST /api/employees/{id}/badges", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostBadge), h.zaplog)))
	mux.HandleFunc("GET /api/employees/{id}/bonus/sessions", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetSessions), h.zaplog)))
	mux.HandleFunc("POST /api/bonus/sessions", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostSession), h.zaplog)))
	mux.HandleFunc("GET /api/bonus/sessions/{id}", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetSession), h.zaplog)))
	mux.HandleFunc("POST /api/payments/webhook", logger.RequestLogMdlw(h.PostWebhook, h.zaplog))
	mux.HandleFunc("GET "+service.SuccessPath, gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.presenter.Success), h.zaplog)))
	mux.HandleFunc("GET "+service.FailurePath, gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.presenter.Failure), h.zaplog)))
	mux.Handle("GET /metrics", h.metrics.Handler())

	return mux
}

// errorStatus переводит ошибки сервиса в HTTP-коды
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInsufficientData),
		errors.Is(err, service.ErrInvalidBadge),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, validation.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmployeeNotFound),
		errors.Is(err, service.ErrBadgeNotFound),
		errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBadgeAlreadyApproved),
		errors.Is(err, service.ErrPaymentInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrReconciliation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		h.zaplog.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(responseJSON)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(validation.ErrInvalidRequest, err)
	}
	return validation.ValidateStruct(v)
}

type TierJSONResponse struct {
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
	Bonus      int64  `json:"bonus"`
}

func (h *handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	var tiersJSON []TierJSONResponse
	for _, tier := range h.service.Tiers() {
		tiersJSON = append(tiersJSON, TierJSONResponse{
			Title:      tier.Title,
			Difficulty: tier.Difficulty,
			Bonus:      tier.Bonus})
	}
	writeJSON(w, http.StatusOK, tiersJSON)
}

type BadgeJSONResponse struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Employee    string     `json:"employee_id"`
	Period      string     `json:"period"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Difficulty  string     `json:"difficulty"`
	Bonus       int64      `json:"bonus"`
	Description string     `json:"description,omitempty"`
	DateEarned  time.Time  `json:"date_earned"`
	Approved    bool       `json:"approved"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	Session     string     `json:"session_id,omitempty"`
}

func badgeJSON(badge model.Badge) BadgeJSONResponse {
	tier, _ := model.TierOf(badge.Data.Title)
	resp := BadgeJSONResponse{
		ID:          badge.ID,
		Key:         badge.CompositeKey(),
		Employee:    badge.Data.Employee,
		Period:      badge.Data.Period,
		Type:        badge.Data.Type,
		Title:       badge.Data.Title,
		Difficulty:  tier.Difficulty,
		Bonus:       tier.Bonus,
		Description: badge.Data.Description,
		DateEarned:  badge.Data.DateEarned,
		Approved:    badge.Data.Approved,
		Session:     badge.Data.Session,
	}
	if !badge.Data.ApprovedAt.IsZero() {
		approvedAt := badge.Data.ApprovedAt
		resp.ApprovedAt = &approvedAt
	}
	return resp
}

func (h *handler) GetBadges(w http.ResponseWriter, r *http.Request) {
	userCode := r.Header.Get(auth.HeaderUserCodeKey)
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	badges, err := h.service.ListBadges(r.Context(), userCode, r.PathValue("id"), r.URL.Query().Get("period"), all)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(badges) == 0 {
		http.Error(w, "", http.StatusNoContent)
		return
	}

	badgesJSON := make([]BadgeJSONResponse, 0, len(badges))
	for _, badge := range badges {
		badgesJSON = append(badgesJSON, badgeJSON(badge))
	}
	writeJSON(w, http.StatusOK, badgesJSON)
}

type PostBadgeJSONRequest struct {
	Period      string    `json:"period" validate:"required"`
	Type        string    `json:"type" validate:"required,oneof=course project"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	DateEarned  time.Time `json:"date_earned"`
}

func (h *handler) PostBadge(w http.ResponseWriter, r *http.Request) {
	var req PostBadgeJSONRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	userCode := r.Header.Get(auth.HeaderUserCodeKey)

	badge, err := h.service.AwardBadge(r.Context(), userCode, model.Badge{Data: model.BadgeData{
		Employee:    r.PathValue("id"),
		Period:      req.Period,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		DateEarned:  req.DateEarned,
	}})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, badgeJSON(badge))
}

type SessionJSONResponse struct {
	ID            string     `json:"session_id"`
	Employee      string     `json:"employee_id"`
	EmployeeName  string     `json:"employee_name"`
	Manager       string     `json:"manager_id"`
	Badges        []string   `json:"badge_ids"`
	AmountTotal   int64      `json:"amount_total"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	PaymentID     string     `json:"payment_id,omitempty"`
	ApprovedCount int        `json:"approved_count"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReconciledAt  *time.Time `json:"reconciled_at,omitempty"`
}

func (h *handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	userCode := r.Header.Get(auth.HeaderUserCodeKey)

	sessions, err := h.service.ListSessions(r.Context(), userCode, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(sessions) == 0 {
		http.Error(w, "", http.StatusNoContent)
		return
	}

	sessionsJSON := make([]SessionJSONResponse, 0, len(sessions))
	for _, session := range sessions {
		resp := SessionJSONResponse{
			ID:            session.ID,
			Employee:      session.Data.Employee,
			EmployeeName:  session.Data.EmployeeName,
			Manager:       session.Data.Manager,
			Badges:        session.Data.Badges,
			AmountTotal:   session.Data.AmountTotal,
			Currency:      session.Data.Currency,
			Status:        session.Data.Status,
			PaymentID:     session.Data.PaymentID,
			ApprovedCount: session.Data.ApprovedCount,
			FailureReason: session.Data.FailureReason,
			CreatedAt:     session.Data.CreatedAt,
		}
		if !session.Data.ReconciledAt.IsZero() {
			reconciledAt := session.Data.ReconciledAt
			resp.ReconciledAt = &reconciledAt
		}
		sessionsJSON = append(sessionsJSON, resp)
	}
	writeJSON(w, http.StatusOK, sessionsJSON)
}

// Сумма в запросе не принимается: она считается по уровням бейджей
type PostSessionJSONRequest struct {
	Employee string   `json:"employee_id" validate:"required"`
	Badges   []string `json:"badge_ids" validate:"required,min=1,dive,uuid"`
}

func (h *handler) PostSession(w http.ResponseWriter, r *http.Request) {
	var req PostSessionJSONRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	userCode := r.Header.Get(auth.HeaderUserCodeKey)

	checkout, err := h.service.CreateBonusSession(r.Context(), userCode, req.Employee, req.Badges)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

type OutcomeJSONResponse struct {
	Session       string    `json:"session_id"`
	EmployeeName  string    `json:"employee_name"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	BadgeCount    int       `json:"badge_count"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
}

func (h *handler) GetSession(w http.ResponseWriter, r *http.Request) {
	userCode := r.Header.Get(auth.HeaderUserCodeKey)

	outcome, err := h.service.Outcome(r.Context(), userCode, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OutcomeJSONResponse(outcome))
}

func (h *handler) PostWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.service.HandleWebhook(r.Context(), payload, r.Header.Get(paymentclient.SignatureHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
