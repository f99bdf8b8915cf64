// Package presenter отдает страницы результата оплаты, на которые
// провайдер возвращает менеджера после hosted checkout.
package presenter

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/hrbonus/internal/auth"
	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/service"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Задержка перед возвратом на дашборд
const (
	SuccessRefresh = 10
	FailureRefresh = 15
)

type Presenter interface {
	Success(w http.ResponseWriter, r *http.Request)
	Failure(w http.ResponseWriter, r *http.Request)
}

// OutcomeSource - сверка сессии с проверкой доступа.
// Cancel дополнительно закрывает сессию, от оплаты которой отказались.
type OutcomeSource interface {
	Outcome(ctx context.Context, caller string, sessionID string) (model.Outcome, error)
	Cancel(ctx context.Context, caller string, sessionID string) (model.Outcome, error)
}

type resolveFunc func(ctx context.Context, caller string, sessionID string) (model.Outcome, error)

type presenter struct {
	outcomes     OutcomeSource
	dashboardURL string
	zaplog       *zap.Logger
}

func NewPresenter(outcomes OutcomeSource, dashboardURL string, zaplog *zap.Logger) Presenter {
	return &presenter{
		outcomes:     outcomes,
		dashboardURL: dashboardURL,
		zaplog:       zaplog,
	}
}

type page struct {
	Title        string
	Status       string
	Message      string
	Outcome      *model.Outcome
	Amount       string
	Timestamp    string
	Refresh      int
	DashboardURL string
}

func (p *presenter) Success(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, SuccessRefresh, p.outcomes.Outcome)
}

func (p *presenter) Failure(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, FailureRefresh, p.outcomes.Cancel)
}

func (p *presenter) render(w http.ResponseWriter, r *http.Request, refresh int, resolve resolveFunc) {
	data := page{Refresh: refresh, DashboardURL: p.dashboardURL}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		data.Title = "No payment session"
		data.Status = "error"
		data.Message = "The page was opened without a payment session. Nothing was charged or approved."
		p.write(w, http.StatusBadRequest, data)
		return
	}

	outcome, err := resolve(r.Context(), r.Header.Get(auth.HeaderUserCodeKey), sessionID)
	if err != nil {
		code := http.StatusInternalServerError
		data.Title = "Payment could not be confirmed"
		data.Status = model.OutcomeStatusFailed
		data.Message = "The payment outcome could not be confirmed. No badges were approved."
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			code = http.StatusNotFound
			data.Message = "Unknown payment session. No badges were approved."
		case errors.Is(err, service.ErrForbidden):
			code = http.StatusForbidden
			data.Message = "You have no access to this payment session."
		case errors.Is(err, service.ErrProviderUnavailable):
			code = http.StatusServiceUnavailable
			data.Message = "The payment provider is unavailable. The result will be applied once the provider confirms it."
		default:
			p.zaplog.Error("outcome page", zap.String("session", sessionID), zap.Error(err))
		}
		p.write(w, code, data)
		return
	}

	data.Outcome = &outcome
	data.Status = outcome.Status
	data.Amount = formatAmount(outcome.Amount, outcome.Currency)
	data.Timestamp = outcome.Timestamp.UTC().Format(time.RFC1123)
	switch outcome.Status {
	case model.OutcomeStatusPaid:
		data.Title = "Bonus paid"
	case model.OutcomeStatusPending:
		data.Title = "Payment is being processed"
		data.Message = "Badges will be approved as soon as the payment provider confirms the payment."
	default:
		data.Title = "Payment failed"
		data.Message = "The bonus was not paid. The badges stay available for a new payment."
	}
	p.write(w, http.StatusOK, data)
}

func (p *presenter) write(w http.ResponseWriter, code int, data page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := pages.ExecuteTemplate(w, "outcome.html", data); err != nil {
		p.zaplog.Error("render outcome page", zap.Error(err))
	}
}

// formatAmount переводит центы в строку вида "100.00 USD"
func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}
