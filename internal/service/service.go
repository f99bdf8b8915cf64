package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iurnickita/hrbonus/internal/ledger"
	"github.com/iurnickita/hrbonus/internal/metrics"
	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/service/config"
	"github.com/iurnickita/hrbonus/internal/service/paymentclient"
	"github.com/iurnickita/hrbonus/internal/store"
)

type Service interface {
	Tiers() []model.Tier
	ListBadges(ctx context.Context, caller string, employee string, period string, all bool) ([]model.Badge, error)
	AwardBadge(ctx context.Context, caller string, badge model.Badge) (model.Badge, error)
	CreateBonusSession(ctx context.Context, caller string, employee string, badges []string) (Checkout, error)
	ListSessions(ctx context.Context, caller string, employee string) ([]model.BonusSession, error)
	ReconcileSession(ctx context.Context, sessionID string) (model.Outcome, error)
	Outcome(ctx context.Context, caller string, sessionID string) (model.Outcome, error)
	Cancel(ctx context.Context, caller string, sessionID string) (model.Outcome, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

var (
	ErrInsufficientData     = errors.New("insufficient data")
	ErrEmployeeNotFound     = errors.New("employee not found")
	ErrForbidden            = errors.New("forbidden")
	ErrBadgeNotFound        = ledger.ErrBadgeNotFound
	ErrBadgeAlreadyApproved = ledger.ErrBadgeAlreadyApproved
	ErrInvalidBadge         = ledger.ErrInvalidBadge
	ErrSessionNotFound      = errors.New("bonus session not found")
	ErrPaymentInProgress    = errors.New("payment in progress")
	ErrReconciliation       = errors.New("reconciliation failed")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrInvalidEvent         = errors.New("invalid webhook event")
)

// Пути страниц результата, на которые провайдер возвращает пользователя
const (
	SuccessPath = "/bonus/success"
	FailurePath = "/bonus/failed"
)

// Результат создания сессии оплаты
type Checkout struct {
	Session     string `json:"session_id"`
	URL         string `json:"checkout_url"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
}

type service struct {
	cfg     config.Config
	store   store.Store
	ledger  ledger.Ledger
	payment paymentclient.PaymentClient
	metrics *metrics.Metrics
	zaplog  *zap.Logger
	now     func() time.Time
}

func NewService(cfg config.Config, store store.Store, metrics *metrics.Metrics, zaplog *zap.Logger) (Service, error) {
	payment := paymentclient.NewPaymentClient(cfg.PaymentAddr, cfg.PaymentKey, cfg.RetryMaxElapsed)
	return newService(cfg, store, payment, metrics, zaplog)
}

func newService(cfg config.Config, store store.Store, payment paymentclient.PaymentClient, metrics *metrics.Metrics, zaplog *zap.Logger) (*service, error) {
	if cfg.Currency == "" {
		return nil, errors.New("payment currency is not set")
	}
	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("public base url: %w", err)
	}
	if zaplog == nil {
		zaplog = zap.NewNop()
	}

	service := service{
		cfg:     cfg,
		store:   store,
		ledger:  ledger.NewLedger(store),
		payment: payment,
		metrics: metrics,
		zaplog:  zaplog,
		now:     func() time.Time { return time.Now().UTC() },
	}

	return &service, nil
}

func (service *service) Tiers() []model.Tier {
	return model.Tiers()
}

// authorize проверяет доступ вызывающего к данным сотрудника.
// Роль всегда читается из хранилища, а не из токена.
func (service *service) authorize(ctx context.Context, callerCode string, employeeCode string, allowSelf bool) (model.User, model.User, error) {
	if callerCode == "" {
		return model.User{}, model.User{}, ErrForbidden
	}
	if employeeCode == "" {
		return model.User{}, model.User{}, ErrInsufficientData
	}

	caller, err := service.store.UserGet(ctx, callerCode)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.User{}, model.User{}, ErrForbidden
		}
		return model.User{}, model.User{}, err
	}
	employee, err := service.store.UserGet(ctx, employeeCode)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.User{}, model.User{}, ErrEmployeeNotFound
		}
		return model.User{}, model.User{}, err
	}

	if caller.Code == employee.Code {
		if allowSelf {
			return caller, employee, nil
		}
		// награждать и выплачивать себе нельзя
		return model.User{}, model.User{}, ErrForbidden
	}
	switch caller.Data.Role {
	case model.RoleManager, model.RoleAdmin:
		if caller.Data.Organization == employee.Data.Organization {
			return caller, employee, nil
		}
	}
	return model.User{}, model.User{}, ErrForbidden
}

func (service *service) ListBadges(ctx context.Context, caller string, employee string, period string, all bool) ([]model.Badge, error) {
	if _, _, err := service.authorize(ctx, caller, employee, true); err != nil {
		return nil, err
	}
	if all {
		return service.ledger.List(ctx, employee, period)
	}
	return service.ledger.ListUnapproved(ctx, employee, period)
}

func (service *service) AwardBadge(ctx context.Context, caller string, badge model.Badge) (model.Badge, error) {
	if _, _, err := service.authorize(ctx, caller, badge.Data.Employee, false); err != nil {
		return model.Badge{}, err
	}
	return service.ledger.Award(ctx, badge)
}

func (service *service) ListSessions(ctx context.Context, caller string, employee string) ([]model.BonusSession, error) {
	if _, _, err := service.authorize(ctx, caller, employee, true); err != nil {
		return nil, err
	}
	return service.store.BonusSessionGetByEmployee(ctx, employee)
}

// CreateBonusSession создает сессию оплаты за выбранные бейджи.
// Бейджи не меняются: подтверждение делает только сверка.
func (service *service) CreateBonusSession(ctx context.Context, callerCode string, employeeCode string, badgeIDs []string) (Checkout, error) {
	if employeeCode == "" || len(badgeIDs) == 0 {
		return Checkout{}, ErrInsufficientData
	}
	seen := make(map[string]struct{}, len(badgeIDs))
	for _, id := range badgeIDs {
		if _, dup := seen[id]; dup {
			return Checkout{}, fmt.Errorf("%w: duplicate badge %s", ErrInsufficientData, id)
		}
		seen[id] = struct{}{}
	}

	caller, employee, err := service.authorize(ctx, callerCode, employeeCode, false)
	if err != nil {
		return Checkout{}, err
	}

	selected, err := service.ledger.Select(ctx, employee.Code, badgeIDs)
	if err != nil {
		return Checkout{}, err
	}
	// Сумма только по уровням бейджей
	amount := ledger.Total(selected)

	if err = service.supersedePending(ctx, employee.Code, seen); err != nil {
		return Checkout{}, err
	}

	remote, err := service.payment.CreateSession(ctx, paymentclient.CheckoutParams{
		Metadata: paymentclient.Metadata{
			Employee:     employee.Code,
			EmployeeName: employee.Data.Name,
			Manager:      caller.Code,
			Badges:       badgeIDs,
			AmountTotal:  amount,
		},
		Currency:       service.cfg.Currency,
		Description:    fmt.Sprintf("Badge bonus: %s, %d badge(s)", employee.Data.Name, len(selected)),
		SuccessURL:     service.returnURL(SuccessPath),
		CancelURL:      service.returnURL(FailurePath),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return Checkout{}, providerError(err)
	}
	if remote.ID == "" || remote.URL == "" {
		return Checkout{}, fmt.Errorf("%w: empty checkout session", ErrProviderUnavailable)
	}

	session := model.BonusSession{
		ID: remote.ID,
		Data: model.BonusSessionData{
			Employee:     employee.Code,
			EmployeeName: employee.Data.Name,
			Manager:      caller.Code,
			Badges:       badgeIDs,
			AmountTotal:  amount,
			Currency:     service.cfg.Currency,
			Status:       model.BonusSessionStatusPending,
			CreatedAt:    service.now(),
		},
	}
	if err = service.store.BonusSessionPost(ctx, session); err != nil {
		// без локальной записи сессию нельзя сверить, закрываем ее у провайдера
		if _, expErr := service.payment.ExpireSession(context.WithoutCancel(ctx), remote.ID); expErr != nil {
			service.zaplog.Error("expire orphaned checkout session",
				zap.String("session", remote.ID),
				zap.Error(expErr))
		}
		return Checkout{}, err
	}

	service.metrics.SessionCreated()
	service.zaplog.Info("bonus session created",
		zap.String("session", session.ID),
		zap.String("employee", employee.Code),
		zap.String("manager", caller.Code),
		zap.Int("badges", len(badgeIDs)),
		zap.Int64("amount", amount))

	return Checkout{
		Session:     session.ID,
		URL:         remote.URL,
		AmountTotal: amount,
		Currency:    session.Data.Currency,
	}, nil
}

func (service *service) returnURL(path string) string {
	// {CHECKOUT_SESSION_ID} подставляет провайдер, экранировать нельзя
	return strings.TrimRight(service.cfg.PublicBaseURL, "/") + path + "?session_id={CHECKOUT_SESSION_ID}"
}

// supersedePending закрывает незавершенные сессии, в которых есть выбранные бейджи
func (service *service) supersedePending(ctx context.Context, employee string, selected map[string]struct{}) error {
	sessions, err := service.store.BonusSessionGetByEmployee(ctx, employee)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if session.Data.Status != model.BonusSessionStatusPending || !overlaps(session.Data.Badges, selected) {
			continue
		}

		_, err := service.payment.ExpireSession(ctx, session.ID)
		switch {
		case err == nil, errors.Is(err, paymentclient.ErrSessionNotFound):
		case errors.Is(err, paymentclient.ErrProviderRejected):
			// Сессия уже не открыта: выясняем, чем она закончилась
			outcome, err := service.ReconcileSession(ctx, session.ID)
			if err != nil {
				return err
			}
			switch outcome.Status {
			case model.OutcomeStatusPaid:
				return fmt.Errorf("%w: paid by session %s", ErrBadgeAlreadyApproved, session.ID)
			case model.OutcomeStatusPending:
				return fmt.Errorf("%w: session %s", ErrPaymentInProgress, session.ID)
			}
			continue
		default:
			return providerError(err)
		}

		session.Data.Status = model.BonusSessionStatusSuperseded
		session.Data.FailureReason = "superseded by a new bonus session"
		session.Data.ReconciledAt = service.now()
		if err := service.store.BonusSessionPut(ctx, session); err != nil {
			return err
		}
		service.zaplog.Info("bonus session superseded", zap.String("session", session.ID))
	}
	return nil
}

func overlaps(badges []string, selected map[string]struct{}) bool {
	for _, id := range badges {
		if _, ok := selected[id]; ok {
			return true
		}
	}
	return false
}

// Что известно о сессии помимо ответа провайдера
type hint int

const (
	hintNone hint = iota
	// провайдер сообщил об отказе асинхронной оплаты
	hintPaymentFailed
	// менеджер отменил оплату и вернулся по cancel_url
	hintCancelled
)

// Outcome - сверка с проверкой доступа, для страницы успеха и API
func (service *service) Outcome(ctx context.Context, caller string, sessionID string) (model.Outcome, error) {
	if err := service.authorizeSession(ctx, caller, sessionID); err != nil {
		return model.Outcome{}, err
	}
	return service.reconcile(ctx, sessionID, hintNone)
}

// Cancel - сверка для страницы отказа.
// Незавершенная сессия закрывается у провайдера и помечается FAILED.
func (service *service) Cancel(ctx context.Context, caller string, sessionID string) (model.Outcome, error) {
	if err := service.authorizeSession(ctx, caller, sessionID); err != nil {
		return model.Outcome{}, err
	}
	return service.reconcile(ctx, sessionID, hintCancelled)
}

func (service *service) authorizeSession(ctx context.Context, caller string, sessionID string) error {
	if sessionID == "" {
		return ErrInsufficientData
	}
	local, err := service.store.BonusSessionGet(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return ErrSessionNotFound
		}
		return err
	}
	_, _, err = service.authorize(ctx, caller, local.Data.Employee, true)
	return err
}

func (service *service) ReconcileSession(ctx context.Context, sessionID string) (model.Outcome, error) {
	return service.reconcile(ctx, sessionID, hintNone)
}

// reconcile сверяет локальную сессию с провайдером и применяет результат к бейджам
func (service *service) reconcile(ctx context.Context, sessionID string, h hint) (model.Outcome, error) {
	if sessionID == "" {
		return model.Outcome{}, ErrSessionNotFound
	}

	remote, err := service.payment.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, paymentclient.ErrSessionNotFound) {
			return model.Outcome{}, ErrSessionNotFound
		}
		// отказ провайдера (ключ, запрос) - не повод считать сессию чужой
		return model.Outcome{}, fmt.Errorf("get payment session %s: %w", sessionID, providerError(err))
	}

	local, err := service.store.BonusSessionGet(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			service.zaplog.Warn("provider session unknown locally", zap.String("session", sessionID))
			return model.Outcome{}, ErrSessionNotFound
		}
		return model.Outcome{}, err
	}

	meta, err := paymentclient.DecodeMetadata(remote.Metadata)
	if err == nil {
		err = matchLocal(local, meta, remote)
	}
	if err != nil {
		service.metrics.Reconciled("error")
		service.zaplog.Error("session does not reconcile",
			zap.String("session", sessionID),
			zap.Error(err))
		return model.Outcome{}, fmt.Errorf("%w: %v", ErrReconciliation, err)
	}

	status := remoteOutcome(remote, h == hintPaymentFailed)
	if status == model.OutcomeStatusPending && h == hintCancelled &&
		remote.Status == paymentclient.SessionStatusOpen && local.Data.Status == model.BonusSessionStatusPending {
		return service.cancel(ctx, local)
	}

	switch status {
	case model.OutcomeStatusPaid:
		session, err := service.store.BonusSessionApprove(ctx, sessionID, remote.PaymentIntent, service.now())
		if errors.Is(err, store.ErrDuplicateRequest) {
			service.metrics.Reconciled("duplicate")
			return outcomeOf(session, model.OutcomeStatusPaid), nil
		}
		if err != nil {
			return model.Outcome{}, err
		}
		service.metrics.Reconciled(model.OutcomeStatusPaid)
		service.metrics.BadgesApproved(session.Data.ApprovedCount)
		if session.Data.ApprovedCount != len(session.Data.Badges) {
			service.zaplog.Warn("some badges were approved before",
				zap.String("session", sessionID),
				zap.Int("approved", session.Data.ApprovedCount),
				zap.Int("badges", len(session.Data.Badges)))
		}
		service.zaplog.Info("bonus session paid",
			zap.String("session", sessionID),
			zap.String("payment", remote.PaymentIntent))
		return outcomeOf(session, model.OutcomeStatusPaid), nil

	case model.OutcomeStatusFailed:
		if local.Data.Status == model.BonusSessionStatusPaid {
			return outcomeOf(local, model.OutcomeStatusPaid), nil
		}
		// SUPERSEDED остается SUPERSEDED, причина уже записана
		if local.Data.Status == model.BonusSessionStatusPending {
			return service.fail(ctx, local, failureReason(remote))
		}
		service.metrics.Reconciled(model.OutcomeStatusFailed)
		return outcomeOf(local, model.OutcomeStatusFailed), nil

	default:
		service.metrics.Reconciled(model.OutcomeStatusPending)
		return outcomeOf(local, model.OutcomeStatusPending), nil
	}
}

// cancel закрывает открытую сессию, от оплаты которой отказались
func (service *service) cancel(ctx context.Context, local model.BonusSession) (model.Outcome, error) {
	_, err := service.payment.ExpireSession(ctx, local.ID)
	switch {
	case err == nil, errors.Is(err, paymentclient.ErrSessionNotFound):
	case errors.Is(err, paymentclient.ErrProviderRejected):
		// сессию успели оплатить или закрыть
		return service.reconcile(ctx, local.ID, hintNone)
	default:
		return model.Outcome{}, providerError(err)
	}
	return service.fail(ctx, local, "checkout cancelled")
}

func (service *service) fail(ctx context.Context, local model.BonusSession, reason string) (model.Outcome, error) {
	local.Data.Status = model.BonusSessionStatusFailed
	local.Data.FailureReason = reason
	local.Data.ReconciledAt = service.now()
	if err := service.store.BonusSessionPut(ctx, local); err != nil {
		return model.Outcome{}, err
	}
	service.metrics.Reconciled(model.OutcomeStatusFailed)
	service.zaplog.Info("bonus session failed",
		zap.String("session", local.ID),
		zap.String("reason", reason))
	return outcomeOf(local, model.OutcomeStatusFailed), nil
}

// remoteOutcome переводит состояние сессии провайдера в итог выплаты
func remoteOutcome(remote paymentclient.Session, paymentFailed bool) string {
	switch remote.Status {
	case paymentclient.SessionStatusComplete:
		switch remote.PaymentStatus {
		case paymentclient.PaymentStatusPaid, paymentclient.PaymentStatusNoPaymentRequired:
			return model.OutcomeStatusPaid
		}
		if paymentFailed {
			return model.OutcomeStatusFailed
		}
	case paymentclient.SessionStatusExpired:
		return model.OutcomeStatusFailed
	}
	return model.OutcomeStatusPending
}

func failureReason(remote paymentclient.Session) string {
	if remote.Status == paymentclient.SessionStatusExpired {
		return "checkout session expired"
	}
	return "payment failed"
}

// matchLocal сравнивает метаданные провайдера с локальной записью
func matchLocal(local model.BonusSession, meta paymentclient.Metadata, remote paymentclient.Session) error {
	if meta.Employee != local.Data.Employee {
		return fmt.Errorf("employee %q, expected %q", meta.Employee, local.Data.Employee)
	}
	if len(meta.Badges) != len(local.Data.Badges) {
		return fmt.Errorf("%d badges, expected %d", len(meta.Badges), len(local.Data.Badges))
	}
	want := make(map[string]struct{}, len(local.Data.Badges))
	for _, id := range local.Data.Badges {
		want[id] = struct{}{}
	}
	for _, id := range meta.Badges {
		if _, ok := want[id]; !ok {
			return fmt.Errorf("badge %s is not in the session", id)
		}
	}
	if meta.AmountTotal != local.Data.AmountTotal {
		return fmt.Errorf("metadata amount %d, expected %d", meta.AmountTotal, local.Data.AmountTotal)
	}
	if remote.AmountTotal != local.Data.AmountTotal {
		return fmt.Errorf("charged amount %d, expected %d", remote.AmountTotal, local.Data.AmountTotal)
	}
	return nil
}

func outcomeOf(session model.BonusSession, status string) model.Outcome {
	timestamp := session.Data.ReconciledAt
	if timestamp.IsZero() {
		timestamp = session.Data.CreatedAt
	}
	outcome := model.Outcome{
		Session:       session.ID,
		EmployeeName:  session.Data.EmployeeName,
		Amount:        session.Data.AmountTotal,
		Currency:      session.Data.Currency,
		BadgeCount:    len(session.Data.Badges),
		TransactionID: session.Data.PaymentID,
		Timestamp:     timestamp,
		Status:        status,
	}
	if status == model.OutcomeStatusFailed {
		outcome.Reason = session.Data.FailureReason
	}
	return outcome
}

// HandleWebhook принимает событие провайдера.
// Ошибка означает, что провайдер должен повторить доставку.
func (service *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := paymentclient.VerifySignature(payload, signature, service.cfg.WebhookSecret, service.now()); err != nil {
		service.metrics.WebhookEvent("rejected")
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event, err := paymentclient.ParseEvent(payload)
	if errors.Is(err, paymentclient.ErrEventIgnored) {
		service.metrics.WebhookEvent("ignored")
		return nil
	}
	if err != nil {
		service.metrics.WebhookEvent("invalid")
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	// Повторная доставка
	_, err = service.store.PaymentEventGet(ctx, event.ID)
	if err == nil {
		service.metrics.WebhookEvent("duplicate")
		return nil
	}
	if !errors.Is(err, store.ErrNoRows) {
		return err
	}

	result := "processed"
	h := hintNone
	if event.Type == paymentclient.EventSessionAsyncPaymentFailed {
		h = hintPaymentFailed
	}
	_, err = service.reconcile(ctx, event.Session, h)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound):
		// чужая сессия
		result = "unknown_session"
	case errors.Is(err, ErrReconciliation):
		// повтор не поможет, ошибка уже в журнале
		result = "reconciliation_error"
	default:
		service.metrics.WebhookEvent("error")
		return err
	}

	err = service.store.PaymentEventPost(ctx, model.PaymentEvent{
		ID: event.ID,
		Data: model.PaymentEventData{
			Type:       event.Type,
			Session:    event.Session,
			ReceivedAt: service.now(),
		},
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateRequest) {
		return err
	}

	service.metrics.WebhookEvent(result)
	service.zaplog.Debug("webhook event",
		zap.String("event", event.ID),
		zap.String("type", event.Type),
		zap.String("session", event.Session),
		zap.String("result", result))
	return nil
}

func providerError(err error) error {
	if errors.Is(err, paymentclient.ErrProviderUnavailable) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return err
}
