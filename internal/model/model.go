package model

import (
	"fmt"
	"time"
)

// Пользователи

type User struct {
	Code string
	Data UserData
}
type UserData struct {
	Login        string
	Name         string
	Role         string
	Organization string
	Manager      string
}

const (
	RoleEmployee = "employee"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// ValidRole проверяет, что роль известна
func ValidRole(role string) bool {
	switch role {
	case RoleEmployee, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Бейджи

type Badge struct {
	ID   string
	Data BadgeData
}
type BadgeData struct {
	Employee    string
	Period      string
	Type        string
	Title       string
	Description string
	DateEarned  time.Time
	Approved    bool
	ApprovedAt  time.Time
	Session     string
}

const (
	BadgeTypeCourse  = "course"
	BadgeTypeProject = "project"
)

// ValidBadgeType проверяет категорию цели, за которую выдан бейдж
func ValidBadgeType(t string) bool {
	return t == BadgeTypeCourse || t == BadgeTypeProject
}

// CompositeKey - составной ключ период/тип/название/дата.
// Только для отображения: выбор и подтверждение идут по ID.
func (b Badge) CompositeKey() string {
	return fmt.Sprintf("%s-%s-%s-%s", b.Data.Period, b.Data.Type, b.Data.Title,
		b.Data.DateEarned.UTC().Format(time.RFC3339Nano))
}

// Бонусные сессии оплаты

type BonusSession struct {
	ID   string
	Data BonusSessionData
}
type BonusSessionData struct {
	Employee      string
	EmployeeName  string
	Manager       string
	Badges        []string
	AmountTotal   int64
	Currency      string
	Status        string
	PaymentID     string
	ApprovedCount int
	FailureReason string
	CreatedAt     time.Time
	ReconciledAt  time.Time
}

const (
	BonusSessionStatusPending    = "PENDING"
	BonusSessionStatusPaid       = "PAID"
	BonusSessionStatusFailed     = "FAILED"
	BonusSessionStatusSuperseded = "SUPERSEDED"
)

// Входящие события платежного провайдера

type PaymentEvent struct {
	ID   string
	Data PaymentEventData
}
type PaymentEventData struct {
	Type       string
	Session    string
	ReceivedAt time.Time
}

// Результат сверки

type Outcome struct {
	Session       string
	EmployeeName  string
	Amount        int64
	Currency      string
	BadgeCount    int
	TransactionID string
	Timestamp     time.Time
	Status        string
	Reason        string
}

const (
	OutcomeStatusPaid    = "paid"
	OutcomeStatusPending = "pending"
	OutcomeStatusFailed  = "failed"
)
