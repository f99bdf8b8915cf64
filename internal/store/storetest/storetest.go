// Package storetest проверяет реализацию store.Store одним набором сценариев.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/store"
)

// Run прогоняет все сценарии. newStore должен возвращать пустое или общее хранилище:
// сценарии создают собственные логины и идентификаторы.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Auth", func(t *testing.T) { testAuth(t, newStore(t)) })
	t.Run("Badge", func(t *testing.T) { testBadge(t, newStore(t)) })
	t.Run("BonusSession", func(t *testing.T) { testBonusSession(t, newStore(t)) })
	t.Run("PaymentEvent", func(t *testing.T) { testPaymentEvent(t, newStore(t)) })
}

func uniqueLogin() string {
	return "u" + uuid.NewString()[:8]
}

func testAuth(t *testing.T, s store.Store) {
	ctx := context.Background()
	login := uniqueLogin()

	user := model.User{Data: model.UserData{
		Login:        login,
		Name:         "Ada Lovelace",
		Role:         model.RoleManager,
		Organization: "acme",
	}}
	code, err := s.AuthRegister(ctx, user, "hash")
	require.NoError(t, err)
	require.NotEmpty(t, code)

	_, err = s.AuthRegister(ctx, user, "hash")
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	loggedIn, hash, err := s.AuthLogin(ctx, login)
	require.NoError(t, err)
	require.Equal(t, "hash", hash)
	require.Equal(t, code, loggedIn.Code)

	got, err := s.UserGet(ctx, code)
	require.NoError(t, err)
	require.Equal(t, user.Data, got.Data)

	_, _, err = s.AuthLogin(ctx, uniqueLogin())
	require.ErrorIs(t, err, store.ErrNoRows)

	_, err = s.UserGet(ctx, "999999999")
	require.ErrorIs(t, err, store.ErrNoRows)
}

func newBadge(employee string, title string, earned time.Time) model.Badge {
	return model.Badge{
		ID: uuid.NewString(),
		Data: model.BadgeData{
			Employee:   employee,
			Period:     "2025-Q1",
			Type:       model.BadgeTypeCourse,
			Title:      title,
			DateEarned: earned,
		},
	}
}

func testBadge(t *testing.T, s store.Store) {
	ctx := context.Background()
	employee := uuid.NewString()[:8]
	earned := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	second := newBadge(employee, model.BadgeTitleBlue, earned.Add(time.Hour))
	first := newBadge(employee, model.BadgeTitleGreen, earned)
	require.NoError(t, s.BadgePost(ctx, second))
	require.NoError(t, s.BadgePost(ctx, first))
	require.ErrorIs(t, s.BadgePost(ctx, first), store.ErrAlreadyExists)

	badges, err := s.BadgeGet(ctx, employee)
	require.NoError(t, err)
	require.Len(t, badges, 2)
	require.Equal(t, first.ID, badges[0].ID)
	require.Equal(t, second.ID, badges[1].ID)
	require.False(t, badges[0].Data.Approved)

	badges, err = s.BadgeGet(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, badges)
}

func testBonusSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	employee := uuid.NewString()[:8]
	earned := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	green := newBadge(employee, model.BadgeTitleGreen, earned)
	blue := newBadge(employee, model.BadgeTitleBlue, earned.Add(time.Minute))
	red := newBadge(employee, model.BadgeTitleRed, earned.Add(2*time.Minute))
	for _, b := range []model.Badge{green, blue, red} {
		require.NoError(t, s.BadgePost(ctx, b))
	}

	session := model.BonusSession{
		ID: "cs_test_" + uuid.NewString(),
		Data: model.BonusSessionData{
			Employee:     employee,
			EmployeeName: "Grace Hopper",
			Manager:      "1",
			Badges:       []string{green.ID, blue.ID},
			AmountTotal:  10000,
			Currency:     "usd",
			Status:       model.BonusSessionStatusPending,
			CreatedAt:    time.Now().UTC().Truncate(time.Second),
		},
	}
	require.NoError(t, s.BonusSessionPost(ctx, session))
	require.ErrorIs(t, s.BonusSessionPost(ctx, session), store.ErrAlreadyExists)

	got, err := s.BonusSessionGet(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.Data.Badges, got.Data.Badges)
	require.Equal(t, int64(10000), got.Data.AmountTotal)

	_, err = s.BonusSessionGet(ctx, "cs_missing")
	require.ErrorIs(t, err, store.ErrNoRows)

	// подтверждение
	at := time.Now().UTC().Truncate(time.Second)
	paid, err := s.BonusSessionApprove(ctx, session.ID, "pi_1", at)
	require.NoError(t, err)
	require.Equal(t, model.BonusSessionStatusPaid, paid.Data.Status)
	require.Equal(t, 2, paid.Data.ApprovedCount)
	require.Equal(t, "pi_1", paid.Data.PaymentID)

	// повторное подтверждение ничего не меняет
	again, err := s.BonusSessionApprove(ctx, session.ID, "pi_2", at.Add(time.Hour))
	require.ErrorIs(t, err, store.ErrDuplicateRequest)
	require.Equal(t, "pi_1", again.Data.PaymentID)
	require.Equal(t, 2, again.Data.ApprovedCount)

	badges, err := s.BadgeGet(ctx, employee)
	require.NoError(t, err)
	approved := map[string]bool{}
	for _, b := range badges {
		approved[b.ID] = b.Data.Approved
		if b.Data.Approved {
			require.Equal(t, session.ID, b.Data.Session)
		}
	}
	require.Equal(t, map[string]bool{green.ID: true, blue.ID: true, red.ID: false}, approved)

	// оплаченная сессия не откатывается
	paid.Data.Status = model.BonusSessionStatusFailed
	require.NoError(t, s.BonusSessionPut(ctx, paid))
	got, err = s.BonusSessionGet(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, model.BonusSessionStatusPaid, got.Data.Status)

	// незавершенная меняет статус
	other := session
	other.ID = "cs_test_" + uuid.NewString()
	other.Data.Badges = []string{red.ID}
	other.Data.CreatedAt = session.Data.CreatedAt.Add(time.Minute)
	require.NoError(t, s.BonusSessionPost(ctx, other))
	other.Data.Status = model.BonusSessionStatusSuperseded
	require.NoError(t, s.BonusSessionPut(ctx, other))

	sessions, err := s.BonusSessionGetByEmployee(ctx, employee)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, other.ID, sessions[0].ID)
	require.Equal(t, model.BonusSessionStatusSuperseded, sessions[0].Data.Status)
}

func testPaymentEvent(t *testing.T, s store.Store) {
	ctx := context.Background()
	event := model.PaymentEvent{
		ID: "evt_" + uuid.NewString(),
		Data: model.PaymentEventData{
			Type:       "checkout.session.completed",
			Session:    "cs_test",
			ReceivedAt: time.Now().UTC(),
		},
	}
	_, err := s.PaymentEventGet(ctx, event.ID)
	require.ErrorIs(t, err, store.ErrNoRows)

	require.NoError(t, s.PaymentEventPost(ctx, event))
	require.ErrorIs(t, s.PaymentEventPost(ctx, event), store.ErrDuplicateRequest)

	got, err := s.PaymentEventGet(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, event.Data.Session, got.Data.Session)
}
