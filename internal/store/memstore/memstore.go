// Package memstore хранит данные в памяти процесса.
// Используется в тестах и при запуске без DATABASE_URI.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/store"
)

type account struct {
	user         model.User
	passwordHash string
}

type memStore struct {
	mu       sync.Mutex
	lastCode int
	accounts map[string]account // по логину
	users    map[string]string  // код -> логин
	badges   map[string]model.Badge
	sessions map[string]model.BonusSession
	events   map[string]model.PaymentEvent
}

func New() store.Store {
	return &memStore{
		accounts: make(map[string]account),
		users:    make(map[string]string),
		badges:   make(map[string]model.Badge),
		sessions: make(map[string]model.BonusSession),
		events:   make(map[string]model.PaymentEvent),
	}
}

func (s *memStore) Close() error {
	return nil
}

func (s *memStore) AuthRegister(_ context.Context, user model.User, passwordHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[user.Data.Login]; ok {
		return "", store.ErrAlreadyExists
	}
	s.lastCode++
	user.Code = strconv.Itoa(s.lastCode)
	s.accounts[user.Data.Login] = account{user: user, passwordHash: passwordHash}
	s.users[user.Code] = user.Data.Login
	return user.Code, nil
}

func (s *memStore) AuthLogin(_ context.Context, login string) (model.User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[login]
	if !ok {
		return model.User{}, "", store.ErrNoRows
	}
	return acc.user, acc.passwordHash, nil
}

func (s *memStore) UserGet(_ context.Context, code string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	login, ok := s.users[code]
	if !ok {
		return model.User{}, store.ErrNoRows
	}
	return s.accounts[login].user, nil
}

func (s *memStore) BadgePost(_ context.Context, badge model.Badge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.badges[badge.ID]; ok {
		return store.ErrAlreadyExists
	}
	badge.Data.Approved = false
	badge.Data.ApprovedAt = time.Time{}
	badge.Data.Session = ""
	s.badges[badge.ID] = badge
	return nil
}

func (s *memStore) BadgeGet(_ context.Context, employee string) ([]model.Badge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var badges []model.Badge
	for _, badge := range s.badges {
		if badge.Data.Employee == employee {
			badges = append(badges, badge)
		}
	}
	sort.Slice(badges, func(i, j int) bool {
		return badges[i].Data.DateEarned.Before(badges[j].Data.DateEarned)
	})
	return badges, nil
}

func (s *memStore) BonusSessionPost(_ context.Context, session model.BonusSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return store.ErrAlreadyExists
	}
	session.Data.Badges = append([]string(nil), session.Data.Badges...)
	s.sessions[session.ID] = session
	return nil
}

func (s *memStore) BonusSessionGet(_ context.Context, id string) (model.BonusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return model.BonusSession{}, store.ErrNoRows
	}
	return copySession(session), nil
}

func (s *memStore) BonusSessionGetByEmployee(_ context.Context, employee string) ([]model.BonusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []model.BonusSession
	for _, session := range s.sessions {
		if session.Data.Employee == employee {
			sessions = append(sessions, copySession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Data.CreatedAt.After(sessions[j].Data.CreatedAt)
	})
	return sessions, nil
}

func (s *memStore) BonusSessionPut(_ context.Context, session model.BonusSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[session.ID]
	if !ok || stored.Data.Status == model.BonusSessionStatusPaid {
		return nil
	}
	stored.Data.Status = session.Data.Status
	stored.Data.FailureReason = session.Data.FailureReason
	stored.Data.ReconciledAt = session.Data.ReconciledAt
	s.sessions[session.ID] = stored
	return nil
}

func (s *memStore) BonusSessionApprove(_ context.Context, id string, paymentID string, at time.Time) (model.BonusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return model.BonusSession{}, store.ErrNoRows
	}
	if session.Data.Status == model.BonusSessionStatusPaid {
		return copySession(session), store.ErrDuplicateRequest
	}

	approved := 0
	for _, badgeID := range session.Data.Badges {
		badge, ok := s.badges[badgeID]
		if !ok || badge.Data.Employee != session.Data.Employee || badge.Data.Approved {
			continue
		}
		badge.Data.Approved = true
		badge.Data.ApprovedAt = at
		badge.Data.Session = session.ID
		s.badges[badgeID] = badge
		approved++
	}

	session.Data.Status = model.BonusSessionStatusPaid
	session.Data.PaymentID = paymentID
	session.Data.ApprovedCount = approved
	session.Data.FailureReason = ""
	session.Data.ReconciledAt = at
	s.sessions[id] = session
	return copySession(session), nil
}

func (s *memStore) PaymentEventGet(_ context.Context, id string) (model.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return model.PaymentEvent{}, store.ErrNoRows
	}
	return event, nil
}

func (s *memStore) PaymentEventPost(_ context.Context, event model.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return store.ErrDuplicateRequest
	}
	s.events[event.ID] = event
	return nil
}

func copySession(session model.BonusSession) model.BonusSession {
	session.Data.Badges = append([]string(nil), session.Data.Badges...)
	return session
}
