package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/store"
)

// Ledger - бейджи сотрудника и их статус выплаты
type Ledger interface {
	List(ctx context.Context, employee string, period string) ([]model.Badge, error)
	ListUnapproved(ctx context.Context, employee string, period string) ([]model.Badge, error)
	Select(ctx context.Context, employee string, ids []string) ([]model.Badge, error)
	Award(ctx context.Context, badge model.Badge) (model.Badge, error)
}

var (
	ErrInvalidBadge         = errors.New("invalid badge")
	ErrBadgeNotFound        = errors.New("badge not found")
	ErrBadgeAlreadyApproved = errors.New("badge already approved")
)

type ledger struct {
	store store.Store
}

func NewLedger(store store.Store) Ledger {
	return &ledger{store: store}
}

// List возвращает все бейджи сотрудника, при непустом period - только за этот период
func (ledger *ledger) List(ctx context.Context, employee string, period string) ([]model.Badge, error) {
	badges, err := ledger.store.BadgeGet(ctx, employee)
	if err != nil {
		return nil, err
	}
	if period == "" {
		return badges, nil
	}

	var filtered []model.Badge
	for _, badge := range badges {
		if badge.Data.Period == period {
			filtered = append(filtered, badge)
		}
	}
	return filtered, nil
}

// ListUnapproved возвращает бейджи, за которые бонус еще не выплачен.
// Выплаченные бейджи сюда не попадают, поэтому их нельзя выбрать повторно.
func (ledger *ledger) ListUnapproved(ctx context.Context, employee string, period string) ([]model.Badge, error) {
	badges, err := ledger.List(ctx, employee, period)
	if err != nil {
		return nil, err
	}

	var unapproved []model.Badge
	for _, badge := range badges {
		if !badge.Data.Approved {
			unapproved = append(unapproved, badge)
		}
	}
	return unapproved, nil
}

// Select проверяет выбор менеджера: все бейджи должны принадлежать сотруднику
// и быть еще не выплачены. Порядок результата совпадает с ids.
func (ledger *ledger) Select(ctx context.Context, employee string, ids []string) ([]model.Badge, error) {
	badges, err := ledger.store.BadgeGet(ctx, employee)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Badge, len(badges))
	for _, badge := range badges {
		byID[badge.ID] = badge
	}

	selected := make([]model.Badge, 0, len(ids))
	for _, id := range ids {
		badge, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBadgeNotFound, id)
		}
		if badge.Data.Approved {
			return nil, fmt.Errorf("%w: %s", ErrBadgeAlreadyApproved, id)
		}
		if _, ok := model.TierOf(badge.Data.Title); !ok {
			return nil, fmt.Errorf("%w: unknown title %q", ErrInvalidBadge, badge.Data.Title)
		}
		selected = append(selected, badge)
	}
	return selected, nil
}

// Award записывает новый бейдж за выполненную цель
func (ledger *ledger) Award(ctx context.Context, badge model.Badge) (model.Badge, error) {
	if badge.Data.Employee == "" || badge.Data.Period == "" {
		return model.Badge{}, ErrInvalidBadge
	}
	if !model.ValidBadgeType(badge.Data.Type) {
		return model.Badge{}, fmt.Errorf("%w: unknown type %q", ErrInvalidBadge, badge.Data.Type)
	}
	if _, ok := model.TierOf(badge.Data.Title); !ok {
		return model.Badge{}, fmt.Errorf("%w: unknown title %q", ErrInvalidBadge, badge.Data.Title)
	}

	badge.ID = uuid.NewString()
	if badge.Data.DateEarned.IsZero() {
		badge.Data.DateEarned = time.Now().UTC()
	}
	badge.Data.Approved = false
	badge.Data.ApprovedAt = time.Time{}
	badge.Data.Session = ""

	if err := ledger.store.BadgePost(ctx, badge); err != nil {
		return model.Badge{}, err
	}
	return badge, nil
}

// Total - сумма бонусов по уровням бейджей, в центах
func Total(badges []model.Badge) int64 {
	var total int64
	for _, badge := range badges {
		tier, _ := model.TierOf(badge.Data.Title)
		total += tier.Bonus
	}
	return total
}
