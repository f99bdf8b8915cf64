package paymentclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Ключи метаданных сессии оплаты
const (
	MetadataEmployee     = "employee_id"
	MetadataEmployeeName = "employee_name"
	MetadataManager      = "manager_id"
	MetadataBadges       = "badge_ids"
	MetadataAmountTotal  = "amount_total"
)

var ErrMalformedMetadata = errors.New("malformed session metadata")

// Metadata связывает платеж с бейджами, которые он оплачивает
type Metadata struct {
	Employee     string
	EmployeeName string
	Manager      string
	Badges       []string
	AmountTotal  int64
}

func (m Metadata) Encode() map[string]string {
	badges, _ := json.Marshal(m.Badges)
	return map[string]string{
		MetadataEmployee:     m.Employee,
		MetadataEmployeeName: m.EmployeeName,
		MetadataManager:      m.Manager,
		MetadataBadges:       string(badges),
		MetadataAmountTotal:  strconv.FormatInt(m.AmountTotal, 10),
	}
}

// DecodeMetadata разбирает метаданные сессии.
// Любая неоднозначность - ошибка: по такой сессии бейджи не подтверждаются.
func DecodeMetadata(raw map[string]string) (Metadata, error) {
	var m Metadata

	m.Employee = strings.TrimSpace(raw[MetadataEmployee])
	if m.Employee == "" {
		return Metadata{}, fmt.Errorf("%w: %s is missing", ErrMalformedMetadata, MetadataEmployee)
	}
	m.EmployeeName = strings.TrimSpace(raw[MetadataEmployeeName])
	m.Manager = strings.TrimSpace(raw[MetadataManager])

	badgesRaw, ok := raw[MetadataBadges]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s is missing", ErrMalformedMetadata, MetadataBadges)
	}
	if err := json.Unmarshal([]byte(badgesRaw), &m.Badges); err != nil {
		return Metadata{}, fmt.Errorf("%w: %s: %v", ErrMalformedMetadata, MetadataBadges, err)
	}
	if len(m.Badges) == 0 {
		return Metadata{}, fmt.Errorf("%w: %s is empty", ErrMalformedMetadata, MetadataBadges)
	}
	seen := make(map[string]struct{}, len(m.Badges))
	for _, id := range m.Badges {
		if _, err := uuid.Parse(id); err != nil {
			return Metadata{}, fmt.Errorf("%w: badge id %q", ErrMalformedMetadata, id)
		}
		if _, dup := seen[id]; dup {
			return Metadata{}, fmt.Errorf("%w: duplicate badge id %q", ErrMalformedMetadata, id)
		}
		seen[id] = struct{}{}
	}

	if amountRaw, ok := raw[MetadataAmountTotal]; ok {
		amount, err := strconv.ParseInt(amountRaw, 10, 64)
		if err != nil || amount <= 0 {
			return Metadata{}, fmt.Errorf("%w: %s %q", ErrMalformedMetadata, MetadataAmountTotal, amountRaw)
		}
		m.AmountTotal = amount
	}

	return m, nil
}
