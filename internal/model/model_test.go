package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTierOf(t *testing.T) {
	tests := []struct {
		title string
		bonus int64
		ok    bool
	}{
		{BadgeTitleGreen, 2500, true},
		{BadgeTitleCyan, 5000, true},
		{BadgeTitleBlue, 7500, true},
		{BadgeTitlePurple, 10000, true},
		{BadgeTitleRed, 15000, true},
		{"Gold", 0, false},
		{"green", 0, false},
	}
	for _, tt := range tests {
		tier, ok := TierOf(tt.title)
		require.Equal(t, tt.ok, ok, tt.title)
		require.Equal(t, tt.bonus, tier.Bonus, tt.title)
	}
}

func TestTiersIsACopy(t *testing.T) {
	list := Tiers()
	list[0].Bonus = 1

	tier, ok := TierOf(BadgeTitleGreen)
	require.True(t, ok)
	require.Equal(t, int64(2500), tier.Bonus)
}

func TestBadgeCompositeKey(t *testing.T) {
	earned := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	badge := Badge{Data: BadgeData{
		Period:     "2025-Q1",
		Type:       BadgeTypeCourse,
		Title:      BadgeTitleBlue,
		DateEarned: earned,
	}}
	require.Equal(t, "2025-Q1-course-Blue-2025-03-14T09:30:00Z", badge.CompositeKey())
}

func TestValidRole(t *testing.T) {
	require.True(t, ValidRole(RoleEmployee))
	require.True(t, ValidRole(RoleManager))
	require.True(t, ValidRole(RoleAdmin))
	require.False(t, ValidRole("owner"))
}
