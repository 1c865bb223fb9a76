package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

var (
	t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(2 * time.Hour)
)

func guest() models.Guest {
	g := models.Guest{ID: "g1", Name: "王小明"}
	g.Recompute()
	return g
}

func TestToggle_Exclusivity(t *testing.T) {
	g, err := Toggle(guest(), 1, t0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, g.AttendedRounds)

	g, err = Toggle(g, 2, t1)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, g.AttendedRounds)
	assert.True(t, g.IsCheckedIn)
	require.NotNil(t, g.Round)
	assert.Equal(t, 2, *g.Round)

	g, err = Toggle(g, 2, t1)
	require.NoError(t, err)
	assert.Empty(t, g.AttendedRounds)
	assert.False(t, g.IsCheckedIn)
	assert.Nil(t, g.Round)
}

func TestToggle_StampsFirstCheckInOnly(t *testing.T) {
	g, _ := Toggle(guest(), 1, t0)
	require.NotNil(t, g.CheckInTime)
	assert.True(t, g.CheckInTime.Equal(t0))

	g, _ = Toggle(g, 2, t1)
	assert.True(t, g.CheckInTime.Equal(t0))

	g, _ = Toggle(g, 2, t1)
	g, _ = Toggle(g, 1, t1)
	assert.True(t, g.CheckInTime.Equal(t0), "checkInTime never moves once set")
}

func TestToggle_OffClearsAllRounds(t *testing.T) {
	g := guest()
	g.AttendedRounds = []int{1, 2}
	g.Recompute()

	g, err := Toggle(g, 1, t0)
	require.NoError(t, err)
	assert.Empty(t, g.AttendedRounds)
}

func TestToggle_DoesNotAliasInput(t *testing.T) {
	in, _ := Toggle(guest(), 1, t0)
	_, _ = Toggle(in, 2, t1)
	assert.Equal(t, []int{1}, in.AttendedRounds)
}

func TestToggle_InvalidRound(t *testing.T) {
	_, err := Toggle(guest(), 0, t0)
	assert.ErrorIs(t, err, models.ErrInvalidRound)
}

func TestCheckIn_FirstCheckInPrevails(t *testing.T) {
	g, ok, err := CheckIn(guest(), 1, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{1}, g.AttendedRounds)

	g, ok, err = CheckIn(g, 2, t1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []int{1}, g.AttendedRounds)
	assert.True(t, g.CheckInTime.Equal(t0))
}
