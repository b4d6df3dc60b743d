package standup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "standupbot/pkg/logx"
)

func newTestService(t *testing.T) (*Service, *harness) {
	t.Helper()
	h := newHarness(t, friday(8, 0))
	svc := NewService(h.engine, h.clock, Defaults{Time: TimeOfDay{9, 30}, Weekdays: WorkingDays}, logx.Nop())
	return svc, h
}

func TestServiceSetThenGetRoundTrips(t *testing.T) {
	svc, _ := newTestService(t)
	tests := []struct {
		rawTime, rawDays string
		want             TimeOfDay
		days             Weekdays
	}{
		{"17:00", "mon-fri", TimeOfDay{17, 0}, WorkingDays},
		{"00:00", "*", TimeOfDay{0, 0}, EveryDay},
		{"23:59", "sat,sun", TimeOfDay{23, 59}, Weekend},
		{"6:15", "none", TimeOfDay{6, 15}, NoDays},
		{"12:45", "mon,wed,fri", TimeOfDay{12, 45}, NewWeekdays(time.Monday, time.Wednesday, time.Friday)},
	}
	for i, tt := range tests {
		chat := int64(100 + i)
		_, err := svc.SetSchedule(chat, tt.rawTime, tt.rawDays)
		require.NoError(t, err)

		got, ok := svc.Get(chat)
		require.True(t, ok)
		assert.Equal(t, tt.want, got.Time)
		assert.Equal(t, tt.days, got.Weekdays)
		assert.Equal(t, tt.days.Empty(), got.Next.IsZero())
	}
}

func TestServiceDefaultsFillGaps(t *testing.T) {
	svc, _ := newTestService(t)

	inf, err := svc.SetSchedule(1, "", "")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{9, 30}, inf.Time)
	assert.Equal(t, WorkingDays, inf.Weekdays)
	assert.Equal(t, "WIB", inf.Zone)
	assert.True(t, inf.Next.Equal(friday(9, 30)), "next = %v", inf.Next)

	svc.Apply(Defaults{Time: TimeOfDay{10, 0}, Weekdays: EveryDay})
	inf, err = svc.SetSchedule(2, "", "")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{10, 0}, inf.Time)
	assert.Equal(t, EveryDay, inf.Weekdays)
}

func TestServiceInvalidInputKeepsPrior(t *testing.T) {
	svc, h := newTestService(t)
	const chat = int64(42)
	prev, err := svc.SetSchedule(chat, "17:00", "")
	require.NoError(t, err)

	_, err = svc.SetSchedule(chat, "25:00", "")
	assert.ErrorIs(t, err, ErrInvalidTimeRange)
	_, err = svc.SetSchedule(chat, "5pm", "")
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)
	_, err = svc.SetSchedule(chat, "18:00", "someday")
	assert.ErrorIs(t, err, ErrInvalidWeekdays)

	got, ok := svc.Get(chat)
	require.True(t, ok)
	assert.Equal(t, prev.Schedule, got.Schedule)
	assert.Equal(t, 1, h.clock.Pending())
}

func TestServiceTriggerNow(t *testing.T) {
	svc, h := newTestService(t)
	require.NoError(t, svc.TriggerNow(context.Background(), 5))
	assert.Equal(t, 1, h.rec.count(5))

	h.rec.fail = func(int64, int) error { return errors.New("forbidden: bot was kicked") }
	err := svc.TriggerNow(context.Background(), 5)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int64(5), de.ChatID)
	assert.Contains(t, de.Error(), "bot was kicked")
}

func TestServiceCancelAndSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SetSchedule(2, "09:00", "")
	require.NoError(t, err)
	_, err = svc.SetSchedule(1, "10:00", "")
	require.NoError(t, err)

	snap := svc.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap[0].ChatID)
	assert.Equal(t, int64(2), snap[1].ChatID)

	assert.True(t, svc.Cancel(1))
	assert.False(t, svc.Cancel(1))
	_, ok := svc.Get(1)
	assert.False(t, ok)
	assert.Len(t, svc.Snapshot(), 1)
}

func TestServiceBootstrap(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SetSchedule(-1001, "18:00", "daily")
	require.NoError(t, err)

	svc.Bootstrap([]int64{-1001, -1002, 0})

	existing, ok := svc.Get(-1001)
	require.True(t, ok)
	assert.Equal(t, TimeOfDay{18, 0}, existing.Time, "bootstrap must not overwrite")

	fresh, ok := svc.Get(-1002)
	require.True(t, ok)
	assert.Equal(t, TimeOfDay{9, 30}, fresh.Time)
	assert.Len(t, svc.Snapshot(), 2)
}

func TestServiceBootstrapKeepsCancelledChatsCancelled(t *testing.T) {
	svc, h := newTestService(t)
	const chat = int64(-100)

	svc.Bootstrap([]int64{chat})
	_, ok := svc.Get(chat)
	require.True(t, ok)

	require.True(t, svc.Cancel(chat))
	// a config reload re-runs Bootstrap with the same chat list plus a new chat
	svc.Bootstrap([]int64{chat, -200})

	_, ok = svc.Get(chat)
	assert.False(t, ok, "cancelled schedule must stay cancelled")
	_, ok = svc.Get(-200)
	assert.True(t, ok, "chat new to the config is seeded")

	h.advanceTo(friday(9, 30))
	assert.Equal(t, 0, h.rec.count(chat))
	assert.Equal(t, 1, h.rec.count(-200))
}
