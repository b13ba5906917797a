package chrono

import (
	"discuz-signin/internal/components/telemetry"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewStandardImpl(t *testing.T) {
	clock, err := NewStandardImpl("")
	require.NoError(t, err)
	require.Equal(t, DefaultLocation, clock.Location().String())
	require.Equal(t, DefaultLocation, clock.Now().Location().String())

	_, err = NewStandardImpl("Not/AZone")
	require.Error(t, err)

	utc := NewStandardImplIn(time.UTC)
	require.Equal(t, time.UTC, utc.Now().Location())
}

func TestFixedImpl(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := FixedImpl{Time: at}
	require.Equal(t, at, clock.Now())
	require.Equal(t, time.UTC, clock.Location())
}

func TestStandardCron(t *testing.T) {
	rec := &telemetry.Recorder{}
	clock, err := NewStandardImpl("")
	require.NoError(t, err)

	cron := NewStandardCron(rec, clock)
	require.True(t, cron.Next().IsZero())

	err = cron.Cron("not a cron expression", func() {})
	require.Error(t, err)

	err = cron.Cron("0 8 * * *", func() {})
	require.NoError(t, err)

	next := cron.Next()
	require.False(t, next.IsZero())
	require.Equal(t, 8, next.In(clock.Location()).Hour())
	require.Equal(t, 0, next.Minute())
	require.True(t, next.After(time.Now()))
	require.WithinDuration(t, time.Now(), next, 24*time.Hour)

	select {
	case <-cron.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cron did not stop")
	}
}

func TestCronLoggerPairs(t *testing.T) {
	require.Equal(t, "entry=1 next=soon", pairs([]any{"entry", 1, "next", "soon"}))
	require.Equal(t, "a=b", pairs([]any{"a", "b", "dangling"}))
	require.Equal(t, "", pairs(nil))
}
