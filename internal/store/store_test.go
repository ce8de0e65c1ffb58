package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centerseed/havital-watch/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "havital.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKVGetMissingKey(t *testing.T) {
	s := openTestStore(t)

	value, ok, err := s.Get(KeyWeeklyPlan)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestKVPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(KeyUserProfile, []byte(`{"name":"amy"}`)))

	value, ok, err := s.Get(KeyUserProfile)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"amy"}`, string(value))
}

func TestKVPutOverwritesWholeDocument(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(KeyWeeklyPlan, []byte(`{"days":[{"date":"2026-08-31"}]}`)))
	require.NoError(t, s.Put(KeyWeeklyPlan, []byte(`{"days":[]}`)))

	value, ok, err := s.Get(KeyWeeklyPlan)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"days":[]}`, string(value))
}

func TestKVEntriesIndependent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(KeyLastSyncTime, []byte("2026-08-30T10:00:00Z")))

	_, ok, err := s.Get(KeyWeeklyPlan)
	require.NoError(t, err)
	assert.False(t, ok)

	value, ok, err := s.Get(KeyLastSyncTime)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-08-30T10:00:00Z", string(value))
}

func TestSaveAndLoadActivity(t *testing.T) {
	s := openTestStore(t)

	activity := &session.Activity{
		ID:             uuid.NewString(),
		StartedAt:      time.Date(2026, 8, 31, 6, 30, 0, 0, time.UTC),
		Duration:       42 * time.Minute,
		DistanceMeters: 8000,
		DistanceLog: []session.DistanceSample{
			{Elapsed: time.Second, DistanceMeters: 3, SpeedMPS: 3},
			{Elapsed: 2 * time.Second, DistanceMeters: 6, SpeedMPS: 3},
		},
		HeartRateLog: []session.HeartRateSample{
			{Elapsed: time.Second, BPM: 142},
		},
	}
	require.NoError(t, s.SaveActivity(activity))

	loaded, err := s.LoadActivity(activity.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.StartedAt, loaded.StartedAt)
	assert.Equal(t, activity.Duration, loaded.Duration)
	assert.Equal(t, activity.DistanceMeters, loaded.DistanceMeters)
	assert.Equal(t, activity.DistanceLog, loaded.DistanceLog)
	assert.Equal(t, activity.HeartRateLog, loaded.HeartRateLog)

	n, err := s.ActivityCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveActivityRejectsMissingID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.SaveActivity(&session.Activity{}))
	assert.Error(t, s.SaveActivity(nil))
}

func TestLoadActivityNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadActivity("nope")
	assert.Error(t, err)
}
