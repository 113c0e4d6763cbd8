package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "osteoview.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndLookupUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "radiologist", "rad@example.com", "hash")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)

	byName, err := s.UserByUsername(ctx, "radiologist")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)
	assert.Equal(t, "rad@example.com", byName.Email)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "radiologist", byID.Username)

	_, err = s.UserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "alice", "alice@example.com", "h1")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, "alice", "other@example.com", "h2")
	assert.ErrorIs(t, err, ErrDuplicate, "duplicate username")

	_, err = s.CreateUser(ctx, "alice2", "alice@example.com", "h3")
	assert.ErrorIs(t, err, ErrDuplicate, "duplicate email")
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "bob", "bob@example.com", "h")
	require.NoError(t, err)

	_, err = s.CreateSession(ctx, "tok-1", u.ID, time.Hour)
	require.NoError(t, err)

	got, err := s.SessionUser(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.SessionUser(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, "tok-1"))
	_, err = s.SessionUser(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredSessionRejectedAndPurged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "carol", "carol@example.com", "h")
	require.NoError(t, err)

	_, err = s.CreateSession(ctx, "stale", u.ID, -time.Minute)
	require.NoError(t, err)

	_, err = s.SessionUser(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPredictionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "dave", "dave@example.com", "h")
	require.NoError(t, err)

	created, err := s.CreatePrediction(ctx, &Prediction{
		UserID:           u.ID,
		OriginalPath:     "/uploads/original/1.png",
		HeatmapPath:      "/uploads/heatmaps/1.png",
		PredictedClass:   "cancer",
		ConfidenceCancer: 0.91,
		ConfidenceNormal: 0.09,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := s.PredictionByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancer", got.PredictedClass)
	assert.InDelta(t, 0.91, got.ConfidenceCancer, 1e-9)
	assert.Empty(t, got.ReportPath, "report path starts unset")

	require.NoError(t, s.SetReportPath(ctx, created.ID, "/uploads/reports/1.pdf"))
	got, err = s.PredictionByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/reports/1.pdf", got.ReportPath)

	assert.ErrorIs(t, s.SetReportPath(ctx, 9999, "x"), ErrNotFound)
}

func TestPredictionsByUserOrderAndIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateUser(ctx, "erin", "erin@example.com", "h")
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, "frank", "frank@example.com", "h")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreatePrediction(ctx, &Prediction{
			UserID:           a.ID,
			OriginalPath:     "o",
			HeatmapPath:      "hm",
			PredictedClass:   "normal",
			ConfidenceCancer: 0.1,
			ConfidenceNormal: 0.9,
		})
		require.NoError(t, err)
	}
	_, err = s.CreatePrediction(ctx, &Prediction{
		UserID: b.ID, OriginalPath: "o", HeatmapPath: "hm",
		PredictedClass: "cancer", ConfidenceCancer: 0.8, ConfidenceNormal: 0.2,
	})
	require.NoError(t, err)

	list, err := s.PredictionsByUser(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.GreaterOrEqual(t, list[i-1].ID, list[i].ID, "newest first")
	}
}
