package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, driver string) *Store {
	t.Helper()
	s, err := New(driver, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t, "sqlite")

	require.NoError(t, s.RecordRunQueued(RunRecord{ID: "r1", Variant: "correlation", ParamsJSON: `{"Method":"Otsu"}`}))
	require.NoError(t, s.RecordRunStart("r1", 3))
	require.NoError(t, s.RecordImageResult(ImageResult{RunID: "r1", ImageID: 42, Rows: 6, Attachment: "42.Correlation_Otsu.csv", Status: "uploaded"}))
	require.NoError(t, s.RecordImageResult(ImageResult{RunID: "r1", ImageID: 7, Rows: 3, Status: "reported"}))
	require.NoError(t, s.RecordRunResult("r1", StatusCompleted, 2, map[string]any{"rows": 9}, ""))

	rec, err := s.Run("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.ImageCount)
	assert.Equal(t, 2, rec.Processed)
	assert.NotNil(t, rec.CompletedAt)

	meta, err := s.RunMeta("r1")
	require.NoError(t, err)
	assert.Equal(t, float64(9), meta["rows"])

	images, err := s.RunImages("r1")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, int64(7), images[0].ImageID)
	assert.Equal(t, "42.Correlation_Otsu.csv", images[1].Attachment)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	s := newTestStore(t, "sqlite")
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordRunQueued(RunRecord{ID: id, Variant: "colocalisation"}))
	}
	recs, err := s.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, StatusQueued, recs[0].Status)
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	assert.NoError(t, s.RecordRunQueued(RunRecord{ID: "x"}))
	assert.NoError(t, s.RecordRunStart("x", 1))
	_, err := s.RecentRuns(1)
	assert.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "x")
	assert.Error(t, err)
}
