package memory

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func filledMemory(t *testing.T, n int, seed int64) *Memory {
	t.Helper()
	m := New(0, rand.New(rand.NewSource(seed)), discardLogger())
	for i := 0; i < n; i++ {
		m.OnInput([]float64{float64(i)})
	}
	require.Equal(t, n, m.NumFrames())
	return m
}

func TestFrameByIndexClamps(t *testing.T) {
	m := filledMemory(t, 4, 1)

	assert.Equal(t, []float64{0}, m.FrameByIndex(-3))
	assert.Equal(t, []float64{2}, m.FrameByIndex(2))
	assert.Equal(t, []float64{3}, m.FrameByIndex(4))
	assert.Equal(t, []float64{3}, m.FrameByIndex(100))

	assert.Nil(t, New(0, rand.New(rand.NewSource(1)), discardLogger()).FrameByIndex(0))
}

func TestOnInputCopiesFrame(t *testing.T) {
	m := New(0, rand.New(rand.NewSource(1)), discardLogger())
	f := []float64{1, 2}
	m.OnInput(f)
	f[0] = 99
	assert.Equal(t, []float64{1, 2}, m.FrameByIndex(0))
}

func TestMemoryCapDropsNewFrames(t *testing.T) {
	m := New(3, rand.New(rand.NewSource(1)), discardLogger())
	for i := 0; i < 5; i++ {
		m.OnInput([]float64{float64(i)})
	}
	assert.Equal(t, 3, m.NumFrames())
	assert.Equal(t, []float64{2}, m.FrameByIndex(2))

	m.Clear()
	assert.Equal(t, 0, m.NumFrames())

	m.SetFrames([][]float64{{1}, {2}, {3}, {4}})
	assert.Equal(t, 3, m.NumFrames())
}

func TestRecallWindowWithinRecency(t *testing.T) {
	// 8 frames, recall 3 with recency 5: cursor in [3,5]
	seen := map[int]bool{}
	for seed := int64(0); seed < 200; seed++ {
		m := filledMemory(t, 8, seed)
		r, err := m.CreateRandomRecall(3, 0, 5)
		require.NoError(t, err)
		assert.Equal(t, Forward, r.Direction())
		assert.GreaterOrEqual(t, r.Cursor(), 3)
		assert.LessOrEqual(t, r.Cursor(), 5)
		seen[r.Cursor()] = true
	}
	assert.Len(t, seen, 3)
}

func TestRecallFullWindowIsDeterministic(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		m := filledMemory(t, 6, seed)
		r, err := m.CreateRandomRecall(6, 0, 6)
		require.NoError(t, err)
		assert.Equal(t, 0, r.Cursor())
	}
}

func TestRecallRecencyClamping(t *testing.T) {
	m := filledMemory(t, 8, 3)

	// recency below the window is raised to the window
	r, err := m.CreateRandomRecall(4, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Cursor())

	// recency above memory size covers everything
	for i := 0; i < 50; i++ {
		r, err = m.CreateRandomRecall(4, 0, 100)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Cursor(), 0)
		assert.LessOrEqual(t, r.Cursor(), 4)
	}
}

func TestRecallInsufficientFrames(t *testing.T) {
	m := filledMemory(t, 2, 1)
	_, err := m.CreateRandomRecall(3, 0, 0)
	assert.ErrorIs(t, err, ErrInsufficientFrames)
}

func TestBackwardRecallStaysInBounds(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		m := filledMemory(t, 10, seed)
		r, err := m.CreateRandomRecall(4, 1, 0)
		require.NoError(t, err)
		require.Equal(t, Backward, r.Direction())

		start := r.Cursor()
		for i := 0; i < 4; i++ {
			assert.Equal(t, []float64{float64(start - i)}, r.Output())
			assert.GreaterOrEqual(t, r.Cursor(), 0)
			r.Proceed(1)
		}
	}
}

func TestForwardRecallPlayback(t *testing.T) {
	m := filledMemory(t, 5, 9)
	r, err := m.CreateRandomRecall(5, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, []float64{0}, r.Output())
	r.Proceed(2)
	assert.Equal(t, []float64{2}, r.Output())
	r.Proceed(10)
	assert.Equal(t, []float64{4}, r.Output())
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer s.Close()

	frames := [][]float64{{0, 0.5, -1}, {1, 1.5, -2}, {2, 2.5, -3}}
	first, err := s.Save(ctx, "warmup", frames)
	require.NoError(t, err)
	assert.Equal(t, 3, first.NumFrames)
	assert.Equal(t, 3, first.FrameLen)

	second, err := s.Save(ctx, "warmup", frames[:1])
	require.NoError(t, err)

	rec, got, err := s.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, rec.ID)
	assert.Equal(t, frames, got)

	rec, got, err = s.Load(ctx, "warmup")
	require.NoError(t, err)
	assert.Equal(t, second.ID, rec.ID)
	assert.Len(t, got, 1)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	require.NoError(t, s.Delete(ctx, first.ID))
	_, _, err = s.Load(ctx, first.ID)
	assert.ErrorIs(t, err, ErrRecordingNotFound)
	assert.ErrorIs(t, s.Delete(ctx, first.ID), ErrRecordingNotFound)
}

func TestStoreRejectsRaggedFrames(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Save(context.Background(), "bad", [][]float64{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestStoreDeleteCascadesOnFreshConnections(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer s.Close()

	// every statement below runs on a newly opened connection
	s.db.SetMaxIdleConns(0)

	ctx := context.Background()
	rec, err := s.Save(ctx, "warmup", [][]float64{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, rec.ID))

	var orphans int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recording_frames WHERE recording_id = ?`, rec.ID).Scan(&orphans))
	assert.Zero(t, orphans)
}
