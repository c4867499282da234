package history

import (
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func entry(i int) Entry {
	return Entry{Template: "dd.png", Confidence: float64(i) / 10, Position: image.Pt(i, i)}
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	_, ok := r.Last()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		r.Add(entry(i))
	}

	assert.Equal(t, 3, r.Len())
	got := r.Entries()
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Position.X)
	assert.Equal(t, 5, got[2].Position.X)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last.Position.X)
}

func TestRingPartial(t *testing.T) {
	r := NewRing(4)
	r.Add(entry(1))
	r.Add(entry(2))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 4, r.Cap())
	assert.Equal(t, []Entry{entry(1), entry(2)}, r.Entries())
}

func TestRingResize(t *testing.T) {
	r := NewRing(4)
	for i := 1; i <= 4; i++ {
		r.Add(entry(i))
	}

	r.Resize(2)
	assert.Equal(t, []Entry{entry(3), entry(4)}, r.Entries())

	r.Add(entry(5))
	assert.Equal(t, []Entry{entry(4), entry(5)}, r.Entries())

	r.Resize(5)
	r.Add(entry(6))
	assert.Equal(t, []Entry{entry(4), entry(5), entry(6)}, r.Entries())
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreCreateAndQuery(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := NewCycleRecord(base.Add(time.Duration(i) * time.Minute))
		rec.Confidence = 0.9
		if i%2 == 0 {
			rec.Found = true
			rec.Action = ActionTrigger
		}
		if i == 3 {
			rec.Error = "capture failed"
		}
		require.NoError(t, s.Create(rec))
		assert.Len(t, rec.ID, 36)
	}

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].StartedAt.After(recent[1].StartedAt))

	since, err := s.Since(base.Add(3 * time.Minute))
	require.NoError(t, err)
	assert.Len(t, since, 2)

	got, err := s.Get(recent[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ActionTrigger, got.Action)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	sum, err := s.SummarySince(base)
	require.NoError(t, err)
	assert.Equal(t, Summary{Cycles: 5, Found: 3, Triggers: 3, Dismiss: 0, Errors: 1}, sum)

	n, err := s.Prune(base.Add(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	empty, err := s.SummarySince(base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, empty)
}
