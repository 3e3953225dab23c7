package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvpedge/verifier/internal/entity"
)

func rec(id int64, ean, pallet, hu string) entity.ExpectedRecord {
	return entity.ExpectedRecord{ID: id, EAN: ean, PalletCode: pallet, HULabel: hu}
}

func TestMergeAddsAndAdvancesWatermark(t *testing.T) {
	now := time.Now()
	s := emptySnapshot().merge([]entity.ExpectedRecord{
		rec(101, "4006381333931", "P55", "HU1001"),
		rec(102, "4006381333931", "P56", "HU1002"),
	}, now)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(102), s.Revision())
	assert.Equal(t, now, s.TakenAt())

	got, ok := s.Lookup("HU1001")
	require.True(t, ok)
	assert.Equal(t, "P55", got.PalletCode)
}

func TestMergeKeepsFirstRecordPerLabel(t *testing.T) {
	now := time.Now()
	s := emptySnapshot().merge([]entity.ExpectedRecord{
		rec(10, "4006381333931", "P55", "HU1001"),
	}, now)

	// Same HU label arrives again with different data and a higher ID.
	s2 := s.merge([]entity.ExpectedRecord{
		rec(20, "9999999999999", "P99", "HU1001"),
	}, now.Add(time.Second))

	got, ok := s2.Lookup("HU1001")
	require.True(t, ok)
	assert.Equal(t, "4006381333931", got.EAN)
	assert.Equal(t, int64(20), s2.Revision(), "watermark advances past skipped rows")
	assert.Equal(t, 1, s2.Len())
}

func TestMergeIsCopyOnWrite(t *testing.T) {
	now := time.Now()
	old := emptySnapshot().merge([]entity.ExpectedRecord{
		rec(1, "4006381333931", "P55", "HU1001"),
	}, now)

	_ = old.merge([]entity.ExpectedRecord{
		rec(2, "12345678", "P60", "HU2000"),
	}, now.Add(time.Minute))

	assert.Equal(t, 1, old.Len())
	assert.Equal(t, int64(1), old.Revision())
	assert.Equal(t, now, old.TakenAt())
	_, ok := old.Lookup("HU2000")
	assert.False(t, ok)
}

func TestMergeEmptyFreshensTakenAt(t *testing.T) {
	t0 := time.Now()
	s := emptySnapshot().merge([]entity.ExpectedRecord{
		rec(1, "4006381333931", "P55", "HU1001"),
	}, t0)

	t1 := t0.Add(30 * time.Second)
	s2 := s.merge(nil, t1)

	assert.Equal(t, t1, s2.TakenAt())
	assert.Equal(t, s.Len(), s2.Len())
	assert.Equal(t, s.Revision(), s2.Revision())
}

func TestCandidatesFor(t *testing.T) {
	now := time.Now()
	s := emptySnapshot().merge([]entity.ExpectedRecord{
		rec(1, "4006381333931", "P55", "HU1001"),
		rec(2, "4006381333931", "P56", "HU1002"),
		rec(3, "12345678", "P55", "HU3000"),
	}, now)

	tests := []struct {
		name    string
		ean     string
		pallet  string
		wantHUs []string
	}{
		{name: "exact pallet match", ean: "4006381333931", pallet: "P55", wantHUs: []string{"HU1001"}},
		{name: "other pallet", ean: "4006381333931", pallet: "P56", wantHUs: []string{"HU1002"}},
		{name: "pallet unknown", ean: "4006381333931", pallet: "P99", wantHUs: nil},
		{name: "no pallet falls back to ean", ean: "4006381333931", pallet: "", wantHUs: []string{"HU1001", "HU1002"}},
		{name: "unknown ean", ean: "00000000", pallet: "", wantHUs: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.CandidatesFor(tt.ean, tt.pallet)
			var hus []string
			for _, r := range got {
				hus = append(hus, r.HULabel)
			}
			assert.ElementsMatch(t, tt.wantHUs, hus)
		})
	}
}

func TestCacheSwap(t *testing.T) {
	c := NewCache(time.Minute)
	first := c.Snapshot()
	assert.Equal(t, 0, first.Len())

	next := first.merge([]entity.ExpectedRecord{
		rec(1, "4006381333931", "P55", "HU1001"),
	}, time.Now())
	c.Publish(next)

	assert.Same(t, next, c.Snapshot())
	assert.Equal(t, 0, first.Len(), "old snapshot is untouched")
}

func TestCacheStale(t *testing.T) {
	c := NewCache(time.Minute)

	// Unconfirmed snapshot is stale.
	stale, _ := c.Stale(time.Now())
	assert.True(t, stale)

	now := time.Now()
	c.Publish(c.Snapshot().merge(nil, now))
	stale, age := c.Stale(now.Add(30 * time.Second))
	assert.False(t, stale)
	assert.Equal(t, 30*time.Second, age)

	stale, age = c.Stale(now.Add(61 * time.Second))
	assert.True(t, stale)
	assert.Equal(t, 61*time.Second, age)
}
